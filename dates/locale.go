package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// englishMonths is a closed table of English month names and abbreviations.
var englishMonths = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// russianMonths holds genitive month names ("20 октября 2025") plus the
// nominative forms that sometimes appear in headers.
var russianMonths = map[string]time.Month{
	"января": time.January, "январь": time.January,
	"февраля": time.February, "февраль": time.February,
	"марта": time.March, "март": time.March,
	"апреля": time.April, "апрель": time.April,
	"мая": time.May, "май": time.May,
	"июня": time.June, "июнь": time.June,
	"июля": time.July, "июль": time.July,
	"августа": time.August, "август": time.August,
	"сентября": time.September, "сентябрь": time.September,
	"октября": time.October, "октябрь": time.October,
	"ноября": time.November, "ноябрь": time.November,
	"декабря": time.December, "декабрь": time.December,
}

var (
	// "July 21, 2025", "Feb. 26, 2024", "Mar 25, 2025 6:00 AM"
	englishMonthFirst = regexp.MustCompile(
		`^([A-Za-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})(?:,?\s+(?:at\s+)?(\d{1,2}):(\d{2})\s*([AaPp])?\.?[Mm]?\.?)?`)
	// "21 July 2025"
	englishDayFirst = regexp.MustCompile(
		`^(\d{1,2})\s+([A-Za-z]+)\.?,?\s+(\d{4})(?:,?\s+(\d{1,2}):(\d{2})\s*([AaPp])?\.?[Mm]?\.?)?`)
	// "20 октября 2025 г.", "11 июля, 2025, 17:21"
	russianDayFirst = regexp.MustCompile(
		`^(\d{1,2})\s+([\p{Cyrillic}]+),?\s*(\d{4})\s*(?:г\.?)?,?\s*(?:(\d{1,2}):(\d{2}))?`)
)

// ParseLocale parses dates written with month names. A "ru" locale tries the
// Russian table first; otherwise English goes first. An unknown month token
// is a parse failure, not an error.
func ParseLocale(s, locale string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	parsers := []func(string) (time.Time, bool){parseEnglish, parseRussian}
	if strings.EqualFold(locale, "ru") {
		parsers = []func(string) (time.Time, bool){parseRussian, parseEnglish}
	}

	for _, parse := range parsers {
		if t, ok := parse(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseEnglish(s string) (time.Time, bool) {
	if m := englishMonthFirst.FindStringSubmatch(s); m != nil {
		return buildDate(englishMonths, m[1], m[2], m[3], m[4], m[5], m[6])
	}
	if m := englishDayFirst.FindStringSubmatch(s); m != nil {
		return buildDate(englishMonths, m[2], m[1], m[3], m[4], m[5], m[6])
	}
	return time.Time{}, false
}

func parseRussian(s string) (time.Time, bool) {
	m := russianDayFirst.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return time.Time{}, false
	}
	return buildDate(russianMonths, m[2], m[1], m[3], m[4], m[5], "")
}

// buildDate assembles a UTC instant from matched tokens. Without a time of
// day the result is midnight UTC.
func buildDate(table map[string]time.Month, monthToken, day, year, hour, minute, meridiem string) (time.Time, bool) {
	month, ok := table[strings.ToLower(monthToken)]
	if !ok {
		return time.Time{}, false
	}

	d, _ := strconv.Atoi(day)
	y, _ := strconv.Atoi(year)

	h, mins := 0, 0
	if hour != "" {
		h, _ = strconv.Atoi(hour)
		mins, _ = strconv.Atoi(minute)
		switch strings.ToLower(meridiem) {
		case "p":
			if h < 12 {
				h += 12
			}
		case "a":
			if h == 12 {
				h = 0
			}
		}
	}

	return civilDate(y, int(month), d, h, mins)
}
