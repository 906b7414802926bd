package dates

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Clock supplies the current time. The normalizer falls back to it when no
// date can be parsed.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the result of calling f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Hints carry optional context for parsing a date.
type Hints struct {
	// Locale selects which month-name table is tried first ("en" or "ru").
	Locale string
	// SourceURL enables extracting a date from the URL path when no textual
	// date parses.
	SourceURL string
}

// Strategy names reported by Resolve.
const (
	StrategyStructured = "structured"
	StrategyISO        = "iso"
	StrategyLocale     = "locale"
	StrategyMachine    = "machine"
	StrategyURL        = "url"
	StrategyFallback   = "fallback"
)

// Normalizer turns publication dates in assorted formats into UTC instants.
type Normalizer struct {
	clock Clock
}

// NewNormalizer creates a normalizer. A nil clock means the wall clock.
func NewNormalizer(clock Clock) *Normalizer {
	if clock == nil {
		clock = SystemClock
	}
	return &Normalizer{clock: clock}
}

// Now returns the normalizer's current time in UTC.
func (n *Normalizer) Now() time.Time {
	return n.clock.Now().UTC()
}

// Normalize parses raw into a UTC instant. It never fails: when nothing
// parses, the date comes from the URL hint, and failing that from the clock.
func (n *Normalizer) Normalize(raw string, hints Hints) time.Time {
	t, _ := n.Resolve(raw, hints)
	return t
}

// Resolve is Normalize that also reports which strategy produced the value.
func (n *Normalizer) Resolve(raw string, hints Hints) (time.Time, string) {
	if t, strategy, ok := parseText(raw, hints.Locale); ok {
		return t, strategy
	}

	if hints.SourceURL != "" {
		if t, ok := ParseURL(hints.SourceURL); ok {
			return t, StrategyURL
		}
	}

	return n.Now(), StrategyFallback
}

// Parse runs the textual parsers only, without URL or clock fallbacks.
func (n *Normalizer) Parse(raw string, hints Hints) (time.Time, bool) {
	t, _, ok := parseText(raw, hints.Locale)
	return t, ok
}

// NormalizeValue accepts structured input: time.Time, *time.Time, strings,
// json.Number and numeric Unix timestamps in seconds. Anything else is
// treated as missing.
func (n *Normalizer) NormalizeValue(v any, hints Hints) time.Time {
	switch value := v.(type) {
	case time.Time:
		if !value.IsZero() {
			return value.UTC()
		}
	case *time.Time:
		if value != nil && !value.IsZero() {
			return value.UTC()
		}
	case string:
		return n.Normalize(value, hints)
	case json.Number:
		if secs, err := value.Int64(); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		return n.Normalize(value.String(), hints)
	case float64:
		return time.Unix(int64(value), 0).UTC()
	case int64:
		return time.Unix(value, 0).UTC()
	case int:
		return time.Unix(int64(value), 0).UTC()
	}

	return n.Normalize("", hints)
}

// parseText tries each textual strategy in order: zoned timestamps, naive
// ISO-like timestamps, locale month names, then remaining machine formats.
func parseText(raw string, locale string) (time.Time, string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, "", false
	}

	if t, ok := ParseZoned(s); ok {
		return t, StrategyStructured, true
	}
	if t, ok := ParseNaive(s); ok {
		return t, StrategyISO, true
	}
	if t, ok := ParseLocale(s, locale); ok {
		return t, StrategyLocale, true
	}
	if t, ok := parseMachine(s); ok {
		return t, StrategyMachine, true
	}

	return time.Time{}, "", false
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// ParseZoned parses timestamps that carry an explicit offset or UTC marker
// and converts them to UTC.
func ParseZoned(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01.02.2006 03:04 PM",
	"01.02.2006 3:04 PM",
	"01.02.2006",
}

// ParseNaive parses ISO-8601-like timestamps without an offset. They are
// taken to be UTC, never local time.
func ParseNaive(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseMachine hands anything the fixed layouts missed to dateparse, which
// knows many more machine-generated formats. Strings with letters outside
// ASCII are skipped; they belong to the locale tables. A bare number is a
// date only as YYYYMMDD: dateparse would read a year alone or an epoch.
func parseMachine(s string) (t time.Time, ok bool) {
	for _, r := range s {
		if r > 127 {
			return time.Time{}, false
		}
	}
	if allDigits(s) && len(s) != 8 {
		return time.Time{}, false
	}

	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	urlYMD = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})/`)
	urlMDY = regexp.MustCompile(`/(\d{2})/(\d{2})/(\d{4})/`)
)

// ParseURL extracts a date embedded in a URL path as /YYYY/MM/DD/ or
// /MM/DD/YYYY/. The result is anchored at 12:00 UTC so that a timezone shift
// in either direction keeps the same calendar day.
func ParseURL(rawURL string) (time.Time, bool) {
	if m := urlYMD.FindStringSubmatch(rawURL); m != nil {
		if t, ok := noonUTC(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	if m := urlMDY.FindStringSubmatch(rawURL); m != nil {
		if t, ok := noonUTC(m[3], m[1], m[2]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func noonUTC(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return civilDate(y, m, d, 12, 0)
}

// civilDate builds a UTC instant and rejects out-of-range fields instead of
// letting time.Date roll them over.
func civilDate(year, month, day, hour, minute int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
