package discovery

import (
	"strings"
)

// ParseAuthors splits a single byline into multiple authors if it contains
// common delimiters. A leading "By " is dropped.
func ParseAuthors(authorText string) []string {
	authorText = strings.Join(strings.Fields(authorText), " ")
	if authorText == "" {
		return []string{}
	}
	if len(authorText) > 3 && strings.EqualFold(authorText[:3], "by ") {
		authorText = strings.TrimSpace(authorText[3:])
	}

	// Split on ", " first; the last part may still join two names with
	// " and " ("A, B and C" or "A, B, and C").
	if strings.Contains(authorText, ", ") {
		parts := strings.Split(authorText, ", ")
		last := strings.TrimPrefix(parts[len(parts)-1], "and ")
		parts = append(parts[:len(parts)-1], strings.Split(last, " and ")...)
		return nonEmpty(parts)
	}

	if strings.Contains(authorText, " and ") {
		return nonEmpty(strings.Split(authorText, " and "))
	}

	return []string{authorText}
}

func nonEmpty(parts []string) []string {
	authors := []string{}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			authors = append(authors, part)
		}
	}
	return authors
}

// mergeAuthors appends names not already present, ignoring case.
func mergeAuthors(authors []string, names ...string) []string {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || containsFold(authors, name) {
			continue
		}
		authors = append(authors, name)
	}
	return authors
}

func containsFold(slice []string, str string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, str) {
			return true
		}
	}
	return false
}
