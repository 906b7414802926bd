package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseAuthors verifies byline splitting across the formats sites print
func TestParseAuthors(t *testing.T) {
	tests := []struct {
		name   string
		byline string
		want   []string
	}{
		{"single", "Jia Tolentino", []string{"Jia Tolentino"}},
		{"comma list", "Ed Caesar, Sam Knight, Dana Goodyear", []string{"Ed Caesar", "Sam Knight", "Dana Goodyear"}},
		{"and pair", "Ryan Lizza and Jane Mayer", []string{"Ryan Lizza", "Jane Mayer"}},
		{"comma list ending in and", "Amy Davidson, Ben Taub and Rachel Aviv", []string{"Amy Davidson", "Ben Taub", "Rachel Aviv"}},
		{"by prefix with comma and", "By Jane Smith, Bob Jones and Ann Lee", []string{"Jane Smith", "Bob Jones", "Ann Lee"}},
		{"serial comma", "Jane Smith, Bob Jones, and Ann Lee", []string{"Jane Smith", "Bob Jones", "Ann Lee"}},
		{"by prefix", "By Philip Sherburne and Jayson Greene", []string{"Philip Sherburne", "Jayson Greene"}},
		{"by prefix any case", "BY Anna Wiener", []string{"Anna Wiener"}},
		{"name starting with by", "Byron Allen", []string{"Byron Allen"}},
		{"collapsed whitespace", "  Helen  Rosner ,\n  Hua Hsu  ", []string{"Helen Rosner", "Hua Hsu"}},
		{"empty", "", []string{}},
		{"blank", " \t ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAuthors(tt.byline)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestMergeAuthors verifies names are appended once, ignoring case
func TestMergeAuthors(t *testing.T) {
	authors := mergeAuthors([]string{"Jane Smith"}, "jane smith", "", "  ", "Bob Jones", "BOB JONES")
	assert.Equal(t, []string{"Jane Smith", "Bob Jones"}, authors)

	assert.Equal(t, []string{"Solo"}, mergeAuthors(nil, "Solo"))
}
