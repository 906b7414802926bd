package newsfeed

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// ErrInvalidItem means a record reached the synthesizer without a title or
// an absolute URL. It points at a defect upstream, so it is reported rather
// than repaired.
var ErrInvalidItem = errors.New("invalid feed item")

// FeedMeta is the channel-level metadata of a feed.
type FeedMeta struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
}

// FeedModel is a feed ready for serialization. Items are ordered newest
// first.
type FeedModel struct {
	FeedMeta
	Items []ArticleRecord `json:"items"`
}

// Synthesize builds a feed from records. Items are sorted by publication
// time, newest first; equal times keep their discovery order. Records are
// not deduplicated here.
func Synthesize(meta FeedMeta, items []ArticleRecord) (*FeedModel, error) {
	for i, item := range items {
		if err := checkItem(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidItem, i, err)
		}
	}

	sorted := make([]ArticleRecord, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
	})

	return &FeedModel{FeedMeta: meta, Items: sorted}, nil
}

func checkItem(item ArticleRecord) error {
	if item.Title == "" {
		return ErrMissingTitle
	}
	u, err := url.Parse(item.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, item.URL)
	}
	return nil
}
