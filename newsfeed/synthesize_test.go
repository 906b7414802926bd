package newsfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRecord(t *testing.T, title, url string, publishedAt time.Time) ArticleRecord {
	t.Helper()
	record, err := NewArticleRecord(RecordFields{Title: title, URL: url, PublishedAt: publishedAt})
	require.NoError(t, err)
	return record
}

// TestSynthesize_SortsNewestFirst verifies ordering and stability for ties
func TestSynthesize_SortsNewestFirst(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC) }

	items := []ArticleRecord{
		mustRecord(t, "old", "https://example.com/old", day(1)),
		mustRecord(t, "tie-first", "https://example.com/tie-1", day(5)),
		mustRecord(t, "newest", "https://example.com/new", day(9)),
		mustRecord(t, "tie-second", "https://example.com/tie-2", day(5)),
	}

	feed, err := Synthesize(FeedMeta{Title: "Example", Link: "https://example.com"}, items)
	require.NoError(t, err)

	titles := []string{}
	for _, item := range feed.Items {
		titles = append(titles, item.Title)
	}
	assert.Equal(t, []string{"newest", "tie-first", "tie-second", "old"}, titles)

	for i := 1; i < len(feed.Items); i++ {
		assert.False(t, feed.Items[i].PublishedAt.After(feed.Items[i-1].PublishedAt))
	}

	assert.Equal(t, "old", items[0].Title, "input slice should not be reordered")
}

// TestSynthesize_NoDedup verifies duplicates pass through untouched
func TestSynthesize_NoDedup(t *testing.T) {
	item := mustRecord(t, "same", "https://example.com/same", published)

	feed, err := Synthesize(FeedMeta{Title: "Example"}, []ArticleRecord{item, item})
	require.NoError(t, err)
	assert.Len(t, feed.Items, 2)
}

// TestSynthesize_InvalidItem verifies precondition violations are reported
func TestSynthesize_InvalidItem(t *testing.T) {
	good := mustRecord(t, "good", "https://example.com/good", published)

	_, err := Synthesize(FeedMeta{}, []ArticleRecord{good, {Title: "", URL: "https://example.com/x"}})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Synthesize(FeedMeta{}, []ArticleRecord{{Title: "relative", URL: "/x"}})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

// TestSynthesize_Empty verifies an empty input gives an empty feed
func TestSynthesize_Empty(t *testing.T) {
	feed, err := Synthesize(FeedMeta{Title: "Empty"}, nil)
	require.NoError(t, err)
	assert.Empty(t, feed.Items)
	assert.Equal(t, "Empty", feed.Title)
}
