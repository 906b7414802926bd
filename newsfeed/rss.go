package newsfeed

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/feeds"
)

// WriteRSS renders feed as RSS 2.0. generatedAt becomes the channel's
// pubDate and lastBuildDate.
func WriteRSS(w io.Writer, feed *FeedModel, generatedAt time.Time) error {
	if feed == nil {
		return fmt.Errorf("%w: nil feed", ErrInvalidItem)
	}

	f := &feeds.Feed{
		Title:       feed.Title,
		Link:        &feeds.Link{Href: feed.Link},
		Description: feed.Description,
		Created:     generatedAt.UTC(),
		Updated:     generatedAt.UTC(),
	}

	for _, item := range feed.Items {
		entry := &feeds.Item{
			Title:       item.Title,
			Link:        &feeds.Link{Href: item.URL},
			Description: item.Summary,
			Id:          item.URL,
			Created:     item.PublishedAt.UTC(),
		}
		if item.Enclosure != nil {
			entry.Enclosure = &feeds.Enclosure{
				Url:    item.Enclosure.URL,
				Type:   item.Enclosure.MIMEType,
				Length: "0",
			}
		}
		f.Items = append(f.Items, entry)
	}

	rss := (&feeds.Rss{Feed: f}).RssFeed()
	rss.Language = feed.Language
	rss.Generator = "sitefeed"
	for i, item := range feed.Items {
		rss.Items[i].Author = item.Author
		rss.Items[i].Category = item.Category
	}

	if err := feeds.WriteXML(rss, w); err != nil {
		return fmt.Errorf("failed to write rss: %w", err)
	}
	return nil
}
