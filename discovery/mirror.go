package discovery

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pevans/sitefeed/dates"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/scraper"
)

// ParseFeed parses an RSS, Atom or JSON feed body. gofeed detects the
// format.
func ParseFeed(body []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// CollectFeed converts the items of an upstream feed into records, with the
// same title/link precondition, deduplication and item limit as listing
// pages.
func (c *Collector) CollectFeed(feed *gofeed.Feed, cfg *scraper.SourceConfig, pageURL string) Collection {
	var out Collection
	logger := c.logger.With("source", cfg.Name)

	linkPattern, err := cfg.LinkRegexp()
	if err != nil {
		logger.Error("invalid link pattern", "error", err)
		return out
	}

	base := cfg.ResolveBase(pageURL)
	seen := make(map[string]bool)

	for _, item := range feed.Items {
		if cfg.List.MaxItems > 0 && len(out.Records) >= cfg.List.MaxItems {
			break
		}
		out.Stats.Blocks++

		title := strings.TrimSpace(item.Title)
		if title == "" {
			out.Stats.MissingTitle++
			continue
		}

		link, err := ResolveURL(base, item.Link)
		if err != nil {
			out.Stats.MissingLink++
			continue
		}
		if linkPattern != nil && !linkPattern.MatchString(link) {
			out.Stats.Filtered++
			continue
		}
		if seen[link] {
			out.Stats.Duplicates++
			continue
		}
		seen[link] = true

		rf := newsfeed.RecordFields{
			Title:   title,
			URL:     link,
			Summary: plainText(item.Description),
			Authors: feedItemAuthors(item),
		}
		if len(item.Categories) > 0 {
			rf.Category = item.Categories[0]
		}
		if len(rf.Authors) == 0 && cfg.DefaultAuthor != "" {
			rf.Authors = []string{cfg.DefaultAuthor}
		}
		rf.ImageURL = feedItemImage(item)

		rf.PublishedAt, rf.DateSource = c.feedItemDate(item, cfg, link)
		if rf.DateSource == dates.StrategyFallback {
			out.Stats.DateFallback++
		}

		record, err := newsfeed.NewArticleRecord(rf)
		if err != nil {
			logger.Warn("discarding feed item", "url", link, "error", err)
			continue
		}
		out.Records = append(out.Records, record)
	}

	out.Stats.Emitted = len(out.Records)
	return out
}

// feedItemDate prefers the timestamps gofeed already parsed, then the raw
// strings, then the URL and the clock.
func (c *Collector) feedItemDate(item *gofeed.Item, cfg *scraper.SourceConfig, link string) (t time.Time, source string) {
	hints := dates.Hints{Locale: cfg.Locale, SourceURL: link}

	switch {
	case item.PublishedParsed != nil:
		return c.normalizer.NormalizeValue(item.PublishedParsed, hints), "feed_published"
	case item.UpdatedParsed != nil:
		return c.normalizer.NormalizeValue(item.UpdatedParsed, hints), "feed_updated"
	}

	for _, raw := range []string{item.Published, item.Updated} {
		if parsed, ok := c.normalizer.Parse(raw, hints); ok {
			return parsed, "feed_text"
		}
	}
	return c.normalizer.Resolve("", hints)
}

// feedItemAuthors collects names from the author, authors and Dublin Core
// creator fields.
func feedItemAuthors(item *gofeed.Item) []string {
	authors := []string{}
	if item.Author != nil {
		authors = mergeAuthors(authors, item.Author.Name)
	}
	for _, author := range item.Authors {
		if author != nil {
			authors = mergeAuthors(authors, author.Name)
		}
	}
	if item.DublinCoreExt != nil {
		authors = mergeAuthors(authors, item.DublinCoreExt.Creator...)
	}
	return authors
}

func feedItemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// plainText strips markup from a feed description.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
