package discovery

import (
	"testing"
	"time"

	"github.com/pevans/sitefeed/dates"
	"github.com/pevans/sitefeed/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Gallup News</title>
  <link>https://news.gallup.com</link>
  <description>Upstream</description>
  <item>
    <title>Poll one</title>
    <link>https://news.gallup.com/poll/1/one.aspx</link>
    <description>&lt;p&gt;Americans &lt;b&gt;say&lt;/b&gt; things.&lt;/p&gt;</description>
    <pubDate>Thu, 11 Dec 2025 00:00:00 GMT</pubDate>
    <dc:creator>Jane Smith</dc:creator>
    <category>Politics</category>
    <enclosure url="https://news.gallup.com/img/one.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>Poll one again</title>
    <link>https://news.gallup.com/poll/1/one.aspx#dup</link>
  </item>
  <item>
    <title></title>
    <link>https://news.gallup.com/poll/2/untitled.aspx</link>
  </item>
  <item>
    <title>Relative link</title>
    <link>/poll/2025/07/21/relative.aspx</link>
  </item>
</channel>
</rss>`

// TestCollectFeed verifies mirrored feed items become records
func TestCollectFeed(t *testing.T) {
	feed, err := ParseFeed([]byte(upstreamRSS))
	require.NoError(t, err)

	cfg := &scraper.SourceConfig{Name: "gallup", Kind: scraper.KindFeed, URL: "https://news.gallup.com/rss"}
	cfg.ApplyDefaults()

	out := newTestCollector(nil, nil).CollectFeed(feed, cfg, cfg.URL)
	require.Len(t, out.Records, 2)

	first := out.Records[0]
	assert.Equal(t, "Poll one", first.Title)
	assert.Equal(t, "https://news.gallup.com/poll/1/one.aspx", first.URL)
	assert.Equal(t, "Americans say things.", first.Summary)
	assert.Equal(t, time.Date(2025, 12, 11, 0, 0, 0, 0, time.UTC), first.PublishedAt)
	assert.Equal(t, "feed_published", first.DateSource)
	assert.Equal(t, "Jane Smith", first.Author)
	assert.Equal(t, "Politics", first.Category)
	require.NotNil(t, first.Enclosure)
	assert.Equal(t, "https://news.gallup.com/img/one.jpg", first.Enclosure.URL)

	relative := out.Records[1]
	assert.Equal(t, "https://news.gallup.com/poll/2025/07/21/relative.aspx", relative.URL)
	assert.Equal(t, time.Date(2025, 7, 21, 12, 0, 0, 0, time.UTC), relative.PublishedAt)
	assert.Equal(t, dates.StrategyURL, relative.DateSource)

	assert.Equal(t, 1, out.Stats.Duplicates)
	assert.Equal(t, 1, out.Stats.MissingTitle)
}

// TestParseFeed_Invalid verifies unparseable bodies are errors
func TestParseFeed_Invalid(t *testing.T) {
	_, err := ParseFeed([]byte("<html><body>not a feed</body></html>"))
	assert.Error(t, err)
}

// TestPlainText verifies markup is stripped from descriptions
func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain", plainText("  plain "))
	assert.Equal(t, "a b", plainText("<p>a</p> <p>b</p>"))
}
