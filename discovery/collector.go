package discovery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/dates"
	"github.com/pevans/sitefeed/extract"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/scraper"
)

// Date sources recorded on records in addition to extract strategy names.
const (
	DateSourceCache = "cache"
	articlePrefix   = "article:"
)

// Stats counts what happened to the blocks of one listing.
type Stats struct {
	Blocks       int `json:"blocks"`
	Emitted      int `json:"emitted"`
	MissingTitle int `json:"missing_title"`
	MissingLink  int `json:"missing_link"`
	Filtered     int `json:"filtered"`
	Duplicates   int `json:"duplicates"`
	Enriched     int `json:"enriched"`
	EnrichFailed int `json:"enrich_failed"`
	CacheHits    int `json:"cache_hits"`
	DateFallback int `json:"date_fallback"`
}

// Collection is the outcome of collecting one listing page.
type Collection struct {
	Records []newsfeed.ArticleRecord
	Stats   Stats
}

// CollectorOptions configure a Collector.
type CollectorOptions struct {
	// Fetcher retrieves article pages for enrichment. Without one,
	// enrichment is skipped.
	Fetcher    PageFetcher
	Normalizer *dates.Normalizer
	Cache      cache.DateCache
	Logger     *slog.Logger
}

// Collector turns listing pages into article records.
type Collector struct {
	fetcher    PageFetcher
	normalizer *dates.Normalizer
	cache      cache.DateCache
	logger     *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(opts CollectorOptions) *Collector {
	c := &Collector{
		fetcher:    opts.Fetcher,
		normalizer: opts.Normalizer,
		cache:      opts.Cache,
		logger:     opts.Logger,
	}
	if c.normalizer == nil {
		c.normalizer = dates.NewNormalizer(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// WithFetcher returns a copy of the collector that enriches through f.
func (c *Collector) WithFetcher(f PageFetcher) *Collector {
	cp := *c
	cp.fetcher = f
	return &cp
}

// listingFields holds the per-field cascades of one source.
type listingFields struct {
	title    *extract.Cascade
	link     *extract.Cascade
	date     *extract.Cascade
	summary  *extract.Cascade
	author   *extract.Cascade
	image    *extract.Cascade
	category *extract.Cascade
}

func (c *Collector) fieldsFor(cfg *scraper.SourceConfig) listingFields {
	f := cfg.Fields
	optional := func(name string, spec scraper.FieldSpec) *extract.Cascade {
		if spec.Selector == "" && spec.Attr == "" {
			return nil
		}
		return extract.FieldCascade(name, spec.Selector, spec.Attr)
	}

	linkAttr := f.Link.Attr
	if linkAttr == "" {
		linkAttr = "href"
	}

	return listingFields{
		title:    extract.FieldCascade("title", f.Title.Selector, f.Title.Attr),
		link:     extract.FieldCascade("link", f.Link.Selector, linkAttr),
		date:     extract.DateCascade(f.Date.Selector, f.Date.Attr, c.parseable(cfg.Locale)),
		summary:  optional("summary", f.Summary),
		author:   optional("author", f.Author),
		image:    optional("image", f.Image),
		category: optional("category", f.Category),
	}
}

func (c *Collector) parseable(locale string) func(string) bool {
	return func(v string) bool {
		_, ok := c.normalizer.Parse(v, dates.Hints{Locale: locale})
		return ok
	}
}

// Collect extracts records from the blocks of a listing page, in page order.
// Blocks without a title or link are skipped, repeated URLs keep their first
// occurrence, and collection stops at the configured maximum.
func (c *Collector) Collect(
	ctx context.Context,
	doc *goquery.Document,
	cfg *scraper.SourceConfig,
	pageURL string,
) Collection {
	var out Collection
	logger := c.logger.With("source", cfg.Name)

	linkPattern, err := cfg.LinkRegexp()
	if err != nil {
		logger.Error("invalid link pattern", "error", err)
		return out
	}

	base := cfg.ResolveBase(pageURL)
	fields := c.fieldsFor(cfg)
	seen := make(map[string]bool)

	doc.Find(cfg.List.ContainerSelector).EachWithBreak(func(_ int, block *goquery.Selection) bool {
		if cfg.List.MaxItems > 0 && len(out.Records) >= cfg.List.MaxItems {
			return false
		}
		out.Stats.Blocks++

		record, ok := c.collectBlock(ctx, block, cfg, fields, base, linkPattern, seen, &out.Stats, logger)
		if ok {
			out.Records = append(out.Records, record)
		}
		return true
	})

	out.Stats.Emitted = len(out.Records)
	logger.Debug("collected listing", "blocks", out.Stats.Blocks, "records", out.Stats.Emitted,
		"duplicates", out.Stats.Duplicates, "enriched", out.Stats.Enriched)
	return out
}

func (c *Collector) collectBlock(
	ctx context.Context,
	block *goquery.Selection,
	cfg *scraper.SourceConfig,
	fields listingFields,
	base string,
	linkPattern *regexp.Regexp,
	seen map[string]bool,
	stats *Stats,
	logger *slog.Logger,
) (newsfeed.ArticleRecord, bool) {
	title, ok := fields.title.Extract(block)
	if !ok {
		stats.MissingTitle++
		return newsfeed.ArticleRecord{}, false
	}

	href, ok := fields.link.Extract(block)
	if !ok {
		stats.MissingLink++
		return newsfeed.ArticleRecord{}, false
	}
	link, err := ResolveURL(base, href.Value)
	if err != nil {
		stats.MissingLink++
		return newsfeed.ArticleRecord{}, false
	}
	if linkPattern != nil && !linkPattern.MatchString(link) {
		stats.Filtered++
		return newsfeed.ArticleRecord{}, false
	}
	if seen[link] {
		stats.Duplicates++
		return newsfeed.ArticleRecord{}, false
	}
	seen[link] = true

	rf := newsfeed.RecordFields{
		Title:    title.Value,
		URL:      link,
		Summary:  extractValue(fields.summary, block),
		Category: extractValue(fields.category, block),
	}

	if author := extractValue(fields.author, block); author != "" {
		rf.Authors = ParseAuthors(author)
	}

	if img := extractValue(fields.image, block); img != "" {
		if resolved, err := ResolveURL(base, firstSrcsetURL(img)); err == nil {
			rf.ImageURL = resolved
		}
	}

	hints := dates.Hints{Locale: cfg.Locale, SourceURL: link}
	if raw, ok := fields.date.Extract(block); ok {
		if t, ok := c.normalizer.Parse(raw.Value, hints); ok {
			rf.PublishedAt, rf.DateSource = t, raw.Strategy
		}
	}

	if c.shouldEnrich(cfg, rf) {
		c.enrich(ctx, cfg, &rf, stats, logger)
	}

	if len(rf.Authors) == 0 && cfg.DefaultAuthor != "" {
		rf.Authors = []string{cfg.DefaultAuthor}
	}

	if rf.PublishedAt.IsZero() {
		rf.PublishedAt, rf.DateSource = c.normalizer.Resolve("", hints)
		if rf.DateSource == dates.StrategyFallback {
			stats.DateFallback++
		}
	}

	record, err := newsfeed.NewArticleRecord(rf)
	if err != nil {
		logger.Warn("discarding block", "url", link, "error", err)
		return newsfeed.ArticleRecord{}, false
	}
	return record, true
}

func (c *Collector) shouldEnrich(cfg *scraper.SourceConfig, rf newsfeed.RecordFields) bool {
	if c.fetcher == nil {
		return false
	}
	switch cfg.Enrich.Mode {
	case scraper.EnrichAlways:
		return true
	case scraper.EnrichMissing:
		return rf.PublishedAt.IsZero() || (cfg.Enrich.Summary && rf.Summary == "")
	default:
		return false
	}
}

// enrich fills the date, and optionally the summary, from the article page.
// Failures are logged and leave the listing data in place.
func (c *Collector) enrich(
	ctx context.Context,
	cfg *scraper.SourceConfig,
	rf *newsfeed.RecordFields,
	stats *Stats,
	logger *slog.Logger,
) {
	needSummary := cfg.Enrich.Summary && rf.Summary == ""
	needDate := cfg.Enrich.Mode == scraper.EnrichAlways || rf.PublishedAt.IsZero()

	if needDate && c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, rf.URL)
		if err != nil {
			logger.Warn("enrichment cache lookup failed", "url", rf.URL, "error", err)
		}
		if ok {
			stats.CacheHits++
			rf.PublishedAt, rf.DateSource = cached, DateSourceCache
			needDate = false
			if !needSummary {
				return
			}
		}
	}

	page, err := c.fetcher.Fetch(ctx, rf.URL)
	if err != nil {
		stats.EnrichFailed++
		logger.Warn("article fetch failed", "url", rf.URL, "error", err)
		return
	}

	doc, err := ParseDocument(page)
	if err != nil {
		stats.EnrichFailed++
		logger.Warn("article parse failed", "url", rf.URL, "error", err)
		return
	}

	details := c.articleDetails(doc.Selection, cfg, rf.URL)
	stats.Enriched++

	switch {
	case needDate && !details.publishedAt.IsZero():
		rf.PublishedAt, rf.DateSource = details.publishedAt, details.dateSource
		if c.cache != nil {
			if err := c.cache.Set(ctx, rf.URL, details.publishedAt); err != nil {
				logger.Warn("enrichment cache store failed", "url", rf.URL, "error", err)
			}
		}
	case needDate && rf.PublishedAt.IsZero():
		logger.Warn("no date on article page", "url", rf.URL)
	}

	if needSummary && details.summary != "" {
		rf.Summary = details.summary
	}
	if len(rf.Authors) == 0 && len(details.authors) > 0 {
		rf.Authors = details.authors
	}
	if rf.ImageURL == "" && details.image != "" {
		if resolved, err := ResolveURL(rf.URL, details.image); err == nil {
			rf.ImageURL = resolved
		}
	}
}

type articleDetails struct {
	publishedAt time.Time
	dateSource  string
	summary     string
	authors     []string
	image       string
}

func (c *Collector) articleDetails(sel *goquery.Selection, cfg *scraper.SourceConfig, articleURL string) articleDetails {
	var d articleDetails
	hints := dates.Hints{Locale: cfg.Locale, SourceURL: articleURL}

	dateCascade := extract.DateCascade(cfg.Enrich.Date.Selector, cfg.Enrich.Date.Attr, c.parseable(cfg.Locale))
	if raw, ok := dateCascade.Extract(sel); ok {
		if t, ok := c.normalizer.Parse(raw.Value, hints); ok {
			d.publishedAt, d.dateSource = t, articlePrefix+raw.Strategy
		}
	}

	if cfg.Enrich.Summary {
		if res, ok := extract.SummaryCascade().Extract(sel); ok {
			d.summary = res.Value
		}
	}
	d.authors = extract.JSONLDAuthors(sel)
	if res, ok := extract.ImageCascade().Extract(sel); ok {
		d.image = res.Value
	}
	return d
}

func extractValue(c *extract.Cascade, sel *goquery.Selection) string {
	if c == nil {
		return ""
	}
	res, ok := c.Extract(sel)
	if !ok {
		return ""
	}
	return res.Value
}

// ResolveURL resolves ref against base and returns the canonical absolute
// URL with any fragment removed.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty url")
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}

	if !refURL.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base url %q: %w", base, err)
		}
		refURL = baseURL.ResolveReference(refURL)
	}

	return newsfeed.CanonicalURL(refURL.String())
}

// firstSrcsetURL returns the first candidate of a srcset value, or v itself
// when it is a plain URL.
func firstSrcsetURL(v string) string {
	v = strings.TrimSpace(v)
	if !strings.Contains(v, ",") && !strings.Contains(v, " ") {
		return v
	}
	first, _, _ := strings.Cut(v, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return v
	}
	return fields[0]
}

// ParseDocument parses a fetched page as HTML.
func ParseDocument(page *Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
