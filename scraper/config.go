package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Source kinds.
const (
	KindListing = "listing" // HTML listing page scraped with selectors
	KindFeed    = "feed"    // upstream RSS/Atom/JSON feed mirrored as-is
)

// Enrichment modes control when the article page is fetched for a date.
const (
	EnrichNever   = "never"
	EnrichMissing = "missing"
	EnrichAlways  = "always"
)

// CurrentVersion is the source schema version this build understands.
const CurrentVersion = 1

var (
	ErrMissingName     = errors.New("source name is required")
	ErrMissingURL      = errors.New("source url is required")
	ErrUnknownKind     = errors.New("unknown source kind")
	ErrMissingSelector = errors.New("missing required selector")
	ErrUnknownEnrich   = errors.New("unknown enrich mode")
)

// SourceConfig defines how to turn one website into a feed.
type SourceConfig struct {
	Name          string        `yaml:"name" json:"name"`
	Kind          string        `yaml:"kind,omitempty" json:"kind"`
	Version       int           `yaml:"version,omitempty" json:"version"`
	URL           string        `yaml:"url" json:"url"`
	BaseURL       string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Feed          FeedConfig    `yaml:"feed" json:"feed"`
	List          ListConfig    `yaml:"list,omitempty" json:"list"`
	Fields        FieldsConfig  `yaml:"fields,omitempty" json:"fields"`
	DefaultAuthor string        `yaml:"default_author,omitempty" json:"default_author,omitempty"`
	Locale        string        `yaml:"locale,omitempty" json:"locale,omitempty"`
	Enrich        EnrichConfig  `yaml:"enrich,omitempty" json:"enrich"`
	Retry         RetryConfig   `yaml:"retry,omitempty" json:"retry"`
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// FeedConfig holds the channel metadata of the generated feed.
type FeedConfig struct {
	Title       string `yaml:"title" json:"title"`
	Link        string `yaml:"link,omitempty" json:"link,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Language    string `yaml:"language,omitempty" json:"language,omitempty"`
}

// ListConfig defines how to find article blocks on the listing page.
type ListConfig struct {
	ContainerSelector string `yaml:"container" json:"container"`
	LinkPattern       string `yaml:"link_pattern,omitempty" json:"link_pattern,omitempty"`
	MaxItems          int    `yaml:"max_items,omitempty" json:"max_items,omitempty"`
}

// FieldSpec selects one field inside an article block. An empty selector
// means the block itself; an empty attr means the element text.
type FieldSpec struct {
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Attr     string `yaml:"attr,omitempty" json:"attr,omitempty"`
}

// FieldsConfig maps every record field to its selector.
type FieldsConfig struct {
	Title    FieldSpec `yaml:"title" json:"title"`
	Link     FieldSpec `yaml:"link" json:"link"`
	Date     FieldSpec `yaml:"date,omitempty" json:"date"`
	Summary  FieldSpec `yaml:"summary,omitempty" json:"summary"`
	Author   FieldSpec `yaml:"author,omitempty" json:"author"`
	Image    FieldSpec `yaml:"image,omitempty" json:"image"`
	Category FieldSpec `yaml:"category,omitempty" json:"category"`
}

// EnrichConfig controls secondary fetches of article pages.
type EnrichConfig struct {
	Mode string `yaml:"mode,omitempty" json:"mode"`
	// Date optionally names a visible date element on the article page,
	// tried after structured data and meta tags.
	Date FieldSpec `yaml:"date,omitempty" json:"date"`
	// Summary also fills a missing summary from the article page.
	Summary bool `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// RetryConfig bounds retries of failed fetches. Backoff grows linearly with
// the attempt number.
type RetryConfig struct {
	Attempts int           `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	Backoff  time.Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`
}

// ApplyDefaults fills optional fields with their default values.
func (c *SourceConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = KindListing
	}
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if c.Enrich.Mode == "" {
		c.Enrich.Mode = EnrichNever
	}
	if c.Retry.Attempts < 1 {
		c.Retry.Attempts = 1
	}
	if c.Feed.Title == "" {
		c.Feed.Title = c.Name
	}
	if c.Feed.Link == "" {
		c.Feed.Link = c.URL
	}
	if c.Feed.Description == "" {
		c.Feed.Description = c.Feed.Title
	}
}

// Validate checks that the configuration is complete and well formed.
func (c *SourceConfig) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.URL == "" {
		return fmt.Errorf("%s: %w", c.Name, ErrMissingURL)
	}
	if err := validateHTTPURL(c.URL); err != nil {
		return fmt.Errorf("%s: url: %w", c.Name, err)
	}
	if c.BaseURL != "" {
		if err := validateHTTPURL(c.BaseURL); err != nil {
			return fmt.Errorf("%s: base_url: %w", c.Name, err)
		}
	}
	if c.Version > CurrentVersion {
		return fmt.Errorf("%s: unsupported version %d (max %d)", c.Name, c.Version, CurrentVersion)
	}

	switch c.Kind {
	case "", KindListing:
		if c.List.ContainerSelector == "" {
			return fmt.Errorf("%s: list.container: %w", c.Name, ErrMissingSelector)
		}
	case KindFeed:
	default:
		return fmt.Errorf("%s: %w %q", c.Name, ErrUnknownKind, c.Kind)
	}

	if c.List.LinkPattern != "" {
		if _, err := regexp.Compile(c.List.LinkPattern); err != nil {
			return fmt.Errorf("%s: list.link_pattern: %w", c.Name, err)
		}
	}
	if c.List.MaxItems < 0 {
		return fmt.Errorf("%s: list.max_items must not be negative", c.Name)
	}

	switch c.Enrich.Mode {
	case "", EnrichNever, EnrichMissing, EnrichAlways:
	default:
		return fmt.Errorf("%s: %w %q", c.Name, ErrUnknownEnrich, c.Enrich.Mode)
	}

	if c.Retry.Attempts < 0 || c.Retry.Backoff < 0 {
		return fmt.Errorf("%s: retry values must not be negative", c.Name)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s: timeout must not be negative", c.Name)
	}

	return nil
}

// LinkRegexp compiles the link pattern, or returns nil when none is set.
func (c *SourceConfig) LinkRegexp() (*regexp.Regexp, error) {
	if c.List.LinkPattern == "" {
		return nil, nil
	}
	return regexp.Compile(c.List.LinkPattern)
}

// ResolveBase returns the URL relative links are resolved against.
func (c *SourceConfig) ResolveBase(pageURL string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if pageURL != "" {
		return pageURL
	}
	return c.URL
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ValidateAll validates every source and rejects duplicate names.
func ValidateAll(sources []SourceConfig) error {
	seen := make(map[string]bool, len(sources))
	for i := range sources {
		if err := sources[i].Validate(); err != nil {
			return err
		}
		if seen[sources[i].Name] {
			return fmt.Errorf("duplicate source name %q", sources[i].Name)
		}
		seen[sources[i].Name] = true
	}
	return nil
}
