package newsfeed

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultEnclosureType is used when the image URL has no recognizable
// extension.
const DefaultEnclosureType = "image/jpeg"

var (
	ErrMissingTitle = errors.New("title is empty")
	ErrInvalidURL   = errors.New("url must be absolute http or https")
	ErrMissingDate  = errors.New("published date is zero")
)

// Enclosure is a media attachment of a feed item.
type Enclosure struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
}

// ArticleRecord is one syndicated item. Records are built by
// NewArticleRecord and not modified afterwards.
type ArticleRecord struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Summary     string     `json:"summary"`
	PublishedAt time.Time  `json:"published_at"`
	DateSource  string     `json:"date_source,omitempty"`
	Author      string     `json:"author,omitempty"`
	Category    string     `json:"category,omitempty"`
	Enclosure   *Enclosure `json:"enclosure,omitempty"`
}

// RecordFields are the raw values a record is built from.
type RecordFields struct {
	Title       string
	URL         string
	Summary     string
	PublishedAt time.Time
	DateSource  string
	Authors     []string
	Category    string
	ImageURL    string
}

// NewArticleRecord validates fields and builds a record. The URL must already
// be absolute; its fragment is dropped and the ID derived from what remains.
func NewArticleRecord(f RecordFields) (ArticleRecord, error) {
	title := collapse(f.Title)
	if title == "" {
		return ArticleRecord{}, ErrMissingTitle
	}

	canonical, err := CanonicalURL(f.URL)
	if err != nil {
		return ArticleRecord{}, err
	}

	if f.PublishedAt.IsZero() {
		return ArticleRecord{}, ErrMissingDate
	}

	record := ArticleRecord{
		ID:          RecordID(canonical),
		Title:       title,
		URL:         canonical,
		Summary:     collapse(f.Summary),
		PublishedAt: f.PublishedAt.UTC(),
		DateSource:  f.DateSource,
		Author:      joinAuthors(f.Authors),
		Category:    collapse(f.Category),
	}

	if f.ImageURL != "" {
		if imageURL, err := CanonicalURL(f.ImageURL); err == nil {
			record.Enclosure = &Enclosure{URL: imageURL, MIMEType: GuessMIMEType(imageURL)}
		}
	}

	return record, nil
}

// RecordID derives a stable identifier from a canonical URL.
func RecordID(canonicalURL string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalURL))
}

// CanonicalURL checks that raw is an absolute http(s) URL and strips its
// fragment.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// GuessMIMEType infers a media type from the extension of a URL path.
func GuessMIMEType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultEnclosureType
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return DefaultEnclosureType
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return DefaultEnclosureType
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

func joinAuthors(authors []string) string {
	names := make([]string, 0, len(authors))
	seen := make(map[string]bool, len(authors))
	for _, a := range authors {
		a = collapse(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		names = append(names, a)
	}
	return strings.Join(names, ", ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
