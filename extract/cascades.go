package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// MaxSummaryLength bounds summaries produced by the text heuristic.
const MaxSummaryLength = 500

// PublishedMetaSelectors are the meta tags consulted for a publication date,
// most specific first.
var PublishedMetaSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[name="og:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[itemprop="datePublished"]`,
}

// SummaryMetaSelectors are the meta tags consulted for a description.
var SummaryMetaSelectors = []string{
	`meta[property="og:description"]`,
	`meta[name="og:description"]`,
	`meta[name="description"]`,
}

// Selector is a strategy reading the first element matching selector. With
// attr set it reads that attribute, otherwise the element's text. An empty
// selector reads the selection itself.
func Selector(name string, priority int, selector, attr string) Strategy {
	return Strategy{
		Name:     name,
		Priority: priority,
		Source:   CSSSelector,
		Apply: func(sel *goquery.Selection) (string, bool) {
			target := sel.First()
			if selector != "" {
				target = sel.Find(selector).First()
			}
			if target.Length() == 0 {
				return "", false
			}
			if attr != "" {
				return target.Attr(attr)
			}
			return target.Text(), true
		},
	}
}

// MetaContent is a strategy returning the content attribute of the first
// meta tag present among selectors.
func MetaContent(name string, priority int, selectors ...string) Strategy {
	return Strategy{
		Name:     name,
		Priority: priority,
		Source:   MetaTag,
		Apply: func(sel *goquery.Selection) (string, bool) {
			for _, selector := range selectors {
				content, ok := sel.Find(selector).First().Attr("content")
				if ok && strings.TrimSpace(content) != "" {
					return content, true
				}
			}
			return "", false
		},
	}
}

// Readability is a text heuristic returning the leading text of the main
// content, truncated to MaxSummaryLength.
func Readability(name string, priority int) Strategy {
	return Strategy{
		Name:     name,
		Priority: priority,
		Source:   TextHeuristic,
		Apply: func(sel *goquery.Selection) (string, bool) {
			html, err := goquery.OuterHtml(sel)
			if err != nil {
				return "", false
			}
			article, err := readability.FromReader(strings.NewReader(html), nil)
			if err != nil {
				return "", false
			}
			text := normalizeSpace(article.TextContent)
			if text == "" {
				return "", false
			}
			return Truncate(text, MaxSummaryLength), true
		},
	}
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

// DateCascade builds the publication date cascade: JSON-LD, meta tags, the
// configured date element, then any time[datetime]. accept filters out
// values that do not parse as dates.
func DateCascade(dateSelector, dateAttr string, accept func(string) bool) *Cascade {
	strategies := []Strategy{
		JSONLDValue("jsonld_date", 10, accept, "datePublished", "dateCreated", "uploadDate"),
		MetaContent("meta_published_time", 20, PublishedMetaSelectors...),
	}
	if dateSelector != "" {
		strategies = append(strategies, Selector("date_selector", 30, dateSelector, dateAttr))
	}
	strategies = append(strategies, Selector("time_datetime", 40, "time[datetime]", "datetime"))

	c := NewCascade(strategies...)
	c.Accept = accept
	return c
}

// FieldCascade builds a single-selector cascade for a listing field.
func FieldCascade(name, selector, attr string) *Cascade {
	return NewCascade(Selector(name, 10, selector, attr))
}

// SummaryCascade builds the article-page summary cascade: JSON-LD
// description, description meta tags, then readability text.
func SummaryCascade() *Cascade {
	return NewCascade(
		JSONLDField("jsonld_description", 10, "description"),
		MetaContent("meta_description", 20, SummaryMetaSelectors...),
		Readability("readability", 30),
	)
}

// ImageCascade builds the article-page image cascade.
func ImageCascade() *Cascade {
	return NewCascade(
		Strategy{
			Name:     "jsonld_image",
			Priority: 10,
			Source:   StructuredData,
			Apply:    JSONLDImage,
		},
		MetaContent("meta_image", 20, `meta[property="og:image"]`, `meta[name="twitter:image"]`),
	)
}
