package extract

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ArticleTypes are the JSON-LD @type values treated as an article.
var ArticleTypes = []string{
	"Article",
	"NewsArticle",
	"BlogPosting",
	"ReportageNewsArticle",
	"AnalysisNewsArticle",
	"OpinionNewsArticle",
	"ReviewNewsArticle",
	"BackgroundNewsArticle",
	"Report",
	"WebPage",
	"VideoObject",
}

// JSONLD returns every object found in application/ld+json script blocks
// under sel, in document order. Arrays and @graph containers are flattened.
// Blocks that fail to decode are skipped.
func JSONLD(sel *goquery.Selection) []map[string]any {
	var objects []map[string]any

	sel.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		body := strings.TrimSpace(s.Text())
		if body == "" {
			return
		}

		var data any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return
		}
		objects = appendObjects(objects, data)
	})

	return objects
}

func appendObjects(dst []map[string]any, data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			dst = appendObjects(dst, item)
		}
	case map[string]any:
		dst = append(dst, v)
		if graph, ok := v["@graph"]; ok {
			dst = appendObjects(dst, graph)
		}
	}
	return dst
}

// FindJSONLD returns the first JSON-LD object whose @type is one of types.
func FindJSONLD(sel *goquery.Selection, types []string) (map[string]any, bool) {
	for _, obj := range JSONLD(sel) {
		if hasType(obj, types) {
			return obj, true
		}
	}
	return nil, false
}

// hasType reports whether obj's @type, a string or a list, names one of
// types.
func hasType(obj map[string]any, types []string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return slices.Contains(types, t)
	case []any:
		for _, item := range t {
			if name, ok := item.(string); ok && slices.Contains(types, name) {
				return true
			}
		}
	}
	return false
}

// stringValue renders scalar JSON-LD values as text. Objects and arrays are
// not scalar and return false.
func stringValue(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, strings.TrimSpace(value) != ""
	case float64:
		return fmt.Sprintf("%.0f", value), true
	case json.Number:
		return value.String(), true
	}
	return "", false
}

// JSONLDField is a strategy reading the first present key of an
// article-typed JSON-LD object. Objects are scanned in document order until
// one carries a value.
func JSONLDField(name string, priority int, keys ...string) Strategy {
	return JSONLDValue(name, priority, nil, keys...)
}

// JSONLDValue is JSONLDField with a filter: every article-typed object is
// scanned in document order, trying keys in order, and the first value
// accept passes wins. A nil accept takes any non-empty value.
func JSONLDValue(name string, priority int, accept func(string) bool, keys ...string) Strategy {
	return Strategy{
		Name:     name,
		Priority: priority,
		Source:   StructuredData,
		Apply: func(sel *goquery.Selection) (string, bool) {
			for _, obj := range JSONLD(sel) {
				if !hasType(obj, ArticleTypes) {
					continue
				}
				for _, key := range keys {
					value, ok := stringValue(obj[key])
					if !ok {
						continue
					}
					if accept == nil || accept(normalizeSpace(value)) {
						return value, true
					}
				}
			}
			return "", false
		},
	}
}

// JSONLDAuthors returns author names from an article-typed JSON-LD object.
// The author may be a string, an object with a name, or a list of either.
func JSONLDAuthors(sel *goquery.Selection) []string {
	obj, ok := FindJSONLD(sel, ArticleTypes)
	if !ok {
		return nil
	}
	return authorNames(obj["author"])
}

func authorNames(v any) []string {
	var names []string
	switch a := v.(type) {
	case string:
		if name := strings.TrimSpace(a); name != "" {
			names = append(names, name)
		}
	case map[string]any:
		if name, ok := a["name"].(string); ok && strings.TrimSpace(name) != "" {
			names = append(names, strings.TrimSpace(name))
		}
	case []any:
		for _, item := range a {
			names = append(names, authorNames(item)...)
		}
	}
	return names
}

// JSONLDImage returns the image URL of an article-typed JSON-LD object. The
// image may be a URL string, an ImageObject, or a list of either.
func JSONLDImage(sel *goquery.Selection) (string, bool) {
	obj, ok := FindJSONLD(sel, ArticleTypes)
	if !ok {
		return "", false
	}
	return imageURL(obj["image"])
}

func imageURL(v any) (string, bool) {
	switch img := v.(type) {
	case string:
		return img, strings.TrimSpace(img) != ""
	case map[string]any:
		if u, ok := img["url"].(string); ok && u != "" {
			return u, true
		}
	case []any:
		for _, item := range img {
			if u, ok := imageURL(item); ok {
				return u, true
			}
		}
	}
	return "", false
}
