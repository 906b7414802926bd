package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source classifies where a strategy reads its value from.
type Source int

const (
	StructuredData Source = iota
	MetaTag
	CSSSelector
	TextHeuristic
)

// String returns the lowercase name of the source.
func (s Source) String() string {
	switch s {
	case StructuredData:
		return "structured_data"
	case MetaTag:
		return "meta_tag"
	case CSSSelector:
		return "css_selector"
	case TextHeuristic:
		return "text_heuristic"
	default:
		return "unknown"
	}
}

// ApplyFunc reads a candidate value out of a selection.
type ApplyFunc func(sel *goquery.Selection) (string, bool)

// Strategy is one way of extracting a field. Lower priorities run first.
type Strategy struct {
	Name     string
	Priority int
	Source   Source
	Apply    ApplyFunc
}

// Result is the value a cascade settled on and the strategy that produced it.
type Result struct {
	Value    string
	Strategy string
	Source   Source
}

// Cascade runs strategies in priority order and keeps the first hit.
type Cascade struct {
	strategies []Strategy

	// Accept, when set, rejects values so the cascade moves on to the next
	// strategy.
	Accept func(value string) bool
}

// NewCascade creates a cascade. Strategies are ordered by ascending priority;
// equal priorities keep the order given.
func NewCascade(strategies ...Strategy) *Cascade {
	ordered := make([]Strategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Cascade{strategies: ordered}
}

// Strategies returns the cascade's strategies in the order they run.
func (c *Cascade) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// Extract returns the first non-empty, accepted value. A miss is not an
// error; the caller decides what a missing field means.
func (c *Cascade) Extract(sel *goquery.Selection) (Result, bool) {
	if c == nil || sel == nil {
		return Result{}, false
	}

	for _, s := range c.strategies {
		if s.Apply == nil {
			continue
		}
		value, ok := s.Apply(sel)
		if !ok {
			continue
		}
		value = normalizeSpace(value)
		if value == "" {
			continue
		}
		if c.Accept != nil && !c.Accept(value) {
			continue
		}
		return Result{Value: value, Strategy: s.Name, Source: s.Source}, true
	}

	return Result{}, false
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
