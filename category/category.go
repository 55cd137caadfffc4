// Package category holds the product taxonomy: plausible price ranges and
// condition adjustments per category, plus rule-based category detection and
// query refinement.
package category

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"resale-pricer/models"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Conditions maps a condition tier name to its percentage adjustment.
type Conditions map[string]float64

// Category is one taxonomy entry.
type Category struct {
	Name       string     `yaml:"name"`
	SearchTerm string     `yaml:"search_term"`
	MinPrice   int64      `yaml:"min_price"`
	MaxPrice   int64      `yaml:"max_price"`
	Keywords   []string   `yaml:"keywords"`
	Conditions Conditions `yaml:"conditions"`
}

// Range is an inclusive price bound.
type Range struct {
	Min int64
	Max int64
}

// Contains reports whether price lies inside the range.
func (r Range) Contains(price int64) bool {
	return price >= r.Min && price <= r.Max
}

type fileFormat struct {
	Default struct {
		MinPrice   int64      `yaml:"min_price"`
		MaxPrice   int64      `yaml:"max_price"`
		Conditions Conditions `yaml:"conditions"`
	} `yaml:"default"`
	Categories []Category `yaml:"categories"`
}

// Taxonomy is immutable after loading and safe for concurrent use.
type Taxonomy struct {
	defaultRange      Range
	defaultConditions Conditions
	byName            map[string]Category
	names             []string
}

// Default returns the embedded taxonomy. It panics only if the embedded file is broken.
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("category: embedded taxonomy: %v", err))
	}
	return t
}

// Load reads a taxonomy from path, or returns the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("category: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML taxonomy data and validates every range.
func Parse(data []byte) (*Taxonomy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("category: parse taxonomy: %w", err)
	}
	if f.Default.MinPrice <= 0 || f.Default.MaxPrice <= f.Default.MinPrice {
		return nil, fmt.Errorf("category: invalid default range [%d, %d]", f.Default.MinPrice, f.Default.MaxPrice)
	}

	t := &Taxonomy{
		defaultRange:      Range{Min: f.Default.MinPrice, Max: f.Default.MaxPrice},
		defaultConditions: f.Default.Conditions,
		byName:            make(map[string]Category, len(f.Categories)),
	}
	if t.defaultConditions == nil {
		t.defaultConditions = Conditions{"excellent": 0, "good": -10, "fair": -20}
	}

	for _, c := range f.Categories {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" {
			return nil, fmt.Errorf("category: entry without a name")
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("category: duplicate category %q", c.Name)
		}
		if c.MinPrice <= 0 || c.MaxPrice <= c.MinPrice {
			return nil, fmt.Errorf("category: %s: invalid range [%d, %d]", c.Name, c.MinPrice, c.MaxPrice)
		}
		for i, kw := range c.Keywords {
			c.Keywords[i] = strings.ToLower(kw)
		}
		t.byName[c.Name] = c
		t.names = append(t.names, c.Name)
	}
	sort.Strings(t.names)
	return t, nil
}

// Names returns every known category name, sorted.
func (t *Taxonomy) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Lookup returns the category with the given name.
func (t *Taxonomy) Lookup(name string) (Category, bool) {
	c, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Known reports whether name is a category in the taxonomy.
func (t *Taxonomy) Known(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// PriceRange returns the plausible range for a category, or the wide default
// for an empty or unknown name.
func (t *Taxonomy) PriceRange(name string) Range {
	if c, ok := t.Lookup(name); ok {
		return Range{Min: c.MinPrice, Max: c.MaxPrice}
	}
	return t.defaultRange
}

// ConditionPercent returns the percentage adjustment for a condition tier in a
// category, falling back to the default tiers.
func (t *Taxonomy) ConditionPercent(name string, cond models.Condition) float64 {
	if c, ok := t.Lookup(name); ok {
		if pct, ok := c.Conditions[cond.String()]; ok {
			return pct
		}
	}
	return t.defaultConditions[cond.String()]
}

// Detect guesses a category from free text by keyword match. The category with
// the most matching keywords wins; ties go to the alphabetically first name.
// It returns "" when nothing matches.
func (t *Taxonomy) Detect(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := "", 0
	for _, name := range t.names {
		hits := 0
		for _, kw := range t.byName[name].Keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = name, hits
		}
	}
	return best
}

// HasKeyword reports whether text already mentions a keyword of the category.
func (t *Taxonomy) HasKeyword(name, text string) bool {
	c, ok := t.Lookup(name)
	if !ok {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range c.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return strings.Contains(lower, strings.ToLower(c.SearchTerm))
}

// RefineQuery builds the search title and variant sent to marketplaces:
// whitespace is collapsed, bracketed seller noise is dropped and a variant
// already contained in the title is not repeated.
func RefineQuery(title, variant string) (string, string) {
	title = collapse(stripBrackets(title))
	variant = collapse(stripBrackets(variant))
	if variant != "" && strings.Contains(strings.ToLower(title), strings.ToLower(variant)) {
		variant = ""
	}
	return title, variant
}

func stripBrackets(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '[', '(', '【':
			depth++
			b.WriteRune(' ')
			continue
		case ']', ')', '】':
			if depth > 0 {
				depth--
			}
			b.WriteRune(' ')
			continue
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
