package crawler

import (
	"sort"
	"strings"

	"resale-pricer/category"
	"resale-pricer/models"
)

// maxEnhanceWords is the longest query EnhanceQuery will touch.
const maxEnhanceWords = 2

// EnhanceQuery appends the category's search term to a short query that does
// not already name the category ("14 프로" + smartphone → "14 프로 휴대폰").
// Unknown categories and longer queries are returned unchanged.
func EnhanceQuery(tax *category.Taxonomy, title, categoryName string) string {
	if tax == nil || categoryName == "" {
		return title
	}
	c, ok := tax.Lookup(categoryName)
	if !ok || c.SearchTerm == "" {
		return title
	}
	words := strings.Fields(title)
	if len(words) == 0 || len(words) > maxEnhanceWords {
		return title
	}
	if tax.HasKeyword(categoryName, title) {
		return title
	}
	return strings.Join(words, " ") + " " + c.SearchTerm
}

// defaultExcludeTerms drop posts that are not sale listings of a working item.
var defaultExcludeTerms = []string{"삽니다", "구매합니다", "구해요", "매입", "부품용", "고장"}

// FilterOptions narrows a sample list. Zero values disable each filter.
type FilterOptions struct {
	MinPrice int64
	MaxPrice int64
	Sources  []models.Source
	// RequireAllTerms keeps only samples whose title contains every query word.
	RequireAllTerms bool
	// ExcludeTerms drops samples whose title contains any of these. Nil uses
	// the built-in wanted-to-buy and broken-item terms.
	ExcludeTerms []string
}

// FilterResults returns the samples matching opts. The input is not modified.
func FilterResults(samples []models.Sample, q models.Query, opts FilterOptions) []models.Sample {
	exclude := opts.ExcludeTerms
	if exclude == nil {
		exclude = defaultExcludeTerms
	}
	var terms []string
	if opts.RequireAllTerms {
		terms = strings.Fields(strings.ToLower(q.Text()))
	}
	allowed := make(map[models.Source]bool, len(opts.Sources))
	for _, s := range opts.Sources {
		allowed[s] = true
	}

	out := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if opts.MinPrice > 0 && s.Price < opts.MinPrice {
			continue
		}
		if opts.MaxPrice > 0 && s.Price > opts.MaxPrice {
			continue
		}
		if len(allowed) > 0 && !allowed[s.Source] {
			continue
		}
		title := strings.ToLower(s.Title)
		if containsAny(title, exclude) {
			continue
		}
		if !containsAll(strings.ReplaceAll(title, " ", ""), terms) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SortBy selects the sort key for SortResults.
type SortBy string

const (
	SortByPrice SortBy = "price"
	SortByDate  SortBy = "date"
	SortByTitle SortBy = "title"
)

// Order is the sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// SortResults returns a sorted copy of samples. The sort is stable so equal
// keys keep their crawl order.
func SortResults(samples []models.Sample, by SortBy, order Order) []models.Sample {
	out := make([]models.Sample, len(samples))
	copy(out, samples)

	less := func(a, b models.Sample) bool {
		switch by {
		case SortByDate:
			return a.ObservedAt.Before(b.ObservedAt)
		case SortByTitle:
			return a.Title < b.Title
		default:
			return a.Price < b.Price
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == Desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(s, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// containsAll matches terms with spaces removed, so "아이폰14" matches "아이폰 14".
func containsAll(s string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}
