package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"resale-pricer/models"
	"resale-pricer/utils"
)

// SourceCount is one row of the per-marketplace breakdown.
type SourceCount struct {
	Source models.Source
	Count  int
}

// Report is the printable summary of one price lookup.
type Report struct {
	Query         models.Query
	Estimate      models.PriceEstimate
	Snapshot      models.MarketSnapshot
	TotalSamples  int
	BySource      []SourceCount
	Cheapest      *models.Sample
	MostExpensive *models.Sample
	Errors        []string
	Elapsed       string
}

type ReportService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger, out: os.Stdout}
}

// NewReportServiceTo prints to w instead of stdout.
func NewReportServiceTo(w io.Writer, logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger, out: w}
}

func (s *ReportService) Generate(outcome models.CrawlOutcome, est models.PriceEstimate, snap models.MarketSnapshot) *Report {
	r := &Report{
		Query:        outcome.Query,
		Estimate:     est,
		Snapshot:     snap,
		TotalSamples: outcome.Len(),
		Errors:       outcome.Errors,
	}
	if outcome.Elapsed > 0 {
		r.Elapsed = outcome.Elapsed.Round(time.Millisecond).String()
	}

	for src, n := range outcome.SourceCounts {
		r.BySource = append(r.BySource, SourceCount{Source: src, Count: n})
	}
	sort.Slice(r.BySource, func(i, j int) bool {
		if r.BySource[i].Count != r.BySource[j].Count {
			return r.BySource[i].Count > r.BySource[j].Count
		}
		return r.BySource[i].Source < r.BySource[j].Source
	})

	// Extremes come from the snapshot, which always holds both ends of the filtered set.
	if n := len(snap.Samples); n > 0 {
		cheapest, dearest := snap.Samples[0], snap.Samples[n-1]
		r.Cheapest = &cheapest
		r.MostExpensive = &dearest
	}
	return r
}

func (s *ReportService) Print(r *Report) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  💰 RESALE PRICE ESTIMATE\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Query\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Item      : \033[1m%s\033[0m\n", r.Query.Text())
	if r.Estimate.Category != "" {
		fmt.Fprintf(w, "  Category  : %s\n", r.Estimate.Category)
	}
	fmt.Fprintf(w, "  Condition : %s\n", r.Estimate.Condition)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Recommendation\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.Estimate.Insufficient() {
		fmt.Fprintf(w, "  Not enough market data to price this item\n")
	} else {
		fmt.Fprintf(w, "  Recommended : \033[1;32m%s\033[0m\n", FormatWon(r.Estimate.RecommendedPrice))
		fmt.Fprintf(w, "  Range       : %s ~ %s\n", FormatWon(r.Estimate.PriceMin), FormatWon(r.Estimate.PriceMax))
		fmt.Fprintf(w, "  Median      : %s\n", FormatWon(int64(r.Estimate.Median)))
		fmt.Fprintf(w, "  Average     : %s\n", FormatWon(int64(r.Estimate.Average)))
		fmt.Fprintf(w, "  Confidence  : %s\n", colourConfidence(r.Estimate.Confidence))
	}
	fmt.Fprintf(w, "  Samples     : %d used of %d (%d out of range, %d outliers)\n",
		r.Estimate.SampleCount, r.TotalSamples, r.Estimate.RemovedByCategory, r.Estimate.RemovedOutliers)
	fmt.Fprintln(w)

	if len(r.Estimate.Adjustments) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Adjustments\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, a := range r.Estimate.Adjustments {
			fmt.Fprintf(w, "  [%s] %s\n", a.Kind, a.Description)
		}
		fmt.Fprintln(w)
	}

	if r.Cheapest != nil && r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Market Extremes\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Cheapest  : %-36s %s\n", truncate(r.Cheapest.Title, 34), FormatWon(r.Cheapest.Price))
		fmt.Fprintf(w, "  Priciest  : %-36s %s\n", truncate(r.MostExpensive.Title, 34), FormatWon(r.MostExpensive.Price))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Samples by Marketplace\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.BySource) == 0 {
		fmt.Fprintf(w, "  No samples collected\n")
	} else {
		for _, sc := range r.BySource {
			bar := strings.Repeat("█", min(sc.Count, 40))
			fmt.Fprintf(w, "  %-10s %s (%d)\n", sc.Source, bar, sc.Count)
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;31m  Source Errors\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", truncate(e, 80))
		}
	}
	if r.Elapsed != "" {
		fmt.Fprintf(w, "\n  Crawled in %s\n", r.Elapsed)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// FormatWon renders an amount as "1,250,000원".
func FormatWon(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "원"
}

func colourConfidence(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh:
		return "\033[1;32m" + c.String() + "\033[0m"
	case models.ConfidenceMedium:
		return "\033[1;33m" + c.String() + "\033[0m"
	default:
		return "\033[1;31m" + c.String() + "\033[0m"
	}
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
