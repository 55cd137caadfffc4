package services

import (
	"fmt"
	"math"
	"sort"

	"resale-pricer/category"
	"resale-pricer/models"
	"resale-pricer/utils"
)

// DefaultSnapshotSize caps MarketSnapshot.Samples.
const DefaultSnapshotSize = 20

// minOutlierSamples is the smallest set the IQR rule is applied to.
const minOutlierSamples = 4

// PricingEngine turns a merged sample set into a PriceEstimate. It holds no
// per-request state and is safe for concurrent use.
type PricingEngine struct {
	taxonomy     *category.Taxonomy
	snapshotSize int
	logger       *utils.Logger
}

// NewPricingEngine creates an engine. A nil taxonomy uses the built-in one and
// a non-positive snapshotSize uses DefaultSnapshotSize.
func NewPricingEngine(tax *category.Taxonomy, snapshotSize int, logger *utils.Logger) *PricingEngine {
	if tax == nil {
		tax = category.Default()
	}
	if snapshotSize <= 0 {
		snapshotSize = DefaultSnapshotSize
	}
	if logger == nil {
		logger = utils.NewLogger()
	}
	return &PricingEngine{taxonomy: tax, snapshotSize: snapshotSize, logger: logger}
}

// Calculate builds an estimate for an item in the given condition. An empty
// category skips the range filter; an unknown one uses the default range.
// Zero usable samples yield an estimate with SampleCount 0 and LOW confidence.
func (e *PricingEngine) Calculate(samples []models.Sample, cond models.Condition, categoryName string) (models.PriceEstimate, models.MarketSnapshot) {
	est := models.PriceEstimate{
		Condition:  cond,
		Category:   categoryName,
		Confidence: models.ConfidenceLow,
	}

	valid := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Price > 0 {
			valid = append(valid, s)
		}
	}

	if categoryName != "" {
		rng := e.taxonomy.PriceRange(categoryName)
		inRange := valid[:0:0]
		for _, s := range valid {
			if rng.Contains(s.Price) {
				inRange = append(inRange, s)
			}
		}
		est.RemovedByCategory = len(valid) - len(inRange)
		valid = inRange
		if est.RemovedByCategory > 0 {
			est.Adjustments = append(est.Adjustments, models.Adjustment{
				Kind:        models.AdjustmentCategory,
				Description: fmt.Sprintf("dropped %d samples outside %s range %d-%d", est.RemovedByCategory, categoryName, rng.Min, rng.Max),
			})
		}
	}

	kept, removed := RemoveOutliers(prices(valid))
	est.RemovedOutliers = removed
	if removed > 0 {
		lo, hi := kept[0], kept[len(kept)-1]
		filtered := valid[:0:0]
		for _, s := range valid {
			if s.Price >= lo && s.Price <= hi {
				filtered = append(filtered, s)
			}
		}
		valid = filtered
		est.Adjustments = append(est.Adjustments, models.Adjustment{
			Kind:        models.AdjustmentOutliers,
			Description: fmt.Sprintf("dropped %d outliers outside %d-%d", removed, lo, hi),
		})
	}

	if len(kept) == 0 {
		e.logger.Debug("[pricing] No usable samples (%d in, %d out of range, %d outliers)",
			len(samples), est.RemovedByCategory, est.RemovedOutliers)
		return est, models.MarketSnapshot{}
	}

	mean, stdDev := meanStdDev(kept)
	median := Median(kept)
	est.SampleCount = len(kept)
	est.Average = mean
	est.Median = median
	est.StdDev = stdDev

	pct := e.taxonomy.ConditionPercent(categoryName, cond)
	factor := 1 + pct/100
	base := median * factor
	est.Adjustments = append(est.Adjustments, models.Adjustment{
		Kind:        models.AdjustmentCondition,
		Description: fmt.Sprintf("condition %s: %+g%% on median %.0f", cond, pct, median),
		Percent:     pct,
		Amount:      int64(math.Round(base - median)),
	})

	est.RecommendedPrice = RoundToThousand(base)
	est.PriceMin = RoundToThousand(float64(kept[0]) * factor)
	est.PriceMax = RoundToThousand(float64(kept[len(kept)-1]) * factor)
	est.Confidence = Confidence(est.SampleCount, mean, stdDev)

	snap := models.MarketSnapshot{
		Samples: SelectSnapshot(valid, e.snapshotSize),
		Total:   len(valid),
	}
	return est, snap
}

// RemoveOutliers applies the IQR rule with Q1 = sorted[floor(n/4)] and
// Q3 = sorted[floor(3n/4)], keeping prices within [Q1-1.5·IQR, Q3+1.5·IQR].
// The pass repeats until nothing more is removed, so the result is a fixed
// point and RemoveOutliers(kept) removes nothing. This can trim more than a
// single IQR pass: for [100k×7, 200k, 300k, 1M] one pass keeps nine prices,
// while the second pass sees Q1 = Q3 = 100k and keeps seven. Sets smaller
// than four are returned as is. The result is sorted and the input is not
// modified.
func RemoveOutliers(values []int64) (kept []int64, removed int) {
	kept = make([]int64, len(values))
	copy(kept, values)
	sort.Slice(kept, func(i, j int) bool { return kept[i] < kept[j] })

	for len(kept) >= minOutlierSamples {
		n := len(kept)
		q1 := float64(kept[n/4])
		q3 := float64(kept[n*3/4])
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr

		next := kept[:0:0]
		for _, v := range kept {
			if f := float64(v); f >= lo && f <= hi {
				next = append(next, v)
			}
		}
		if len(next) == n {
			break
		}
		removed += n - len(next)
		kept = next
	}
	return kept, removed
}

// Median returns the middle value, or the mean of the two middle values for
// an even count. It returns 0 for an empty slice.
func Median(values []int64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := values
	if !sort.SliceIsSorted(values, func(i, j int) bool { return values[i] < values[j] }) {
		sorted = make([]int64, n)
		copy(sorted, values)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
}

// RoundToThousand rounds to the nearest 1,000 with ties going up.
func RoundToThousand(v float64) int64 {
	return int64(math.Floor(v/1000+0.5)) * 1000
}

// Confidence rates an estimate from its sample count and coefficient of
// variation. A zero mean counts as no variation.
func Confidence(n int, mean, stdDev float64) models.Confidence {
	if n < 3 {
		return models.ConfidenceLow
	}
	cv := 0.0
	if mean != 0 {
		cv = stdDev / mean
	}
	switch {
	case n >= 10 && cv < 0.2:
		return models.ConfidenceHigh
	case n >= 5 && cv < 0.3:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// SelectSnapshot returns at most size samples sorted by price. Above the cap
// it keeps the cheapest and the most expensive and fills the rest at an even
// stride.
func SelectSnapshot(samples []models.Sample, size int) []models.Sample {
	sorted := make([]models.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	n := len(sorted)
	if size <= 0 || n <= size {
		return sorted
	}
	if size == 1 {
		return sorted[:1]
	}
	out := make([]models.Sample, 0, size)
	for i := 0; i < size; i++ {
		idx := int(math.Round(float64(i) * float64(n-1) / float64(size-1)))
		out = append(out, sorted[idx])
	}
	return out
}

func prices(samples []models.Sample) []int64 {
	out := make([]int64, len(samples))
	for i, s := range samples {
		out[i] = s.Price
	}
	return out
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []int64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
