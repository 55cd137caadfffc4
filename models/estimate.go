package models

import (
	"fmt"
	"strings"
)

// Condition is the seller-declared wear tier of the item being priced.
// Tiers are ordered from best to worst.
type Condition int

const (
	ConditionExcellent Condition = iota
	ConditionGood
	ConditionFair
)

var conditionNames = map[Condition]string{
	ConditionExcellent: "excellent",
	ConditionGood:      "good",
	ConditionFair:      "fair",
}

func (c Condition) String() string {
	if name, ok := conditionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// ParseCondition accepts the tier name or a common alias.
func ParseCondition(s string) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "excellent", "like-new", "likenew", "new", "s", "a":
		return ConditionExcellent, nil
	case "good", "used", "b":
		return ConditionGood, nil
	case "fair", "worn", "poor", "c":
		return ConditionFair, nil
	}
	return 0, fmt.Errorf("unknown condition %q", s)
}

// Confidence rates how trustworthy an estimate is. LOW < MEDIUM < HIGH.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseConfidence is the inverse of Confidence.String. Unrecognised text is LOW.
func ParseConfidence(s string) Confidence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ConfidenceHigh
	case "MEDIUM":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AdjustmentKind tags an entry in the estimate's audit trail.
type AdjustmentKind string

const (
	AdjustmentCondition AdjustmentKind = "condition"
	AdjustmentCategory  AdjustmentKind = "category_range"
	AdjustmentOutliers  AdjustmentKind = "outliers"
)

// Adjustment records one step applied to the estimate. It is informational only.
type Adjustment struct {
	Kind        AdjustmentKind
	Description string
	Percent     float64
	Amount      int64
}

// PriceEstimate is the output of the pricing engine. A zero SampleCount means
// there was not enough market data; every price field is then zero.
type PriceEstimate struct {
	RecommendedPrice  int64
	PriceMin          int64
	PriceMax          int64
	Average           float64
	Median            float64
	StdDev            float64
	SampleCount       int
	RemovedByCategory int
	RemovedOutliers   int
	Condition         Condition
	Category          string
	Confidence        Confidence
	Adjustments       []Adjustment
}

// Insufficient reports whether the estimate was built from zero usable samples.
func (e PriceEstimate) Insufficient() bool { return e.SampleCount == 0 }

// MarketSnapshot is a bounded, price-sorted subset of the samples an estimate was built from.
type MarketSnapshot struct {
	Samples []Sample
	Total   int
}
