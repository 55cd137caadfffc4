package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"resale-pricer/models"
)

// Bounds outside which a parsed amount is not treated as a real asking price.
const (
	MinPlausiblePrice int64 = 1_000
	MaxPlausiblePrice int64 = 50_000_000
)

var (
	// unitRegexp captures "<number><unit>" groups such as 125만, 1.5만, 3천, 1억.
	unitRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(억|만|천)`)
	// digitsRegexp captures a plain amount with optional thousands separators.
	digitsRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// noPriceRegexp matches listings whose price text is not an amount.
	noPriceRegexp = regexp.MustCompile(`무료|나눔|가격\s*협의|협의|문의|free`)
)

var unitMultiplier = map[string]float64{
	"억": 100_000_000,
	"만": 10_000,
	"천": 1_000,
}

// ParsePrice turns marketplace price text into won. It understands plain
// digits with separators ("1,250,000원", "₩890,000") and Korean abbreviated
// units ("125만원", "125만 5천원", "1.5만", "1억 2000만"). Unit groups combine
// only while the units strictly descend and nothing but spaces separates
// them; the first break ends the amount, so "50만~60만" is 500,000. A plain
// remainder smaller than the last unit ("12만 5000원") is added as won. It
// returns false for free/negotiable listings and for amounts outside the
// plausible bounds.
func ParsePrice(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || noPriceRegexp.MatchString(s) {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")

	var amount float64
	if groups := unitRegexp.FindAllStringSubmatchIndex(s, -1); len(groups) > 0 {
		end := groups[0][0]
		lastUnit := math.Inf(1)
		for _, g := range groups {
			unit := unitMultiplier[s[g[4]:g[5]]]
			if g[0] != groups[0][0] && (unit >= lastUnit || strings.TrimSpace(s[end:g[0]]) != "") {
				break
			}
			n, err := strconv.ParseFloat(s[g[2]:g[3]], 64)
			if err != nil {
				return 0, false
			}
			amount += n * unit
			lastUnit, end = unit, g[1]
		}
		if n, ok := remainder(s[end:], lastUnit); ok {
			amount += n
		}
	} else {
		m := digitsRegexp.FindString(s)
		if m == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		amount = n
	}

	price := int64(math.Round(amount))
	if price < MinPlausiblePrice || price > MaxPlausiblePrice {
		return 0, false
	}
	return price, true
}

// ValidPrice applies the plausibility bounds to an amount a JSON API already
// returned as a number.
func ValidPrice(price int64) bool {
	return price >= MinPlausiblePrice && price <= MaxPlausiblePrice
}

// Listing is the loosely typed shape every strategy extracts before normalisation.
type Listing struct {
	Title     string
	Price     string
	PriceWon  int64
	Condition string
	URL       string
	Metadata  map[string]string
}

// NewSample normalises a listing into a Sample. It returns false unless both a
// non-empty title and a valid price were extracted.
func NewSample(src models.Source, q models.Query, l Listing, observedAt time.Time) (models.Sample, bool) {
	title := normaliseText(l.Title)
	if title == "" {
		return models.Sample{}, false
	}

	price := l.PriceWon
	if price > 0 {
		if !ValidPrice(price) {
			return models.Sample{}, false
		}
	} else {
		var ok bool
		if price, ok = ParsePrice(l.Price); !ok {
			return models.Sample{}, false
		}
	}

	return models.Sample{
		Title:      title,
		Variant:    q.Variant,
		Source:     src,
		Price:      price,
		Condition:  normaliseText(l.Condition),
		URL:        strings.TrimSpace(l.URL),
		ObservedAt: observedAt,
		Metadata:   l.Metadata,
	}, true
}

// remainder reads plain won directly after the last unit group, separated
// only by spaces and smaller than that unit.
func remainder(rest string, lastUnit float64) (float64, bool) {
	trimmed := strings.TrimLeft(rest, " \t")
	if len(trimmed) == len(rest) {
		return 0, false
	}
	loc := digitsRegexp.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(trimmed[:loc[1]], 64)
	if err != nil || n >= lastUnit {
		return 0, false
	}
	return n, true
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
