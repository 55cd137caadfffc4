package models

import (
	"strings"
	"time"
)

// Source identifies a second-hand marketplace.
type Source string

const (
	SourceBunjang Source = "bunjang"
	SourceJoongna Source = "joongna"
	SourceDaangn  Source = "daangn"
)

// AllSources lists every marketplace the crawler knows about, in dispatch order.
var AllSources = []Source{SourceBunjang, SourceJoongna, SourceDaangn}

// ParseSource returns the Source matching s (case-insensitive).
func ParseSource(s string) (Source, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, src := range AllSources {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

// Sample is one observed listing, normalised from whatever the marketplace returned.
// Price is in won. Condition is the marketplace's own free-text label, not a Condition tier.
type Sample struct {
	Title      string
	Variant    string
	Source     Source
	Price      int64
	Condition  string
	URL        string
	ObservedAt time.Time
	Metadata   map[string]string
}

// Query is the normalised search input shared by every source.
type Query struct {
	Title    string
	Variant  string
	Category string
}

// Text joins title and variant into the string sent to marketplaces.
func (q Query) Text() string {
	if q.Variant == "" {
		return q.Title
	}
	return q.Title + " " + q.Variant
}

// Limits bounds a single source fetch.
type Limits struct {
	MaxItems int
	Timeout  time.Duration
}

// CrawlOutcome is the merged result of running every enabled source for one query.
type CrawlOutcome struct {
	ID           string
	Query        Query
	Samples      []Sample
	SourceCounts map[Source]int
	Elapsed      time.Duration
	Errors       []string
	CrawledAt    time.Time
}

// Len returns the number of samples in the outcome.
func (o CrawlOutcome) Len() int { return len(o.Samples) }
