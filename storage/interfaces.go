package storage

import (
	"context"
	"time"

	"resale-pricer/models"
)

// EstimateRecord is one persisted price lookup with the snapshot it was shown with.
type EstimateRecord struct {
	ID        string
	OutcomeID string
	// QueryKey is the normalised query the estimate answers; Recent filters on it.
	QueryKey  string
	Query     models.Query
	Estimate  models.PriceEstimate
	Snapshot  []models.Sample
	CreatedAt time.Time
}

// EstimateWriter is the interface any estimate store must satisfy.
type EstimateWriter interface {
	Save(ctx context.Context, rec EstimateRecord) error
	// Recent returns up to n records for queryKey, newest first.
	Recent(ctx context.Context, queryKey string, n int) ([]EstimateRecord, error)
	Close() error
}

// SampleWriter is the interface for dumping raw crawl samples.
type SampleWriter interface {
	WriteSamples(outcome models.CrawlOutcome) error
	Close() error
}
