package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"resale-pricer/models"
)

// dialect holds what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// bind renders the i-th (1-based) placeholder.
	bind func(i int) string
}

// sqlStore implements EstimateWriter over database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
		}
	}
	return s, nil
}

// placeholders returns "(p1,p2,...)" for n columns starting at offset+1.
func (s *sqlStore) placeholders(offset, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.bind(offset + i + 1)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Save stores the estimate and its snapshot in one transaction. A missing ID
// or CreatedAt is filled in.
func (s *sqlStore) Save(ctx context.Context, rec EstimateRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	adjustments, err := json.Marshal(rec.Estimate.Adjustments)
	if err != nil {
		return fmt.Errorf("%s: encode adjustments: %w", s.dialect.name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	est := rec.Estimate
	_, err = tx.ExecContext(ctx, `
		INSERT INTO price_estimates (
			id, outcome_id, query_key, title, variant, category, item_condition,
			recommended_price, price_min, price_max, average, median, std_dev,
			sample_count, removed_by_category, removed_outliers, confidence,
			adjustments, created_at
		) VALUES `+s.placeholders(0, 19),
		rec.ID, rec.OutcomeID, rec.QueryKey, rec.Query.Title, rec.Query.Variant, rec.Query.Category, est.Condition.String(),
		est.RecommendedPrice, est.PriceMin, est.PriceMax, est.Average, est.Median, est.StdDev,
		est.SampleCount, est.RemovedByCategory, est.RemovedOutliers, est.Confidence.String(),
		string(adjustments), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s: insert estimate: %w", s.dialect.name, err)
	}

	if len(rec.Snapshot) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO estimate_samples (estimate_id, position, source, title, price, item_condition, url, observed_at)
			VALUES `+s.placeholders(0, 8))
		if err != nil {
			return fmt.Errorf("%s: prepare samples: %w", s.dialect.name, err)
		}
		defer stmt.Close()
		for i, smp := range rec.Snapshot {
			if _, err := stmt.ExecContext(ctx,
				rec.ID, i, string(smp.Source), smp.Title, smp.Price, smp.Condition, smp.URL, smp.ObservedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("%s: insert sample: %w", s.dialect.name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.name, err)
	}
	return nil
}

// Recent returns up to n records for queryKey, newest first, snapshots included.
func (s *sqlStore) Recent(ctx context.Context, queryKey string, n int) ([]EstimateRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outcome_id, query_key, title, variant, category, item_condition,
			recommended_price, price_min, price_max, average, median, std_dev,
			sample_count, removed_by_category, removed_outliers, confidence,
			adjustments, created_at
		FROM price_estimates
		WHERE query_key = `+s.dialect.bind(1)+`
		ORDER BY created_at DESC, id
		LIMIT `+s.dialect.bind(2),
		queryKey, n,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: recent: %w", s.dialect.name, err)
	}

	var records []EstimateRecord
	for rows.Next() {
		var (
			rec         EstimateRecord
			cond, conf  string
			adjustments string
			createdAt   int64
		)
		est := &rec.Estimate
		if err := rows.Scan(
			&rec.ID, &rec.OutcomeID, &rec.QueryKey, &rec.Query.Title, &rec.Query.Variant, &rec.Query.Category, &cond,
			&est.RecommendedPrice, &est.PriceMin, &est.PriceMax, &est.Average, &est.Median, &est.StdDev,
			&est.SampleCount, &est.RemovedByCategory, &est.RemovedOutliers, &conf,
			&adjustments, &createdAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: scan estimate: %w", s.dialect.name, err)
		}
		est.Condition, _ = models.ParseCondition(cond)
		est.Confidence = models.ParseConfidence(conf)
		est.Category = rec.Query.Category
		if adjustments != "" {
			if err := json.Unmarshal([]byte(adjustments), &est.Adjustments); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%s: decode adjustments: %w", s.dialect.name, err)
			}
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: recent: %w", s.dialect.name, err)
	}

	// Snapshots are read after the estimate cursor is closed; SQLite runs on one connection.
	for i := range records {
		snap, err := s.snapshot(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Snapshot = snap
	}
	return records, nil
}

func (s *sqlStore) snapshot(ctx context.Context, estimateID string) ([]models.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, title, price, item_condition, url, observed_at
		FROM estimate_samples
		WHERE estimate_id = `+s.dialect.bind(1)+`
		ORDER BY position`,
		estimateID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: snapshot: %w", s.dialect.name, err)
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var (
			smp        models.Sample
			source     string
			observedAt int64
		)
		if err := rows.Scan(&source, &smp.Title, &smp.Price, &smp.Condition, &smp.URL, &observedAt); err != nil {
			return nil, fmt.Errorf("%s: scan sample: %w", s.dialect.name, err)
		}
		smp.Source = models.Source(source)
		smp.ObservedAt = time.UnixMilli(observedAt)
		out = append(out, smp)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
