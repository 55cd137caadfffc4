package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_estimates (
		id                  TEXT PRIMARY KEY,
		outcome_id          TEXT             NOT NULL DEFAULT '',
		query_key           TEXT             NOT NULL,
		title               TEXT             NOT NULL,
		variant             TEXT             NOT NULL DEFAULT '',
		category            VARCHAR(50)      NOT NULL DEFAULT '',
		item_condition      VARCHAR(20)      NOT NULL,
		recommended_price   BIGINT           NOT NULL DEFAULT 0,
		price_min           BIGINT           NOT NULL DEFAULT 0,
		price_max           BIGINT           NOT NULL DEFAULT 0,
		average             DOUBLE PRECISION NOT NULL DEFAULT 0,
		median              DOUBLE PRECISION NOT NULL DEFAULT 0,
		std_dev             DOUBLE PRECISION NOT NULL DEFAULT 0,
		sample_count        INTEGER          NOT NULL DEFAULT 0,
		removed_by_category INTEGER          NOT NULL DEFAULT 0,
		removed_outliers    INTEGER          NOT NULL DEFAULT 0,
		confidence          VARCHAR(10)      NOT NULL,
		adjustments         TEXT             NOT NULL DEFAULT '[]',
		created_at          BIGINT           NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_estimates_query ON price_estimates(query_key, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS estimate_samples (
		estimate_id    TEXT        NOT NULL REFERENCES price_estimates(id) ON DELETE CASCADE,
		position       INTEGER     NOT NULL,
		source         VARCHAR(20) NOT NULL,
		title          TEXT        NOT NULL,
		price          BIGINT      NOT NULL,
		item_condition TEXT        NOT NULL DEFAULT '',
		url            TEXT        NOT NULL DEFAULT '',
		observed_at    BIGINT      NOT NULL,
		PRIMARY KEY (estimate_id, position)
	)`,
}

// PostgresWriter persists estimates and their snapshots to PostgreSQL.
type PostgresWriter struct {
	*sqlStore
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	store, err := newSQLStore(ctx, db, dialect{
		name:   "postgres",
		schema: postgresSchema,
		bind:   func(i int) string { return "$" + strconv.Itoa(i) },
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresWriter{sqlStore: store}, nil
}
