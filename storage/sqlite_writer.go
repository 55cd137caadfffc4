package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_estimates (
		id                  TEXT PRIMARY KEY,
		outcome_id          TEXT    NOT NULL DEFAULT '',
		query_key           TEXT    NOT NULL,
		title               TEXT    NOT NULL,
		variant             TEXT    NOT NULL DEFAULT '',
		category            TEXT    NOT NULL DEFAULT '',
		item_condition      TEXT    NOT NULL,
		recommended_price   INTEGER NOT NULL DEFAULT 0,
		price_min           INTEGER NOT NULL DEFAULT 0,
		price_max           INTEGER NOT NULL DEFAULT 0,
		average             REAL    NOT NULL DEFAULT 0,
		median              REAL    NOT NULL DEFAULT 0,
		std_dev             REAL    NOT NULL DEFAULT 0,
		sample_count        INTEGER NOT NULL DEFAULT 0,
		removed_by_category INTEGER NOT NULL DEFAULT 0,
		removed_outliers    INTEGER NOT NULL DEFAULT 0,
		confidence          TEXT    NOT NULL,
		adjustments         TEXT    NOT NULL DEFAULT '[]',
		created_at          INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_estimates_query ON price_estimates(query_key, created_at);`,
	`CREATE TABLE IF NOT EXISTS estimate_samples (
		estimate_id    TEXT    NOT NULL REFERENCES price_estimates(id) ON DELETE CASCADE,
		position       INTEGER NOT NULL,
		source         TEXT    NOT NULL,
		title          TEXT    NOT NULL,
		price          INTEGER NOT NULL,
		item_condition TEXT    NOT NULL DEFAULT '',
		url            TEXT    NOT NULL DEFAULT '',
		observed_at    INTEGER NOT NULL,
		PRIMARY KEY (estimate_id, position)
	);`,
}

// SQLiteWriter persists estimates to an embedded SQLite file.
type SQLiteWriter struct {
	*sqlStore
}

// NewSQLiteWriter opens (creating if needed) the database at path and migrates it.
func NewSQLiteWriter(ctx context.Context, path string) (*SQLiteWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store, err := newSQLStore(ctx, db, dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		bind:   func(int) string { return "?" },
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteWriter{sqlStore: store}, nil
}
