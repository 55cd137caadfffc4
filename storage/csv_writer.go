package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"resale-pricer/models"
)

// CSVWriter appends the raw samples of each crawl to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"crawl_id", "source", "title", "variant", "price", "condition", "url", "observed_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteSamples appends one row per sample in the outcome.
func (c *CSVWriter) WriteSamples(outcome models.CrawlOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range outcome.Samples {
		observed := ""
		if !s.ObservedAt.IsZero() {
			observed = s.ObservedAt.Format(time.RFC3339)
		}
		row := []string{
			outcome.ID,
			string(s.Source),
			s.Title,
			s.Variant,
			strconv.FormatInt(s.Price, 10),
			s.Condition,
			s.URL,
			observed,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}
