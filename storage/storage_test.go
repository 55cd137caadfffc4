package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"resale-pricer/models"
)

var (
	_ EstimateWriter = (*SQLiteWriter)(nil)
	_ EstimateWriter = (*PostgresWriter)(nil)
	_ SampleWriter   = (*CSVWriter)(nil)
)

func testRecord(key string, price int64, at time.Time) EstimateRecord {
	return EstimateRecord{
		OutcomeID: "crawl-1",
		QueryKey:  key,
		Query:     models.Query{Title: "아이폰 14", Variant: "128GB", Category: "smartphone"},
		Estimate: models.PriceEstimate{
			RecommendedPrice: price,
			PriceMin:         price - 100000,
			PriceMax:         price + 100000,
			Average:          float64(price) + 1234.5,
			Median:           float64(price),
			StdDev:           42000,
			SampleCount:      12,
			RemovedOutliers:  1,
			Condition:        models.ConditionGood,
			Category:         "smartphone",
			Confidence:       models.ConfidenceHigh,
			Adjustments: []models.Adjustment{
				{Kind: models.AdjustmentCondition, Description: "condition good: -10%", Percent: -10, Amount: -80000},
			},
		},
		Snapshot: []models.Sample{
			{Title: "아이폰 14 블루", Source: models.SourceBunjang, Price: price - 100000, URL: "https://m.bunjang.co.kr/products/1", ObservedAt: at},
			{Title: "아이폰 14 미드나이트", Source: models.SourceDaangn, Price: price + 100000, Condition: "거의 새것", ObservedAt: at},
		},
		CreatedAt: at,
	}
}

func TestSQLiteWriterSaveAndRecent(t *testing.T) {
	ctx := context.Background()
	w, err := NewSQLiteWriter(ctx, filepath.Join(t.TempDir(), "nested", "estimates.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i, price := range []int64{700000, 720000, 740000} {
		if err := w.Save(ctx, testRecord("아이폰 14|128gb|smartphone", price, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if err := w.Save(ctx, testRecord("갤럭시 s23||smartphone", 600000, base)); err != nil {
		t.Fatalf("save other: %v", err)
	}

	recs, err := w.Recent(ctx, "아이폰 14|128gb|smartphone", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	got := recs[0]
	if got.Estimate.RecommendedPrice != 740000 || recs[1].Estimate.RecommendedPrice != 720000 {
		t.Errorf("records should be newest first: %d, %d", got.Estimate.RecommendedPrice, recs[1].Estimate.RecommendedPrice)
	}
	if got.ID == "" || got.OutcomeID != "crawl-1" {
		t.Errorf("ids: %q %q", got.ID, got.OutcomeID)
	}
	if got.Estimate.Condition != models.ConditionGood || got.Estimate.Confidence != models.ConfidenceHigh {
		t.Errorf("enums did not survive: %v %v", got.Estimate.Condition, got.Estimate.Confidence)
	}
	if got.Estimate.Average != 741234.5 || got.Estimate.SampleCount != 12 || got.Estimate.RemovedOutliers != 1 {
		t.Errorf("stats did not survive: %+v", got.Estimate)
	}
	if len(got.Estimate.Adjustments) != 1 || got.Estimate.Adjustments[0].Amount != -80000 {
		t.Errorf("adjustments: %+v", got.Estimate.Adjustments)
	}
	if len(got.Snapshot) != 2 || got.Snapshot[1].Condition != "거의 새것" || got.Snapshot[0].Source != models.SourceBunjang {
		t.Errorf("snapshot: %+v", got.Snapshot)
	}
	if !got.CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("created_at: %v", got.CreatedAt)
	}

	none, err := w.Recent(ctx, "nothing||", 5)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown key: %v %v", none, err)
	}
}

func TestSQLiteWriterPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "estimates.db")

	w, err := NewSQLiteWriter(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Save(ctx, testRecord("k||", 500000, time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	w.Close()

	w, err = NewSQLiteWriter(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	recs, err := w.Recent(ctx, "k||", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("after reopen: %d records, err %v", len(recs), err)
	}
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "samples.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome := models.CrawlOutcome{
		ID: "crawl-9",
		Samples: []models.Sample{
			{Title: "맥북 에어, M2", Source: models.SourceJoongna, Price: 1100000, URL: "https://web.joongna.com/product/1"},
			{Title: "맥북 에어 M2 미드나이트", Source: models.SourceBunjang, Price: 1050000, ObservedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)},
		},
	}
	if err := w.WriteSamples(outcome); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[1][0] != "crawl-9" || rows[1][2] != "맥북 에어, M2" || rows[1][4] != "1100000" {
		t.Errorf("row 1: %v", rows[1])
	}
	if rows[2][7] != "2026-10-18T09:00:00Z" {
		t.Errorf("observed_at: %q", rows[2][7])
	}
}
