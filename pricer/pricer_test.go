package pricer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"resale-pricer/config"
	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/storage"
	"resale-pricer/utils"
)

type fakeSource struct {
	id     models.Source
	prices []int64
	calls  atomic.Int32
	// hang blocks FetchPrimary until its context ends.
	hang bool

	mu    sync.Mutex
	lastQ models.Query
}

func (f *fakeSource) ID() models.Source { return f.id }

func (f *fakeSource) FetchPrimary(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastQ = q
	f.mu.Unlock()
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([]models.Sample, len(f.prices))
	for i, p := range f.prices {
		out[i] = models.Sample{
			Title:  fmt.Sprintf("%s %d", q.Title, i),
			Source: f.id,
			Price:  p,
			URL:    fmt.Sprintf("https://%s.example/%d", f.id, i),
		}
	}
	return out, nil
}

func (f *fakeSource) FetchFallback(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	return nil, errors.New("no fallback")
}

func (f *fakeSource) query() models.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQ
}

func quiet() *utils.Logger { return utils.NewLoggerTo(io.Discard, utils.LevelError) }

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	if opts.CrawlTimeout == 0 {
		opts.CrawlTimeout = 5 * time.Second
	}
	svc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestGetRecommendedPrice(t *testing.T) {
	Convey("Given a service over two fake marketplaces", t, func() {
		bunjang := &fakeSource{id: models.SourceBunjang, prices: []int64{100000, 110000, 120000}}
		daangn := &fakeSource{id: models.SourceDaangn, prices: []int64{130000, 140000, 1000000}}
		svc := newTestService(t, Options{Sources: []scraper.Source{bunjang, daangn}})
		ctx := context.Background()

		Convey("The reference prices resolve to the median of the inliers", func() {
			est, snap, err := svc.GetRecommendedPrice(ctx, "아이폰 14", "", "", "", models.Limits{})
			So(err, ShouldBeNil)
			So(est.SampleCount, ShouldEqual, 5)
			So(est.RecommendedPrice, ShouldEqual, 120000)
			So(est.RemovedOutliers, ShouldEqual, 1)
			So(snap.Total, ShouldEqual, 5)
		})

		Convey("The category is detected from the title", func() {
			est, _, err := svc.GetRecommendedPrice(ctx, "아이폰 14", "", "good", "", models.Limits{})
			So(err, ShouldBeNil)
			So(est.Category, ShouldEqual, "smartphone")
			So(bunjang.query().Category, ShouldEqual, "smartphone")
			So(est.Condition, ShouldEqual, models.ConditionGood)
		})

		Convey("A repeated query is served from the cache", func() {
			_, _, err := svc.GetRecommendedPrice(ctx, "아이폰 14", "128GB", "", "smartphone", models.Limits{})
			So(err, ShouldBeNil)
			_, _, err = svc.GetRecommendedPrice(ctx, "  아이폰   14 ", "128gb", "fair", "Smartphone", models.Limits{})
			So(err, ShouldBeNil)
			So(bunjang.calls.Load(), ShouldEqual, 1)
			So(daangn.calls.Load(), ShouldEqual, 1)
		})

		Convey("Invalid input fails before crawling", func() {
			_, _, err := svc.GetRecommendedPrice(ctx, "아이폰 14", "", "mint", "", models.Limits{})
			So(errors.Is(err, ErrUnknownCondition), ShouldBeTrue)

			_, _, err = svc.GetRecommendedPrice(ctx, "아이폰 14", "", "", "spaceship", models.Limits{})
			So(errors.Is(err, ErrUnknownCategory), ShouldBeTrue)

			_, _, err = svc.GetRecommendedPrice(ctx, "아이폰 14", "", "", "", models.Limits{MaxItems: -1})
			So(errors.Is(err, ErrInvalidLimits), ShouldBeTrue)

			_, _, err = svc.GetRecommendedPrice(ctx, "아이폰 14", "", "", "", models.Limits{MaxItems: MaxItemsLimit + 1})
			So(errors.Is(err, ErrInvalidLimits), ShouldBeTrue)

			_, _, err = svc.GetRecommendedPrice(ctx, "[급처] ", "", "", "", models.Limits{})
			So(errors.Is(err, ErrEmptyTitle), ShouldBeTrue)

			So(bunjang.calls.Load(), ShouldEqual, 0)
		})
	})
}

func TestInsufficientDataIsNotAnError(t *testing.T) {
	Convey("A market with no usable listings yields an insufficient estimate", t, func() {
		empty := &fakeSource{id: models.SourceJoongna}
		svc := newTestService(t, Options{Sources: []scraper.Source{empty}})

		est, snap, err := svc.GetRecommendedPrice(context.Background(), "단종된 카메라", "", "", "", models.Limits{})
		So(err, ShouldBeNil)
		So(est.Insufficient(), ShouldBeTrue)
		So(est.Confidence, ShouldEqual, models.ConfidenceLow)
		So(snap.Samples, ShouldBeEmpty)

		Convey("And the starved outcome is not cached", func() {
			_, _, _ = svc.GetRecommendedPrice(context.Background(), "단종된 카메라", "", "", "", models.Limits{})
			So(empty.calls.Load(), ShouldEqual, 2)
		})
	})
}

func TestCrawl(t *testing.T) {
	Convey("Crawl returns the merged outcome and applies default limits", t, func() {
		src := &fakeSource{id: models.SourceBunjang, prices: []int64{500000, 510000, 520000, 530000}}
		svc := newTestService(t, Options{
			Sources:       []scraper.Source{src},
			DefaultLimits: models.Limits{MaxItems: 3, Timeout: time.Second},
		})

		outcome, err := svc.Crawl(context.Background(), "갤럭시 S23", "", "", models.Limits{})
		So(err, ShouldBeNil)
		So(outcome.Len(), ShouldEqual, 3)
		So(outcome.SourceCounts[models.SourceBunjang], ShouldEqual, 3)
		So(outcome.Query.Title, ShouldEqual, "갤럭시 S23")
	})
}

func TestPersistenceAndHistory(t *testing.T) {
	Convey("Given a service backed by SQLite", t, func() {
		ctx := context.Background()
		store, err := storage.NewSQLiteWriter(ctx, filepath.Join(t.TempDir(), "estimates.db"))
		So(err, ShouldBeNil)

		src := &fakeSource{id: models.SourceBunjang, prices: []int64{700000, 710000, 720000, 730000, 740000}}
		svc := newTestService(t, Options{Sources: []scraper.Source{src}, Store: store})

		est, _, err := svc.GetRecommendedPrice(ctx, "아이폰 14", "", "", "", models.Limits{})
		So(err, ShouldBeNil)

		Convey("History returns the stored estimate with its snapshot", func() {
			recs, err := svc.History(ctx, "아이폰 14", "", "", 5)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Estimate.RecommendedPrice, ShouldEqual, est.RecommendedPrice)
			So(recs[0].Query.Category, ShouldEqual, "smartphone")
			So(len(recs[0].Snapshot), ShouldEqual, 5)
		})
	})
}

func TestShutdown(t *testing.T) {
	src := &fakeSource{id: models.SourceBunjang, prices: []int64{1000, 2000, 3000}}
	svc, err := New(Options{Sources: []scraper.Source{src}, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	svc.Shutdown()
	svc.Shutdown()

	if _, _, err := svc.GetRecommendedPrice(context.Background(), "x", "", "", "", models.Limits{}); !errors.Is(err, ErrClosed) {
		t.Errorf("after Shutdown: got %v, want ErrClosed", err)
	}
}

func TestNewRequiresSources(t *testing.T) {
	if _, err := New(Options{Logger: quiet()}); !errors.Is(err, ErrNoSources) {
		t.Errorf("got %v, want ErrNoSources", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/1/find_v2.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":"success","list":[
			{"pid":"11","name":"아이폰 14 블루","price":"700000"},
			{"pid":"12","name":"아이폰 14 미드나이트","price":"720000"},
			{"pid":"13","name":"아이폰 14 스타라이트","price":740000},
			{"pid":"14","name":"광고 상품","price":"1000","ad":true}
		]}`)
	}))
	defer api.Close()

	cfg := &config.Config{
		StoreDriver:        "sqlite",
		SQLitePath:         filepath.Join(t.TempDir(), "estimates.db"),
		PoolMaxSessions:    1,
		PoolSessionTimeout: time.Second,
		PoolAcquireBackoff: 10 * time.Millisecond,
		CrawlTimeout:       5 * time.Second,
		SourceTimeout:      2 * time.Second,
		MaxItemsPerSource:  10,
		EnabledSources:     []string{"bunjang"},
		BunjangAPIURL:      api.URL,
		BunjangWebURL:      "https://m.bunjang.example",
		SnapshotSize:       20,
		CSVOutputPath:      filepath.Join(t.TempDir(), "samples.csv"),
	}

	svc, err := NewFromConfig(context.Background(), cfg, quiet(), nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer svc.Shutdown()

	est, snap, err := svc.GetRecommendedPrice(context.Background(), "아이폰 14", "", "", "", models.Limits{})
	if err != nil {
		t.Fatalf("GetRecommendedPrice: %v", err)
	}
	if est.SampleCount != 3 || est.RecommendedPrice != 720000 {
		t.Errorf("estimate: %d samples, %d won", est.SampleCount, est.RecommendedPrice)
	}
	if snap.Samples[0].URL != "https://m.bunjang.example/products/11" {
		t.Errorf("snapshot url: %q", snap.Samples[0].URL)
	}
	if hits.Load() != 1 {
		t.Errorf("api hits: %d", hits.Load())
	}

	recs, err := svc.History(context.Background(), "아이폰 14", "", "", 1)
	if err != nil || len(recs) != 1 {
		t.Errorf("history: %v %v", recs, err)
	}
}

func TestNewFromConfigRejectsUnknownSource(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:        "none",
		PoolMaxSessions:    1,
		PoolSessionTimeout: time.Second,
		CrawlTimeout:       time.Second,
		SourceTimeout:      time.Second,
		MaxItemsPerSource:  10,
		SnapshotSize:       20,
		EnabledSources:     []string{"ebay"},
	}
	if _, err := NewFromConfig(context.Background(), cfg, quiet(), nil); err == nil {
		t.Error("unknown source should be rejected")
	}
}

func TestCancelledLookupIsNotCached(t *testing.T) {
	fast := &fakeSource{id: models.SourceBunjang, prices: []int64{700000, 710000, 720000, 730000}}
	slow := &fakeSource{id: models.SourceDaangn, hang: true}
	svc := newTestService(t, Options{Sources: []scraper.Source{fast, slow}, CrawlTimeout: 45 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	l, err := svc.Lookup(ctx, "아이폰 14", "", "", "", models.Limits{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if waited := time.Since(start); waited > 5*time.Second {
		t.Fatalf("lookup should stop when the caller cancels, took %v", waited)
	}
	if l.Outcome.Len() != 4 {
		t.Errorf("samples: got %d, want the 4 that arrived", l.Outcome.Len())
	}
	if len(l.Outcome.Errors) != 1 {
		t.Fatalf("errors: %v", l.Outcome.Errors)
	}
	if msg := l.Outcome.Errors[0]; !strings.Contains(msg, "cancel") || strings.Contains(msg, "timed out") {
		t.Errorf("error should report the cancellation, got %q", msg)
	}
	if n := svc.cache.Len(); n != 0 {
		t.Errorf("a cancelled crawl must not be cached, cache holds %d", n)
	}
}
