// Package crawler fans a query out to every enabled marketplace source and
// merges whatever comes back into one CrawlOutcome.
package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"resale-pricer/category"
	"resale-pricer/metrics"
	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/utils"
)

const defaultCrawlTimeout = 45 * time.Second

// Orchestrator runs sources concurrently. Source failures are recorded in the
// outcome and never abort the crawl.
type Orchestrator struct {
	sources  []scraper.Source
	taxonomy *category.Taxonomy
	timeout  time.Duration
	logger   *utils.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// Options configures an Orchestrator.
type Options struct {
	Sources  []scraper.Source
	Taxonomy *category.Taxonomy
	// Timeout bounds the whole crawl. Sources still running afterwards are abandoned.
	Timeout time.Duration
	Logger  *utils.Logger
	Metrics *metrics.Manager
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sources:  opts.Sources,
		taxonomy: opts.Taxonomy,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
	if o.timeout <= 0 {
		o.timeout = defaultCrawlTimeout
	}
	if o.taxonomy == nil {
		o.taxonomy = category.Default()
	}
	if o.logger == nil {
		o.logger = utils.NewLogger()
	}
	return o
}

// Sources returns the ids of the sources this orchestrator dispatches to.
func (o *Orchestrator) Sources() []models.Source {
	ids := make([]models.Source, len(o.sources))
	for i, s := range o.sources {
		ids[i] = s.ID()
	}
	return ids
}

// Crawl queries every source concurrently and waits for all of them or the
// crawl timeout, whichever comes first.
func (o *Orchestrator) Crawl(ctx context.Context, q models.Query, lim models.Limits) models.CrawlOutcome {
	start := o.now()
	enhanced := q
	enhanced.Title = EnhanceQuery(o.taxonomy, q.Title, q.Category)
	if enhanced.Title != q.Title {
		o.logger.Debug("[crawler] Enhanced query %q → %q", q.Title, enhanced.Title)
	}

	crawlCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		results  = make(map[models.Source]scraper.Result, len(o.sources))
		finished = make(map[models.Source]bool, len(o.sources))
	)

	pool := utils.NewWorkerPool(len(o.sources), 0)
	for _, src := range o.sources {
		src := src
		pool.Submit(func() {
			res := o.fetch(crawlCtx, src, enhanced, lim)
			mu.Lock()
			results[src.ID()] = res
			finished[src.ID()] = true
			mu.Unlock()
		})
	}

	select {
	case <-pool.Done():
	case <-crawlCtx.Done():
		o.logger.Warn("[crawler] Crawl for %q stopped waiting: %s", q.Text(), o.stopReason(ctx))
	}

	outcome := models.CrawlOutcome{
		ID:           uuid.NewString(),
		Query:        q,
		SourceCounts: make(map[models.Source]int, len(o.sources)),
		CrawledAt:    start,
	}

	mu.Lock()
	for _, src := range o.sources {
		id := src.ID()
		if !finished[id] {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", id, o.stopReason(ctx)))
			o.metrics.ObserveSource(string(id), 0, o.timeout, true)
			continue
		}
		res := results[id]
		outcome.Samples = append(outcome.Samples, res.Samples...)
		if res.Err != nil {
			outcome.Errors = append(outcome.Errors, res.Err.Error())
		}
		o.metrics.ObserveSource(string(id), len(res.Samples), res.Elapsed, res.Err != nil)
	}
	mu.Unlock()

	for _, s := range outcome.Samples {
		outcome.SourceCounts[s.Source]++
	}
	outcome.Elapsed = o.now().Sub(start)
	o.metrics.ObserveCrawl(outcome.Elapsed, len(outcome.Samples))

	o.logger.Info("[crawler] Crawl %s for %q: %d samples from %d sources in %v (%d errors)",
		outcome.ID, q.Text(), len(outcome.Samples), len(o.sources), outcome.Elapsed.Round(time.Millisecond), len(outcome.Errors))
	return outcome
}

// stopReason describes why unfinished sources were abandoned: the caller's
// context ending, or the crawl timeout.
func (o *Orchestrator) stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("cancelled: %v", context.Cause(ctx))
	}
	return fmt.Sprintf("timed out after %v", o.timeout)
}

// fetch isolates one source: a panic becomes that source's error.
func (o *Orchestrator) fetch(ctx context.Context, src scraper.Source, q models.Query, lim models.Limits) (res scraper.Result) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("[crawler] Source %s panicked: %v\n%s", src.ID(), r, debug.Stack())
			res = scraper.Result{
				Source:  src.ID(),
				Elapsed: o.now().Sub(start),
				Err:     fmt.Errorf("%s: panic: %v", src.ID(), r),
			}
		}
	}()
	return scraper.FetchWithFallback(ctx, src, q, lim, o.logger)
}
