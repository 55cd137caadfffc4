// Package pricer is the entry point of the resale price estimator: it turns a
// product description into a recommended price by way of the cache, the crawl
// orchestrator and the pricing engine.
package pricer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resale-pricer/browser"
	"resale-pricer/cache"
	"resale-pricer/category"
	"resale-pricer/crawler"
	"resale-pricer/metrics"
	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/services"
	"resale-pricer/storage"
	"resale-pricer/utils"
)

const (
	// MaxItemsLimit is the largest per-source item count a caller may request.
	MaxItemsLimit = 200
	// MaxTimeoutLimit is the longest per-source timeout a caller may request.
	MaxTimeoutLimit = 2 * time.Minute

	historyTimeout = 10 * time.Second
)

// Options wires a Service. Sources is required; everything else has a default
// or is optional.
type Options struct {
	Sources  []scraper.Source
	Taxonomy *category.Taxonomy
	Cache    *cache.Cache
	Engine   *services.PricingEngine
	// Pool is shut down with the service when set.
	Pool *browser.Pool
	// Store persists estimates when set. Failures are logged only.
	Store storage.EstimateWriter
	// Samples receives the raw samples of every fresh crawl when set.
	Samples       storage.SampleWriter
	CrawlTimeout  time.Duration
	DefaultLimits models.Limits
	Metrics       *metrics.Manager
	Logger        *utils.Logger
}

// Service answers price lookups. It is safe for concurrent use.
type Service struct {
	taxonomy     *category.Taxonomy
	cache        *cache.Cache
	orchestrator *crawler.Orchestrator
	engine       *services.PricingEngine
	pool         *browser.Pool
	store        storage.EstimateWriter
	samples      storage.SampleWriter
	defaults     models.Limits
	metrics      *metrics.Manager
	logger       *utils.Logger

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New builds a Service and starts its cache sweep.
func New(opts Options) (*Service, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger()
	}
	if opts.Taxonomy == nil {
		opts.Taxonomy = category.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.WithLogger(opts.Logger), cache.WithMetrics(opts.Metrics))
	}
	if opts.Engine == nil {
		opts.Engine = services.NewPricingEngine(opts.Taxonomy, 0, opts.Logger)
	}
	if opts.DefaultLimits.MaxItems <= 0 {
		opts.DefaultLimits.MaxItems = 40
	}
	if opts.DefaultLimits.Timeout <= 0 {
		opts.DefaultLimits.Timeout = 30 * time.Second
	}

	s := &Service{
		taxonomy: opts.Taxonomy,
		cache:    opts.Cache,
		orchestrator: crawler.New(crawler.Options{
			Sources:  opts.Sources,
			Taxonomy: opts.Taxonomy,
			Timeout:  opts.CrawlTimeout,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		}),
		engine:   opts.Engine,
		pool:     opts.Pool,
		store:    opts.Store,
		samples:  opts.Samples,
		defaults: opts.DefaultLimits,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	s.cache.Start()
	return s, nil
}

// Lookup is one priced crawl.
type Lookup struct {
	Outcome  models.CrawlOutcome
	Estimate models.PriceEstimate
	Snapshot models.MarketSnapshot
}

// GetRecommendedPrice prices an item in the given condition ("excellent",
// "good" or "fair"; empty means excellent). An empty category is detected from
// the title. Only invalid input produces an error: failed sources and thin
// market data are reported through the returned values, with
// PriceEstimate.Insufficient signalling that nothing usable was found.
func (s *Service) GetRecommendedPrice(ctx context.Context, title, variant, condition, categoryName string, lim models.Limits) (models.PriceEstimate, models.MarketSnapshot, error) {
	l, err := s.Lookup(ctx, title, variant, condition, categoryName, lim)
	return l.Estimate, l.Snapshot, err
}

// Lookup is GetRecommendedPrice that also returns the crawl behind the estimate.
func (s *Service) Lookup(ctx context.Context, title, variant, condition, categoryName string, lim models.Limits) (Lookup, error) {
	cond, err := models.ParseCondition(condition)
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: %q", ErrUnknownCondition, condition)
	}
	q, lim, err := s.prepare(title, variant, categoryName, lim)
	if err != nil {
		return Lookup{}, err
	}

	outcome := s.crawl(ctx, q, lim)
	est, snap := s.engine.Calculate(outcome.Samples, cond, q.Category)
	s.metrics.ObserveEstimate(est.Confidence.String())
	s.logger.Info("[pricer] %q (%s, %s): %d won from %d samples, confidence %s",
		q.Text(), cond, displayCategory(q.Category), est.RecommendedPrice, est.SampleCount, est.Confidence)

	s.persist(ctx, outcome, est, snap)
	return Lookup{Outcome: outcome, Estimate: est, Snapshot: snap}, nil
}

// Crawl returns the merged samples for a query without pricing them.
func (s *Service) Crawl(ctx context.Context, title, variant, categoryName string, lim models.Limits) (models.CrawlOutcome, error) {
	q, lim, err := s.prepare(title, variant, categoryName, lim)
	if err != nil {
		return models.CrawlOutcome{}, err
	}
	return s.crawl(ctx, q, lim), nil
}

// History returns up to n stored estimates for a query, newest first. It
// returns nil when no store is configured.
func (s *Service) History(ctx context.Context, title, variant, categoryName string, n int) ([]storage.EstimateRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	q, _, err := s.prepare(title, variant, categoryName, models.Limits{})
	if err != nil {
		return nil, err
	}
	return s.store.Recent(ctx, cache.Key(q.Title, q.Variant, q.Category), n)
}

// Shutdown stops the cache sweep, closes the browser pool and the stores.
// It is idempotent and safe to call from a signal handler.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		s.cache.Close()
		if s.pool != nil {
			s.pool.Shutdown()
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Warn("[pricer] Closing estimate store: %v", err)
			}
		}
		if s.samples != nil {
			if err := s.samples.Close(); err != nil {
				s.logger.Warn("[pricer] Closing sample writer: %v", err)
			}
		}
		s.logger.Info("[pricer] Shut down")
	})
}

// prepare validates input and resolves the query the crawl runs with.
func (s *Service) prepare(title, variant, categoryName string, lim models.Limits) (models.Query, models.Limits, error) {
	if s.closed.Load() {
		return models.Query{}, lim, ErrClosed
	}
	title, variant = category.RefineQuery(title, variant)
	if title == "" {
		return models.Query{}, lim, ErrEmptyTitle
	}

	categoryName = strings.ToLower(strings.TrimSpace(categoryName))
	switch {
	case categoryName == "":
		categoryName = s.taxonomy.Detect(title + " " + variant)
		if categoryName != "" {
			s.logger.Debug("[pricer] Detected category %s for %q", categoryName, title)
		}
	case !s.taxonomy.Known(categoryName):
		return models.Query{}, lim, fmt.Errorf("%w: %q", ErrUnknownCategory, categoryName)
	}

	if lim.MaxItems < 0 || lim.MaxItems > MaxItemsLimit || lim.Timeout < 0 || lim.Timeout > MaxTimeoutLimit {
		return models.Query{}, lim, fmt.Errorf("%w: max items %d (0..%d), timeout %v (0..%v)",
			ErrInvalidLimits, lim.MaxItems, MaxItemsLimit, lim.Timeout, MaxTimeoutLimit)
	}
	if lim.MaxItems == 0 {
		lim.MaxItems = s.defaults.MaxItems
	}
	if lim.Timeout == 0 {
		lim.Timeout = s.defaults.Timeout
	}
	return models.Query{Title: title, Variant: variant, Category: categoryName}, lim, nil
}

// crawl serves q from the cache or runs a fresh crawl and caches it, unless
// ctx ended before the crawl finished.
func (s *Service) crawl(ctx context.Context, q models.Query, lim models.Limits) models.CrawlOutcome {
	key := cache.Key(q.Title, q.Variant, q.Category)
	if outcome, ok := s.cache.Get(key); ok {
		s.logger.Debug("[pricer] Cache hit for %q", key)
		return outcome
	}

	outcome := s.orchestrator.Crawl(ctx, q, lim)
	if err := ctx.Err(); err != nil {
		// Sources were cut short by the caller, not the market; keep it out of the cache.
		s.logger.Debug("[pricer] Not caching %q: %v", key, err)
	} else {
		s.cache.Set(key, outcome)
	}
	if s.samples != nil && outcome.Len() > 0 {
		if err := s.samples.WriteSamples(outcome); err != nil {
			s.logger.Warn("[pricer] Writing samples for %s: %v", outcome.ID, err)
		}
	}
	return outcome
}

func (s *Service) persist(ctx context.Context, outcome models.CrawlOutcome, est models.PriceEstimate, snap models.MarketSnapshot) {
	if s.store == nil {
		return
	}
	// The caller's deadline may already be spent on crawling.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	q := outcome.Query
	err := s.store.Save(ctx, storage.EstimateRecord{
		OutcomeID: outcome.ID,
		QueryKey:  cache.Key(q.Title, q.Variant, q.Category),
		Query:     q,
		Estimate:  est,
		Snapshot:  snap.Samples,
	})
	if err != nil {
		s.logger.Warn("[pricer] Saving estimate for %q: %v", q.Text(), err)
	}
}

func displayCategory(name string) string {
	if name == "" {
		return "uncategorised"
	}
	return name
}
