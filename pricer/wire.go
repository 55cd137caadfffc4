package pricer

import (
	"context"
	"fmt"

	"resale-pricer/browser"
	"resale-pricer/cache"
	"resale-pricer/category"
	"resale-pricer/config"
	"resale-pricer/metrics"
	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/scraper/bunjang"
	"resale-pricer/scraper/daangn"
	"resale-pricer/scraper/joongna"
	"resale-pricer/services"
	"resale-pricer/storage"
	"resale-pricer/utils"
)

// Mobile-sized viewport; the marketplaces serve lighter pages to it.
const (
	viewportWidth  = 412
	viewportHeight = 915
	locale         = "ko-KR"
)

// NewFromConfig builds the production Service: a Chrome-backed pool, the
// three marketplace sources and whichever stores cfg enables.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *utils.Logger, m *metrics.Manager) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pricer: config: %w", err)
	}

	tax := category.Default()
	if cfg.TaxonomyPath != "" {
		loaded, err := category.Load(cfg.TaxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("pricer: %w", err)
		}
		tax = loaded
	}

	pool := browser.NewPool(browser.ChromeLauncher{ExecPath: cfg.ChromeBin},
		browser.WithMaxSessions(cfg.PoolMaxSessions),
		browser.WithSessionTimeout(cfg.PoolSessionTimeout),
		browser.WithAcquireBackoff(cfg.PoolAcquireBackoff),
		browser.WithLogger(logger),
		browser.WithMetrics(m),
	)

	registry := NewRegistry(cfg, pool, logger)
	sources, err := registry.Enabled(cfg.EnabledSources)
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("pricer: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		pool.Shutdown()
		return nil, err
	}

	var samples storage.SampleWriter
	if cfg.CSVOutputPath != "" {
		w, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			pool.Shutdown()
			if store != nil {
				_ = store.Close()
			}
			return nil, fmt.Errorf("pricer: %w", err)
		}
		samples = w
	}

	return New(Options{
		Sources:       sources,
		Taxonomy:      tax,
		Cache:         cache.New(cache.WithLogger(logger), cache.WithMetrics(m)),
		Engine:        services.NewPricingEngine(tax, cfg.SnapshotSize, logger),
		Pool:          pool,
		Store:         store,
		Samples:       samples,
		CrawlTimeout:  cfg.CrawlTimeout,
		DefaultLimits: models.Limits{MaxItems: cfg.MaxItemsPerSource, Timeout: cfg.SourceTimeout},
		Metrics:       m,
		Logger:        logger,
	})
}

// NewRegistry registers every marketplace source against the shared HTTP
// client and browser pool.
func NewRegistry(cfg *config.Config, pool *browser.Pool, logger *utils.Logger) *scraper.Registry {
	client := scraper.NewClient(cfg.UserAgent, cfg.MaxRetries, logger).WithRateLimit(cfg.SourceRPS, len(models.AllSources))
	renderer := scraper.NewRenderer(pool, browser.SessionOptions{
		UserAgent:      cfg.UserAgent,
		ViewportWidth:  viewportWidth,
		ViewportHeight: viewportHeight,
		Locale:         locale,
		Timeout:        cfg.PoolSessionTimeout,
	})

	return scraper.NewRegistry(
		bunjang.New(bunjang.Options{
			APIURL:   cfg.BunjangAPIURL,
			WebURL:   cfg.BunjangWebURL,
			Client:   client,
			Renderer: renderer,
			Logger:   logger,
		}),
		joongna.New(joongna.Options{
			APIURL:   cfg.JoongnaAPIURL,
			WebURL:   cfg.JoongnaWebURL,
			Client:   client,
			Renderer: renderer,
			Logger:   logger,
		}),
		daangn.New(daangn.Options{
			WebURL:   cfg.DaangnWebURL,
			Client:   client,
			Renderer: renderer,
			Logger:   logger,
		}),
	)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.EstimateWriter, error) {
	switch cfg.StoreDriver {
	case "postgres":
		w, err := storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("pricer: %w", err)
		}
		return w, nil
	case "sqlite":
		w, err := storage.NewSQLiteWriter(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("pricer: %w", err)
		}
		return w, nil
	default:
		return nil, nil
	}
}
