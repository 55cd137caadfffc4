package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resale-pricer/config"
	"resale-pricer/metrics"
	"resale-pricer/models"
	"resale-pricer/pricer"
	"resale-pricer/services"
	"resale-pricer/utils"
)

func main() {
	title := flag.String("title", "", "item title to price, e.g. \"아이폰 14 프로\"")
	variant := flag.String("variant", "", "optional variant or storage label, e.g. \"256GB\"")
	condition := flag.String("condition", "excellent", "item condition: excellent, good or fair")
	categoryName := flag.String("category", "", "category name; detected from the title when empty")
	maxItems := flag.Int("max-items", 0, "max listings per marketplace (0 uses MAX_ITEMS_PER_SOURCE)")
	history := flag.Int("history", 0, "also print this many previously stored estimates")
	flag.Parse()

	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))

	if *title == "" {
		logger.Error("-title is required")
		flag.Usage()
		os.Exit(2)
	}

	logger.Info("=== Resale Price Estimator starting ===")
	logger.Info("Config: sources %v | sessions %d | crawl timeout %v | store %s",
		cfg.EnabledSources, cfg.PoolMaxSessions, cfg.CrawlTimeout, cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewManager()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
		logger.Info("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	svc, err := pricer.NewFromConfig(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("Failed to start: %v", err)
		os.Exit(1)
	}
	defer svc.Shutdown()

	// Interrupts must also close the browser if the lookup is still crawling.
	go func() {
		<-ctx.Done()
		svc.Shutdown()
	}()

	lookup, err := svc.Lookup(ctx, *title, *variant, *condition, *categoryName, models.Limits{MaxItems: *maxItems})
	if err != nil {
		logger.Error("Price lookup failed: %v", err)
		svc.Shutdown()
		os.Exit(1)
	}

	reports := services.NewReportService(logger)
	reports.Print(reports.Generate(lookup.Outcome, lookup.Estimate, lookup.Snapshot))

	if *history > 0 {
		recs, err := svc.History(ctx, *title, *variant, *categoryName, *history)
		if err != nil {
			logger.Warn("Loading history failed: %v", err)
		}
		for _, r := range recs {
			logger.Info("History %s: %s (%s, %d samples)",
				r.CreatedAt.Format(time.DateTime), services.FormatWon(r.Estimate.RecommendedPrice),
				r.Estimate.Confidence, r.Estimate.SampleCount)
		}
	}
}
