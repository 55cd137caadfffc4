// Package metrics provides Prometheus metrics for the crawl, cache, browser pool and pricing engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is both a registerer and a gatherer, like *prometheus.Registry.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Manager owns every metric. A nil *Manager is valid and records nothing,
// so components can be built without metrics in tests.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         Registry

	crawlsTotal    prometheus.Counter
	crawlDuration  prometheus.Histogram
	crawlSamples   prometheus.Histogram
	sourceSamples  *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge

	poolLiveSessions prometheus.Gauge
	poolExhausted    prometheus.Counter
	poolLaunches     prometheus.Counter

	estimatesTotal *prometheus.CounterVec
}

// NewManager creates a Manager with its own registry unless WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "resale",
		subsystem:        "pricer",
		histogramBuckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.crawlsTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "crawls_total",
		Help:      "Total number of orchestrated crawls",
	})
	m.crawlDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "crawl_duration_seconds",
		Help:      "Wall-clock time from dispatch to merge",
		Buckets:   m.histogramBuckets,
	})
	m.crawlSamples = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "crawl_samples",
		Help:      "Samples merged per crawl",
		Buckets:   []float64{0, 3, 5, 10, 20, 40, 80, 160},
	})
	m.sourceSamples = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "source_samples_total",
		Help:      "Samples collected per marketplace",
	}, []string{"source"})
	m.sourceFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "source_failures_total",
		Help:      "Source fetches that ended with an error",
	}, []string{"source"})
	m.sourceDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "source_duration_seconds",
		Help:      "Time spent fetching one marketplace",
		Buckets:   m.histogramBuckets,
	}, []string{"source"})

	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Result cache hits",
	})
	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Result cache misses, including expired entries",
	})
	m.cacheEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_evictions_total",
		Help:      "Entries removed by expiry, capacity or sweep",
	})
	m.cacheEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_entries",
		Help:      "Entries currently held by the result cache",
	})

	m.poolLiveSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "browser_live_sessions",
		Help:      "Browser sessions currently acquired",
	})
	m.poolExhausted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "browser_pool_exhausted_total",
		Help:      "Acquire calls rejected because the pool was full",
	})
	m.poolLaunches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "browser_launches_total",
		Help:      "Browser process launches, including restarts after a disconnect",
	})

	m.estimatesTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimates_total",
		Help:      "Price estimates produced, by confidence",
	}, []string{"confidence"})
}

// ObserveCrawl records one finished crawl.
func (m *Manager) ObserveCrawl(elapsed time.Duration, samples int) {
	if m == nil {
		return
	}
	m.crawlsTotal.Inc()
	m.crawlDuration.Observe(elapsed.Seconds())
	m.crawlSamples.Observe(float64(samples))
}

// ObserveSource records one source fetch.
func (m *Manager) ObserveSource(source string, samples int, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.sourceSamples.WithLabelValues(source).Add(float64(samples))
	m.sourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if failed {
		m.sourceFailures.WithLabelValues(source).Inc()
	}
}

func (m *Manager) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Manager) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Manager) CacheEvicted(n int) {
	if m != nil && n > 0 {
		m.cacheEvictions.Add(float64(n))
	}
}

func (m *Manager) CacheEntries(n int) {
	if m != nil {
		m.cacheEntries.Set(float64(n))
	}
}

func (m *Manager) PoolLiveSessions(n int) {
	if m != nil {
		m.poolLiveSessions.Set(float64(n))
	}
}

func (m *Manager) PoolExhausted() {
	if m != nil {
		m.poolExhausted.Inc()
	}
}

func (m *Manager) PoolLaunched() {
	if m != nil {
		m.poolLaunches.Inc()
	}
}

// ObserveEstimate counts an estimate by its confidence label.
func (m *Manager) ObserveEstimate(confidence string) {
	if m != nil {
		m.estimatesTotal.WithLabelValues(confidence).Inc()
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
