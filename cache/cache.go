// Package cache keeps recent crawl outcomes in memory so repeated price
// queries skip the marketplaces for a few minutes.
package cache

import (
	"strings"
	"sync"
	"time"

	"resale-pricer/metrics"
	"resale-pricer/models"
	"resale-pricer/utils"
)

const (
	DefaultTTL           = 10 * time.Minute
	DefaultCapacity      = 200
	DefaultMinSamples    = 3
	DefaultSweepInterval = 5 * time.Minute

	// hitCredit is how much younger each hit makes an entry look to eviction.
	hitCredit = 60 * time.Second
)

type entry struct {
	outcome   models.CrawlOutcome
	createdAt time.Time
	hits      int
}

func (e *entry) score() time.Time {
	return e.createdAt.Add(time.Duration(e.hits) * hitCredit)
}

// Stats are cumulative counters since the cache was created or cleared.
type Stats struct {
	Entries   int
	Hits      int
	Misses    int
	Evictions int
}

// Cache is a TTL cache of CrawlOutcomes keyed by normalised query.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	stats   Stats

	ttl        time.Duration
	capacity   int
	minSamples int
	sweepEvery time.Duration
	now        func() time.Time
	logger     *utils.Logger
	metrics    *metrics.Manager

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// New creates an empty cache. Call Start to run the periodic sweep.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		ttl:        DefaultTTL,
		capacity:   DefaultCapacity,
		minSamples: DefaultMinSamples,
		sweepEvery: DefaultSweepInterval,
		now:        time.Now,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = utils.NewLogger()
	}
	return c
}

// Key normalises a query into a cache key: lower-cased, whitespace collapsed,
// fields joined with "|".
func Key(title, variant, category string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(title) + "|" + norm(variant) + "|" + norm(category)
}

// Get returns a fresh outcome. Expired entries are removed on the way.
func (c *Cache) Get(key string) (models.CrawlOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.createdAt) >= c.ttl {
		delete(c.entries, key)
		c.stats.Evictions++
		c.metrics.CacheEvicted(1)
		c.metrics.CacheEntries(len(c.entries))
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.metrics.CacheMiss()
		return models.CrawlOutcome{}, false
	}
	e.hits++
	c.stats.Hits++
	c.metrics.CacheHit()
	return e.outcome, true
}

// Set stores outcome under key and reports whether it was stored. Outcomes
// with fewer than the minimum sample count are not cached.
func (c *Cache) Set(key string, outcome models.CrawlOutcome) bool {
	if outcome.Len() < c.minSamples {
		c.logger.Debug("[cache] Not caching %q: %d samples", key, outcome.Len())
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = &entry{outcome: outcome, createdAt: c.now()}
	c.metrics.CacheEntries(len(c.entries))
	return true
}

// evictLocked drops the entry with the lowest score: the oldest, with each
// hit buying it a minute.
func (c *Cache) evictLocked() {
	var (
		victim string
		lowest time.Time
		found  bool
	)
	for k, e := range c.entries {
		s := e.score()
		if !found || s.Before(lowest) || (s.Equal(lowest) && k < victim) {
			victim, lowest, found = k, s, true
		}
	}
	if !found {
		return
	}
	delete(c.entries, victim)
	c.stats.Evictions++
	c.metrics.CacheEvicted(1)
	c.logger.Debug("[cache] Evicted %q", victim)
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.metrics.CacheEntries(len(c.entries))
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.stats = Stats{}
	c.metrics.CacheEntries(0)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.stats.Evictions += removed
		c.metrics.CacheEvicted(removed)
		c.metrics.CacheEntries(len(c.entries))
	}
	return removed
}

// Start launches the background sweep. Calling it more than once is a no-op.
func (c *Cache) Start() {
	c.startOnce.Do(func() {
		go c.sweepLoop()
	})
}

func (c *Cache) sweepLoop() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("[cache] Sweep removed %d expired entries", n)
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweep and waits for it to exit. Safe to call
// without Start and more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.stopped
		}
	})
}
