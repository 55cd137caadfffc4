package cache

import (
	"time"

	"resale-pricer/metrics"
	"resale-pricer/utils"
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long an entry stays fresh.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity bounds the number of stored entries.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithMinSamples sets the smallest outcome worth caching.
func WithMinSamples(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.minSamples = n
		}
	}
}

// WithSweepInterval sets how often Start's goroutine drops expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *utils.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(c *Cache) { c.metrics = m }
}
