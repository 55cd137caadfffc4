package browser

import (
	"time"

	"resale-pricer/metrics"
	"resale-pricer/utils"
)

// Option configures a Pool.
type Option func(*Pool)

// WithMaxSessions bounds the number of simultaneously live sessions.
func WithMaxSessions(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxSessions = n
		}
	}
}

// WithAcquireBackoff sets how long a full pool is waited on before ErrPoolExhausted.
func WithAcquireBackoff(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// WithSessionTimeout sets the idle timeout used when SessionOptions.Timeout is zero.
func WithSessionTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.sessionTimeout = d
		}
	}
}

// WithLaunchTimeout bounds a single browser start.
func WithLaunchTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.launchTimeout = d
		}
	}
}

func WithLogger(l *utils.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(p *Pool) { p.metrics = m }
}
