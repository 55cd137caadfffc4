// Package scraper defines the marketplace source contract, the shared
// primary/fallback merge logic and the price normalisation every source uses.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"resale-pricer/models"
	"resale-pricer/utils"
)

// FallbackThreshold is the primary result count below which the fallback strategy also runs.
const FallbackThreshold = 3

// Source retrieves samples from exactly one marketplace.
type Source interface {
	ID() models.Source
	// FetchPrimary is the preferred retrieval path.
	FetchPrimary(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error)
	// FetchFallback is the alternate path used when the primary one returns too little.
	FetchFallback(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error)
}

// SourceError is a failed source fetch. It never aborts a crawl.
type SourceError struct {
	Source   models.Source
	Primary  error
	Fallback error
}

func (e *SourceError) Error() string {
	switch {
	case e.Primary != nil && e.Fallback != nil:
		return fmt.Sprintf("%s: primary: %v; fallback: %v", e.Source, e.Primary, e.Fallback)
	case e.Primary != nil:
		return fmt.Sprintf("%s: primary: %v", e.Source, e.Primary)
	default:
		return fmt.Sprintf("%s: fallback: %v", e.Source, e.Fallback)
	}
}

func (e *SourceError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// Result is the outcome of one source fetch. Err is non-nil only when nothing
// was collected and at least one strategy failed.
type Result struct {
	Source  models.Source
	Samples []models.Sample
	Elapsed time.Duration
	Err     error
}

// FetchWithFallback runs the primary strategy and, when it yields fewer than
// FallbackThreshold samples, the fallback too. Results are merged with URL
// de-duplication and capped at lim.MaxItems. Strategy errors are logged and
// treated as empty lists.
func FetchWithFallback(ctx context.Context, src Source, q models.Query, lim models.Limits, logger *utils.Logger) Result {
	start := time.Now()
	id := src.ID()

	primary, primaryErr := src.FetchPrimary(ctx, q, lim)
	if primaryErr != nil {
		logger.Warn("[%s] Primary fetch failed: %v", id, primaryErr)
		primary = nil
	}

	var fallback []models.Sample
	var fallbackErr error
	if len(primary) < FallbackThreshold && ctx.Err() == nil {
		logger.Debug("[%s] Primary returned %d samples, trying fallback", id, len(primary))
		fallback, fallbackErr = src.FetchFallback(ctx, q, lim)
		if fallbackErr != nil {
			logger.Warn("[%s] Fallback fetch failed: %v", id, fallbackErr)
			fallback = nil
		}
	}

	merged := mergeSamples(lim.MaxItems, primary, fallback)
	res := Result{Source: id, Samples: merged, Elapsed: time.Since(start)}
	if len(merged) == 0 {
		if primaryErr != nil || fallbackErr != nil {
			res.Err = &SourceError{Source: id, Primary: primaryErr, Fallback: fallbackErr}
		} else if err := ctx.Err(); err != nil {
			res.Err = &SourceError{Source: id, Primary: err}
		}
	}
	logger.Debug("[%s] Collected %d samples in %v", id, len(merged), res.Elapsed)
	return res
}

// mergeSamples concatenates lists in order, dropping repeated URLs. Samples
// without a URL cannot be compared and are always kept.
func mergeSamples(maxItems int, lists ...[]models.Sample) []models.Sample {
	seen := utils.NewURLSet()
	var out []models.Sample
	for _, list := range lists {
		for _, s := range list {
			if maxItems > 0 && len(out) >= maxItems {
				return out
			}
			if s.URL != "" && !seen.Add(s.URL) {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

// ErrUnknownSource is returned by Registry.Enabled for ids that were never registered.
var ErrUnknownSource = errors.New("unknown source")

// Registry maps source ids to implementations.
type Registry struct {
	mu      sync.RWMutex
	sources map[models.Source]Source
}

// NewRegistry returns a registry holding the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[models.Source]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID()] = s
}

// Get returns the source registered under id.
func (r *Registry) Get(id models.Source) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// All returns every registered source ordered by id.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Enabled resolves ids in the given order. An empty list means every source.
func (r *Registry) Enabled(ids []string) ([]Source, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	var out []Source
	for _, raw := range ids {
		id, ok := models.ParseSource(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, raw)
		}
		s, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q not registered", ErrUnknownSource, raw)
		}
		out = append(out, s)
	}
	return out, nil
}

// WithTimeout bounds ctx by lim.Timeout when one is set.
func WithTimeout(ctx context.Context, lim models.Limits) (context.Context, context.CancelFunc) {
	if lim.Timeout > 0 {
		return context.WithTimeout(ctx, lim.Timeout)
	}
	return context.WithCancel(ctx)
}
