package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/calliope/plugin/ai/timeout"
)

// Aggregator fans a query out to every available provider and concatenates
// the results in provider configuration order.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTimeout sets the per-provider deadline.
func WithTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for provider failures.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator creates an aggregator over providers.
func NewAggregator(providers []Provider, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: providers,
		timeout:   timeout.SearchTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Providers returns the configured providers.
func (a *Aggregator) Providers() []Provider {
	return a.providers
}

// Search queries all available providers concurrently. A provider that
// fails or exceeds its deadline is logged and skipped. An empty slice
// means nothing was found and is not an error.
func (a *Aggregator) Search(ctx context.Context, query string, k int) []Result {
	if k <= 0 {
		k = DefaultResultCount
	}

	perProvider := make([][]Result, len(a.providers))
	var g errgroup.Group
	for i, p := range a.providers {
		if !p.IsAvailable() {
			a.logger.Debug("search provider unavailable, skipping", "provider", p.Name())
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			start := time.Now()
			results, err := p.Search(pctx, query, k)
			if err != nil {
				a.logger.Warn("search provider failed",
					"provider", p.Name(),
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return nil
			}
			for j := range results {
				results[j].Provider = p.Name()
			}
			perProvider[i] = results
			return nil
		})
	}
	// Goroutines never return errors; failures are absorbed above.
	_ = g.Wait()

	merged := make([]Result, 0)
	for _, results := range perProvider {
		merged = append(merged, results...)
	}
	return merged
}
