package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vekku/brain/internal/domain"
)

// Lazy defers the provider's readiness probe to first use. Concurrent first
// callers share one probe; a failed probe is retried by the next caller.
type Lazy struct {
	inner domain.Embedder
	init  singleflight.Group
	ready atomic.Bool
}

// NewLazy wraps inner.
func NewLazy(inner domain.Embedder) *Lazy {
	return &Lazy{inner: inner}
}

// Initialize probes the provider once. Providers without a probe are ready immediately.
// The shared probe ignores cancellation of whichever caller started it.
func (l *Lazy) Initialize(ctx context.Context) error {
	if l.ready.Load() {
		return nil
	}
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := l.init.Do("init", func() (any, error) {
		if l.ready.Load() {
			return nil, nil
		}
		if hc, ok := l.inner.(domain.HealthChecker); ok {
			if err := hc.HealthCheck(flightCtx); err != nil {
				return nil, fmt.Errorf("initialize embedding provider: %w: %w", domain.ErrBackendUnavailable, err)
			}
		}
		l.ready.Store(true)
		return nil, nil
	})
	return err //nolint:wrapcheck // wrapped inside the flight
}

// Embed initializes on first use and delegates.
func (l *Lazy) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := l.Initialize(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}
	return l.inner.Embed(ctx, text) //nolint:wrapcheck // decorator
}

// BatchEmbed initializes on first use and delegates.
func (l *Lazy) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if err := l.Initialize(ctx); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if be, ok := l.inner.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts) //nolint:wrapcheck // decorator
	}
	return domain.BatchFallback(ctx, l.inner, texts)
}

// HealthCheck probes the provider directly, without touching readiness state.
func (l *Lazy) HealthCheck(ctx context.Context) error {
	if hc, ok := l.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // decorator
	}
	return nil
}
