package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vekku/brain/internal/domain"
)

func TestLazy_ProbesOnceUnderConcurrency(t *testing.T) {
	inner := &textEmbedder{}
	l := NewLazy(inner)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Embed(context.Background(), "x"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	inner.mu.Lock()
	probes := inner.probes
	inner.mu.Unlock()
	if probes < 1 || probes > 16 {
		t.Fatalf("unexpected probe count %d", probes)
	}

	before := probes
	if _, err := l.BatchEmbed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inner.mu.Lock()
	after := inner.probes
	inner.mu.Unlock()
	if after != before {
		t.Errorf("probe repeated after ready: %d -> %d", before, after)
	}
}

func TestLazy_FailedProbeIsRetried(t *testing.T) {
	inner := &textEmbedder{healthy: errors.New("connection refused")}
	l := NewLazy(inner)

	_, err := l.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if inner.singles != 0 {
		t.Error("provider must not be called before a successful probe")
	}

	inner.mu.Lock()
	inner.healthy = nil
	inner.mu.Unlock()

	if _, err := l.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if inner.probes != 2 {
		t.Errorf("expected 2 probes, got %d", inner.probes)
	}
}

func TestLazy_NoProbeAvailable(t *testing.T) {
	inner := &singleEmbedder{}
	l := NewLazy(inner)

	res, err := l.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Errorf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if err := l.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected health error: %v", err)
	}
}

// gatedChecker blocks its health check until released and then reports its context state.
type gatedChecker struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedChecker) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{1}}, nil
}

func (g *gatedChecker) HealthCheck(ctx context.Context) error {
	close(g.started)
	<-g.release
	return ctx.Err()
}

func TestLazy_InitSurvivesCallerCancel(t *testing.T) {
	checker := &gatedChecker{started: make(chan struct{}), release: make(chan struct{})}
	l := NewLazy(checker)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Initialize(ctx) }()

	<-checker.started
	cancel()
	close(checker.release)

	if err := <-errc; err != nil {
		t.Fatalf("shared initialization must not observe the caller's cancellation: %v", err)
	}
	if _, err := l.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed after init: %v", err)
	}
}
