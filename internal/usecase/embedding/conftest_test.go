package embedding

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// textEmbedder returns a 2-dim vector derived from the text length and
// charges one token per rune. It records every batch it receives.
type textEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	singles int
	failOn  string
	healthy error
	probes  int
	shortBy int
}

func (e *textEmbedder) vector(text string) []float32 {
	return []float32{float32(len(text)), 1}
}

func (e *textEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.mu.Lock()
	e.singles++
	e.mu.Unlock()
	if e.failOn != "" && text == e.failOn {
		return domain.EmbeddingResult{}, errors.New("provider error")
	}
	n := len([]rune(text))
	return domain.EmbeddingResult{Embedding: e.vector(text), PromptTokens: n, TotalTokens: n}, nil
}

func (e *textEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()

	var out domain.BatchEmbeddingResult
	for _, t := range texts {
		if e.failOn != "" && t == e.failOn {
			return domain.BatchEmbeddingResult{}, errors.New("provider error")
		}
		n := len([]rune(t))
		out.Embeddings = append(out.Embeddings, e.vector(t))
		out.PromptTokens += n
		out.TotalTokens += n
	}
	if e.shortBy > 0 {
		out.Embeddings = out.Embeddings[:len(out.Embeddings)-e.shortBy]
	}
	return out, nil
}

func (e *textEmbedder) HealthCheck(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probes++
	return e.healthy
}

func (e *textEmbedder) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// singleEmbedder implements only domain.Embedder.
type singleEmbedder struct {
	calls int
}

func (e *singleEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls++
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text))}, TotalTokens: 1}, nil
}

// memBudgetStore is an in-memory BudgetStore.
type memBudgetStore struct {
	mu     sync.Mutex
	data   map[string]int64
	ttls   map[string]int64
	getErr error
	setErr error
}

func newMemBudgetStore() *memBudgetStore {
	return &memBudgetStore{data: make(map[string]int64), ttls: make(map[string]int64)}
}

func (m *memBudgetStore) keysWith(part string) map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for k, v := range m.data {
		if strings.Contains(k, part) {
			out[k] = v
		}
	}
	return out
}
