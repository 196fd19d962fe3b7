package embcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vekku/brain/internal/domain"
)

// LRUEmbedder keeps recently used vectors in process memory in front of the
// shared cache. Vectors are copied on the way in and out.
type LRUEmbedder struct {
	inner      domain.Embedder
	cache      *lru.Cache[string, []float32]
	cacheTotal *prometheus.CounterVec
}

// NewLRU creates an in-process cache tier holding up to size vectors.
// cacheTotal uses the label "result" ("lru_hit"/"lru_miss").
func NewLRU(inner domain.Embedder, size int, cacheTotal *prometheus.CounterVec) (*LRUEmbedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRUEmbedder{inner: inner, cache: c, cacheTotal: cacheTotal}, nil
}

// Embed returns the cached vector or delegates to inner.
func (l *LRUEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if vec, ok := l.cache.Get(text); ok {
		l.inc("lru_hit")
		return domain.EmbeddingResult{Embedding: clone(vec)}, nil
	}
	l.inc("lru_miss")

	res, err := l.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	l.cache.Add(text, clone(res.Embedding))
	return res, nil
}

// BatchEmbed serves hits from memory and forwards the misses as one batch.
func (l *LRUEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := l.cache.Get(text); ok {
			l.inc("lru_hit")
			out[i] = clone(vec)
			continue
		}
		l.inc("lru_miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: out}, nil
	}

	var (
		res domain.BatchEmbeddingResult
		err error
	)
	if be, ok := l.inner.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, missTexts)
	} else {
		res, err = domain.BatchFallback(ctx, l.inner, missTexts)
	}
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(res.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: got %d embeddings for %d texts",
			domain.ErrEmbeddingProviderError, len(res.Embeddings), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = res.Embeddings[j]
		l.cache.Add(missTexts[j], clone(res.Embeddings[j]))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// Len reports the number of cached vectors.
func (l *LRUEmbedder) Len() int { return l.cache.Len() }

func (l *LRUEmbedder) inc(result string) {
	if l.cacheTotal != nil {
		l.cacheTotal.WithLabelValues(result).Inc()
	}
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
