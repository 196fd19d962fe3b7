package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vekku/brain/internal/domain"
)

// Pool defaults.
const (
	DefaultPoolBatchSize   = 64
	DefaultPoolConcurrency = 4
)

// Pool embeds many texts with bounded concurrency. Texts are split into
// batches, batches run in parallel up to the concurrency limit, and the
// output order matches the input order. Spent tokens go to the request's
// domain.EmbeddingUsage when one is in the context.
type Pool struct {
	emb         domain.Embedder
	batchSize   int
	concurrency int
}

// NewPool creates a pool over emb. Non-positive sizes fall back to defaults.
func NewPool(emb domain.Embedder, batchSize, concurrency int) *Pool {
	if batchSize <= 0 {
		batchSize = DefaultPoolBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultPoolConcurrency
	}
	return &Pool{emb: emb, batchSize: batchSize, concurrency: concurrency}
}

// Embed vectorizes a single text.
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
	return res.Embedding, nil
}

// EmbedAll vectorizes texts. The first failing batch cancels the rest.
func (p *Pool) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var tokens atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for offset := 0; offset < len(texts); offset += p.batchSize {
		batch := texts[offset:min(offset+p.batchSize, len(texts))]
		g.Go(func() error {
			res, err := p.batch(gctx, batch)
			if err != nil {
				return fmt.Errorf("embed batch at %d: %w", offset, err)
			}
			if len(res.Embeddings) != len(batch) {
				return fmt.Errorf("embed batch at %d: %w: got %d vectors for %d inputs",
					offset, domain.ErrEmbeddingProviderError, len(res.Embeddings), len(batch))
			}
			copy(out[offset:], res.Embeddings)
			tokens.Add(int64(res.TotalTokens))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped inside the group
	}
	domain.UsageFromContext(ctx).AddTokens(int(tokens.Load()))
	return out, nil
}

func (p *Pool) batch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := p.emb.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts) //nolint:wrapcheck // wrapped by caller
	}
	return domain.BatchFallback(ctx, p.emb, texts)
}
