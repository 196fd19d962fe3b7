package retrieval

import (
	"context"

	"github.com/vekku/brain/internal/domain/search/filter"
	"github.com/vekku/brain/internal/domain/tag"
)

// Searcher answers nearest-neighbour queries over synonym points.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float64, f filter.Expression) ([]tag.SearchHit, error)
}

// Embedder vectorizes text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Segmenter splits content into coherent chunks.
type Segmenter interface {
	Split(ctx context.Context, content string, threshold float64) ([]string, error)
}
