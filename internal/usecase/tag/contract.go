package tag

import (
	"context"

	"github.com/vekku/brain/internal/domain/search/filter"
	domtag "github.com/vekku/brain/internal/domain/tag"
)

// Points is the storage contract for synonym points.
type Points interface {
	Upsert(ctx context.Context, points []domtag.SynonymPoint) error
	DeleteByFilter(ctx context.Context, f filter.Expression) (int, error)
	Scroll(ctx context.Context, limit int, cursor string, f filter.Expression) (domtag.ScrollPage, error)
}

// Embedder vectorizes a list of texts, preserving order.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}
