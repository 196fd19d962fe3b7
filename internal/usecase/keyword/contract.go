package keyword

import (
	"context"

	"github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/usecase/retrieval"
)

// Retriever finds tags already known for content.
type Retriever interface {
	Raw(ctx context.Context, content string, opts retrieval.Options) ([]tag.Score, error)
}

// Embedder vectorizes a list of texts, preserving order.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}
