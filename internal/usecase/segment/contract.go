package segment

import "context"

// Embedder vectorizes a list of texts, preserving order.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}
