// Package segment splits text into topically coherent chunks.
package segment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/textutil"
)

// DefaultThreshold is the adjacent-sentence similarity needed to stay in the same chunk.
const DefaultThreshold = 0.5

// Service is the text segmenter.
type Service struct {
	embed Embedder
}

// New creates a segmenter.
func New(embed Embedder) *Service {
	return &Service{embed: embed}
}

// Split breaks content into sentences and greedily merges neighbours whose
// embeddings are at least threshold similar. Each sentence is compared with
// the sentence right before it, not with the chunk as a whole, so slow topic
// drift over a long passage stays in one chunk.
// Sentences inside a chunk are joined with a single space.
func (s *Service) Split(ctx context.Context, content string, threshold float64) ([]string, error) {
	if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
		return nil, domain.NewValidationError("threshold", "must be within [-1, 1]")
	}

	sentences := textutil.SplitSentences(content)
	switch len(sentences) {
	case 0:
		return []string{}, nil
	case 1:
		return sentences, nil
	}

	vecs, err := s.embed.EmbedAll(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vecs) != len(sentences) {
		return nil, fmt.Errorf("embed sentences: %w: got %d vectors for %d sentences",
			domain.ErrEmbeddingProviderError, len(vecs), len(sentences))
	}

	var chunks []string
	current := []string{sentences[0]}
	for i := 1; i < len(sentences); i++ {
		if domain.CosineSimilarity(vecs[i-1], vecs[i]) >= threshold {
			current = append(current, sentences[i])
			continue
		}
		chunks = append(chunks, strings.Join(current, " "))
		current = []string{sentences[i]}
	}
	return append(chunks, strings.Join(current, " ")), nil
}
