// Package embeddingtest provides deterministic embedders for tests.
package embeddingtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/vekku/brain/internal/domain"
)

// ErrForced is returned by a ConceptEmbedder configured to fail.
var ErrForced = errors.New("forced embedding failure")

const bias = 0.01

// ConceptEmbedder maps every known word onto one concept axis and sums the
// axes of the words in a text. Unknown words contribute nothing; a small bias
// axis keeps every vector non-zero. Vectors are unit length.
type ConceptEmbedder struct {
	axes map[string]int
	dim  int

	mu     sync.Mutex
	inputs int
	failOn map[string]bool
}

// NewConceptEmbedder builds an embedder from concept axes: each entry lists the
// words that point along one axis.
func NewConceptEmbedder(concepts ...[]string) *ConceptEmbedder {
	e := &ConceptEmbedder{axes: make(map[string]int), dim: len(concepts) + 1, failOn: make(map[string]bool)}
	for i, words := range concepts {
		for _, w := range words {
			e.axes[strings.ToLower(w)] = i
		}
	}
	return e
}

// FailOn makes any request containing text fail.
func (e *ConceptEmbedder) FailOn(text string) {
	e.mu.Lock()
	e.failOn[text] = true
	e.mu.Unlock()
}

// Vector returns the embedding of text.
func (e *ConceptEmbedder) Vector(text string) []float32 {
	v := make([]float32, e.dim)
	v[e.dim-1] = bias
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if i, ok := e.axes[w]; ok {
			v[i]++
		}
	}
	return domain.Normalize(v)
}

// Embed implements domain.Embedder. Each word costs one token.
func (e *ConceptEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if err := e.record(text); err != nil {
		return domain.EmbeddingResult{}, err
	}
	n := len(strings.Fields(text))
	return domain.EmbeddingResult{Embedding: e.Vector(text), PromptTokens: n, TotalTokens: n}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *ConceptEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		if err := e.record(t); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings[i] = e.Vector(t)
		n := len(strings.Fields(t))
		out.PromptTokens += n
		out.TotalTokens += n
	}
	return out, nil
}

func (e *ConceptEmbedder) record(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs++
	if e.failOn[text] {
		return ErrForced
	}
	return nil
}

// Inputs returns how many texts have been embedded.
func (e *ConceptEmbedder) Inputs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputs
}

// HealthCheck implements domain.HealthChecker.
func (e *ConceptEmbedder) HealthCheck(_ context.Context) error { return nil }
