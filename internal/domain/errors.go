package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals missing or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBackendUnavailable signals that the vector index or embedding model cannot serve requests.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrTagNotFound signals a lookup of a tag with no learned synonyms.
	ErrTagNotFound = errors.New("tag not found")
	// ErrAnchorNotFound signals a chunk that cannot be located in its source text.
	// Region retrieval absorbs it per chunk.
	ErrAnchorNotFound = errors.New("anchor not found")
)

// ValidationError describes a rejected input field. It unwraps to ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError creates a validation error for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
