package db

import "github.com/vekku/brain/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hash hit from a search.
// Score is cosine similarity for KNN queries and zero for listings.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
