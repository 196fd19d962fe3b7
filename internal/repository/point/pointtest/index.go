// Package pointtest provides an in-memory point index for tests.
package pointtest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/search/filter"
	"github.com/vekku/brain/internal/domain/tag"
)

// Index keeps synonym points in memory and answers searches by brute force.
// Scroll order is point id order.
type Index struct {
	mu     sync.Mutex
	points map[string]tag.SynonymPoint

	// Err, when set, is returned by every operation.
	Err error

	Searches int
	Deletes  int
}

// New creates an empty index.
func New() *Index {
	return &Index{points: make(map[string]tag.SynonymPoint)}
}

// Upsert stores points, replacing any with the same id.
func (x *Index) Upsert(_ context.Context, points []tag.SynonymPoint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return x.Err
	}
	for _, p := range points {
		x.points[p.ID] = p
	}
	return nil
}

// Search returns points matching f with similarity >= threshold, best first.
func (x *Index) Search(
	_ context.Context, vector []float32, limit int, threshold float64, f filter.Expression,
) ([]tag.SearchHit, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return nil, x.Err
	}
	x.Searches++

	var hits []tag.SearchHit
	for _, p := range x.points {
		if !f.Matches(p.Payload()) {
			continue
		}
		s := domain.CosineSimilarity(vector, p.Vector)
		if s < threshold {
			continue
		}
		hits = append(hits, tag.SearchHit{Point: p, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Point.ID < hits[j].Point.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByFilter removes points matching f.
func (x *Index) DeleteByFilter(_ context.Context, f filter.Expression) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return 0, x.Err
	}
	x.Deletes++
	n := 0
	for id, p := range x.points {
		if f.Matches(p.Payload()) {
			delete(x.points, id)
			n++
		}
	}
	return n, nil
}

// Scroll pages through points matching f in id order.
func (x *Index) Scroll(_ context.Context, limit int, cursor string, f filter.Expression) (tag.ScrollPage, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return tag.ScrollPage{}, x.Err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return tag.ScrollPage{}, domain.NewValidationError("cursor", "must be a non-negative integer")
		}
		offset = n
	}

	var all []tag.SynonymPoint
	for _, p := range x.points {
		if f.Matches(p.Payload()) {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	var page tag.ScrollPage
	if offset >= len(all) {
		return page, nil
	}
	end := min(offset+limit, len(all))
	page.Points = all[offset:end]
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// Points returns a copy of every stored point.
func (x *Index) Points() []tag.SynonymPoint {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]tag.SynonymPoint, 0, len(x.points))
	for _, p := range x.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
