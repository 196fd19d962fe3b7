package point

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vekku/brain/internal/db"
	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/search/filter"
	"github.com/vekku/brain/internal/domain/tag"
)

const (
	vectorField = "__vector"
	deletePage  = 500
)

var payloadFields = []string{tag.FieldTagID, tag.FieldAlias, tag.FieldOriginalName, tag.FieldType}

// store is the consumer interface for point storage (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	DelMulti(ctx context.Context, keys []string) (int, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
}

// HNSWConfig holds HNSW index tuning parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Config describes the collection backing the vector index.
type Config struct {
	KeyPrefix  string // e.g. "brain:"
	Collection string // e.g. "vekku_brain"
	Dimensions int
	Flat       bool // brute-force FLAT vector field instead of HNSW
	HNSW       HNSWConfig
}

// Repo stores synonym points as hashes under one FT vector index.
type Repo struct {
	store store
	cfg   Config
	init  singleflight.Group
	ready atomic.Bool
}

// New creates a point repository.
func New(s store, cfg Config) *Repo {
	return &Repo{store: s, cfg: cfg}
}

// Initialize ensures the collection index exists. Concurrent callers share one attempt,
// detached from the cancellation of the caller that started it; a failed attempt is
// retried by the next caller.
func (r *Repo) Initialize(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := r.init.Do("init", func() (any, error) {
		if r.ready.Load() {
			return nil, nil
		}
		if err := r.ensureIndex(flightCtx); err != nil {
			return nil, err
		}
		r.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w: %w", r.cfg.Collection, domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Repo) ensureIndex(ctx context.Context) error {
	name := r.indexName()
	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}

	def, err := buildIndex(name, r.keyPrefix(), r.cfg)
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Upsert writes points in one pipelined round-trip. Existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, points []tag.SynonymPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := r.Initialize(ctx); err != nil {
		return err
	}

	items := make([]db.HashSetItem, len(points))
	for i := range points {
		p := &points[i]
		if len(p.Vector) != r.cfg.Dimensions {
			return fmt.Errorf("point %s: %w: vector has %d dimensions, index expects %d",
				p.ID, domain.ErrEmbeddingProviderError, len(p.Vector), r.cfg.Dimensions)
		}
		fields := p.Payload()
		fields[vectorField] = vectorToBytes(p.Vector)
		items[i] = db.HashSetItem{Key: r.pointKey(p.ID), Fields: fields}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d points: %w: %w", len(points), domain.ErrBackendUnavailable, err)
	}
	return nil
}

// Search returns up to limit points nearest to vector with similarity >= threshold,
// ordered by similarity descending.
func (r *Repo) Search(
	ctx context.Context, vector []float32, limit int, threshold float64, f filter.Expression,
) ([]tag.SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Filters:      f,
		Vector:       vector,
		K:            limit,
		ReturnFields: payloadFields,
	})
	if err != nil {
		r.resetOnMissingIndex(err)
		return nil, fmt.Errorf("search %s: %w: %w", r.cfg.Collection, domain.ErrBackendUnavailable, err)
	}

	hits := make([]tag.SearchHit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		if e.Score < threshold {
			continue
		}
		hits = append(hits, tag.SearchHit{Point: r.pointFromEntry(e), Score: e.Score})
	}
	return hits, nil
}

// DeleteByFilter removes every point matching f and reports how many were removed.
// An empty filter is rejected.
func (r *Repo) DeleteByFilter(ctx context.Context, f filter.Expression) (int, error) {
	if f.IsEmpty() {
		return 0, fmt.Errorf("delete by filter: %w", domain.NewValidationError("filter", "must not be empty"))
	}
	if err := r.Initialize(ctx); err != nil {
		return 0, err
	}

	var keys []string
	for offset := 0; ; {
		sr, err := r.store.SearchList(ctx, &db.ListQuery{
			IndexName:    r.indexName(),
			KeyPrefix:    r.keyPrefix(),
			Filters:      f,
			Offset:       offset,
			Limit:        deletePage,
			ReturnFields: []string{tag.FieldTagID},
		})
		if err != nil {
			r.resetOnMissingIndex(err)
			return 0, fmt.Errorf("list for delete: %w: %w", domain.ErrBackendUnavailable, err)
		}
		for _, e := range sr.Entries {
			keys = append(keys, e.Key)
		}
		offset += len(sr.Entries)
		if len(sr.Entries) == 0 || offset >= sr.Total {
			break
		}
	}

	n, err := r.store.DelMulti(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("delete %d points: %w: %w", len(keys), domain.ErrBackendUnavailable, err)
	}
	return n, nil
}

// Scroll pages through stored points matching f. The cursor is a decimal offset.
func (r *Repo) Scroll(ctx context.Context, limit int, cursor string, f filter.Expression) (tag.ScrollPage, error) {
	if limit <= 0 {
		limit = 100
	}

	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return tag.ScrollPage{}, domain.NewValidationError("cursor", "must be a non-negative integer")
		}
		offset = parsed
	}

	if err := r.Initialize(ctx); err != nil {
		return tag.ScrollPage{}, err
	}

	sr, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName:    r.indexName(),
		KeyPrefix:    r.keyPrefix(),
		Filters:      f,
		Offset:       offset,
		Limit:        limit + 1,
		ReturnFields: payloadFields,
	})
	if err != nil {
		r.resetOnMissingIndex(err)
		return tag.ScrollPage{}, fmt.Errorf("scroll %s: %w: %w", r.cfg.Collection, domain.ErrBackendUnavailable, err)
	}

	page := tag.ScrollPage{Points: make([]tag.SynonymPoint, 0, min(limit, len(sr.Entries)))}
	for i, e := range sr.Entries {
		if i >= limit {
			break
		}
		page.Points = append(page.Points, r.pointFromEntry(e))
	}
	if len(sr.Entries) > limit {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

// resetOnMissingIndex forces re-creation on next use when the index was dropped underneath us.
// Ping reports whether the collection index is reachable and present.
// A missing index also clears readiness so the next write recreates it.
func (r *Repo) Ping(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("ping %s: %w: %w", r.cfg.Collection, domain.ErrBackendUnavailable, err)
	}
	if !exists {
		r.ready.Store(false)
		return fmt.Errorf("ping %s: %w: %w", r.cfg.Collection, domain.ErrBackendUnavailable, db.ErrIndexNotFound)
	}
	return nil
}

func (r *Repo) resetOnMissingIndex(err error) {
	if errors.Is(err, db.ErrIndexNotFound) {
		r.ready.Store(false)
	}
}

func (r *Repo) pointFromEntry(e db.SearchEntry) tag.SynonymPoint {
	return tag.SynonymPoint{
		ID:           strings.TrimPrefix(e.Key, r.keyPrefix()),
		TagID:        e.Fields[tag.FieldTagID],
		Alias:        e.Fields[tag.FieldAlias],
		OriginalName: e.Fields[tag.FieldOriginalName],
	}
}

func (r *Repo) keyPrefix() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":"
}

func (r *Repo) indexName() string {
	return r.keyPrefix() + "idx"
}

func (r *Repo) pointKey(id string) string {
	return r.keyPrefix() + id
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
