package point

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/vekku/brain/internal/db"
	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/tag"
)

// memStore is an in-memory store with brute-force cosine KNN.
type memStore struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	indexes   map[string]*db.IndexDefinition
	createCnt int

	searchErr error
	listErr   error
	existsErr error

	// existsHook runs before IndexExists answers, outside the lock.
	existsHook func(ctx context.Context) error
}

func newMemStore() *memStore {
	return &memStore{
		hashes:  map[string]map[string]string{},
		indexes: map[string]*db.IndexDefinition{},
	}
}

func (m *memStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		h := map[string]string{}
		for k, v := range it.Fields {
			h[k] = v
		}
		m.hashes[it.Key] = h
	}
	return nil
}

func (m *memStore) DelMulti(_ context.Context, keys []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	m.indexes[def.Name] = def
	m.createCnt++
	return nil
}

func (m *memStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.existsHook != nil {
		if err := m.existsHook(ctx); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *memStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	prefix := m.indexes[q.IndexName].Prefixes[0]

	var entries []db.SearchEntry
	for _, key := range m.sortedKeys(prefix) {
		h := m.hashes[key]
		if !q.Filters.Matches(h) {
			continue
		}
		sim := domain.CosineSimilarity(q.Vector, decodeVector(h[vectorField]))
		entries = append(entries, db.SearchEntry{Key: key, Score: sim, Fields: pick(h, q.ReturnFields)})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	if len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

func (m *memStore) SearchList(_ context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var matched []db.SearchEntry
	for _, key := range m.sortedKeys(q.KeyPrefix) {
		h := m.hashes[key]
		if q.Filters.Matches(h) {
			matched = append(matched, db.SearchEntry{Key: key, Fields: pick(h, q.ReturnFields)})
		}
	}
	res := &db.SearchResult{Total: len(matched)}
	if q.Offset < len(matched) {
		res.Entries = matched[q.Offset:min(q.Offset+q.Limit, len(matched))]
	}
	return res, nil
}

func (m *memStore) sortedKeys(prefix string) []string {
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hashes)
}

func pick(h map[string]string, names []string) map[string]string {
	out := map[string]string{}
	for _, n := range names {
		if v, ok := h[n]; ok {
			out[n] = v
		}
	}
	return out
}

func decodeVector(s string) []float32 {
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func newTestRepo(t *testing.T) (*Repo, *memStore) {
	t.Helper()
	ms := newMemStore()
	return New(ms, Config{
		KeyPrefix:  "brain:",
		Collection: "test",
		Dimensions: 3,
		HNSW:       HNSWConfig{M: 16, EFConstruct: 200},
	}), ms
}

func testPoint(id, tagID, alias, name string, vec ...float32) tag.SynonymPoint {
	return tag.SynonymPoint{ID: id, TagID: tagID, Alias: alias, OriginalName: name, Vector: vec}
}
