package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vekku/brain/internal/repository/point/pointtest"
	"github.com/vekku/brain/internal/usecase/embedding"
	"github.com/vekku/brain/internal/usecase/embedding/embeddingtest"
	healthuc "github.com/vekku/brain/internal/usecase/health"
	keyworduc "github.com/vekku/brain/internal/usecase/keyword"
	retrievaluc "github.com/vekku/brain/internal/usecase/retrieval"
	segmentuc "github.com/vekku/brain/internal/usecase/segment"
	taguc "github.com/vekku/brain/internal/usecase/tag"
	usageuc "github.com/vekku/brain/internal/usecase/usage"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

type apiFixture struct {
	handler http.Handler
	index   *pointtest.Index
	emb     *embeddingtest.ConceptEmbedder
	pinger  *fakePinger
}

func newAPI(t *testing.T, apiKeys ...string) *apiFixture {
	t.Helper()
	emb := embeddingtest.NewConceptEmbedder(
		[]string{"space", "cosmos", "rocket", "orbit"},
		[]string{"cooking", "kitchen", "dinner", "sauce"},
	)
	pool := embedding.NewPool(emb, 4, 2)
	index := pointtest.New()
	pinger := &fakePinger{}

	retrieval := retrievaluc.New(index, pool, segmentuc.New(pool), retrievaluc.Config{}, zap.NewNop())
	keywords, err := keyworduc.New(retrieval, pool, keyworduc.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("keyword.New: %v", err)
	}
	srv := NewServer(Services{
		Tags:      taguc.New(index, pool, zap.NewNop()),
		Retrieval: retrieval,
		Keywords:  keywords,
		Health:    healthuc.New(pinger, emb, 0),
		Usage:     usageuc.New(nil),
	}, zap.NewNop())

	return &apiFixture{handler: srv.Router(apiKeys), index: index, emb: emb, pinger: pinger}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) learn(t *testing.T, id, alias string, synonyms ...string) {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/learn", map[string]any{"tag_id": id, "alias": alias, "synonyms": synonyms})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("learn %s: got %d: %s", id, rr.Code, rr.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return v
}

func newRequest() *http.Request { return httptest.NewRequest(http.MethodGet, "/", http.NoBody) }
