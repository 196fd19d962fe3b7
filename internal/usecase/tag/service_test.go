package tag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/vekku/brain/internal/domain"
	domtag "github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/metrics"
	"github.com/vekku/brain/internal/repository/point/pointtest"
	"github.com/vekku/brain/internal/usecase/embedding"
	"github.com/vekku/brain/internal/usecase/embedding/embeddingtest"
)

func TestMain(m *testing.M) {
	metrics.RegisterTaggingMetrics()
	os.Exit(m.Run())
}

func newTestService() (*Service, *pointtest.Index, *embeddingtest.ConceptEmbedder) {
	idx := pointtest.New()
	emb := embeddingtest.NewConceptEmbedder([]string{"space", "cosmos"}, []string{"pasta"})
	return New(idx, embedding.NewPool(emb, 0, 0), zap.NewNop()), idx, emb
}

func pointIDs(points []domtag.SynonymPoint) map[string]string {
	out := make(map[string]string, len(points))
	for _, p := range points {
		out[p.OriginalName] = p.ID
	}
	return out
}

func TestLearn_Idempotent(t *testing.T) {
	svc, idx, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Learn(ctx, "T", "Alias", []string{"A", "B"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	first := pointIDs(idx.Points())

	if _, err := svc.Learn(ctx, "T", "Alias", []string{"A", "B"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	second := pointIDs(idx.Points())

	if len(second) != 2 {
		t.Fatalf("expected 2 points, got %d", len(second))
	}
	for name, id := range first {
		if second[name] != id {
			t.Errorf("id of %q changed: %s -> %s", name, id, second[name])
		}
	}
}

func TestLearn_ConvergesToNewSynonyms(t *testing.T) {
	svc, idx, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Learn(ctx, "T", "Alias", []string{"A", "B"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if _, err := svc.Learn(ctx, "T", "Alias", []string{"B", "C"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	got := pointIDs(idx.Points())
	if len(got) != 2 {
		t.Fatalf("expected points for b and c only, got %v", got)
	}
	if _, ok := got["a"]; ok {
		t.Error("point for removed synonym a survived")
	}
	if got["b"] != PointID("T", "b") || got["c"] != PointID("T", "c") {
		t.Errorf("unexpected ids %v", got)
	}
}

func TestLearn_NormalizesAndDedupes(t *testing.T) {
	svc, idx, _ := newTestService()

	learned, err := svc.Learn(context.Background(), " space ", " Space ", []string{"  Cosmos", "COSMOS", "", "   ", "Outer Space", "ÉTOILE"})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}

	want := []string{"cosmos", "outer space", "étoile"}
	if fmt.Sprint(learned.Synonyms) != fmt.Sprint(want) {
		t.Errorf("synonyms = %q, want %q", learned.Synonyms, want)
	}
	if learned.ID != "space" || learned.Alias != "Space" {
		t.Errorf("unexpected tag %+v", learned)
	}

	for _, p := range idx.Points() {
		payload := p.Payload()
		if payload[domtag.FieldType] != domtag.PointType || payload[domtag.FieldTagID] != "space" || payload[domtag.FieldAlias] != "Space" {
			t.Errorf("unexpected payload %v", payload)
		}
		if len(p.Vector) == 0 {
			t.Errorf("point %s has no vector", p.ID)
		}
	}
}

func TestLearn_EmptySynonymsLearnsAlias(t *testing.T) {
	svc, idx, _ := newTestService()

	learned, err := svc.Learn(context.Background(), "t1", "Pasta", nil)
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if len(learned.Synonyms) != 1 || learned.Synonyms[0] != "pasta" {
		t.Errorf("expected alias as only synonym, got %q", learned.Synonyms)
	}
	if n := len(idx.Points()); n != 1 {
		t.Errorf("expected 1 point, got %d", n)
	}
}

func TestLearn_Validation(t *testing.T) {
	svc, _, emb := newTestService()
	tooMany := make([]string, MaxSynonyms+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("s%d", i)
	}
	long := make([]rune, MaxSynonymRunes+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name     string
		tagID    string
		alias    string
		synonyms []string
	}{
		{"blank id", "  ", "Alias", []string{"a"}},
		{"blank alias", "t", "\t", []string{"a"}},
		{"too many synonyms", "t", "Alias", tooMany},
		{"synonym too long", "t", "Alias", []string{string(long)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Learn(context.Background(), tt.tagID, tt.alias, tt.synonyms)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if emb.Inputs() != 0 {
		t.Errorf("embedding must not run on invalid input, got %d", emb.Inputs())
	}
}

func TestLearn_EmbeddingFailureKeepsOldPoints(t *testing.T) {
	svc, idx, emb := newTestService()
	ctx := context.Background()

	if _, err := svc.Learn(ctx, "T", "Alias", []string{"a"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	emb.FailOn("b")

	if _, err := svc.Learn(ctx, "T", "Alias", []string{"b"}); !errors.Is(err, embeddingtest.ErrForced) {
		t.Fatalf("expected forced error, got %v", err)
	}
	if got := pointIDs(idx.Points()); len(got) != 1 || got["a"] == "" {
		t.Errorf("old point should survive a failed relearn, got %v", got)
	}
}

func TestLearn_StorageError(t *testing.T) {
	svc, idx, _ := newTestService()
	idx.Err = fmt.Errorf("learn: %w", domain.ErrBackendUnavailable)

	if _, err := svc.Learn(context.Background(), "T", "Alias", []string{"a"}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("t", "a") != PointID("t", "a") {
		t.Error("PointID not deterministic")
	}
	if PointID("t", "a") == PointID("t", "b") || PointID("ta", "") == PointID("t", "a") {
		t.Error("PointID collides on different pairs")
	}
}

func TestList_GroupsAndPages(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for i := range 5 {
		id := fmt.Sprintf("tag-%d", i)
		if _, err := svc.Learn(ctx, id, "Alias "+id, []string{"x " + id, "y " + id}); err != nil {
			t.Fatalf("Learn: %v", err)
		}
	}

	var all []domtag.Tag
	cursor := ""
	pages := 0
	for {
		page, err := svc.List(ctx, 2, cursor)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		pages++
		all = append(all, page.Tags...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if pages != 3 || len(all) != 5 {
		t.Fatalf("expected 5 tags over 3 pages, got %d over %d", len(all), pages)
	}
	for i, tg := range all {
		if tg.ID != fmt.Sprintf("tag-%d", i) {
			t.Errorf("tag %d = %s, want tag-%d", i, tg.ID, i)
		}
		if len(tg.Synonyms) != 2 {
			t.Errorf("tag %s has %d synonyms, want 2", tg.ID, len(tg.Synonyms))
		}
	}
}

func TestList_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	for _, tc := range []struct {
		limit  int
		cursor string
	}{
		{-1, ""},
		{MaxListLimit + 1, ""},
		{10, "abc"},
		{10, "-3"},
	} {
		if _, err := svc.List(context.Background(), tc.limit, tc.cursor); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("List(%d, %q): expected ErrInvalidInput, got %v", tc.limit, tc.cursor, err)
		}
	}
}

func TestList_PastEnd(t *testing.T) {
	svc, _, _ := newTestService()
	page, err := svc.List(context.Background(), 0, "100")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Tags == nil || len(page.Tags) != 0 || page.NextCursor != "" {
		t.Errorf("expected empty last page, got %+v", page)
	}
}

func TestGetAndDelete(t *testing.T) {
	svc, idx, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Learn(ctx, "keep", "Keep", []string{"k"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if _, err := svc.Learn(ctx, "drop", "Drop", []string{"d1", "d2"}); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	got, err := svc.Get(ctx, "drop")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Alias != "Drop" || len(got.Synonyms) != 2 {
		t.Errorf("unexpected tag %+v", got)
	}

	n, err := svc.Delete(ctx, "drop")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted points, got %d", n)
	}
	if _, err := svc.Get(ctx, "drop"); !errors.Is(err, domain.ErrTagNotFound) {
		t.Errorf("expected ErrTagNotFound, got %v", err)
	}
	if len(idx.Points()) != 1 {
		t.Errorf("other tags must survive, got %d points", len(idx.Points()))
	}

	n, err = svc.Delete(ctx, "never-learned")
	if err != nil || n != 0 {
		t.Errorf("deleting unknown tag: n=%d err=%v", n, err)
	}
	if _, err := svc.Delete(ctx, " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank id, got %v", err)
	}
}
