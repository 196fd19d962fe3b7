package retrieval

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/metrics"
	"github.com/vekku/brain/internal/repository/point/pointtest"
	"github.com/vekku/brain/internal/usecase/embedding"
	"github.com/vekku/brain/internal/usecase/embedding/embeddingtest"
	"github.com/vekku/brain/internal/usecase/segment"
	tagsvc "github.com/vekku/brain/internal/usecase/tag"
)

func TestMain(m *testing.M) {
	metrics.RegisterTaggingMetrics()
	os.Exit(m.Run())
}

const twoTopics = "Astronauts trained for the mission to Mars. The rocket left orbit for deep space.\n\n" +
	"She was cooking dinner in the kitchen. The pasta boiled while the sauce simmered."

type fixture struct {
	svc   *Service
	index *pointtest.Index
	emb   *embeddingtest.ConceptEmbedder
}

func newFixture(t *testing.T, seg Segmenter) fixture {
	t.Helper()
	emb := embeddingtest.NewConceptEmbedder(
		[]string{"space", "cosmos", "rocket", "orbit", "astronauts", "mission", "galaxy"},
		[]string{"mars", "planet", "red"},
		[]string{"cooking", "cook", "kitchen", "dinner", "sauce", "boiled", "simmered"},
		[]string{"pasta", "spaghetti", "noodles"},
		[]string{"java", "programming", "code"},
	)
	pool := embedding.NewPool(emb, 4, 2)
	index := pointtest.New()
	if seg == nil {
		seg = segment.New(pool)
	}

	learner := tagsvc.New(index, pool, zap.NewNop())
	for _, l := range []struct {
		id, alias string
		synonyms  []string
	}{
		{"t-space", "Space", []string{"space", "cosmos"}},
		{"t-mars", "Mars", []string{"mars", "red planet"}},
		{"t-cooking", "Cooking", []string{"cooking"}},
		{"t-pasta", "Pasta", []string{"pasta", "spaghetti"}},
		{"t-java", "Java", []string{"java", "programming"}},
	} {
		if _, err := learner.Learn(context.Background(), l.id, l.alias, l.synonyms); err != nil {
			t.Fatalf("Learn %s: %v", l.alias, err)
		}
	}

	return fixture{
		svc:   New(index, pool, seg, Config{}, zap.NewNop()),
		index: index,
		emb:   emb,
	}
}

func threshold(v float64) *float64 { return &v }

func names(scores []tag.Score) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.Name
	}
	return out
}

func TestRegions_TwoTopicDocument(t *testing.T) {
	f := newFixture(t, nil)

	regions, err := f.svc.Regions(context.Background(), twoTopics, Options{Threshold: threshold(0.4)})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) < 2 {
		t.Fatalf("expected at least 2 regions, got %d", len(regions))
	}

	var spaceTop, cookingTop bool
	for _, r := range regions {
		top := r.TagScores[0].Name
		spaceTop = spaceTop || top == "Space" || top == "Mars"
		cookingTop = cookingTop || top == "Cooking" || top == "Pasta"
		for _, ts := range r.TagScores {
			if ts.Name == "Java" {
				t.Errorf("Java must not match above 0.4, got %v", ts.Score)
			}
		}
		if got := []rune(twoTopics)[r.StartIndex:r.EndIndex]; string(got) != r.Content {
			t.Errorf("region content %q does not match source span %q", r.Content, string(got))
		}
	}
	if !spaceTop || !cookingTop {
		t.Errorf("expected a space region and a cooking region, got %+v", regions)
	}
	if regions[0].StartIndex != 0 || regions[len(regions)-1].EndIndex != len([]rune(twoTopics)) {
		t.Errorf("regions should span the document, got [%d, %d)", regions[0].StartIndex, regions[len(regions)-1].EndIndex)
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].StartIndex < regions[i-1].EndIndex {
			t.Errorf("regions %d and %d overlap", i-1, i)
		}
	}
}

func TestRegions_TopKPerRegion(t *testing.T) {
	f := newFixture(t, nil)

	regions, err := f.svc.Regions(context.Background(), twoTopics, Options{Threshold: threshold(-1), TopK: 2})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	for _, r := range regions {
		if len(r.TagScores) > 2 {
			t.Errorf("region has %d tags, want at most 2", len(r.TagScores))
		}
		seen := map[string]bool{}
		for _, ts := range r.TagScores {
			if seen[ts.Name] {
				t.Errorf("duplicate tag %s in region", ts.Name)
			}
			seen[ts.Name] = true
		}
	}
}

type fixedSegmenter []string

func (s fixedSegmenter) Split(context.Context, string, float64) ([]string, error) {
	return s, nil
}

func TestRegions_DropsUnanchoredChunks(t *testing.T) {
	content := "Rocket orbit. Cooking dinner."
	f := newFixture(t, fixedSegmenter{"Rocket orbit.", "Galaxy far away.", "Cooking dinner."})
	before := testutil.ToFloat64(metrics.RegionsDroppedTotal)

	regions, err := f.svc.Regions(context.Background(), content, Options{})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("expected 2 anchored regions, got %d", len(regions))
	}
	if regions[0].Content != "Rocket orbit." || regions[1].Content != "Cooking dinner." {
		t.Errorf("unexpected regions %+v", regions)
	}
	if regions[1].StartIndex != 14 || regions[1].EndIndex != 29 {
		t.Errorf("second region at [%d, %d), want [14, 29)", regions[1].StartIndex, regions[1].EndIndex)
	}
	if got := testutil.ToFloat64(metrics.RegionsDroppedTotal) - before; got != 1 {
		t.Errorf("expected 1 dropped region, got %v", got)
	}
}

func TestRegions_AnchorsRepeatedChunksInOrder(t *testing.T) {
	content := "Rocket orbit. Rocket orbit."
	f := newFixture(t, fixedSegmenter{"Rocket orbit.", "Rocket orbit."})

	regions, err := f.svc.Regions(context.Background(), content, Options{})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].StartIndex != 0 || regions[1].StartIndex != 14 {
		t.Errorf("repeated chunk anchored at %d and %d, want 0 and 14", regions[0].StartIndex, regions[1].StartIndex)
	}
}

func TestRegions_OmitsUntaggedRegions(t *testing.T) {
	content := "Rocket orbit. The weather is mild today."
	f := newFixture(t, fixedSegmenter{"Rocket orbit.", "The weather is mild today."})

	regions, err := f.svc.Regions(context.Background(), content, Options{})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 1 || regions[0].TagScores[0].Name != "Space" {
		t.Errorf("expected a single space region, got %+v", regions)
	}
}

func TestRaw_GroupsByAliasAndRanks(t *testing.T) {
	f := newFixture(t, nil)

	scores, err := f.svc.Raw(context.Background(), "The cosmos and deep space, a galaxy beyond Mars.", Options{})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	got := names(scores)
	if len(got) < 2 || got[0] != "Space" || got[1] != "Mars" {
		t.Fatalf("expected Space then Mars, got %v", got)
	}
	seen := map[string]bool{}
	for i, s := range scores {
		if seen[s.Name] {
			t.Errorf("duplicate tag %s", s.Name)
		}
		seen[s.Name] = true
		if i > 0 && s.Score > scores[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
}

func TestRaw_ThresholdMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	content := "Rocket orbit with a little pasta and some code."

	prev := math.MaxInt
	for _, th := range []float64{-1, 0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1} {
		scores, err := f.svc.Raw(context.Background(), content, Options{Threshold: threshold(th), TopK: 10})
		if err != nil {
			t.Fatalf("Raw(%v): %v", th, err)
		}
		if len(scores) > prev {
			t.Errorf("threshold %v returned %d tags, more than %d at a lower threshold", th, len(scores), prev)
		}
		for _, s := range scores {
			if s.Score < th {
				t.Errorf("threshold %v returned %s at %v", th, s.Name, s.Score)
			}
		}
		prev = len(scores)
	}
}

func TestRaw_TopKAndEmpty(t *testing.T) {
	f := newFixture(t, nil)

	scores, err := f.svc.Raw(context.Background(), "space mars pasta cooking java", Options{Threshold: threshold(-1), TopK: 3})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if len(scores) != 3 {
		t.Errorf("expected 3 tags, got %d", len(scores))
	}

	scores, err = f.svc.Raw(context.Background(), "nothing relevant here", Options{Threshold: threshold(0.9)})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if scores == nil || len(scores) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", scores)
	}
}

func TestRaw_EmbedsSummaryOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.cfg.SummaryChars = 12
	content := "rocket orbit" + strings.Repeat(" pasta", 200)

	scores, err := f.svc.Raw(context.Background(), content, Options{TopK: 1})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if len(scores) != 1 || scores[0].Name != "Space" {
		t.Errorf("expected summary-only match on Space, got %v", scores)
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		content string
		opts    Options
	}{
		{"blank content", "   ", Options{}},
		{"threshold too high", "space", Options{Threshold: threshold(1.5)}},
		{"threshold NaN", "space", Options{Threshold: threshold(math.NaN())}},
		{"negative topK", "space", Options{TopK: -1}},
		{"topK too large", "space", Options{TopK: MaxTopK + 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Raw(ctx, tc.content, tc.opts); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Raw: expected ErrInvalidInput, got %v", err)
			}
			if _, err := f.svc.Regions(ctx, tc.content, tc.opts); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Regions: expected ErrInvalidInput, got %v", err)
			}
			if _, err := f.svc.Combined(ctx, tc.content, tc.opts); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Combined: expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if f.index.Searches != 0 {
		t.Errorf("invalid input must not reach the index, got %d searches", f.index.Searches)
	}
}

func TestDecay(t *testing.T) {
	if Decay(0) != 1 || Decay(1) != 1 {
		t.Error("decay must be 1 for at most one region")
	}
	if got, want := 1.8*Decay(2), 1.8/math.Log(2+math.E); math.Abs(got-want) > 1e-15 {
		t.Errorf("1.8*Decay(2) = %v, want %v", got, want)
	}
	if got := 1.8 * Decay(2); math.Abs(got-1.1600) > 1e-3 {
		t.Errorf("1.8*Decay(2) = %v, want about 1.160", got)
	}
	for n := 2; n < 50; n++ {
		if Decay(n+1) >= Decay(n) {
			t.Errorf("decay not decreasing at %d", n)
		}
	}
}

func TestCombined_SumsAndDecays(t *testing.T) {
	content := "Rocket orbit. Cooking dinner. Space galaxy."
	f := newFixture(t, fixedSegmenter{"Rocket orbit.", "Cooking dinner.", "Space galaxy."})
	ctx := context.Background()

	regions, err := f.svc.Regions(ctx, content, Options{})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	combined, err := f.svc.Combined(ctx, content, Options{})
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}

	want := map[string]float64{}
	for _, r := range regions {
		for _, ts := range r.TagScores {
			want[ts.Name] += ts.Score
		}
	}
	d := 1 / math.Log(float64(len(regions))+math.E)
	if len(combined) != len(want) {
		t.Fatalf("expected %d tags, got %d", len(want), len(combined))
	}
	for _, c := range combined {
		if math.Abs(c.Score-want[c.Name]*d) > 1e-12 {
			t.Errorf("%s = %v, want %v", c.Name, c.Score, want[c.Name]*d)
		}
	}
	if combined[0].Name != "Space" {
		t.Errorf("Space appears in two regions and should lead, got %v", names(combined))
	}
}

func TestCombined_SingleRegionNotDecayed(t *testing.T) {
	f := newFixture(t, fixedSegmenter{"Rocket orbit."})
	ctx := context.Background()

	regions, err := f.svc.Regions(ctx, "Rocket orbit.", Options{})
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	combined, err := f.svc.Combined(ctx, "Rocket orbit.", Options{})
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if len(regions) != 1 || combined[0].Score != regions[0].TagScores[0].Score {
		t.Errorf("single region must not be decayed: %+v vs %+v", combined, regions)
	}
}

func TestScore_InputOrder(t *testing.T) {
	f := newFixture(t, nil)
	before := f.index.Searches

	scores, err := f.svc.Score(context.Background(), []string{"pasta", "rocket", "unknown"}, "The rocket left orbit.")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := names(scores); strings.Join(got, ",") != "pasta,rocket,unknown" {
		t.Errorf("scores not in input order: %v", got)
	}
	if scores[1].Score < 0.9 || scores[0].Score > 0.1 {
		t.Errorf("unexpected scores %+v", scores)
	}
	if f.index.Searches != before {
		t.Error("Score must not query the index")
	}

	if _, err := f.svc.Score(context.Background(), nil, "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for no tags, got %v", err)
	}
	if _, err := f.svc.Score(context.Background(), []string{"a", " "}, "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank tag, got %v", err)
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	f := newFixture(t, nil)
	f.index.Err = domain.ErrBackendUnavailable

	if _, err := f.svc.Raw(context.Background(), "space", Options{}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("Raw: expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := f.svc.Regions(context.Background(), twoTopics, Options{}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("Regions: expected ErrBackendUnavailable, got %v", err)
	}

	f.index.Err = nil
	f.emb.FailOn("space")
	if _, err := f.svc.Raw(context.Background(), "space", Options{}); !errors.Is(err, embeddingtest.ErrForced) {
		t.Errorf("Raw: expected embedding error, got %v", err)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"héllo", 0, "héllo"},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
