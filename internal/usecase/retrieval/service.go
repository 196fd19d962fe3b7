// Package retrieval ranks learned tags against free text.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/search/filter"
	"github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/logger"
	"github.com/vekku/brain/internal/metrics"
	"github.com/vekku/brain/internal/textutil"
)

// Retrieval modes, used as metric labels.
const (
	ModeRaw      = "raw"
	ModeRegion   = "region"
	ModeCombined = "combined"
	ModeScore    = "score"
)

// MaxScoreTags bounds the tag list of a Score call.
const MaxScoreTags = 256

// Service is the tag retriever.
type Service struct {
	index    Searcher
	embed    Embedder
	segments Segmenter
	cfg      Config
	onlyTags filter.Expression
	logger   *zap.Logger
}

// New creates a retriever.
func New(index Searcher, embed Embedder, segments Segmenter, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	onlyTags, err := filter.Equals(tag.FieldType, tag.PointType)
	if err != nil {
		panic(fmt.Sprintf("type filter: %v", err))
	}
	return &Service{
		index:    index,
		embed:    embed,
		segments: segments,
		cfg:      cfg,
		onlyTags: onlyTags,
		logger:   logger,
	}
}

// Raw embeds a length-bounded prefix of content and returns the best tags for it,
// one score per tag name, best first.
func (s *Service) Raw(ctx context.Context, content string, opts Options) ([]tag.Score, error) {
	defer observe(ModeRaw, time.Now())

	threshold, topK, err := s.resolve(content, opts, s.cfg.RawTopK)
	if err != nil {
		return nil, err
	}

	vec, err := s.embed.Embed(ctx, truncateRunes(content, s.cfg.SummaryChars))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	hits, err := s.index.Search(ctx, vec, topK*s.cfg.Overfetch, threshold, s.onlyTags)
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	return rankByName(hits, topK), nil
}

// Regions segments content and tags each chunk separately. Chunks are anchored
// to the source in order; a chunk that cannot be anchored is dropped. Regions
// without tags are omitted.
func (s *Service) Regions(ctx context.Context, content string, opts Options) ([]tag.Region, error) {
	defer observe(ModeRegion, time.Now())

	threshold, topK, err := s.resolve(content, opts, s.cfg.RegionTopK)
	if err != nil {
		return nil, err
	}
	return s.regions(ctx, content, threshold, topK)
}

// Combined sums each tag's region scores and damps the sum by 1/ln(n+e)
// when n > 1 regions matched.
func (s *Service) Combined(ctx context.Context, content string, opts Options) ([]tag.Score, error) {
	defer observe(ModeCombined, time.Now())

	threshold, topK, err := s.resolve(content, opts, s.cfg.CombinedTopK)
	if err != nil {
		return nil, err
	}
	regions, err := s.regions(ctx, content, threshold, s.cfg.RegionTopK)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	for _, r := range regions {
		for _, ts := range r.TagScores {
			sums[ts.Name] += ts.Score
		}
	}
	d := Decay(len(regions))
	out := make([]tag.Score, 0, len(sums))
	for name, sum := range sums {
		out = append(out, tag.Score{Name: name, Score: sum * d})
	}
	sortScores(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Score returns the cosine similarity of content to each tag name, in input order.
// No index lookup is involved.
func (s *Service) Score(ctx context.Context, tags []string, content string) ([]tag.Score, error) {
	defer observe(ModeScore, time.Now())

	if strings.TrimSpace(content) == "" {
		return nil, domain.NewValidationError("content", "must not be blank")
	}
	if len(tags) == 0 {
		return nil, domain.NewValidationError("tags", "must not be empty")
	}
	if len(tags) > MaxScoreTags {
		return nil, domain.NewValidationError("tags", fmt.Sprintf("must have at most %d entries", MaxScoreTags))
	}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewValidationError("tags", "entries must not be blank")
		}
	}

	texts := make([]string, 0, len(tags)+1)
	texts = append(texts, truncateRunes(content, s.cfg.SummaryChars))
	texts = append(texts, tags...)
	vecs, err := s.embed.EmbedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed tags: %w", err)
	}

	out := make([]tag.Score, len(tags))
	for i, name := range tags {
		out[i] = tag.Score{Name: name, Score: domain.CosineSimilarity(vecs[0], vecs[i+1])}
	}
	return out, nil
}

// Decay is the damping factor of a consensus sum over n regions.
func Decay(n int) float64 {
	if n <= 1 {
		return 1
	}
	return 1 / math.Log(float64(n)+math.E)
}

type anchored struct {
	chunk string
	span  textutil.Span
}

func (s *Service) regions(ctx context.Context, content string, threshold float64, topK int) ([]tag.Region, error) {
	chunks, err := s.segments.Split(ctx, content, s.cfg.SegmentThreshold)
	if err != nil {
		return nil, fmt.Errorf("segment content: %w", err)
	}

	log := logger.FromContextOr(ctx, s.logger)
	spans := make([]anchored, 0, len(chunks))
	cursor := 0
	for i, c := range chunks {
		sp, ok := textutil.Locate(content, c, cursor)
		if !ok {
			metrics.RegionsDroppedTotal.Inc()
			log.Debug("Region dropped",
				zap.Int("chunk", i),
				zap.Int("cursor", cursor),
				zap.Error(domain.ErrAnchorNotFound),
			)
			continue
		}
		cursor = sp.End
		spans = append(spans, anchored{chunk: c, span: sp})
	}
	if len(spans) == 0 {
		return []tag.Region{}, nil
	}

	texts := make([]string, len(spans))
	for i, a := range spans {
		texts[i] = a.chunk
	}
	vecs, err := s.embed.EmbedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	scores := make([][]tag.Score, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range spans {
		g.Go(func() error {
			hits, err := s.index.Search(gctx, vecs[i], topK*s.cfg.Overfetch, threshold, s.onlyTags)
			if err != nil {
				return fmt.Errorf("search chunk %d: %w", i, err)
			}
			scores[i] = rankByName(hits, topK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped inside the group
	}

	regions := make([]tag.Region, 0, len(spans))
	for i, a := range spans {
		if len(scores[i]) == 0 {
			continue
		}
		regions = append(regions, tag.Region{
			Content:    textutil.Slice(content, a.span),
			StartIndex: a.span.Start,
			EndIndex:   a.span.End,
			TagScores:  scores[i],
		})
	}
	return regions, nil
}

func (s *Service) resolve(content string, opts Options, defaultTopK int) (float64, int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, 0, domain.NewValidationError("content", "must not be blank")
	}

	threshold := s.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
		if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
			return 0, 0, domain.NewValidationError("threshold", "must be within [-1, 1]")
		}
	}

	topK := opts.TopK
	switch {
	case topK == 0:
		topK = defaultTopK
	case topK < 0 || topK > MaxTopK:
		return 0, 0, domain.NewValidationError("top_k", fmt.Sprintf("must be within [1, %d]", MaxTopK))
	}
	return threshold, topK, nil
}

// rankByName keeps the best score per tag name, sorts best first and truncates to topK.
func rankByName(hits []tag.SearchHit, topK int) []tag.Score {
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		name := h.Point.Name()
		if name == "" {
			continue
		}
		if cur, ok := best[name]; !ok || h.Score > cur {
			best[name] = h.Score
		}
	}

	out := make([]tag.Score, 0, len(best))
	for name, score := range best {
		out = append(out, tag.Score{Name: name, Score: score})
	}
	sortScores(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// sortScores orders by score descending, then name ascending.
func sortScores(s []tag.Score) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Name < s[j].Name
	})
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func observe(mode string, start time.Time) {
	metrics.RetrievalRequestsTotal.WithLabelValues(mode).Inc()
	metrics.RetrievalDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
