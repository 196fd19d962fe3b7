// Package keyword proposes keywords that are not yet known tags.
package keyword

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/logger"
	"github.com/vekku/brain/internal/textutil"
	"github.com/vekku/brain/internal/usecase/retrieval"
)

// Defaults.
const (
	DefaultTopK               = 10
	DefaultDiversity          = 0.5
	DefaultMinLength          = 3
	DefaultPoolSize           = 50
	DefaultExclusionThreshold = 0.6
	DefaultExclusionTopK      = 50
	DefaultMaxCandidates      = 1000

	// MaxTopK bounds caller-supplied topK.
	MaxTopK = 100
)

// Config tunes extraction. Zero values take defaults.
type Config struct {
	MinLength          int
	PoolSize           int
	ExclusionThreshold float64
	ExclusionTopK      int
	MaxCandidates      int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.MinLength == 0 {
		c.MinLength = DefaultMinLength
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ExclusionThreshold == 0 {
		c.ExclusionThreshold = DefaultExclusionThreshold
	}
	if c.ExclusionTopK == 0 {
		c.ExclusionTopK = DefaultExclusionTopK
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
}

// Service is the keyword extractor.
type Service struct {
	tags   Retriever
	embed  Embedder
	stop   textutil.StopWords
	cfg    Config
	logger *zap.Logger
}

// New creates a keyword extractor with the English stop list.
func New(tags Retriever, embed Embedder, cfg Config, logger *zap.Logger) (*Service, error) {
	stop, err := textutil.EnglishStopWords()
	if err != nil {
		return nil, fmt.Errorf("load stop words: %w", err)
	}
	cfg.ApplyDefaults()
	return &Service{tags: tags, embed: embed, stop: stop, cfg: cfg, logger: logger}, nil
}

// Extract proposes up to topK unigrams and bigrams of content that are close
// to the document but not already known tags, diversified by MMR.
// diversity 0 ranks purely by relevance; 1 purely by novelty against earlier picks.
// A nil diversity uses DefaultDiversity.
func (s *Service) Extract(ctx context.Context, content string, topK int, diversity *float64) ([]tag.KeywordCandidate, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewValidationError("content", "must not be blank")
	}
	switch {
	case topK == 0:
		topK = DefaultTopK
	case topK < 0 || topK > MaxTopK:
		return nil, domain.NewValidationError("top_k", fmt.Sprintf("must be within [1, %d]", MaxTopK))
	}
	div := DefaultDiversity
	if diversity != nil {
		div = *diversity
		if math.IsNaN(div) || div < 0 || div > 1 {
			return nil, domain.NewValidationError("diversity", "must be within [0, 1]")
		}
	}

	excluded, err := s.knownTags(ctx, content)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, c := range textutil.Candidates(content, s.stop, s.cfg.MinLength) {
		if _, known := excluded[c]; known {
			continue
		}
		if len(candidates) == s.cfg.MaxCandidates {
			logger.FromContextOr(ctx, s.logger).Debug("Keyword candidates capped",
				zap.Int("max_candidates", s.cfg.MaxCandidates))
			break
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return []tag.KeywordCandidate{}, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, content)
	texts = append(texts, candidates...)
	vecs, err := s.embed.EmbedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed candidates: %w", err)
	}
	doc, cands := vecs[0], vecs[1:]

	docSims := make([]float64, len(cands))
	for i, v := range cands {
		docSims[i] = domain.CosineSimilarity(doc, v)
	}

	picked := MMR(Pool(docSims, s.cfg.PoolSize), docSims, cands, topK, div)
	out := make([]tag.KeywordCandidate, len(picked))
	for i, idx := range picked {
		out[i] = tag.KeywordCandidate{Text: candidates[idx], Score: docSims[idx]}
	}

	logger.FromContextOr(ctx, s.logger).Debug("Keywords extracted",
		zap.Int("candidates", len(candidates)),
		zap.Int("excluded", len(excluded)),
		zap.Int("selected", len(out)),
	)
	return out, nil
}

func (s *Service) knownTags(ctx context.Context, content string) (map[string]struct{}, error) {
	th := s.cfg.ExclusionThreshold
	known, err := s.tags.Raw(ctx, content, retrieval.Options{Threshold: &th, TopK: s.cfg.ExclusionTopK})
	if err != nil {
		return nil, fmt.Errorf("known tags: %w", err)
	}
	out := make(map[string]struct{}, len(known))
	for _, k := range known {
		out[strings.ToLower(k.Name)] = struct{}{}
	}
	return out, nil
}
