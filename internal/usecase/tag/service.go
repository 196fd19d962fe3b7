// Package tag learns, lists and forgets tags.
package tag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vekku/brain/internal/domain"
	"github.com/vekku/brain/internal/domain/search/filter"
	domtag "github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/logger"
	"github.com/vekku/brain/internal/metrics"
)

// Limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxSynonyms      = 256
	MaxSynonymRunes  = 256

	scrollBatch = 500
)

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.MustParse("6f1c3b5e-2a47-5d0e-9c61-8a9b7e4d2f10")

// PointID returns the id of the point for synonym of tagID.
// The same pair always yields the same id, so relearning overwrites.
func PointID(tagID, synonym string) string {
	return uuid.NewSHA1(pointNamespace, []byte(tagID+"\x00"+synonym)).String()
}

// Service manages the tag vocabulary.
//
// Learn replaces a tag's synonyms wholesale. Two concurrent Learn calls for the
// same tag may interleave their delete and upsert steps; the vocabulary is
// eventually consistent, not serializable, for a single tag.
type Service struct {
	points Points
	embed  Embedder
	logger *zap.Logger
}

// New creates a tag service.
func New(points Points, embed Embedder, logger *zap.Logger) *Service {
	return &Service{points: points, embed: embed, logger: logger}
}

// Learn stores one point per unique normalized synonym of the tag, removing any
// points from an earlier version of it. With no synonyms the alias itself is learned.
func (s *Service) Learn(ctx context.Context, tagID, alias string, synonyms []string) (domtag.Tag, error) {
	tagID = strings.TrimSpace(tagID)
	alias = strings.TrimSpace(alias)
	if tagID == "" {
		return domtag.Tag{}, domain.NewValidationError("tag_id", "must not be blank")
	}
	if alias == "" {
		return domtag.Tag{}, domain.NewValidationError("alias", "must not be blank")
	}
	if len(synonyms) > MaxSynonyms {
		return domtag.Tag{}, domain.NewValidationError("synonyms", fmt.Sprintf("must have at most %d entries", MaxSynonyms))
	}

	names := normalizeAll(synonyms)
	if len(names) == 0 {
		names = normalizeAll([]string{alias})
	}
	for _, n := range names {
		if len([]rune(n)) > MaxSynonymRunes {
			return domtag.Tag{}, domain.NewValidationError("synonyms", fmt.Sprintf("entries must be at most %d characters", MaxSynonymRunes))
		}
	}

	// Embedding first keeps the old points in place when the provider fails.
	vecs, err := s.embed.EmbedAll(ctx, names)
	if err != nil {
		return domtag.Tag{}, fmt.Errorf("embed synonyms of %s: %w", tagID, err)
	}

	byTag, err := filter.Equals(domtag.FieldTagID, tagID)
	if err != nil {
		return domtag.Tag{}, fmt.Errorf("tag filter: %w", err)
	}
	removed, err := s.points.DeleteByFilter(ctx, byTag)
	if err != nil {
		return domtag.Tag{}, fmt.Errorf("delete points of %s: %w", tagID, err)
	}

	points := make([]domtag.SynonymPoint, len(names))
	for i, n := range names {
		points[i] = domtag.SynonymPoint{
			ID:           PointID(tagID, n),
			Vector:       vecs[i],
			TagID:        tagID,
			Alias:        alias,
			OriginalName: n,
		}
	}
	if err := s.points.Upsert(ctx, points); err != nil {
		return domtag.Tag{}, fmt.Errorf("upsert points of %s: %w", tagID, err)
	}

	metrics.TagsLearnedTotal.Inc()
	metrics.SynonymPointsWrittenTotal.Add(float64(len(points)))
	logger.FromContextOr(ctx, s.logger).Debug("Tag learned",
		zap.String("tag_id", tagID),
		zap.Int("synonyms", len(points)),
		zap.Int("replaced", removed),
	)

	return domtag.Tag{ID: tagID, Alias: alias, Synonyms: names}, nil
}

// Get returns a learned tag with its synonyms.
func (s *Service) Get(ctx context.Context, tagID string) (domtag.Tag, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return domtag.Tag{}, domain.NewValidationError("tag_id", "must not be blank")
	}
	byTag, err := filter.Equals(domtag.FieldTagID, tagID)
	if err != nil {
		return domtag.Tag{}, fmt.Errorf("tag filter: %w", err)
	}

	tags, err := s.collect(ctx, byTag)
	if err != nil {
		return domtag.Tag{}, err
	}
	if len(tags) == 0 {
		return domtag.Tag{}, fmt.Errorf("%s: %w", tagID, domain.ErrTagNotFound)
	}
	return tags[0], nil
}

// List returns a page of tags ordered by id. The cursor is the decimal offset
// of the first tag on the page; NextCursor is empty on the last page.
func (s *Service) List(ctx context.Context, limit int, cursor string) (domtag.Page, error) {
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 0 || limit > MaxListLimit:
		return domtag.Page{}, domain.NewValidationError("limit", fmt.Sprintf("must be within [1, %d]", MaxListLimit))
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return domtag.Page{}, domain.NewValidationError("cursor", "must be a non-negative integer")
		}
		offset = n
	}

	byType, err := filter.Equals(domtag.FieldType, domtag.PointType)
	if err != nil {
		return domtag.Page{}, fmt.Errorf("type filter: %w", err)
	}
	// Synonyms of one tag are not contiguous in storage, so pages are cut over
	// the grouped vocabulary rather than over points.
	tags, err := s.collect(ctx, byType)
	if err != nil {
		return domtag.Page{}, err
	}

	page := domtag.Page{Tags: []domtag.Tag{}}
	if offset >= len(tags) {
		return page, nil
	}
	end := min(offset+limit, len(tags))
	page.Tags = tags[offset:end]
	if end < len(tags) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// Delete removes every point of the tag. Deleting an unknown tag is not an error.
func (s *Service) Delete(ctx context.Context, tagID string) (int, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return 0, domain.NewValidationError("tag_id", "must not be blank")
	}
	byTag, err := filter.Equals(domtag.FieldTagID, tagID)
	if err != nil {
		return 0, fmt.Errorf("tag filter: %w", err)
	}
	n, err := s.points.DeleteByFilter(ctx, byTag)
	if err != nil {
		return 0, fmt.Errorf("delete tag %s: %w", tagID, err)
	}
	logger.FromContextOr(ctx, s.logger).Debug("Tag deleted", zap.String("tag_id", tagID), zap.Int("points", n))
	return n, nil
}

// collect scrolls every point matching f and groups them into tags sorted by id,
// synonyms sorted within each tag.
func (s *Service) collect(ctx context.Context, f filter.Expression) ([]domtag.Tag, error) {
	byID := make(map[string]*domtag.Tag)
	cursor := ""
	for {
		page, err := s.points.Scroll(ctx, scrollBatch, cursor, f)
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range page.Points {
			t, ok := byID[p.TagID]
			if !ok {
				t = &domtag.Tag{ID: p.TagID, Alias: p.Alias}
				byID[p.TagID] = t
			}
			t.Synonyms = append(t.Synonyms, p.OriginalName)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	tags := make([]domtag.Tag, 0, len(byID))
	for _, t := range byID {
		sort.Strings(t.Synonyms)
		tags = append(tags, *t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags, nil
}

// normalizeAll trims and lower-cases names, dropping blanks and repeats
// while keeping first-seen order.
func normalizeAll(names []string) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = lower.String(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
