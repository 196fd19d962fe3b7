// Package tag holds the value types of the tagging engine.
package tag

// PointType is the payload type stamped on every synonym point.
const PointType = "TAG"

// Payload field names stored with every synonym point.
const (
	FieldTagID        = "tag_id"
	FieldAlias        = "alias"
	FieldOriginalName = "original_name"
	FieldType         = "type"
)

// Tag is a learned concept: an id, a display alias and its normalized synonyms.
type Tag struct {
	ID       string   `json:"tag_id"`
	Alias    string   `json:"alias"`
	Synonyms []string `json:"synonyms"`
}

// SynonymPoint is one indexed synonym of a tag.
type SynonymPoint struct {
	ID           string
	Vector       []float32
	TagID        string
	Alias        string
	OriginalName string
}

// Payload returns the point payload as stored in the index.
func (p SynonymPoint) Payload() map[string]string {
	return map[string]string{
		FieldTagID:        p.TagID,
		FieldAlias:        p.Alias,
		FieldOriginalName: p.OriginalName,
		FieldType:         PointType,
	}
}

// Name is the grouping key of a hit: the alias, or the synonym when the alias is absent.
func (p SynonymPoint) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.OriginalName
}

// Score is a named similarity, or a decayed aggregate in consensus mode.
type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Region is a contiguous span of the source with the tags that matched it.
// StartIndex and EndIndex are rune offsets into the source, EndIndex exclusive.
type Region struct {
	Content    string  `json:"content"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	TagScores  []Score `json:"tag_scores"`
}

// KeywordCandidate is a proposed keyword and its similarity to the whole document.
type KeywordCandidate struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Page is one page of learned tags.
type Page struct {
	Tags       []Tag
	NextCursor string
}

// SearchHit is one nearest-neighbour result with its cosine similarity.
type SearchHit struct {
	Point SynonymPoint
	Score float64
}

// ScrollPage is one page of stored synonym points. NextCursor is empty at the end.
type ScrollPage struct {
	Points     []SynonymPoint
	NextCursor string
}
