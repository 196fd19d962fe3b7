package point

import (
	"github.com/vekku/brain/internal/db"
	"github.com/vekku/brain/internal/domain/tag"
)

// buildIndex defines the synonym point index: payload TAG fields plus a cosine vector,
// HNSW unless cfg asks for FLAT.
func buildIndex(name, prefix string, cfg Config) (*db.IndexDefinition, error) {
	b := db.NewIndex(name).
		Prefix(prefix).
		CaseSensitiveTag(tag.FieldTagID).
		CaseSensitiveTag(tag.FieldAlias).
		Tag(tag.FieldType)
	if cfg.Flat {
		b.VectorFlat(vectorField, "vector", cfg.Dimensions, db.DistanceCosine)
	} else {
		b.VectorHNSW(vectorField, "vector", cfg.Dimensions, db.DistanceCosine, cfg.HNSW.M, cfg.HNSW.EFConstruct)
	}
	return b.Build()
}
