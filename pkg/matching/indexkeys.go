package matching

import (
	"strings"

	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// BuildIndexRow derives the blocking keys for an entity from its canonical
// name: normalized form, name tokens, and phonetic codes over the
// space-stripped name.
func BuildIndexRow(e *models.Entity) *models.EntityMatchIndex {
	scorer := NewScorer()
	normalized := e.NormalizedName
	if normalized == "" {
		normalized = normalizers.Normalize(e.CanonicalName, e.EntityType)
	}
	tokens := normalizers.Tokens(normalized)

	row := &models.EntityMatchIndex{
		TenantID:   e.TenantID,
		EntityID:   e.ID,
		CorpusID:   e.CorpusID,
		EntityType: e.EntityType,
		Normalized: normalized,
		Tokens:     pq.StringArray(tokens),
	}
	if len(tokens) > 0 {
		first := tokens[0]
		last := tokens[len(tokens)-1]
		row.FirstToken = &first
		row.LastToken = &last
	}

	joined := strings.ReplaceAll(normalized, " ", "")
	if joined != "" {
		soundex := scorer.Soundex(joined)
		metaphone := scorer.Metaphone(joined)
		row.Soundex = &soundex
		row.Metaphone = &metaphone
	}

	return row
}
