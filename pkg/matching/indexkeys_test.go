package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestBuildIndexRow(t *testing.T) {
	t.Run("uses the stored normalized name", func(t *testing.T) {
		row := BuildIndexRow(&models.Entity{
			ID:             "e1",
			TenantID:       "t1",
			CorpusID:       "c1",
			EntityType:     "person",
			CanonicalName:  "Dr. Jane Smith",
			NormalizedName: "jane smith",
		})

		assert.Equal(t, "jane smith", row.Normalized)
		assert.Equal(t, []string{"jane", "smith"}, []string(row.Tokens))
		require.NotNil(t, row.FirstToken)
		assert.Equal(t, "jane", *row.FirstToken)
		require.NotNil(t, row.LastToken)
		assert.Equal(t, "smith", *row.LastToken)
		require.NotNil(t, row.Soundex)
		require.NotNil(t, row.Metaphone)
	})

	t.Run("derives normalization when missing", func(t *testing.T) {
		row := BuildIndexRow(&models.Entity{
			ID:            "e2",
			TenantID:      "t1",
			CorpusID:      "c1",
			EntityType:    "org",
			CanonicalName: "Acme Inc.",
		})

		assert.Equal(t, "acme", row.Normalized)
	})

	t.Run("phonetic codes span token boundaries", func(t *testing.T) {
		a := BuildIndexRow(&models.Entity{EntityType: "person", NormalizedName: "john smith"})
		b := BuildIndexRow(&models.Entity{EntityType: "person", NormalizedName: "johnsmith"})
		assert.Equal(t, *a.Soundex, *b.Soundex)
		assert.Equal(t, *a.Metaphone, *b.Metaphone)
	})

	t.Run("empty name produces no keys", func(t *testing.T) {
		row := BuildIndexRow(&models.Entity{EntityType: "person", CanonicalName: "???"})
		assert.Empty(t, row.Normalized)
		assert.Nil(t, row.FirstToken)
		assert.Nil(t, row.Soundex)
	})
}
