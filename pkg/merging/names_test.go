package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectCanonicalName(t *testing.T) {
	t.Run("more tokens wins", func(t *testing.T) {
		assert.Equal(t, "Jane Marie Smith", SelectCanonicalName([]string{"Jane Smith", "Jane Marie Smith", "J. Smith"}))
	})

	t.Run("casing beats lowercase at equal token count", func(t *testing.T) {
		assert.Equal(t, "Jane Smith", SelectCanonicalName([]string{"jane smith", "Jane Smith"}))
	})

	t.Run("diacritics beat plain ascii", func(t *testing.T) {
		assert.Equal(t, "José García", SelectCanonicalName([]string{"Jose Garcia", "José García"}))
	})

	t.Run("length then lexicographic tie break", func(t *testing.T) {
		assert.Equal(t, "Smithson", SelectCanonicalName([]string{"Smith", "Smithson"}))
		assert.Equal(t, "Alpha", SelectCanonicalName([]string{"Bravo", "Alpha"}))
	})

	t.Run("blank candidates are skipped", func(t *testing.T) {
		assert.Equal(t, "Acme", SelectCanonicalName([]string{"", "   ", "Acme"}))
		assert.Equal(t, "", SelectCanonicalName(nil))
	})
}
