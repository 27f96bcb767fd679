package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMention(t *testing.T) {
	idx := 3

	t.Run("deterministic", func(t *testing.T) {
		a := Mention("c1", "person", "Jane Smith", "doc-1", &idx)
		b := Mention("c1", "person", "Jane Smith", "doc-1", &idx)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("sentence position changes the identity", func(t *testing.T) {
		other := 4
		a := Mention("c1", "person", "Jane Smith", "doc-1", &idx)
		b := Mention("c1", "person", "Jane Smith", "doc-1", &other)
		assert.NotEqual(t, a, b)
	})

	t.Run("missing sentence index is not index zero", func(t *testing.T) {
		zero := 0
		a := Mention("c1", "person", "Jane Smith", "doc-1", nil)
		b := Mention("c1", "person", "Jane Smith", "doc-1", &zero)
		assert.NotEqual(t, a, b)
	})

	t.Run("every field is load bearing", func(t *testing.T) {
		base := Mention("c1", "person", "Jane Smith", "doc-1", nil)
		assert.NotEqual(t, base, Mention("c2", "person", "Jane Smith", "doc-1", nil))
		assert.NotEqual(t, base, Mention("c1", "org", "Jane Smith", "doc-1", nil))
		assert.NotEqual(t, base, Mention("c1", "person", "Jane Smyth", "doc-1", nil))
		assert.NotEqual(t, base, Mention("c1", "person", "Jane Smith", "doc-2", nil))
	})
}

func TestGenerate(t *testing.T) {
	t.Run("key order does not matter", func(t *testing.T) {
		a := Generate(map[string]any{"a": "1", "b": "2", "c": "3"})
		b := Generate(map[string]any{"c": "3", "a": "1", "b": "2"})
		assert.Equal(t, a, b)
	})

	t.Run("nested structures canonicalize recursively", func(t *testing.T) {
		a := Generate(map[string]any{"outer": map[string]any{"x": 1.0, "y": []any{"p", "q"}}})
		b := Generate(map[string]any{"outer": map[string]any{"y": []any{"p", "q"}, "x": 1.0}})
		assert.Equal(t, a, b)
	})

	t.Run("array order matters", func(t *testing.T) {
		a := Generate(map[string]any{"items": []any{"p", "q"}})
		b := Generate(map[string]any{"items": []any{"q", "p"}})
		assert.NotEqual(t, a, b)
	})
}

func TestGenerateFromJSON(t *testing.T) {
	t.Run("matches map input", func(t *testing.T) {
		fromJSON, err := GenerateFromJSON(json.RawMessage(`{"b":"2","a":"1"}`))
		require.NoError(t, err)
		assert.Equal(t, Generate(map[string]any{"a": "1", "b": "2"}), fromJSON)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := GenerateFromJSON(json.RawMessage(`not json`))
		require.Error(t, err)
	})
}
