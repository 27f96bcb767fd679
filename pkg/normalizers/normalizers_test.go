package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePerson(t *testing.T) {
	t.Run("strips honorifics and suffixes", func(t *testing.T) {
		assert.Equal(t, "jane smith", NormalizePerson("Dr. Jane Smith"))
		assert.Equal(t, "john smith", NormalizePerson("John Smith Jr."))
		assert.Equal(t, "jane smith", NormalizePerson("Prof. Jane Smith, PhD"))
	})

	t.Run("comma-delimited suffix is not an inversion", func(t *testing.T) {
		assert.Equal(t, "john smith", NormalizePerson("John Smith, MD"))
		assert.Equal(t, "smith", NormalizePerson("Smith, Jr."))
	})

	t.Run("rewrites last-comma-first", func(t *testing.T) {
		assert.Equal(t, "jane smith", NormalizePerson("Smith, Jane"))
		assert.Equal(t, "jane smith", NormalizePerson("Smith, Dr. Jane"))
	})

	t.Run("folds diacritics", func(t *testing.T) {
		assert.Equal(t, "jose garcia", NormalizePerson("José García"))
	})

	t.Run("keeps a lone title token", func(t *testing.T) {
		// Degenerate input; stripping must never produce an empty string
		// when tokens remain.
		assert.Equal(t, "dr", NormalizePerson("Dr."))
	})

	t.Run("collapses whitespace and punctuation", func(t *testing.T) {
		assert.Equal(t, "jane smith", NormalizePerson("  Jane   Smith  "))
		assert.Equal(t, "j r r tolkien", NormalizePerson("J.R.R. Tolkien"))
	})
}

func TestNormalizePlace(t *testing.T) {
	t.Run("expands saint and mount", func(t *testing.T) {
		assert.Equal(t, "saint louis", NormalizePlace("St. Louis"))
		assert.Equal(t, "mount vernon", NormalizePlace("Mt. Vernon"))
	})

	t.Run("expands state codes", func(t *testing.T) {
		assert.Equal(t, "new york", NormalizePlace("NY"))
		assert.Equal(t, "springfield illinois", NormalizePlace("Springfield, IL"))
	})

	t.Run("expands initialisms", func(t *testing.T) {
		assert.Equal(t, "new york city", NormalizePlace("N.Y.C."))
		assert.Equal(t, "los angeles", NormalizePlace("L.A."))
	})

	t.Run("plain names pass through", func(t *testing.T) {
		assert.Equal(t, "chicago", NormalizePlace("Chicago"))
	})
}

func TestNormalizeOrg(t *testing.T) {
	t.Run("strips corporate suffixes", func(t *testing.T) {
		assert.Equal(t, "acme", NormalizeOrg("Acme Inc."))
		assert.Equal(t, "acme", NormalizeOrg("ACME Corporation"))
		assert.Equal(t, "initech", NormalizeOrg("Initech, LLC"))
	})

	t.Run("strips stacked suffixes", func(t *testing.T) {
		assert.Equal(t, "acme", NormalizeOrg("Acme Holdings Inc"))
	})

	t.Run("collapses brand variants", func(t *testing.T) {
		assert.Equal(t, "jp morgan", NormalizeOrg("JPMorgan Chase & Co."))
		assert.Equal(t, "jp morgan", NormalizeOrg("JPMorgan"))
		assert.Equal(t, "exxon mobil", NormalizeOrg("ExxonMobil"))
	})

	t.Run("suffix-only names keep the last token", func(t *testing.T) {
		assert.Equal(t, "company", NormalizeOrg("Company"))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("dispatches by entity type", func(t *testing.T) {
		assert.Equal(t, "jane smith", Normalize("Dr. Jane Smith", "person"))
		assert.Equal(t, "saint louis", Normalize("St. Louis", "place"))
		assert.Equal(t, "acme", Normalize("Acme Inc.", "org"))
	})

	t.Run("unknown types use the basic pipeline", func(t *testing.T) {
		assert.Equal(t, "some event", Normalize("Some: Event!", "event"))
	})

	t.Run("content-free input normalizes to empty", func(t *testing.T) {
		assert.Equal(t, "", Normalize("???", "person"))
		assert.Equal(t, "", Normalize("  ", "org"))
	})
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"jane", "smith"}, Tokens("jane smith"))
	assert.Empty(t, Tokens(""))
}

func TestApplyChain(t *testing.T) {
	got := ApplyChain("  José's Café  ", "fold_diacritics", "lowercase", "remove_punctuation")
	assert.Equal(t, "jose s cafe", got)
}

func TestRegister(t *testing.T) {
	Register("upper_test", func(s string) string { return "X" + s })
	fn, ok := Get("upper_test")
	assert.True(t, ok)
	assert.Equal(t, "Xabc", fn("abc"))

	// Unknown normalizers leave the value untouched.
	assert.Equal(t, "abc", Apply("abc", "nope"))
}
