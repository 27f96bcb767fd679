// Package normalizers canonicalizes raw mention strings before matching
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_punctuation", RemovePunctuation)
	Register("fold_diacritics", FoldDiacritics)
	Register("person", NormalizePerson)
	Register("place", NormalizePlace)
	Register("org", NormalizeOrg)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// ForType returns the normalizer for an entity type. Unknown types fall back
// to the generic lowercase/punctuation/whitespace pipeline.
func ForType(entityType string) Normalizer {
	if fn, ok := Get(entityType); ok {
		return fn
	}
	return normalizeBasic
}

// Normalize canonicalizes a raw mention string for the given entity type.
// Deterministic and pure. An empty result means the mention carried no usable
// name content; callers log the original text and skip candidate generation.
func Normalize(raw, entityType string) string {
	return ForType(entityType)(raw)
}

// Tokens splits a normalized string into its name tokens
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemovePunctuation replaces punctuation with spaces and collapses runs of
// whitespace to a single space
func RemovePunctuation(s string) string {
	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			result.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(result.String())
}

// FoldDiacritics strips combining marks so "José" matches "Jose"
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// normalizeBasic is the shared tail of every entity-type pipeline
func normalizeBasic(s string) string {
	return RemovePunctuation(Lowercase(FoldDiacritics(s)))
}
