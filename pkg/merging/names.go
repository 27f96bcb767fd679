package merging

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// SelectCanonicalName picks the most complete surface form from a set of
// candidate names. More tokens wins, then richer casing and diacritics, then
// length, then lexicographic order for determinism.
func SelectCanonicalName(candidates []string) string {
	best := ""
	bestScore := -1
	for _, candidate := range candidates {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		score := completeness(trimmed)
		if score > bestScore || (score == bestScore && tieBreak(trimmed, best)) {
			best = trimmed
			bestScore = score
		}
	}
	return best
}

// completeness ranks token count above everything, then rewards characters
// that survive normalization poorly: uppercase letters and diacritics mean
// the form is closer to how it appeared in text.
func completeness(name string) int {
	tokens := normalizers.Tokens(normalizers.RemovePunctuation(strings.ToLower(name)))
	score := len(tokens) * 1000

	for _, r := range name {
		if unicode.IsUpper(r) {
			score += 2
		}
		if r > unicode.MaxASCII && unicode.IsLetter(r) {
			score += 3
		}
	}

	return score
}

func tieBreak(candidate, current string) bool {
	if current == "" {
		return true
	}
	if len(candidate) != len(current) {
		return len(candidate) > len(current)
	}
	return candidate < current
}
