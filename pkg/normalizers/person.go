package normalizers

import "strings"

// honorifics stripped from the front of person names
var personTitles = map[string]bool{
	"dr":   true,
	"mr":   true,
	"mrs":  true,
	"ms":   true,
	"prof": true,
	"hon":  true,
	"sen":  true,
	"rep":  true,
}

// generational and academic suffixes stripped from the end of person names
var personSuffixes = map[string]bool{
	"jr":  true,
	"sr":  true,
	"ii":  true,
	"iii": true,
	"iv":  true,
	"esq": true,
	"phd": true,
	"md":  true,
}

// NormalizePerson canonicalizes a person name for matching:
// lowercase, fold diacritics, strip punctuation, strip honorific titles and
// generational/academic suffixes, rewrite "Last, First" to "First Last",
// collapse whitespace.
func NormalizePerson(s string) string {
	s = FoldDiacritics(s)
	s = strings.ToLower(s)

	// "Last, First" -> "First Last". Only a single comma is treated as a
	// name inversion; a comma-delimited suffix ("Smith, Jr.", "Jane Smith,
	// PhD") is not an inversion, it gets dropped with the other suffixes.
	if idx := strings.Index(s, ","); idx >= 0 && strings.Count(s, ",") == 1 {
		head := strings.TrimSpace(s[:idx])
		tail := strings.TrimSpace(s[idx+1:])
		if head != "" && tail != "" {
			if personSuffixes[RemovePunctuation(tail)] {
				s = head
			} else {
				s = tail + " " + head
			}
		}
	}

	s = RemovePunctuation(s)

	tokens := strings.Fields(s)
	for len(tokens) > 1 && personTitles[tokens[0]] {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && personSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}
