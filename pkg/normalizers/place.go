package normalizers

import "strings"

// single-token expansions applied to place names after punctuation removal
var placeExpansions = map[string]string{
	"st": "saint",
	"mt": "mount",
	"ft": "fort",

	// common US state codes
	"ny": "new york",
	"ca": "california",
	"tx": "texas",
	"fl": "florida",
	"il": "illinois",
	"pa": "pennsylvania",
	"ma": "massachusetts",
	"wa": "washington",
	"va": "virginia",
	"nc": "north carolina",
	"sc": "south carolina",
	"nj": "new jersey",
	"dc": "district of columbia",
}

// multi-token sequences expanded after single-token expansion
var placeSequences = [][2]string{
	{"n y c", "new york city"},
	{"n y", "new york"},
	{"l a", "los angeles"},
	{"s f", "san francisco"},
}

// NormalizePlace canonicalizes a place name: lowercase, fold diacritics,
// strip punctuation, then expand common abbreviations ("St." to "Saint",
// "N.Y." to "New York", state codes). The original string is still recorded
// as an alias so the abbreviation is never lost.
func NormalizePlace(s string) string {
	s = normalizeBasic(s)

	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if full, ok := placeExpansions[tok]; ok {
			tokens[i] = full
		}
	}
	s = strings.Join(tokens, " ")

	for _, seq := range placeSequences {
		if s == seq[0] {
			s = seq[1]
			break
		}
		s = strings.ReplaceAll(s, seq[0]+" ", seq[1]+" ")
		s = strings.ReplaceAll(s, " "+seq[0], " "+seq[1])
	}

	return s
}
