package normalizers

import "strings"

// corporate suffixes stripped from the end of organization names
var orgSuffixes = map[string]bool{
	"inc":          true,
	"llc":          true,
	"llp":          true,
	"ltd":          true,
	"plc":          true,
	"corp":         true,
	"co":           true,
	"company":      true,
	"corporation":  true,
	"incorporated": true,
	"gmbh":         true,
	"sa":           true,
	"holdings":     true,
	"group":        true,
}

// brandStems collapses known brand variants to a shared stem. The table is
// configurable at startup via RegisterBrandStem; these defaults cover the
// variants seen most often in ingested corpora.
var brandStems = map[string]string{
	"jpmorgan":        "jp morgan",
	"jpmorgan chase":  "jp morgan",
	"jp morgan chase": "jp morgan",
	"exxonmobil":      "exxon mobil",
	"walmart stores":  "walmart",
	"wal mart":        "walmart",
}

// RegisterBrandStem maps an organization name variant to its shared stem.
// Both sides are normalized before the table is consulted, so callers can
// pass display forms.
func RegisterBrandStem(variant, stem string) {
	brandStems[normalizeOrgName(variant)] = normalizeOrgName(stem)
}

// NormalizeOrg canonicalizes an organization name: lowercase, fold
// diacritics, strip punctuation, strip corporate suffixes, then collapse
// known brand variants to their shared stem.
func NormalizeOrg(s string) string {
	s = normalizeOrgName(s)
	if stem, ok := brandStems[s]; ok {
		return stem
	}
	return s
}

func normalizeOrgName(s string) string {
	s = normalizeBasic(s)

	tokens := strings.Fields(s)
	for len(tokens) > 1 && orgSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}
