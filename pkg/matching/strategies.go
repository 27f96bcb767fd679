package matching

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Base signals for the five match strategies
const (
	exactSignal    = 0.95
	initialSignal  = 0.70
	phoneticSignal = 0.60
	editBaseSignal = 0.80
	editPenalty    = 0.10
)

// strategyWeights are the fixed weights used when averaging strategy signals
var strategyWeights = map[models.MatchStrategy]float64{
	models.MatchStrategyExact:    3.0,
	models.MatchStrategyJaccard:  2.0,
	models.MatchStrategyInitial:  1.5,
	models.MatchStrategyEdit:     1.0,
	models.MatchStrategyPhonetic: 0.5,
}

// thresholds parameterize the strategies so candidate generation can tighten
// them and retry when a mention overflows the candidate limit
type thresholds struct {
	JaccardFloor    float64
	MaxEditDistance int
	PhoneticEnabled bool
}

func defaultThresholds() thresholds {
	return thresholds{
		JaccardFloor:    0.5,
		MaxEditDistance: 2,
		PhoneticEnabled: true,
	}
}

// tightened raises the similarity bars for the overflow retry
func (t thresholds) tightened() thresholds {
	return thresholds{
		JaccardFloor:    0.75,
		MaxEditDistance: 1,
		PhoneticEnabled: false,
	}
}

// name holds the precomputed comparison keys for one side of a pair
type name struct {
	Normalized string
	Tokens     []string
}

func newName(normalized string) name {
	return name{Normalized: normalized, Tokens: strings.Fields(normalized)}
}

// Signals runs all five strategies against a pair of normalized names. Each
// strategy is a pure function; any one producing a non-zero signal contributes
// to the result, so the strategies are not mutually exclusive.
func (s *Scorer) Signals(a, b name, th thresholds, minEditLength int) []models.StrategySignal {
	signals := make([]models.StrategySignal, 0, 3)

	if sig, ok := s.exactStrategy(a, b); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.jaccardStrategy(a, b, th.JaccardFloor); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.initialStrategy(a, b); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.editStrategy(a, b, th.MaxEditDistance, minEditLength); ok {
		signals = append(signals, sig)
	}
	if th.PhoneticEnabled {
		if sig, ok := s.phoneticStrategy(a, b); ok {
			signals = append(signals, sig)
		}
	}

	return signals
}

// exactStrategy fires when the normalized strings are equal
func (s *Scorer) exactStrategy(a, b name) (models.StrategySignal, bool) {
	if a.Normalized == "" || a.Normalized != b.Normalized {
		return models.StrategySignal{}, false
	}
	return models.StrategySignal{
		Strategy:  models.MatchStrategyExact,
		Signal:    exactSignal,
		Rationale: fmt.Sprintf("normalized names are identical: %q", a.Normalized),
	}, true
}

// jaccardStrategy fires when token overlap exceeds the floor; the signal is
// the Jaccard value itself
func (s *Scorer) jaccardStrategy(a, b name, floor float64) (models.StrategySignal, bool) {
	j := s.Jaccard(a.Tokens, b.Tokens)
	if j <= floor {
		return models.StrategySignal{}, false
	}
	return models.StrategySignal{
		Strategy:  models.MatchStrategyJaccard,
		Signal:    j,
		Rationale: fmt.Sprintf("token overlap %.2f between %q and %q", j, a.Normalized, b.Normalized),
	}, true
}

// initialStrategy fires when the last tokens match exactly and one side's
// first token is a single-letter prefix of the other's ("j smith" / "john smith")
func (s *Scorer) initialStrategy(a, b name) (models.StrategySignal, bool) {
	if len(a.Tokens) < 2 || len(b.Tokens) < 2 {
		return models.StrategySignal{}, false
	}
	if a.Tokens[len(a.Tokens)-1] != b.Tokens[len(b.Tokens)-1] {
		return models.StrategySignal{}, false
	}

	aFirst, bFirst := a.Tokens[0], b.Tokens[0]
	if !initialMatches(aFirst, bFirst) && !initialMatches(bFirst, aFirst) {
		return models.StrategySignal{}, false
	}

	return models.StrategySignal{
		Strategy:  models.MatchStrategyInitial,
		Signal:    initialSignal,
		Rationale: fmt.Sprintf("same last name with initial: %q vs %q", a.Normalized, b.Normalized),
	}, true
}

// initialMatches reports whether short is a single-letter prefix of full
func initialMatches(short, full string) bool {
	return len(short) == 1 && len(full) > 1 && short[0] == full[0]
}

// editStrategy fires when Levenshtein distance is within maxDist for names
// longer than minLength characters; distance reduces the signal linearly
func (s *Scorer) editStrategy(a, b name, maxDist, minLength int) (models.StrategySignal, bool) {
	if len(a.Normalized) <= minLength || len(b.Normalized) <= minLength {
		return models.StrategySignal{}, false
	}
	dist := s.LevenshteinDistance(a.Normalized, b.Normalized)
	if dist == 0 || dist > maxDist {
		return models.StrategySignal{}, false
	}
	return models.StrategySignal{
		Strategy:  models.MatchStrategyEdit,
		Signal:    editBaseSignal - float64(dist)*editPenalty,
		Rationale: fmt.Sprintf("edit distance %d between %q and %q", dist, a.Normalized, b.Normalized),
	}, true
}

// phoneticStrategy fires when Soundex or Metaphone codes agree; it exists for
// OCR noise and transliteration variants
func (s *Scorer) phoneticStrategy(a, b name) (models.StrategySignal, bool) {
	if a.Normalized == "" || b.Normalized == "" || a.Normalized == b.Normalized {
		return models.StrategySignal{}, false
	}

	aKey := strings.ReplaceAll(a.Normalized, " ", "")
	bKey := strings.ReplaceAll(b.Normalized, " ", "")

	var via string
	switch {
	case s.Soundex(aKey) == s.Soundex(bKey):
		via = "soundex"
	case s.Metaphone(aKey) == s.Metaphone(bKey):
		via = "metaphone"
	default:
		return models.StrategySignal{}, false
	}

	return models.StrategySignal{
		Strategy:  models.MatchStrategyPhonetic,
		Signal:    phoneticSignal,
		Rationale: fmt.Sprintf("%s codes agree for %q and %q", via, a.Normalized, b.Normalized),
	}, true
}

// WeightedSignalScore averages the signals using the fixed strategy weights,
// normalized by the total weight of the signals present
func WeightedSignalScore(signals []models.StrategySignal) float64 {
	if len(signals) == 0 {
		return 0.0
	}

	var totalWeight float64
	var weightedSum float64
	for _, sig := range signals {
		weight := strategyWeights[sig.Strategy]
		weightedSum += sig.Signal * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}
