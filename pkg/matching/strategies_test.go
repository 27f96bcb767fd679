package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func signalFor(signals []models.StrategySignal, strategy models.MatchStrategy) (models.StrategySignal, bool) {
	for _, sig := range signals {
		if sig.Strategy == strategy {
			return sig, true
		}
	}
	return models.StrategySignal{}, false
}

func TestSignals_Exact(t *testing.T) {
	s := NewScorer()

	signals := s.Signals(newName("john smith"), newName("john smith"), defaultThresholds(), 8)

	sig, ok := signalFor(signals, models.MatchStrategyExact)
	require.True(t, ok)
	assert.Equal(t, 0.95, sig.Signal)

	// Identical names also overlap fully on tokens; the strategies are
	// independent and both contribute.
	sig, ok = signalFor(signals, models.MatchStrategyJaccard)
	require.True(t, ok)
	assert.Equal(t, 1.0, sig.Signal)

	_, ok = signalFor(signals, models.MatchStrategyPhonetic)
	assert.False(t, ok, "phonetic never fires on identical names")
}

func TestSignals_Jaccard(t *testing.T) {
	s := NewScorer()

	t.Run("fires above the floor", func(t *testing.T) {
		signals := s.Signals(newName("acme global holdings"), newName("acme global"), defaultThresholds(), 8)
		sig, ok := signalFor(signals, models.MatchStrategyJaccard)
		require.True(t, ok)
		assert.InDelta(t, 2.0/3.0, sig.Signal, 1e-9)
	})

	t.Run("does not fire at or below the floor", func(t *testing.T) {
		// 1 shared of 3 unique tokens = 0.33
		signals := s.Signals(newName("j smith"), newName("john smith"), defaultThresholds(), 8)
		_, ok := signalFor(signals, models.MatchStrategyJaccard)
		assert.False(t, ok)
	})
}

func TestSignals_Initial(t *testing.T) {
	s := NewScorer()

	t.Run("single-letter first token with same last token", func(t *testing.T) {
		signals := s.Signals(newName("j smith"), newName("john smith"), defaultThresholds(), 8)
		sig, ok := signalFor(signals, models.MatchStrategyInitial)
		require.True(t, ok)
		assert.Equal(t, 0.70, sig.Signal)
	})

	t.Run("symmetric", func(t *testing.T) {
		signals := s.Signals(newName("john smith"), newName("j smith"), defaultThresholds(), 8)
		_, ok := signalFor(signals, models.MatchStrategyInitial)
		assert.True(t, ok)
	})

	t.Run("different last token does not fire", func(t *testing.T) {
		signals := s.Signals(newName("j smith"), newName("john jones"), defaultThresholds(), 8)
		_, ok := signalFor(signals, models.MatchStrategyInitial)
		assert.False(t, ok)
	})

	t.Run("full first names do not fire", func(t *testing.T) {
		signals := s.Signals(newName("jane smith"), newName("john smith"), defaultThresholds(), 8)
		_, ok := signalFor(signals, models.MatchStrategyInitial)
		assert.False(t, ok)
	})
}

func TestSignals_Edit(t *testing.T) {
	s := NewScorer()

	t.Run("distance one", func(t *testing.T) {
		signals := s.Signals(newName("jon smithson"), newName("john smithson"), defaultThresholds(), 8)
		sig, ok := signalFor(signals, models.MatchStrategyEdit)
		require.True(t, ok)
		assert.InDelta(t, 0.70, sig.Signal, 1e-9)
	})

	t.Run("distance two", func(t *testing.T) {
		signals := s.Signals(newName("jon smithsen"), newName("john smithson"), defaultThresholds(), 8)
		sig, ok := signalFor(signals, models.MatchStrategyEdit)
		require.True(t, ok)
		assert.InDelta(t, 0.60, sig.Signal, 1e-9)
	})

	t.Run("short names never fire", func(t *testing.T) {
		// Both under the minimum length; "jon"/"john" would otherwise be
		// distance one.
		signals := s.Signals(newName("jon"), newName("john"), defaultThresholds(), 8)
		_, ok := signalFor(signals, models.MatchStrategyEdit)
		assert.False(t, ok)
	})

	t.Run("distance beyond the cap does not fire", func(t *testing.T) {
		signals := s.Signals(newName("jonathan smith"), newName("johnathan smythe"), thresholds{MaxEditDistance: 2}, 8)
		_, ok := signalFor(signals, models.MatchStrategyEdit)
		assert.False(t, ok)
	})
}

func TestSignals_Phonetic(t *testing.T) {
	s := NewScorer()

	t.Run("metaphone agreement", func(t *testing.T) {
		signals := s.Signals(newName("catherine"), newName("kathryn"), defaultThresholds(), 8)
		sig, ok := signalFor(signals, models.MatchStrategyPhonetic)
		require.True(t, ok)
		assert.Equal(t, 0.60, sig.Signal)
	})

	t.Run("disabled by tightened thresholds", func(t *testing.T) {
		signals := s.Signals(newName("catherine"), newName("kathryn"), defaultThresholds().tightened(), 8)
		_, ok := signalFor(signals, models.MatchStrategyPhonetic)
		assert.False(t, ok)
	})
}

func TestWeightedSignalScore(t *testing.T) {
	t.Run("empty signals score zero", func(t *testing.T) {
		assert.Equal(t, 0.0, WeightedSignalScore(nil))
	})

	t.Run("single signal is its own average", func(t *testing.T) {
		score := WeightedSignalScore([]models.StrategySignal{
			{Strategy: models.MatchStrategyInitial, Signal: 0.70},
		})
		assert.InDelta(t, 0.70, score, 1e-9)
	})

	t.Run("weights favor stronger strategies", func(t *testing.T) {
		// exact 0.95 at weight 3 with jaccard 1.0 at weight 2
		score := WeightedSignalScore([]models.StrategySignal{
			{Strategy: models.MatchStrategyExact, Signal: 0.95},
			{Strategy: models.MatchStrategyJaccard, Signal: 1.0},
		})
		assert.InDelta(t, (0.95*3.0+1.0*2.0)/5.0, score, 1e-9)
	})
}

func TestJaccard(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.Jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, s.Jaccard([]string{"a"}, []string{"b"}))
	assert.Equal(t, 0.0, s.Jaccard(nil, nil))
	// intersection {a} over union {a,b,c}
	assert.InDelta(t, 1.0/3.0, s.Jaccard([]string{"a", "b"}, []string{"a", "c"}), 1e-9)

	t.Run("duplicate tokens count once", func(t *testing.T) {
		assert.Equal(t, 1.0, s.Jaccard([]string{"a", "a"}, []string{"a"}))
	})
}

func TestLevenshteinDistance(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0, s.LevenshteinDistance("abc", "abc"))
	assert.Equal(t, 1, s.LevenshteinDistance("jon", "john"))
	assert.Equal(t, 3, s.LevenshteinDistance("", "abc"))
	assert.Equal(t, 2, s.LevenshteinDistance("kitten", "sittin"))
}

func TestSoundex(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, "R163", s.Soundex("Robert"))
	assert.Equal(t, s.Soundex("Robert"), s.Soundex("Rupert"))
	assert.Equal(t, "", s.Soundex(""))
}

func TestMetaphone(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, s.Metaphone("catherine"), s.Metaphone("kathryn"))
	assert.NotEqual(t, s.Metaphone("smith"), s.Metaphone("jones"))
	assert.Equal(t, "", s.Metaphone(""))
}
