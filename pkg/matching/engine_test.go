package matching

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeIndex struct {
	rows []models.EntityMatchIndex
}

func (f *fakeIndex) FindCandidates(ctx context.Context, tenantID string, excludeEntityID *string, query models.CandidateQuery) ([]models.EntityMatchIndex, error) {
	out := make([]models.EntityMatchIndex, 0, len(f.rows))
	for _, row := range f.rows {
		if excludeEntityID != nil && row.EntityID == *excludeEntityID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type fakeAliases struct {
	byEntity map[string][]models.EntityAlias
}

func (f *fakeAliases) ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.EntityAlias, error) {
	return f.byEntity[entityID], nil
}

func newTestEngine(rows []models.EntityMatchIndex, aliases map[string][]models.EntityAlias, cfg EngineConfig) *Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewEngine(logger, &fakeIndex{rows: rows}, &fakeAliases{byEntity: aliases}, cfg)
}

func indexRow(entityID, entityType, normalized string) models.EntityMatchIndex {
	return models.EntityMatchIndex{
		ID:         "idx-" + entityID,
		TenantID:   "t1",
		EntityID:   entityID,
		CorpusID:   "c1",
		EntityType: entityType,
		Normalized: normalized,
	}
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestFindCandidates_ExactMatch(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{indexRow("e1", "person", "john smith")},
		map[string][]models.EntityAlias{},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "john smith", MentionContext{
		Text:       "John Smith",
		EntityType: "person",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "e1", c.EntityID)
	// exact (0.95, weight 3) and full token overlap (1.0, weight 2)
	assert.InDelta(t, 0.97, c.Score, 1e-9)
	assert.Equal(t, models.DecisionAutoMerge, c.Decision)
	assert.True(t, c.Evidence.TypeMatch)
	assert.False(t, c.Evidence.TypesDeclared, "mention types are inferred, not declared")
}

func TestFindCandidates_InitialWithCoOccurrence(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{indexRow("e1", "person", "john smith")},
		map[string][]models.EntityAlias{
			"e1": {{EntityID: "e1", Alias: "John Smith", SourceDoc: "doc-7"}},
		},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "j smith", MentionContext{
		Text:        "J. Smith",
		EntityType:  "person",
		SourceDocID: "doc-7",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	// base 0.70 from the initial strategy, +0.10 co-occurrence
	assert.InDelta(t, 0.80, c.Score, 1e-9)
	assert.Equal(t, models.DecisionSuggestMerge, c.Decision)
	assert.True(t, c.Evidence.CoOccurrence)
	assert.Equal(t, []string{"doc-7"}, c.Evidence.SharedDocuments)
}

func TestFindCandidates_SameSentencePenalty(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{indexRow("e1", "person", "john smith")},
		map[string][]models.EntityAlias{
			"e1": {{EntityID: "e1", Alias: "John Smith", SourceDoc: "doc-7", SentenceIndex: intPtr(3)}},
		},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "j smith", MentionContext{
		Text:          "J. Smith",
		EntityType:    "person",
		SourceDocID:   "doc-7",
		SentenceIndex: intPtr(3),
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	// 0.70 +0.10 co-occurrence -0.20 distinct references in one sentence
	assert.InDelta(t, 0.60, c.Score, 1e-9)
	assert.Equal(t, models.DecisionSuggestMerge, c.Decision)
	assert.True(t, c.Evidence.SameSentence)
}

func TestFindCandidates_SharedRoleBoost(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{indexRow("e1", "person", "john smith")},
		map[string][]models.EntityAlias{
			"e1": {{EntityID: "e1", Alias: "John Smith", SourceDoc: "doc-1", Role: strPtr("defendant")}},
		},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "j smith", MentionContext{
		Text:       "J. Smith",
		EntityType: "person",
		Role:       strPtr("defendant"),
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// 0.70 +0.15 shared role, no co-occurrence (different documents)
	c := candidates[0]
	assert.InDelta(t, 0.85, c.Score, 1e-9)
	assert.False(t, c.Evidence.CoOccurrence)
	require.NotNil(t, c.Evidence.SharedRole)
	assert.Equal(t, "defendant", *c.Evidence.SharedRole)
}

func TestFindCandidates_CrossTypeNeverAutoMerges(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{indexRow("e1", "org", "jordan")},
		map[string][]models.EntityAlias{},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "jordan", MentionContext{
		Text:       "Jordan",
		EntityType: "place",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	// exact + jaccard base 0.97, -0.15 type mismatch
	assert.InDelta(t, 0.82, c.Score, 1e-9)
	assert.Equal(t, models.DecisionSuggestMerge, c.Decision)
	assert.False(t, c.Evidence.TypeMatch)
}

func TestFindCandidates_EmptyNormalization(t *testing.T) {
	engine := newTestEngine(nil, map[string][]models.EntityAlias{}, DefaultConfig())

	_, err := engine.FindCandidates(context.Background(), "t1", "c1", "", MentionContext{EntityType: "person"})
	assert.ErrorIs(t, err, ErrEmptyNormalization)
}

func TestFindCandidates_OverflowTightensAndRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateLimit = 2

	rows := []models.EntityMatchIndex{
		indexRow("e1", "person", "catherine"),
		// These two match only phonetically and drop out when thresholds
		// tighten.
		indexRow("e2", "person", "kathryn"),
		indexRow("e3", "person", "kathrin"),
	}

	engine := newTestEngine(rows, map[string][]models.EntityAlias{}, cfg)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "catherine", MentionContext{
		Text:       "Catherine",
		EntityType: "person",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "e1", candidates[0].EntityID)
}

func TestFindCandidates_OverflowAfterRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateLimit = 2

	rows := []models.EntityMatchIndex{
		indexRow("e1", "person", "catherine"),
		indexRow("e2", "person", "catherine"),
		indexRow("e3", "person", "catherine"),
	}

	engine := newTestEngine(rows, map[string][]models.EntityAlias{}, cfg)

	_, err := engine.FindCandidates(context.Background(), "t1", "c1", "catherine", MentionContext{
		Text:       "Catherine",
		EntityType: "person",
	})
	assert.ErrorIs(t, err, ErrCandidateOverflow)
}

func TestFindCandidates_SortedByScore(t *testing.T) {
	engine := newTestEngine(
		[]models.EntityMatchIndex{
			indexRow("weak", "person", "j smith"),
			indexRow("strong", "person", "john smith"),
		},
		map[string][]models.EntityAlias{},
		DefaultConfig(),
	)

	candidates, err := engine.FindCandidates(context.Background(), "t1", "c1", "john smith", MentionContext{
		Text:       "John Smith",
		EntityType: "person",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "strong", candidates[0].EntityID)
	assert.Equal(t, "weak", candidates[1].EntityID)
}

func TestScoreEntityPair(t *testing.T) {
	aliases := map[string][]models.EntityAlias{
		"a": {{EntityID: "a", Alias: "Acme Global", SourceDoc: "doc-1"}},
		"b": {{EntityID: "b", Alias: "Acme Global Holdings", SourceDoc: "doc-1"}},
	}
	engine := newTestEngine(nil, aliases, DefaultConfig())

	t.Run("scores a matching pair", func(t *testing.T) {
		pair, err := engine.ScoreEntityPair(context.Background(), "t1",
			indexRow("a", "org", "acme global"),
			indexRow("b", "org", "acme global"),
		)
		require.NoError(t, err)
		require.NotNil(t, pair)
		assert.Equal(t, "a", pair.EntityAID)
		assert.Equal(t, "b", pair.EntityBID)
		// exact + jaccard base 0.97, +0.10 co-occurrence, +0.10 declared
		// type match, clamped to 1.0
		assert.Equal(t, 1.0, pair.Confidence)
		assert.True(t, pair.Evidence.TypesDeclared)
	})

	t.Run("returns nil for unrelated names", func(t *testing.T) {
		pair, err := engine.ScoreEntityPair(context.Background(), "t1",
			indexRow("a", "org", "acme global"),
			indexRow("b", "org", "initech"),
		)
		require.NoError(t, err)
		assert.Nil(t, pair)
	})
}

func TestApplyAdjustments_RoundsToBoundary(t *testing.T) {
	// 0.70 + 0.10 - 0.20 accumulates to 0.5999... in floats; the rounded
	// result must sit exactly on the suggest boundary
	score := applyAdjustments(models.MatchEvidence{
		BaseScore:    0.70,
		CoOccurrence: true,
		SameSentence: true,
		TypeMatch:    true,
	})
	assert.Equal(t, 0.60, score)

	// clamping still applies after rounding
	assert.Equal(t, 1.0, applyAdjustments(models.MatchEvidence{
		BaseScore:     0.95,
		CoOccurrence:  true,
		TypeMatch:     true,
		TypesDeclared: true,
	}))
	assert.Equal(t, 0.0, applyAdjustments(models.MatchEvidence{
		BaseScore:    0.10,
		SameSentence: true,
		TypeMatch:    true,
	}))
}

func TestClassify(t *testing.T) {
	engine := newTestEngine(nil, nil, DefaultConfig())

	assert.Equal(t, models.DecisionAutoMerge, engine.Classify(0.85, true))
	assert.Equal(t, models.DecisionSuggestMerge, engine.Classify(0.85, false))
	assert.Equal(t, models.DecisionSuggestMerge, engine.Classify(0.60, true))
	assert.Equal(t, models.DecisionNoMerge, engine.Classify(0.59, true))
}
