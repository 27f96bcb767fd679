// Package matching implements candidate generation and confidence scoring for
// entity resolution. Candidate generation is bounded by a blocking index
// (normalized name, tokens, phonetic codes) so it never degrades to a full
// pairwise scan of the entity store.
package matching

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrEmptyNormalization indicates a mention whose normalized form is empty.
	// The mention is skipped and logged, never silently dropped.
	ErrEmptyNormalization = errors.New("normalization produced an empty string")

	// ErrCandidateOverflow indicates candidate generation exceeded the limit
	// even after tightening thresholds and retrying once
	ErrCandidateOverflow = errors.New("candidate generation overflowed after tightened retry")
)

// CandidateIndex is the blocking-index port used to bound candidate lookups
type CandidateIndex interface {
	FindCandidates(ctx context.Context, tenantID string, excludeEntityID *string, query models.CandidateQuery) ([]models.EntityMatchIndex, error)
}

// AliasReader supplies alias provenance for context adjustments and evidence
type AliasReader interface {
	ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.EntityAlias, error)
}

// EngineConfig contains configuration for the match engine
type EngineConfig struct {
	AutoMergeThreshold float64 // Score at or above which to auto-merge (default: 0.85)
	SuggestThreshold   float64 // Score at or above which to queue for review (default: 0.60)
	CandidateLimit     int     // Maximum candidates per mention before overflow handling (default: 100)
	MinEditLength      int     // Minimum name length for edit-distance matching (default: 8)
}

// DefaultConfig returns default engine configuration
func DefaultConfig() EngineConfig {
	return EngineConfig{
		AutoMergeThreshold: 0.85,
		SuggestThreshold:   0.60,
		CandidateLimit:     100,
		MinEditLength:      8,
	}
}

// Engine generates, scores, and classifies merge candidates
type Engine struct {
	logger  ectologger.Logger
	index   CandidateIndex
	aliases AliasReader
	scorer  *Scorer
	config  EngineConfig
}

// NewEngine creates a new match engine
func NewEngine(logger ectologger.Logger, index CandidateIndex, aliases AliasReader, config EngineConfig) *Engine {
	return &Engine{
		logger:  logger,
		index:   index,
		aliases: aliases,
		scorer:  NewScorer(),
		config:  config,
	}
}

// MentionContext is the provenance of the mention being resolved
type MentionContext struct {
	Text          string
	EntityType    string
	SourceDocID   string
	SentenceIndex *int
	Role          *string
}

// FindCandidates generates scored candidates for a normalized mention. If the
// blocked candidate set exceeds the configured limit, thresholds are tightened
// and generation retried once; a second overflow returns ErrCandidateOverflow
// so the caller can mark the mention unresolved.
func (e *Engine) FindCandidates(ctx context.Context, tenantID, corpusID, normalized string, mc MentionContext) ([]models.ScoredCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindCandidates")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"corpus_id":   corpusID,
		"entity_type": mc.EntityType,
	})

	if normalized == "" {
		return nil, ErrEmptyNormalization
	}

	rows, err := e.blockedRows(ctx, tenantID, corpusID, normalized, nil)
	if err != nil {
		return nil, err
	}

	mentionName := newName(normalized)

	th := defaultThresholds()
	matched := e.applyStrategies(mentionName, rows, th)
	if len(matched) > e.config.CandidateLimit {
		log.WithFields(map[string]any{"candidate_count": len(matched)}).Warn("Candidate overflow, tightening thresholds")
		matched = e.applyStrategies(mentionName, rows, th.tightened())
		if len(matched) > e.config.CandidateLimit {
			return nil, ErrCandidateOverflow
		}
	}

	candidates := make([]models.ScoredCandidate, 0, len(matched))
	for _, m := range matched {
		ev, err := e.buildEvidence(ctx, tenantID, m.row, m.signals, mc)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, models.ScoredCandidate{
			EntityID: m.row.EntityID,
			Score:    ev.FinalScore,
			Decision: e.Classify(ev.FinalScore, ev.TypeMatch),
			Evidence: ev,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	log.WithFields(map[string]any{"candidate_count": len(candidates)}).Debug("Generated candidates")

	return candidates, nil
}

// ScoreEntityPair scores two already-canonical entities against each other,
// used by duplicate detection. Evidence is drawn from both alias sets.
func (e *Engine) ScoreEntityPair(ctx context.Context, tenantID string, a, b models.EntityMatchIndex) (*models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.ScoreEntityPair")
	defer span.End()

	signals := e.scorer.Signals(newName(a.Normalized), newName(b.Normalized), defaultThresholds(), e.config.MinEditLength)
	if len(signals) == 0 {
		return nil, nil
	}

	aAliases, err := e.aliases.ListByEntity(ctx, tenantID, a.EntityID)
	if err != nil {
		return nil, err
	}
	bAliases, err := e.aliases.ListByEntity(ctx, tenantID, b.EntityID)
	if err != nil {
		return nil, err
	}

	ev := entityPairEvidence(signals, aAliases, bAliases, a.EntityType == b.EntityType)

	return &models.DuplicatePair{
		EntityAID:  a.EntityID,
		EntityBID:  b.EntityID,
		Confidence: ev.FinalScore,
		Evidence:   ev,
	}, nil
}

// Classify maps a final score to a merge decision. Cross-type pairs are never
// auto-merged without an explicit override; they downgrade to review.
func (e *Engine) Classify(score float64, typeMatch bool) models.MatchDecision {
	switch {
	case score >= e.config.AutoMergeThreshold:
		if !typeMatch {
			return models.DecisionSuggestMerge
		}
		return models.DecisionAutoMerge
	case score >= e.config.SuggestThreshold:
		return models.DecisionSuggestMerge
	default:
		return models.DecisionNoMerge
	}
}

// matchedRow pairs an index row with the signals its name produced
type matchedRow struct {
	row     models.EntityMatchIndex
	signals []models.StrategySignal
}

// blockedRows queries the match index with every blocking key for the mention
func (e *Engine) blockedRows(ctx context.Context, tenantID, corpusID, normalized string, exclude *string) ([]models.EntityMatchIndex, error) {
	tokens := strings.Fields(normalized)
	lastToken := ""
	if len(tokens) > 0 {
		lastToken = tokens[len(tokens)-1]
	}
	phoneticKey := strings.ReplaceAll(normalized, " ", "")

	query := models.CandidateQuery{
		CorpusID:   corpusID,
		Normalized: normalized,
		Tokens:     tokens,
		LastToken:  lastToken,
		Soundex:    e.scorer.Soundex(phoneticKey),
		Metaphone:  e.scorer.Metaphone(phoneticKey),
		Limit:      e.config.CandidateLimit * blockingFanout,
	}

	return e.index.FindCandidates(ctx, tenantID, exclude, query)
}

// blockingFanout oversizes the blocked set relative to the candidate limit so
// overflow detection sees the true candidate count, not a truncated one
const blockingFanout = 5

// applyStrategies runs the strategies over the blocked rows and keeps rows
// with at least one signal
func (e *Engine) applyStrategies(mention name, rows []models.EntityMatchIndex, th thresholds) []matchedRow {
	matched := make([]matchedRow, 0, len(rows))
	for _, row := range rows {
		signals := e.scorer.Signals(mention, newName(row.Normalized), th, e.config.MinEditLength)
		if len(signals) == 0 {
			continue
		}
		matched = append(matched, matchedRow{row: row, signals: signals})
	}
	return matched
}

// Context adjustment values applied after the weighted strategy average
const (
	coOccurrenceBoost   = 0.10
	sharedRoleBoost     = 0.15
	typeMatchBoost      = 0.10
	sameSentencePenalty = 0.20
	typeMismatchPenalty = 0.15
)

// buildEvidence gathers alias provenance for a candidate and applies the
// context adjustments to the weighted base score
func (e *Engine) buildEvidence(ctx context.Context, tenantID string, row models.EntityMatchIndex, signals []models.StrategySignal, mc MentionContext) (models.MatchEvidence, error) {
	aliases, err := e.aliases.ListByEntity(ctx, tenantID, row.EntityID)
	if err != nil {
		return models.MatchEvidence{}, err
	}

	ev := models.MatchEvidence{
		Signals:   signals,
		TypeMatch: mc.EntityType == row.EntityType,
		BaseScore: WeightedSignalScore(signals),
	}

	for _, alias := range aliases {
		if mc.SourceDocID == "" || alias.SourceDoc != mc.SourceDocID {
			continue
		}
		if !ev.CoOccurrence {
			ev.CoOccurrence = true
			ev.SharedDocuments = append(ev.SharedDocuments, alias.SourceDoc)
		}
		// Distinct references inside one sentence are heuristic evidence of
		// two different identities
		if mc.SentenceIndex != nil && alias.SentenceIndex != nil &&
			*mc.SentenceIndex == *alias.SentenceIndex && alias.Alias != mc.Text {
			ev.SameSentence = true
		}
	}

	if mc.Role != nil {
		for _, alias := range aliases {
			if alias.Role != nil && *alias.Role == *mc.Role {
				ev.SharedRole = mc.Role
				break
			}
		}
	}

	ev.FinalScore = applyAdjustments(ev)
	return ev, nil
}

// entityPairEvidence builds evidence between two canonical entities from
// their alias sets
func entityPairEvidence(signals []models.StrategySignal, aAliases, bAliases []models.EntityAlias, typeMatch bool) models.MatchEvidence {
	ev := models.MatchEvidence{
		Signals:       signals,
		TypeMatch:     typeMatch,
		TypesDeclared: true,
		BaseScore:     WeightedSignalScore(signals),
	}

	bDocs := make(map[string][]models.EntityAlias, len(bAliases))
	for _, alias := range bAliases {
		bDocs[alias.SourceDoc] = append(bDocs[alias.SourceDoc], alias)
	}

	seenDocs := make(map[string]bool)
	for _, a := range aAliases {
		others, ok := bDocs[a.SourceDoc]
		if !ok {
			continue
		}
		if !seenDocs[a.SourceDoc] {
			seenDocs[a.SourceDoc] = true
			ev.CoOccurrence = true
			ev.SharedDocuments = append(ev.SharedDocuments, a.SourceDoc)
		}
		for _, b := range others {
			if a.SentenceIndex != nil && b.SentenceIndex != nil &&
				*a.SentenceIndex == *b.SentenceIndex && a.Alias != b.Alias {
				ev.SameSentence = true
			}
			if ev.SharedRole == nil && a.Role != nil && b.Role != nil && *a.Role == *b.Role {
				ev.SharedRole = a.Role
			}
		}
	}

	ev.FinalScore = applyAdjustments(ev)
	return ev
}

// applyAdjustments applies each context adjustment independently, then clamps
// the result to [0,1]. The sum is rounded so accumulated float error cannot
// move a score off a classification boundary (0.70 + 0.10 - 0.20 must land
// exactly on 0.60, not 0.5999...).
func applyAdjustments(ev models.MatchEvidence) float64 {
	score := ev.BaseScore

	if ev.CoOccurrence {
		score += coOccurrenceBoost
	}
	if ev.SharedRole != nil {
		score += sharedRoleBoost
	}
	// The type-match boost needs both sides to carry a declared type; a
	// mention's inferred type is trusted enough to penalize a mismatch but
	// not to reward a match
	if ev.TypeMatch && ev.TypesDeclared {
		score += typeMatchBoost
	}
	if !ev.TypeMatch {
		score -= typeMismatchPenalty
	}
	if ev.SameSentence {
		score -= sameSentencePenalty
	}

	score = math.Round(score*1e9) / 1e9

	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}
