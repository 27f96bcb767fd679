// Package resolver drives entity resolution: it turns pending mentions into
// canonical entities by finding candidates, scoring them, and applying the
// resulting decision as an adoption, a review suggestion, or a new entity.
package resolver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/entityalias"
	"github.com/Ramsey-B/fern/internal/repositories/matchindex"
	"github.com/Ramsey-B/fern/internal/repositories/mention"
	"github.com/Ramsey-B/fern/internal/repositories/resolutionlog"
	"github.com/Ramsey-B/fern/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/fern/internal/repositories/reviewqueue"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Events publishes resolution outcomes. A nil Events disables publishing.
type Events interface {
	MentionResolved(ctx context.Context, tenantID string, m *models.Mention, entityID string) error
	MergeSuggested(ctx context.Context, item *models.ReviewItem) error
}

// Outcome is the terminal disposition of one mention
type Outcome string

// Mention outcome constants
const (
	OutcomeAutoMerged Outcome = "auto_merged"
	OutcomeQueued     Outcome = "queued"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeOverflow   Outcome = "overflow"
	OutcomeSkipped    Outcome = "skipped"
)

// Config holds resolver tuning
type Config struct {
	BatchSize          int
	WorkerCount        int
	AutoMergeEnabled   bool
	AutoMergeThreshold float64
	SuggestThreshold   float64
	CandidateLimit     int
	ReviewQueueEnabled bool
}

// Service coordinates mention resolution and full-corpus runs
type Service struct {
	logger      ectologger.Logger
	mentionRepo *mention.Repository
	entityRepo  *entity.Repository
	aliasRepo   *entityalias.Repository
	indexRepo   *matchindex.Repository
	reviewRepo  *reviewqueue.Repository
	runRepo     *resolutionrun.Repository
	logRepo     *resolutionlog.Repository
	events      Events
	config      Config
}

// NewService creates a new resolver service
func NewService(
	logger ectologger.Logger,
	mentionRepo *mention.Repository,
	entityRepo *entity.Repository,
	aliasRepo *entityalias.Repository,
	indexRepo *matchindex.Repository,
	reviewRepo *reviewqueue.Repository,
	runRepo *resolutionrun.Repository,
	logRepo *resolutionlog.Repository,
	events Events,
	config Config,
) *Service {
	if config.BatchSize < 1 {
		config.BatchSize = 100
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = 4
	}
	return &Service{
		logger:      logger,
		mentionRepo: mentionRepo,
		entityRepo:  entityRepo,
		aliasRepo:   aliasRepo,
		indexRepo:   indexRepo,
		reviewRepo:  reviewRepo,
		runRepo:     runRepo,
		logRepo:     logRepo,
		events:      events,
		config:      config,
	}
}

func (s *Service) engineFor(autoOverride, suggestOverride *float64) *matching.Engine {
	cfg := matching.EngineConfig{
		AutoMergeThreshold: s.config.AutoMergeThreshold,
		SuggestThreshold:   s.config.SuggestThreshold,
		CandidateLimit:     s.config.CandidateLimit,
		MinEditLength:      matching.DefaultConfig().MinEditLength,
	}
	if autoOverride != nil {
		cfg.AutoMergeThreshold = *autoOverride
	}
	if suggestOverride != nil {
		cfg.SuggestThreshold = *suggestOverride
	}
	return matching.NewEngine(s.logger, s.indexRepo, s.aliasRepo, cfg)
}

// ResolveMention resolves a single pending mention against the current
// entity store
func (s *Service) ResolveMention(ctx context.Context, tenantID string, m *models.Mention) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ResolveMention")
	defer span.End()

	engine := s.engineFor(nil, nil)
	scored := s.scoreMention(ctx, tenantID, engine, m)
	return s.applyOutcome(ctx, tenantID, scored, nil, nil)
}

// mentionScore carries one mention's scoring result between the parallel
// scoring phase and the serial apply phase
type mentionScore struct {
	mention    *models.Mention
	normalized string
	candidates []models.ScoredCandidate
	err        error
}

func (s *Service) scoreMention(ctx context.Context, tenantID string, engine *matching.Engine, m *models.Mention) *mentionScore {
	normalized := m.NormalizedText
	if normalized == "" {
		normalized = normalizers.Normalize(m.Text, m.EntityType)
	}

	mc := matching.MentionContext{
		Text:          m.Text,
		EntityType:    m.EntityType,
		SourceDocID:   m.SourceDocID,
		SentenceIndex: m.SentenceIndex,
		Role:          m.Role,
	}

	candidates, err := engine.FindCandidates(ctx, tenantID, m.CorpusID, normalized, mc)
	return &mentionScore{
		mention:    m,
		normalized: normalized,
		candidates: candidates,
		err:        err,
	}
}

// applyOutcome applies a scored mention's decision. batchEntities maps
// normalized names to entities created earlier in the same batch, catching
// identical mentions scored in parallel before their entities hit the index.
func (s *Service) applyOutcome(ctx context.Context, tenantID string, scored *mentionScore, batchEntities map[string]string, runID *string) (Outcome, error) {
	m := scored.mention
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"mention_id": m.ID,
		"corpus_id":  m.CorpusID,
	})

	if scored.err != nil {
		switch {
		case errors.Is(scored.err, matching.ErrEmptyNormalization):
			log.Warn("Mention normalized to an empty string, skipping")
			if err := s.mentionRepo.MarkStatus(ctx, tenantID, m.ID, models.MentionStatusSkipped); err != nil {
				return OutcomeSkipped, err
			}
			return OutcomeSkipped, nil
		case errors.Is(scored.err, matching.ErrCandidateOverflow):
			log.Warn("Candidate generation overflowed, flagging mention")
			if err := s.mentionRepo.MarkStatus(ctx, tenantID, m.ID, models.MentionStatusOverflow); err != nil {
				return OutcomeOverflow, err
			}
			return OutcomeOverflow, nil
		default:
			return "", scored.err
		}
	}

	if len(scored.candidates) > 0 {
		best := scored.candidates[0]
		switch s.candidateOutcome(best) {
		case OutcomeAutoMerged:
			if err := s.adoptMention(ctx, tenantID, m, best, runID); err != nil {
				return "", err
			}
			return OutcomeAutoMerged, nil
		case OutcomeQueued:
			if err := s.suggestMention(ctx, tenantID, m, scored); err != nil {
				return "", err
			}
			return OutcomeQueued, nil
		}
	}

	// No candidate cleared the suggest threshold. A twin created earlier in
	// this batch is an exact match, so adopt into it instead of duplicating.
	if batchEntities != nil {
		if entityID, ok := batchEntities[batchKey(m.CorpusID, scored.normalized)]; ok {
			ent, err := s.entityRepo.Get(ctx, tenantID, entityID)
			if err != nil {
				return "", err
			}
			twin := models.ScoredCandidate{
				EntityID: ent.ID,
				Score:    0.95,
				Decision: models.DecisionAutoMerge,
			}
			if err := s.adoptMention(ctx, tenantID, m, twin, runID); err != nil {
				return "", err
			}
			return OutcomeAutoMerged, nil
		}
	}

	ent, err := s.createEntityForMention(ctx, tenantID, m, scored.normalized)
	if err != nil {
		return "", err
	}
	if batchEntities != nil {
		batchEntities[batchKey(m.CorpusID, scored.normalized)] = ent.ID
	}
	return OutcomeNoMatch, nil
}

// candidateOutcome maps the best candidate's decision to the action taken
// for the mention. Empty means no candidate applies and a fresh entity is
// created instead.
func (s *Service) candidateOutcome(best models.ScoredCandidate) Outcome {
	if best.Decision == models.DecisionAutoMerge && s.config.AutoMergeEnabled {
		return OutcomeAutoMerged
	}
	if best.Decision != models.DecisionNoMerge {
		return OutcomeQueued
	}
	return ""
}

func batchKey(corpusID, normalized string) string {
	return corpusID + "\x00" + normalized
}

// adoptMention attaches a mention to an existing entity and records its
// surface form as an alias
func (s *Service) adoptMention(ctx context.Context, tenantID string, m *models.Mention, candidate models.ScoredCandidate, runID *string) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.adoptMention")
	defer span.End()

	ent, err := s.entityRepo.ResolveCanonical(ctx, tenantID, candidate.EntityID)
	if err != nil {
		return err
	}

	if err := s.mentionRepo.MarkResolved(ctx, tenantID, m.ID, ent.ID); err != nil {
		return err
	}

	if _, err := s.aliasRepo.Create(ctx, &models.EntityAlias{
		TenantID:      tenantID,
		EntityID:      ent.ID,
		Alias:         m.Text,
		Normalized:    m.NormalizedText,
		SourceDoc:     m.SourceDocID,
		SentenceIndex: m.SentenceIndex,
		Role:          m.Role,
	}); err != nil {
		return err
	}

	// The mention may carry a more complete surface form than the current
	// canonical name.
	best := merging.SelectCanonicalName([]string{ent.CanonicalName, m.Text})
	if best != ent.CanonicalName {
		normalized := normalizers.Normalize(best, ent.EntityType)
		if err := s.entityRepo.UpdateCanonicalName(ctx, tenantID, ent.ID, best, normalized); err != nil {
			return err
		}
		ent.CanonicalName = best
		ent.NormalizedName = normalized
		if err := s.indexRepo.Upsert(ctx, matching.BuildIndexRow(ent)); err != nil {
			return err
		}
	}

	if _, err := s.logRepo.Append(ctx, &models.ResolutionLogEntry{
		TenantID:   tenantID,
		CorpusID:   m.CorpusID,
		SourceID:   m.ID,
		TargetID:   ent.ID,
		Action:     models.ResolutionActionMerge,
		Confidence: candidate.Score,
		Method:     models.ResolutionMethodAuto,
		Reason:     "mention adopted by existing entity",
		RunID:      runID,
	}); err != nil {
		return err
	}

	if s.events != nil {
		if err := s.events.MentionResolved(ctx, tenantID, m, ent.ID); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish mention resolution event")
		}
	}

	return nil
}

// suggestMention creates an entity for the mention and queues every
// suggest-band candidate pair for human review
func (s *Service) suggestMention(ctx context.Context, tenantID string, m *models.Mention, scored *mentionScore) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.suggestMention")
	defer span.End()

	ent, err := s.createEntityForMention(ctx, tenantID, m, scored.normalized)
	if err != nil {
		return err
	}

	if !s.config.ReviewQueueEnabled {
		return nil
	}

	for _, candidate := range scored.candidates {
		if candidate.Decision == models.DecisionNoMerge {
			continue
		}
		evidence, err := json.Marshal(candidate.Evidence)
		if err != nil {
			return errors.Wrap(err, "failed to encode match evidence")
		}
		aID, bID := orderedPair(ent.ID, candidate.EntityID)
		item, err := s.reviewRepo.Create(ctx, &models.ReviewItem{
			TenantID:   tenantID,
			CorpusID:   m.CorpusID,
			EntityAID:  aID,
			EntityBID:  bID,
			Confidence: candidate.Score,
			Evidence:   evidence,
		})
		if err != nil {
			return err
		}
		if s.events != nil {
			if err := s.events.MergeSuggested(ctx, item); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish merge suggestion event")
			}
		}
	}

	return nil
}

// createEntityForMention creates a fresh canonical entity seeded by a
// mention, with its alias and blocking index row
func (s *Service) createEntityForMention(ctx context.Context, tenantID string, m *models.Mention, normalized string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.createEntityForMention")
	defer span.End()

	ent, err := s.entityRepo.Create(ctx, &models.Entity{
		TenantID:       tenantID,
		CorpusID:       m.CorpusID,
		EntityType:     m.EntityType,
		CanonicalName:  m.Text,
		NormalizedName: normalized,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.aliasRepo.Create(ctx, &models.EntityAlias{
		TenantID:      tenantID,
		EntityID:      ent.ID,
		Alias:         m.Text,
		Normalized:    normalized,
		SourceDoc:     m.SourceDocID,
		SentenceIndex: m.SentenceIndex,
		Role:          m.Role,
	}); err != nil {
		return nil, err
	}

	if err := s.indexRepo.Upsert(ctx, matching.BuildIndexRow(ent)); err != nil {
		return nil, err
	}

	if err := s.mentionRepo.MarkResolved(ctx, tenantID, m.ID, ent.ID); err != nil {
		return nil, err
	}

	return ent, nil
}

// ResolveAll processes every pending mention in a corpus as a checkpointed
// run. Scoring fans out across workers; outcomes apply serially in mention
// order so decisions stay deterministic.
func (s *Service) ResolveAll(ctx context.Context, tenantID string, req models.ResolveAllRequest) (*models.ResolveAllResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ResolveAll")
	defer span.End()

	active, err := s.runRepo.GetActiveByCorpus(ctx, tenantID, req.CorpusID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, "a resolution run is already active for this corpus")
	}

	run, err := s.runRepo.Create(ctx, &models.ResolutionRun{
		TenantID: tenantID,
		CorpusID: req.CorpusID,
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":    run.ID,
		"corpus_id": req.CorpusID,
	})
	log.Info("Starting resolution run")

	engine := s.engineFor(req.AutoThreshold, req.ReviewThreshold)
	batchEntities := map[string]string{}

	for {
		if ctx.Err() != nil {
			if cancelErr := s.runRepo.Cancel(ctx, tenantID, run.ID); cancelErr != nil {
				log.WithError(cancelErr).Warn("Failed to mark run cancelled")
			}
			return nil, ctx.Err()
		}

		batch, err := s.mentionRepo.ListPendingByCorpus(ctx, tenantID, req.CorpusID, run.LastMentionID, s.config.BatchSize)
		if err != nil {
			s.failRun(ctx, tenantID, run.ID, err)
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		scores := make([]*mentionScore, len(batch))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.config.WorkerCount)
		for i := range batch {
			group.Go(func() error {
				scores[i] = s.scoreMention(groupCtx, tenantID, engine, &batch[i])
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			s.failRun(ctx, tenantID, run.ID, err)
			return nil, err
		}

		for _, scored := range scores {
			outcome, err := s.applyOutcome(ctx, tenantID, scored, batchEntities, &run.ID)
			if err != nil {
				s.failRun(ctx, tenantID, run.ID, err)
				return nil, err
			}
			run.MentionsProcessed++
			switch outcome {
			case OutcomeAutoMerged:
				run.AutoMergedCount++
			case OutcomeQueued:
				run.QueuedCount++
			case OutcomeNoMatch:
				run.NoMatchCount++
			case OutcomeOverflow:
				run.OverflowCount++
			}
		}

		last := batch[len(batch)-1].ID
		run.LastMentionID = &last
		if err := s.runRepo.UpdateCheckpoint(ctx, run); err != nil {
			return nil, err
		}
	}

	if err := s.runRepo.Complete(ctx, tenantID, run.ID); err != nil {
		return nil, err
	}
	log.WithFields(map[string]any{
		"mentions_processed": run.MentionsProcessed,
		"auto_merged":        run.AutoMergedCount,
		"queued":             run.QueuedCount,
	}).Info("Resolution run complete")

	entries, err := s.logRepo.ListByRun(ctx, tenantID, run.ID)
	if err != nil {
		return nil, err
	}

	return &models.ResolveAllResponse{
		RunID:       run.ID,
		AutoMerged:  run.AutoMergedCount,
		ReviewQueue: run.QueuedCount,
		NoMatch:     run.NoMatchCount,
		Overflow:    run.OverflowCount,
		Log:         entries,
	}, nil
}

func (s *Service) failRun(ctx context.Context, tenantID, runID string, runErr error) {
	if err := s.runRepo.Fail(ctx, tenantID, runID, runErr.Error()); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to mark run failed")
	}
}

// FindDuplicates scans a corpus for suspected duplicate entity pairs above a
// confidence floor. Pairs are blocked through the match index, never a full
// pairwise scan.
func (s *Service) FindDuplicates(ctx context.Context, tenantID, corpusID string, minConfidence float64, entityType *string, limit int) ([]models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.FindDuplicates")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 100
	}
	engine := s.engineFor(nil, nil)

	pairs := []models.DuplicatePair{}
	seen := map[string]bool{}
	cursor := ""

	for {
		rows, err := s.indexRepo.ListByCorpus(ctx, tenantID, corpusID, cursor, s.config.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if entityType != nil && *entityType != "" && row.EntityType != *entityType {
				continue
			}

			query := models.CandidateQuery{
				CorpusID:   corpusID,
				Normalized: row.Normalized,
				Tokens:     row.Tokens,
				LastToken:  derefOr(row.LastToken, ""),
				Soundex:    derefOr(row.Soundex, ""),
				Metaphone:  derefOr(row.Metaphone, ""),
				Limit:      s.config.CandidateLimit,
			}
			candidates, err := s.indexRepo.FindCandidates(ctx, tenantID, &row.EntityID, query)
			if err != nil {
				return nil, err
			}

			for _, other := range candidates {
				aID, bID := orderedPair(row.EntityID, other.EntityID)
				key := aID + "\x00" + bID
				if seen[key] {
					continue
				}
				seen[key] = true

				pair, err := engine.ScoreEntityPair(ctx, tenantID, row, other)
				if err != nil {
					return nil, err
				}
				if pair == nil || pair.Confidence < minConfidence {
					continue
				}
				pairs = append(pairs, *pair)
				if len(pairs) >= limit {
					return pairs, nil
				}
			}
		}

		cursor = rows[len(rows)-1].EntityID
	}

	return pairs, nil
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func derefOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
