// Package merging implements merge and split execution over canonical
// entities: redirect bookkeeping, alias preservation, canonical name
// selection, and the append-only audit trail.
package merging

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// maxChainWalk bounds the cycle check walk over resolved_to redirects
const maxChainWalk = 32

// TxStarter opens or joins the transaction the merge writes land in.
// database.DB satisfies it.
type TxStarter interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EntityStore is the entity persistence port used by the executor
type EntityStore interface {
	Get(ctx context.Context, tenantID string, id string) (*models.Entity, error)
	ResolveCanonical(ctx context.Context, tenantID string, id string) (*models.Entity, error)
	Create(ctx context.Context, e *models.Entity) (*models.Entity, error)
	SetResolved(ctx context.Context, tenantID, id, targetID string, confidence float64, method string, expectedVersion int) error
	UpdateCanonicalName(ctx context.Context, tenantID, id, canonicalName, normalizedName string) error
}

// AliasStore is the alias persistence port used by the executor
type AliasStore interface {
	Create(ctx context.Context, a *models.EntityAlias) (*models.EntityAlias, error)
	ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.EntityAlias, error)
	GetByIDs(ctx context.Context, tenantID string, ids []string) ([]models.EntityAlias, error)
	MoveAllToEntity(ctx context.Context, tenantID, fromEntityID, toEntityID string) (int, error)
	MoveToEntity(ctx context.Context, tenantID string, aliasIDs []string, toEntityID string) (int, error)
}

// MentionStore covers the mention operations a merge or split touches
type MentionStore interface {
	CountDistinctDocs(ctx context.Context, tenantID string, entityIDs []string) (int, error)
	ReassignEntity(ctx context.Context, tenantID, fromEntityID, toEntityID string, sourceDocs []string) (int, error)
}

// IndexStore keeps the blocking index in step with entity changes
type IndexStore interface {
	Upsert(ctx context.Context, row *models.EntityMatchIndex) error
	DeleteByEntity(ctx context.Context, tenantID, entityID string) error
}

// LogStore is the append-only audit trail port
type LogStore interface {
	Append(ctx context.Context, entry *models.ResolutionLogEntry) (*models.ResolutionLogEntry, error)
	GetLatestMergeInto(ctx context.Context, tenantID, targetEntityID string) (*models.ResolutionLogEntry, error)
}

// ReviewStore is the review queue port used to approve, sweep, and flag items
type ReviewStore interface {
	Create(ctx context.Context, item *models.ReviewItem) (*models.ReviewItem, error)
	GetByEntityPair(ctx context.Context, tenantID, entityAID, entityBID string) (*models.ReviewItem, error)
	UpdateStatus(ctx context.Context, tenantID, id, status string, reviewedBy *string) error
	RejectPendingForEntity(ctx context.Context, tenantID, entityID string) (int, error)
}

// MergeParams describes one merge execution. Manual merges come from the
// merge endpoint; automatic merges come from the resolver.
type MergeParams struct {
	SourceID    string
	TargetID    string
	Reason      string
	Override    bool
	Confidence  float64
	Method      string
	PerformedBy *string
	RunID       *string
	// ReviewItemID, when set, is the queue item this merge approves. It is
	// marked approved before stale pending items for the source are swept.
	ReviewItemID *string
}

// Engine executes merges and splits
type Engine struct {
	logger        ectologger.Logger
	db            TxStarter
	entityRepo    EntityStore
	aliasRepo     AliasStore
	mentionRepo   MentionStore
	indexRepo     IndexStore
	logRepo       LogStore
	reviewRepo    ReviewStore
	locks         *entityLocks
	retryCount    int
	autoThreshold float64
}

// NewEngine creates a new merge engine. autoThreshold is the confidence floor
// for automatic merges; an auto merge below it is applied but flagged for
// retroactive review.
func NewEngine(
	logger ectologger.Logger,
	db TxStarter,
	entityRepo EntityStore,
	aliasRepo AliasStore,
	mentionRepo MentionStore,
	indexRepo IndexStore,
	logRepo LogStore,
	reviewRepo ReviewStore,
	retryCount int,
	autoThreshold float64,
) *Engine {
	if retryCount < 1 {
		retryCount = 3
	}
	if autoThreshold <= 0 {
		autoThreshold = matching.DefaultConfig().AutoMergeThreshold
	}
	return &Engine{
		logger:        logger,
		db:            db,
		entityRepo:    entityRepo,
		aliasRepo:     aliasRepo,
		mentionRepo:   mentionRepo,
		indexRepo:     indexRepo,
		logRepo:       logRepo,
		reviewRepo:    reviewRepo,
		locks:         newEntityLocks(),
		retryCount:    retryCount,
		autoThreshold: autoThreshold,
	}
}

// Merge folds the source entity into the target: the source becomes a
// redirect, every alias moves to the target, and the most complete surface
// form survives as the canonical name. Write conflicts from concurrent
// resolution are retried before giving up.
func (e *Engine) Merge(ctx context.Context, tenantID string, params MergeParams) (*models.MergeResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	if params.SourceID == params.TargetID {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "cannot merge an entity into itself")
	}

	unlock := e.locks.lockPair(params.SourceID, params.TargetID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= e.retryCount; attempt++ {
		resp, err := e.mergeOnce(ctx, tenantID, params)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id": params.SourceID,
			"target_id": params.TargetID,
			"attempt":   attempt,
		}).Warn("Merge hit a write conflict, retrying")
	}

	e.logger.WithContext(ctx).WithError(lastErr).Error("Merge failed after retries")
	return nil, httperror.NewHTTPError(http.StatusConflict, "merge failed after repeated write conflicts")
}

func (e *Engine) mergeOnce(ctx context.Context, tenantID string, params MergeParams) (*models.MergeResponse, error) {
	source, err := e.entityRepo.Get(ctx, tenantID, params.SourceID)
	if err != nil {
		return nil, err
	}
	if source.IsMergedAway() {
		return nil, &AlreadyMergedError{EntityID: source.ID, ResolvedTo: *source.ResolvedTo}
	}

	target, err := e.entityRepo.ResolveCanonical(ctx, tenantID, params.TargetID)
	if err != nil {
		return nil, err
	}
	if target.ID == source.ID {
		return nil, &CircularMergeError{SourceID: params.SourceID, TargetID: params.TargetID}
	}
	if err := e.checkCycle(ctx, tenantID, source.ID, target.ID); err != nil {
		return nil, err
	}

	if source.EntityType != target.EntityType && !params.Override {
		return nil, &CrossTypeError{
			SourceID:   source.ID,
			SourceType: source.EntityType,
			TargetID:   target.ID,
			TargetType: target.EntityType,
		}
	}

	sourceAliases, err := e.aliasRepo.ListByEntity(ctx, tenantID, source.ID)
	if err != nil {
		return nil, err
	}
	targetAliases, err := e.aliasRepo.ListByEntity(ctx, tenantID, target.ID)
	if err != nil {
		return nil, err
	}

	nameCandidates := []string{target.CanonicalName, source.CanonicalName}
	preserved := map[string]bool{
		target.CanonicalName: true,
		source.CanonicalName: true,
	}
	for _, a := range append(sourceAliases, targetAliases...) {
		nameCandidates = append(nameCandidates, a.Alias)
		preserved[a.Alias] = true
	}
	canonicalName := SelectCanonicalName(nameCandidates)

	ctxTx, tx, err := e.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	if err := e.entityRepo.SetResolved(ctxTx, tenantID, source.ID, target.ID, params.Confidence, params.Method, source.Version); err != nil {
		return nil, err
	}
	if _, err := e.aliasRepo.MoveAllToEntity(ctxTx, tenantID, source.ID, target.ID); err != nil {
		return nil, err
	}
	if _, err := e.aliasRepo.Create(ctxTx, &models.EntityAlias{
		TenantID:   tenantID,
		EntityID:   target.ID,
		Alias:      source.CanonicalName,
		Normalized: source.NormalizedName,
	}); err != nil {
		return nil, err
	}

	if canonicalName != "" && canonicalName != target.CanonicalName {
		normalizedName := normalizers.Normalize(canonicalName, target.EntityType)
		if err := e.entityRepo.UpdateCanonicalName(ctxTx, tenantID, target.ID, canonicalName, normalizedName); err != nil {
			return nil, err
		}
		target.CanonicalName = canonicalName
		target.NormalizedName = normalizedName
	}

	if err := e.indexRepo.Upsert(ctxTx, matching.BuildIndexRow(target)); err != nil {
		return nil, err
	}
	if err := e.indexRepo.DeleteByEntity(ctxTx, tenantID, source.ID); err != nil {
		return nil, err
	}

	entry, err := e.logRepo.Append(ctxTx, &models.ResolutionLogEntry{
		TenantID:    tenantID,
		CorpusID:    source.CorpusID,
		SourceID:    source.ID,
		TargetID:    target.ID,
		Action:      models.ResolutionActionMerge,
		Confidence:  params.Confidence,
		Method:      params.Method,
		Reason:      params.Reason,
		PerformedBy: params.PerformedBy,
		RunID:       params.RunID,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	if params.ReviewItemID != nil {
		if err := e.reviewRepo.UpdateStatus(ctx, tenantID, *params.ReviewItemID, models.ReviewStatusApproved, params.PerformedBy); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to approve review item after merge")
		}
	}

	// An automatic merge below the auto threshold is applied but never
	// silently: the pair lands in the queue as flagged so a human can audit
	// it and split if needed. Flagging happens before the stale-item sweep so
	// the flagged row survives it.
	if params.Method == models.ResolutionMethodAuto && params.Confidence < e.autoThreshold {
		if err := e.flagBelowThreshold(ctx, tenantID, source, target, params.Confidence); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to flag below-threshold merge for review")
		}
	}

	if _, err := e.reviewRepo.RejectPendingForEntity(ctx, tenantID, source.ID); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to reject stale review items after merge")
	}

	docs, err := e.mentionRepo.CountDistinctDocs(ctx, tenantID, []string{source.ID, target.ID})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to count affected documents after merge")
		docs = 0
	}

	aliasesPreserved := make([]string, 0, len(preserved))
	for alias := range preserved {
		if alias != "" {
			aliasesPreserved = append(aliasesPreserved, alias)
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":      source.ID,
		"target_id":      target.ID,
		"canonical_name": target.CanonicalName,
		"method":         params.Method,
	}).Info("Merged entity")

	return &models.MergeResponse{
		Success:           true,
		CanonicalName:     target.CanonicalName,
		AliasesPreserved:  aliasesPreserved,
		DocumentsAffected: docs,
		LogID:             entry.ID,
	}, nil
}

// flagBelowThreshold records an applied auto merge whose confidence sat below
// the auto threshold. The pair's queue item moves to flagged, creating one
// when none exists.
func (e *Engine) flagBelowThreshold(ctx context.Context, tenantID string, source, target *models.Entity, confidence float64) error {
	evidence, err := json.Marshal(map[string]any{
		"reason":     "automatic merge applied below the auto-merge threshold",
		"confidence": confidence,
		"threshold":  e.autoThreshold,
	})
	if err != nil {
		return err
	}

	aID, bID := source.ID, target.ID
	if bID < aID {
		aID, bID = bID, aID
	}

	if _, err := e.reviewRepo.Create(ctx, &models.ReviewItem{
		TenantID:   tenantID,
		CorpusID:   source.CorpusID,
		EntityAID:  aID,
		EntityBID:  bID,
		Confidence: confidence,
		Evidence:   evidence,
		Status:     models.ReviewStatusFlagged,
	}); err != nil {
		return err
	}

	// A pending item for the same pair absorbs the insert, so transition it
	// explicitly.
	existing, err := e.reviewRepo.GetByEntityPair(ctx, tenantID, aID, bID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == models.ReviewStatusPending {
		if err := e.reviewRepo.UpdateStatus(ctx, tenantID, existing.ID, models.ReviewStatusFlagged, nil); err != nil {
			return err
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":  source.ID,
		"target_id":  target.ID,
		"confidence": confidence,
		"threshold":  e.autoThreshold,
	}).Warn("Automatic merge below threshold, flagged for review")

	return nil
}

// checkCycle walks the redirect chain from the target looking for the
// source. Reaching the source means the proposed merge closes a loop.
func (e *Engine) checkCycle(ctx context.Context, tenantID, sourceID, targetID string) error {
	current := targetID
	for depth := 0; depth < maxChainWalk; depth++ {
		if current == sourceID {
			return &CircularMergeError{SourceID: sourceID, TargetID: targetID}
		}
		ent, err := e.entityRepo.Get(ctx, tenantID, current)
		if err != nil {
			return err
		}
		if !ent.IsMergedAway() {
			return nil
		}
		current = *ent.ResolvedTo
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, "merge redirect chain too deep")
}

// Split carves a new entity out of an existing one by moving a subset of its
// aliases. Mentions in the moved aliases' documents repoint at the new
// entity, and the log entry references the merge it reverses when one exists.
func (e *Engine) Split(ctx context.Context, tenantID, entityID string, params models.SplitRequest, performedBy *string) (*models.SplitResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Split")
	defer span.End()

	unlock := e.locks.lockPair(entityID, entityID)
	defer unlock()

	ent, err := e.entityRepo.Get(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	if ent.IsMergedAway() {
		return nil, &AlreadyMergedError{EntityID: ent.ID, ResolvedTo: *ent.ResolvedTo}
	}

	moved, err := e.aliasRepo.GetByIDs(ctx, tenantID, params.AliasIDs)
	if err != nil {
		return nil, err
	}
	if len(moved) != len(params.AliasIDs) {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "one or more alias IDs do not exist")
	}
	for _, a := range moved {
		if a.EntityID != entityID {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "alias does not belong to the entity being split")
		}
	}

	all, err := e.aliasRepo.ListByEntity(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	if len(moved) >= len(all) {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "split must leave at least one alias on the original entity")
	}

	reversedMerge, err := e.logRepo.GetLatestMergeInto(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}

	movedIDs := make(map[string]bool, len(moved))
	movedNames := make([]string, 0, len(moved))
	movedDocs := make([]string, 0, len(moved))
	seenDocs := map[string]bool{}
	for _, a := range moved {
		movedIDs[a.ID] = true
		movedNames = append(movedNames, a.Alias)
		if a.SourceDoc != "" && !seenDocs[a.SourceDoc] {
			seenDocs[a.SourceDoc] = true
			movedDocs = append(movedDocs, a.SourceDoc)
		}
	}

	newName := SelectCanonicalName(movedNames)
	newEntity := &models.Entity{
		TenantID:       tenantID,
		CorpusID:       ent.CorpusID,
		EntityType:     ent.EntityType,
		CanonicalName:  newName,
		NormalizedName: normalizers.Normalize(newName, ent.EntityType),
	}

	remainingNames := []string{}
	for _, a := range all {
		if !movedIDs[a.ID] {
			remainingNames = append(remainingNames, a.Alias)
		}
	}
	remainingName := SelectCanonicalName(remainingNames)

	ctxTx, tx, err := e.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	if _, err := e.entityRepo.Create(ctxTx, newEntity); err != nil {
		return nil, err
	}
	if _, err := e.aliasRepo.MoveToEntity(ctxTx, tenantID, params.AliasIDs, newEntity.ID); err != nil {
		return nil, err
	}

	docsUpdated, err := e.mentionRepo.ReassignEntity(ctxTx, tenantID, entityID, newEntity.ID, movedDocs)
	if err != nil {
		return nil, err
	}

	// The moved aliases may have carried the canonical form with them.
	if remainingName != "" && remainingName != ent.CanonicalName && !contains(remainingNames, ent.CanonicalName) {
		normalized := normalizers.Normalize(remainingName, ent.EntityType)
		if err := e.entityRepo.UpdateCanonicalName(ctxTx, tenantID, ent.ID, remainingName, normalized); err != nil {
			return nil, err
		}
		ent.CanonicalName = remainingName
		ent.NormalizedName = normalized
	}

	if err := e.indexRepo.Upsert(ctxTx, matching.BuildIndexRow(newEntity)); err != nil {
		return nil, err
	}
	if err := e.indexRepo.Upsert(ctxTx, matching.BuildIndexRow(ent)); err != nil {
		return nil, err
	}

	var reversesID *string
	if reversedMerge != nil {
		reversesID = &reversedMerge.ID
	}
	entry, err := e.logRepo.Append(ctxTx, &models.ResolutionLogEntry{
		TenantID:      tenantID,
		CorpusID:      ent.CorpusID,
		SourceID:      ent.ID,
		TargetID:      newEntity.ID,
		Action:        models.ResolutionActionSplit,
		Confidence:    1.0,
		Method:        models.ResolutionMethodManual,
		Reason:        params.Reason,
		ReversesLogID: reversesID,
		PerformedBy:   performedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":     ent.ID,
		"new_entity_id": newEntity.ID,
		"alias_count":   len(moved),
	}).Info("Split entity")

	return &models.SplitResponse{
		NewEntityID:      newEntity.ID,
		NewEntityName:    newEntity.CanonicalName,
		DocumentsUpdated: docsUpdated,
		LogID:            entry.ID,
	}, nil
}

// isRetryable covers both database-level write conflicts and the version
// guard on the entities table tripping under concurrent resolution.
func isRetryable(err error) bool {
	if database.IsWriteConflict(err) {
		return true
	}
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
