package resolutionrun

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

const runColumns = "id, tenant_id, corpus_id, status, last_mention_id, mentions_processed, auto_merged_count, queued_count, no_match_count, overflow_count, started_at, completed_at, error"

// Repository handles resolution run checkpoints
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new resolution run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create starts a new run record
func (r *Repository) Create(ctx context.Context, run *models.ResolutionRun) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Create")
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("resolution_runs")
	sb.Cols("id", "tenant_id", "corpus_id", "status", "mentions_processed", "auto_merged_count", "queued_count", "no_match_count", "overflow_count", "started_at")
	sb.Values(run.ID, run.TenantID, run.CorpusID, run.Status, run.MentionsProcessed, run.AutoMergedCount, run.QueuedCount, run.NoMatchCount, run.OverflowCount, run.StartedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"corpus_id": run.CorpusID}).Error("Failed to create resolution run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create resolution run")
	}

	return run, nil
}

// Get retrieves a run by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns)
	sb.From("resolution_runs")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var run models.ResolutionRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resolution run %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get resolution run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution run")
	}

	return &run, nil
}

// GetActiveByCorpus finds a running run for a corpus, if any. A corpus
// admits at most one active run.
func (r *Repository) GetActiveByCorpus(ctx context.Context, tenantID, corpusID string) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.GetActiveByCorpus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns)
	sb.From("resolution_runs")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", corpusID),
		sb.Equal("status", models.RunStatusRunning),
	)
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var run models.ResolutionRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active resolution run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active resolution run")
	}

	return &run, nil
}

// UpdateCheckpoint advances the run's progress counters and checkpoint
func (r *Repository) UpdateCheckpoint(ctx context.Context, run *models.ResolutionRun) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.UpdateCheckpoint")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("resolution_runs")
	sb.Set(
		sb.Assign("last_mention_id", run.LastMentionID),
		sb.Assign("mentions_processed", run.MentionsProcessed),
		sb.Assign("auto_merged_count", run.AutoMergedCount),
		sb.Assign("queued_count", run.QueuedCount),
		sb.Assign("no_match_count", run.NoMatchCount),
		sb.Assign("overflow_count", run.OverflowCount),
	)
	sb.Where(
		sb.Equal("id", run.ID),
		sb.Equal("tenant_id", run.TenantID),
		sb.Equal("status", models.RunStatusRunning),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to checkpoint resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to checkpoint resolution run")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("resolution run %s is no longer running", run.ID))
	}

	return nil
}

// Complete marks a run finished
func (r *Repository) Complete(ctx context.Context, tenantID, id string) error {
	return r.finish(ctx, tenantID, id, models.RunStatusCompleted, nil)
}

// Fail marks a run failed with an error message
func (r *Repository) Fail(ctx context.Context, tenantID, id string, runErr string) error {
	return r.finish(ctx, tenantID, id, models.RunStatusFailed, &runErr)
}

// Cancel marks a run cancelled. Its checkpoint remains so a later run can
// resume where it stopped.
func (r *Repository) Cancel(ctx context.Context, tenantID, id string) error {
	return r.finish(ctx, tenantID, id, models.RunStatusCancelled, nil)
}

func (r *Repository) finish(ctx context.Context, tenantID, id, status string, runErr *string) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.finish")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("resolution_runs")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("completed_at", now),
		sb.Assign("error", runErr),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("status", models.RunStatusRunning),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to finish resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish resolution run")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("resolution run %s is not running", id))
	}

	return nil
}
