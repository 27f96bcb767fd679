package resolutionlog

import (
	"context"
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

const logColumns = "id, tenant_id, corpus_id, action, source_id, target_id, confidence, method, reason, performed_by, reverses_log_id, run_id, created_at"

// Repository handles the append-only resolution audit log. Entries are never
// updated or deleted; a split records a new entry referencing the merge it
// reverses.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new resolution log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes a new log entry
func (r *Repository) Append(ctx context.Context, entry *models.ResolutionLogEntry) (*models.ResolutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionlog.Repository.Append")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("resolution_log")
	sb.Cols("id", "tenant_id", "corpus_id", "action", "source_id", "target_id", "confidence", "method", "reason", "performed_by", "reverses_log_id", "run_id", "created_at")
	sb.Values(entry.ID, entry.TenantID, entry.CorpusID, entry.Action, entry.SourceID, entry.TargetID, entry.Confidence, entry.Method, entry.Reason, entry.PerformedBy, entry.ReversesLogID, entry.RunID, entry.CreatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"action": entry.Action}).Error("Failed to append resolution log entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append resolution log entry")
	}

	return entry, nil
}

// Get retrieves a log entry by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ResolutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionlog.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(logColumns)
	sb.From("resolution_log")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var entry models.ResolutionLogEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "resolution log entry not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get resolution log entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution log entry")
	}

	return &entry, nil
}

// ListByEntity retrieves all log entries naming an entity as source or
// target, newest first
func (r *Repository) ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.ResolutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionlog.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(logColumns)
	sb.From("resolution_log")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Or(
			sb.Equal("source_id", entityID),
			sb.Equal("target_id", entityID),
		),
	)
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var entries []models.ResolutionLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list resolution log entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list resolution log entries")
	}

	return entries, nil
}

// GetLatestMergeInto finds the most recent merge entry whose target is the
// given entity, used by split to record which merge it reverses
func (r *Repository) GetLatestMergeInto(ctx context.Context, tenantID, targetEntityID string) (*models.ResolutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionlog.Repository.GetLatestMergeInto")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(logColumns)
	sb.From("resolution_log")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("target_id", targetEntityID),
		sb.Equal("action", models.ResolutionActionMerge),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var entry models.ResolutionLogEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest merge entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest merge entry")
	}

	return &entry, nil
}

// ListByRun retrieves log entries written during a resolution run
func (r *Repository) ListByRun(ctx context.Context, tenantID, runID string) ([]models.ResolutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionlog.Repository.ListByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(logColumns)
	sb.From("resolution_log")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("run_id", runID),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var entries []models.ResolutionLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list resolution log entries by run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list resolution log entries")
	}

	return entries, nil
}
