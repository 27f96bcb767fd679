package mention

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

const mentionColumns = "id, tenant_id, corpus_id, entity_type, text, normalized_text, source_doc_id, sentence_index, role, fingerprint, status, resolved_entity_id, observed_at, created_at, updated_at, resolved_at"

// Repository handles mention persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new mention repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Upsert inserts a mention, deduplicating replays by fingerprint. The
// returned mention reflects the stored row, so a replayed message yields the
// originally ingested mention.
func (r *Repository) Upsert(ctx context.Context, m *models.Mention) (*models.Mention, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.Upsert")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = models.MentionStatusPending
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("mentions")
	sb.Cols("id", "tenant_id", "corpus_id", "entity_type", "text", "normalized_text", "source_doc_id", "sentence_index", "role", "fingerprint", "status", "observed_at", "created_at", "updated_at")
	sb.Values(m.ID, m.TenantID, m.CorpusID, m.EntityType, m.Text, m.NormalizedText, m.SourceDocID, m.SentenceIndex, m.Role, m.Fingerprint, m.Status, m.ObservedAt, m.CreatedAt, m.UpdatedAt)

	query, args := sb.Build()
	query += " ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET updated_at = EXCLUDED.updated_at RETURNING " + mentionColumns

	var stored models.Mention
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &stored, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"mention_id": m.ID}).Error("Failed to upsert mention")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert mention")
	}

	return &stored, nil
}

// Get retrieves a mention by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Mention, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mentionColumns)
	sb.From("mentions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var m models.Mention
	if err := r.db.GetContext(ctx, &m, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mention %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get mention")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get mention")
	}

	return &m, nil
}

// ListPendingByCorpus retrieves pending mentions for a corpus in stable ID
// order, starting after the checkpoint. Resumed runs pass the last processed
// mention ID so already-resolved mentions are never re-litigated.
func (r *Repository) ListPendingByCorpus(ctx context.Context, tenantID, corpusID string, afterMentionID *string, limit int) ([]models.Mention, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.ListPendingByCorpus")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mentionColumns)
	sb.From("mentions")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", corpusID),
		sb.Equal("status", models.MentionStatusPending),
	}
	if afterMentionID != nil && *afterMentionID != "" {
		where = append(where, sb.GreaterThan("id", *afterMentionID))
	}
	sb.Where(where...)
	sb.OrderBy("id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var mentions []models.Mention
	if err := r.db.SelectContext(ctx, &mentions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending mentions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending mentions")
	}

	return mentions, nil
}

// List retrieves mentions for a corpus with pagination
func (r *Repository) List(ctx context.Context, tenantID, corpusID string, page, pageSize int) (*models.MentionListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("mentions")
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.Equal("corpus_id", corpusID),
	)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count mentions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count mentions")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mentionColumns)
	sb.From("mentions")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", corpusID),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var mentions []models.Mention
	if err := r.db.SelectContext(ctx, &mentions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list mentions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list mentions")
	}

	return &models.MentionListResponse{
		Items:      mentions,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// MarkResolved records the canonical entity a mention resolved to
func (r *Repository) MarkResolved(ctx context.Context, tenantID, id, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.MarkResolved")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("mentions")
	sb.Set(
		sb.Assign("status", models.MentionStatusResolved),
		sb.Assign("resolved_entity_id", entityID),
		sb.Assign("resolved_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark mention resolved")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark mention resolved")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mention %s not found", id))
	}

	return nil
}

// MarkStatus sets a terminal status without a resolved entity (skipped or
// overflow mentions)
func (r *Repository) MarkStatus(ctx context.Context, tenantID, id, status string) error {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.MarkStatus")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("mentions")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update mention status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mention status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mention %s not found", id))
	}

	return nil
}

// CountByDocAndEntity counts documents affected by a merge: distinct source
// docs across mentions resolved to any of the given entities
func (r *Repository) CountDistinctDocs(ctx context.Context, tenantID string, entityIDs []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.CountDistinctDocs")
	defer span.End()

	if len(entityIDs) == 0 {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(DISTINCT source_doc_id)")
	sb.From("mentions")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("resolved_entity_id", stringsToAny(entityIDs)...),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count affected documents")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count affected documents")
	}

	return count, nil
}

// ReassignEntity repoints mentions from one entity to another, used when a
// split moves aliases to a new entity
func (r *Repository) ReassignEntity(ctx context.Context, tenantID, fromEntityID, toEntityID string, sourceDocs []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "mention.Repository.ReassignEntity")
	defer span.End()

	if len(sourceDocs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("mentions")
	sb.Set(
		sb.Assign("resolved_entity_id", toEntityID),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("resolved_entity_id", fromEntityID),
		sb.In("source_doc_id", stringsToAny(sourceDocs)...),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reassign mentions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign mentions")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func stringsToAny(values []string) []any {
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
