package matchindex

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
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/models"
)

const indexColumns = "id, tenant_id, entity_id, corpus_id, entity_type, normalized, tokens, first_token, last_token, soundex, metaphone, created_at, updated_at"

// Repository handles match index persistence and candidate lookups
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match index repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or refreshes the blocking keys for an entity
func (r *Repository) Upsert(ctx context.Context, row *models.EntityMatchIndex) error {
	ctx, span := tracing.StartSpan(ctx, "matchindex.Repository.Upsert")
	defer span.End()

	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entity_match_index")
	sb.Cols("id", "tenant_id", "entity_id", "corpus_id", "entity_type", "normalized", "tokens", "first_token", "last_token", "soundex", "metaphone", "created_at", "updated_at")
	sb.Values(row.ID, row.TenantID, row.EntityID, row.CorpusID, row.EntityType, row.Normalized, row.Tokens, row.FirstToken, row.LastToken, row.Soundex, row.Metaphone, row.CreatedAt, row.UpdatedAt)

	query, args := sb.Build()
	query += ` ON CONFLICT (tenant_id, entity_id) DO UPDATE SET
		entity_type = EXCLUDED.entity_type,
		normalized = EXCLUDED.normalized,
		tokens = EXCLUDED.tokens,
		first_token = EXCLUDED.first_token,
		last_token = EXCLUDED.last_token,
		soundex = EXCLUDED.soundex,
		metaphone = EXCLUDED.metaphone,
		updated_at = EXCLUDED.updated_at`

	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": row.EntityID}).Error("Failed to upsert match index")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert match index")
	}

	return nil
}

// FindCandidates retrieves index rows sharing at least one blocking key with
// the query: equal normalized form, equal last token, a shared name token, or
// a matching phonetic code. Candidates of every entity type are returned so
// scoring can apply cross-type handling.
func (r *Repository) FindCandidates(ctx context.Context, tenantID string, excludeEntityID *string, query models.CandidateQuery) ([]models.EntityMatchIndex, error) {
	ctx, span := tracing.StartSpan(ctx, "matchindex.Repository.FindCandidates")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":    "FindCandidates",
		"tenant_id": tenantID,
		"corpus_id": query.CorpusID,
	})

	if query.Normalized == "" {
		return []models.EntityMatchIndex{}, nil
	}
	limit := query.Limit
	if limit < 1 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(indexColumns)
	sb.From("entity_match_index")

	blocking := []string{sb.Equal("normalized", query.Normalized)}
	if query.LastToken != "" {
		blocking = append(blocking, sb.Equal("last_token", query.LastToken))
	}
	if len(query.Tokens) > 0 {
		blocking = append(blocking, sb.Var(sqlbuilder.Buildf("tokens && %v", pq.Array(query.Tokens))))
	}
	if query.Soundex != "" {
		blocking = append(blocking, sb.Equal("soundex", query.Soundex))
	}
	if query.Metaphone != "" {
		blocking = append(blocking, sb.Equal("metaphone", query.Metaphone))
	}

	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", query.CorpusID),
		sb.Or(blocking...),
	}
	if excludeEntityID != nil && *excludeEntityID != "" {
		where = append(where, sb.NotEqual("entity_id", *excludeEntityID))
	}
	sb.Where(where...)
	sb.OrderBy("entity_id ASC")
	sb.Limit(limit)

	sql, args := sb.Build()
	var rows []models.EntityMatchIndex
	if err := r.db.SelectContext(ctx, &rows, sql, args...); err != nil {
		log.WithError(err).Error("Failed to find candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidates")
	}

	log.WithFields(map[string]any{"count": len(rows)}).Debug("Found candidates")
	return rows, nil
}

// GetByEntity retrieves the index row for an entity
func (r *Repository) GetByEntity(ctx context.Context, tenantID, entityID string) (*models.EntityMatchIndex, error) {
	ctx, span := tracing.StartSpan(ctx, "matchindex.Repository.GetByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(indexColumns)
	sb.From("entity_match_index")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_id", entityID),
	)

	query, args := sb.Build()
	var row models.EntityMatchIndex
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "match index row not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match index row")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match index row")
	}

	return &row, nil
}

// ListByCorpus retrieves index rows for a corpus ordered by entity ID, used
// by the duplicate scan
func (r *Repository) ListByCorpus(ctx context.Context, tenantID, corpusID string, afterEntityID string, limit int) ([]models.EntityMatchIndex, error) {
	ctx, span := tracing.StartSpan(ctx, "matchindex.Repository.ListByCorpus")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 200
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(indexColumns)
	sb.From("entity_match_index")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", corpusID),
	}
	if afterEntityID != "" {
		where = append(where, sb.GreaterThan("entity_id", afterEntityID))
	}
	sb.Where(where...)
	sb.OrderBy("entity_id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []models.EntityMatchIndex
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match index rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match index rows")
	}

	return rows, nil
}

// DeleteByEntity removes the index row for an entity. Merged-away entities
// leave the index so candidate lookups only surface canonical records.
func (r *Repository) DeleteByEntity(ctx context.Context, tenantID, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "matchindex.Repository.DeleteByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("entity_match_index")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_id", entityID),
	)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete match index row")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete match index row")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"entity_id": entityID}).Debug("Deleted match index row")
	return nil
}
