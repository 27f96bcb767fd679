package entityalias

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

const aliasColumns = "id, tenant_id, entity_id, alias, normalized, source_doc, sentence_index, role, first_seen"

// Repository handles entity alias persistence. Aliases are append-only
// provenance records; they move between entities on merge and split but are
// never rewritten.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new alias repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a single alias record
func (r *Repository) Create(ctx context.Context, a *models.EntityAlias) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.Create")
	defer span.End()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.FirstSeen.IsZero() {
		a.FirstSeen = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entity_aliases")
	sb.Cols("id", "tenant_id", "entity_id", "alias", "normalized", "source_doc", "sentence_index", "role", "first_seen")
	sb.Values(a.ID, a.TenantID, a.EntityID, a.Alias, a.Normalized, a.SourceDoc, a.SentenceIndex, a.Role, a.FirstSeen)

	query, args := sb.Build()
	query += " ON CONFLICT (tenant_id, entity_id, alias, source_doc) DO NOTHING"

	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": a.EntityID}).Error("Failed to create alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create alias")
	}

	return a, nil
}

// ListByEntity retrieves all aliases for an entity
func (r *Repository) ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(aliasColumns)
	sb.From("entity_aliases")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_id", entityID),
	)
	sb.OrderBy("first_seen ASC")

	query, args := sb.Build()
	var aliases []models.EntityAlias
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list aliases")
	}

	return aliases, nil
}

// GetByIDs retrieves aliases by their IDs
func (r *Repository) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(aliasColumns)
	sb.From("entity_aliases")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("id", stringsToAny(ids)...),
	)

	query, args := sb.Build()
	var aliases []models.EntityAlias
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get aliases by IDs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get aliases")
	}

	return aliases, nil
}

// MoveAllToEntity repoints every alias of a source entity at the target.
// Used during merge to union the alias sets.
func (r *Repository) MoveAllToEntity(ctx context.Context, tenantID, fromEntityID, toEntityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.MoveAllToEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entity_aliases")
	sb.Set(sb.Assign("entity_id", toEntityID))
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_id", fromEntityID),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to move aliases")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to move aliases")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// MoveToEntity repoints a specific subset of aliases at a new entity. Used
// during split.
func (r *Repository) MoveToEntity(ctx context.Context, tenantID string, aliasIDs []string, toEntityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.MoveToEntity")
	defer span.End()

	if len(aliasIDs) == 0 {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entity_aliases")
	sb.Set(sb.Assign("entity_id", toEntityID))
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("id", stringsToAny(aliasIDs)...),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to move aliases")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to move aliases")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// CountByEntity returns the alias count for an entity
func (r *Repository) CountByEntity(ctx context.Context, tenantID, entityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entityalias.Repository.CountByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("entity_aliases")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_id", entityID),
	)

	query, args := sb.Build()
	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count aliases")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count aliases")
	}

	return count, nil
}

func stringsToAny(values []string) []any {
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
