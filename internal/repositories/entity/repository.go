package entity

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

const entityColumns = "id, tenant_id, corpus_id, entity_type, canonical_name, normalized_name, resolved_to, resolution_confidence, resolution_method, version, created_at, updated_at"

// maxChainDepth bounds redirect chains when resolving a canonical entity.
// Merges always point at canonical targets, so chains longer than this
// indicate corrupted data.
const maxChainDepth = 32

// Repository handles canonical entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
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

// Create inserts a new canonical entity
func (r *Repository) Create(ctx context.Context, e *models.Entity) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Version == 0 {
		e.Version = 1
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols("id", "tenant_id", "corpus_id", "entity_type", "canonical_name", "normalized_name", "version", "created_at", "updated_at")
	sb.Values(e.ID, e.TenantID, e.CorpusID, e.EntityType, e.CanonicalName, e.NormalizedName, e.Version, e.CreatedAt, e.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": e.ID}).Error("Failed to create entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
	}

	return e, nil
}

// Get retrieves an entity by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns)
	sb.From("entities")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var e models.Entity
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &e, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}

	return &e, nil
}

// ResolveCanonical follows resolved_to redirects until it reaches an entity
// that has not been merged away. Lookups against a merged entity always land
// on the surviving canonical record.
func (r *Repository) ResolveCanonical(ctx context.Context, tenantID string, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ResolveCanonical")
	defer span.End()

	current := id
	for depth := 0; depth < maxChainDepth; depth++ {
		e, err := r.Get(ctx, tenantID, current)
		if err != nil {
			return nil, err
		}
		if !e.IsMergedAway() {
			return e, nil
		}
		current = *e.ResolvedTo
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"entity_id": id}).Error("Merge redirect chain exceeded max depth")
	return nil, httperror.NewHTTPError(http.StatusInternalServerError, "merge redirect chain too deep")
}

// List retrieves entities for a corpus with pagination. Merged-away entities
// are excluded unless includeMerged is set.
func (r *Repository) List(ctx context.Context, tenantID, corpusID string, entityType *string, includeMerged bool, page, pageSize int) (*models.EntityListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	buildWhere := func(sb *sqlbuilder.SelectBuilder) []string {
		where := []string{
			sb.Equal("tenant_id", tenantID),
			sb.Equal("corpus_id", corpusID),
		}
		if entityType != nil && *entityType != "" {
			where = append(where, sb.Equal("entity_type", *entityType))
		}
		if !includeMerged {
			where = append(where, sb.IsNull("resolved_to"))
		}
		return where
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("entities")
	countSb.Where(buildWhere(countSb)...)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entities")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns)
	sb.From("entities")
	sb.Where(buildWhere(sb)...)
	sb.OrderBy("canonical_name ASC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}

	return &models.EntityListResponse{
		Items:      entities,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// SetResolved marks an entity as merged into a target. The version guard
// makes concurrent merges of the same source fail rather than silently
// overwrite each other.
func (r *Repository) SetResolved(ctx context.Context, tenantID, id, targetID string, confidence float64, method string, expectedVersion int) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetResolved")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("resolved_to", targetID),
		sb.Assign("resolution_confidence", confidence),
		sb.Assign("resolution_method", method),
		sb.Incr("version"),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("version", expectedVersion),
		sb.IsNull("resolved_to"),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set entity resolution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set entity resolution")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("entity %s was modified concurrently or already merged", id))
	}

	return nil
}

// ClearResolved reopens a merged-away entity, used when a merge transaction
// must be compensated after a downstream failure
func (r *Repository) ClearResolved(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ClearResolved")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("resolved_to", nil),
		sb.Assign("resolution_confidence", nil),
		sb.Assign("resolution_method", nil),
		sb.Incr("version"),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear entity resolution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear entity resolution")
	}

	return nil
}

// UpdateCanonicalName replaces the display and normalized names of an entity
func (r *Repository) UpdateCanonicalName(ctx context.Context, tenantID, id, canonicalName, normalizedName string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateCanonicalName")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("canonical_name", canonicalName),
		sb.Assign("normalized_name", normalizedName),
		sb.Incr("version"),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update canonical name")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update canonical name")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
	}

	return nil
}

// ListByCorpusPaged retrieves live entities for a corpus ordered by ID, used
// by the duplicate scan to walk the corpus in stable pages
func (r *Repository) ListByCorpusPaged(ctx context.Context, tenantID, corpusID string, afterID string, limit int) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListByCorpusPaged")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 200
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns)
	sb.From("entities")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("corpus_id", corpusID),
		sb.IsNull("resolved_to"),
	}
	if afterID != "" {
		where = append(where, sb.GreaterThan("id", afterID))
	}
	sb.Where(where...)
	sb.OrderBy("id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities by corpus")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities by corpus")
	}

	return entities, nil
}
