package reviewqueue

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

const reviewColumns = "id, tenant_id, corpus_id, entity_a_id, entity_b_id, confidence, evidence, status, created_at, updated_at, reviewed_at, reviewed_by"

// Repository handles the human review queue for suggested merges
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new review queue repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a review item. Re-suggesting an existing pending pair keeps
// the higher confidence rather than duplicating the item.
func (r *Repository) Create(ctx context.Context, item *models.ReviewItem) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Create")
	defer span.End()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = models.ReviewStatusPending
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("resolution_queue")
	sb.Cols("id", "tenant_id", "corpus_id", "entity_a_id", "entity_b_id", "confidence", "evidence", "status", "created_at", "updated_at")
	sb.Values(item.ID, item.TenantID, item.CorpusID, item.EntityAID, item.EntityBID, item.Confidence, item.Evidence, item.Status, item.CreatedAt, item.UpdatedAt)

	query, args := sb.Build()
	query += ` ON CONFLICT (tenant_id, entity_a_id, entity_b_id) DO UPDATE SET
		confidence = GREATEST(resolution_queue.confidence, EXCLUDED.confidence),
		evidence = EXCLUDED.evidence,
		updated_at = EXCLUDED.updated_at`

	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_a_id": item.EntityAID,
			"entity_b_id": item.EntityBID,
		}).Error("Failed to create review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create review item")
	}

	return item, nil
}

// Get retrieves a review item by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(reviewColumns)
	sb.From("resolution_queue")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var item models.ReviewItem
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("review item %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get review item")
	}

	return &item, nil
}

// List retrieves review items for a corpus filtered by status, highest
// confidence first
func (r *Repository) List(ctx context.Context, tenantID, corpusID string, status *string, page, pageSize int) (*models.ReviewItemListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.List")
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
		if status != nil && *status != "" {
			where = append(where, sb.Equal("status", *status))
		}
		return where
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("resolution_queue")
	countSb.Where(buildWhere(countSb)...)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count review items")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(reviewColumns)
	sb.From("resolution_queue")
	sb.Where(buildWhere(sb)...)
	sb.OrderBy("confidence DESC", "created_at ASC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var items []models.ReviewItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list review items")
	}

	return &models.ReviewItemListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// GetByEntityPair finds a review item for a pair of entities in either order
func (r *Repository) GetByEntityPair(ctx context.Context, tenantID, entityAID, entityBID string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.GetByEntityPair")
	defer span.End()

	query := `SELECT ` + reviewColumns + `
		FROM resolution_queue
		WHERE tenant_id = $1
		AND ((entity_a_id = $2 AND entity_b_id = $3) OR (entity_a_id = $3 AND entity_b_id = $2))
		LIMIT 1`

	var item models.ReviewItem
	if err := r.db.GetContext(ctx, &item, query, tenantID, entityAID, entityBID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get review item by entity pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get review item by entity pair")
	}

	return &item, nil
}

// UpdateStatus transitions a review item out of pending. Only pending and
// flagged items accept a disposition, so two reviewers cannot both resolve
// the same item.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id, status string, reviewedBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.UpdateStatus")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("resolution_queue")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("reviewed_at", now),
		sb.Assign("reviewed_by", reviewedBy),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.In("status", models.ReviewStatusPending, models.ReviewStatusFlagged),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update review item status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update review item status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("review item %s not found or already reviewed", id))
	}

	return nil
}

// RejectPendingForEntity rejects every pending item naming a merged-away
// entity, so stale suggestions do not linger after the pair is resolved
func (r *Repository) RejectPendingForEntity(ctx context.Context, tenantID, entityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.RejectPendingForEntity")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("resolution_queue")
	sb.Set(
		sb.Assign("status", models.ReviewStatusRejected),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("status", models.ReviewStatusPending),
		sb.Or(
			sb.Equal("entity_a_id", entityID),
			sb.Equal("entity_b_id", entityID),
		),
	)

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reject pending review items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reject pending review items")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// ExpireOlderThan expires pending items created before the cutoff
func (r *Repository) ExpireOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.ExpireOlderThan")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("resolution_queue")
	sb.Set(
		sb.Assign("status", models.ReviewStatusExpired),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("status", models.ReviewStatusPending),
		sb.LessThan("created_at", cutoff),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to expire review items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to expire review items")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"count": rows}).Info("Expired stale review items")
	}
	return int(rows), nil
}

// ListPendingTenantIDs lists the tenants that currently have pending items
func (r *Repository) ListPendingTenantIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.ListPendingTenantIDs")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT tenant_id")
	sb.From("resolution_queue")
	sb.Where(sb.Equal("status", models.ReviewStatusPending))

	query, args := sb.Build()
	tenantIDs := []string{}
	if err := r.db.SelectContext(ctx, &tenantIDs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list tenants with pending review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list tenants with pending review items")
	}

	return tenantIDs, nil
}
