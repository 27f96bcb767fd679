package reviewqueue

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/labstack/echo/v4"

	reviewrepo "github.com/Ramsey-B/fern/internal/repositories/reviewqueue"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Register registers review queue routes
func Register(g *echo.Group) {
	g.GET("", ListItems)
	g.GET("/:id", GetItem)
	g.POST("/:id/approve", ApproveItem)
	g.POST("/:id/reject", RejectItem)
	g.POST("/:id/skip", SkipItem)
}

// ListItems lists review queue items ordered by confidence descending
func ListItems(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	corpusID := context.GetCorpusID(ctx)
	if corpusID == "" {
		corpusID = c.QueryParam("corpus_id")
	}
	if corpusID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	}

	var status *string
	if v := c.QueryParam("status"); v != "" {
		status = &v
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[*reviewrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := repo.List(ctx, tenantID, corpusID, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetItem gets a single review queue item
func GetItem(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*reviewrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	item, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, item)
}

// ApproveItem approves a suggested match and performs the merge. The
// lower-id entity merges into the higher-scoring pair member recorded
// as entity_a at queue time.
func ApproveItem(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	userID := context.GetUserID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*reviewrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	item, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if item.Status != models.ReviewStatusPending && item.Status != models.ReviewStatusFlagged {
		return httperror.NewHTTPError(http.StatusConflict, "review item already resolved")
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var performedBy *string
	if userID != "" {
		performedBy = &userID
	}

	resp, err := engine.Merge(ctx, tenantID, merging.MergeParams{
		SourceID:     item.EntityBID,
		TargetID:     item.EntityAID,
		Reason:       "review queue approval",
		Confidence:   item.Confidence,
		Method:       models.ResolutionMethodManual,
		PerformedBy:  performedBy,
		ReviewItemID: &item.ID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// RejectItem rejects a suggested match without merging
func RejectItem(c echo.Context) error {
	return review(c, models.ReviewStatusRejected)
}

// SkipItem defers a suggested match. Skipped items stay out of the
// pending view but can be re-queued by a later resolution pass.
func SkipItem(c echo.Context) error {
	return review(c, models.ReviewStatusSkipped)
}

func review(c echo.Context, status string) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	userID := context.GetUserID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*reviewrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var reviewedBy *string
	if userID != "" {
		reviewedBy = &userID
	}

	if err := repo.UpdateStatus(ctx, tenantID, id, status, reviewedBy); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": status})
}
