package resolution

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

var validate = validator.New()

// Register registers resolution routes
func Register(g *echo.Group) {
	g.POST("/resolve", ResolveAll)
	g.GET("/resolve/runs/:id", GetRun)
	g.GET("/duplicates", FindDuplicates)
}

// ResolveAll runs batch resolution over a corpus's pending mentions.
// Only one run per corpus can be active at a time.
func ResolveAll(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.ResolveAllRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	}
	if req.AutoThreshold != nil && (*req.AutoThreshold < 0 || *req.AutoThreshold > 1) {
		return httperror.NewHTTPError(http.StatusBadRequest, "auto_threshold must be between 0 and 1")
	}
	if req.ReviewThreshold != nil && (*req.ReviewThreshold < 0 || *req.ReviewThreshold > 1) {
		return httperror.NewHTTPError(http.StatusBadRequest, "review_threshold must be between 0 and 1")
	}

	ctx, svc, err := ectoinject.GetContext[*resolver.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := svc.ResolveAll(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetRun gets a resolution run, including its checkpoint counters
func GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*resolutionrun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, run)
}

// FindDuplicates scans a corpus for likely-duplicate entity pairs
// without modifying anything
func FindDuplicates(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	corpusID := context.GetCorpusID(ctx)
	if corpusID == "" {
		corpusID = c.QueryParam("corpus_id")
	}
	if corpusID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	}

	minConfidence := 0.6
	if v := c.QueryParam("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "min_confidence must be between 0 and 1")
		}
		minConfidence = f
	}

	var entityType *string
	if v := c.QueryParam("entity_type"); v != "" {
		entityType = &v
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
		}
		limit = n
	}

	ctx, svc, err := ectoinject.GetContext[*resolver.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	pairs, err := svc.FindDuplicates(ctx, tenantID, corpusID, minConfidence, entityType, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pairs)
}
