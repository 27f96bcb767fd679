package entity

import (
	stdcontext "context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	entityrepo "github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/entityalias"
	"github.com/Ramsey-B/fern/internal/repositories/resolutionlog"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = validator.New()

// Register registers entity routes
func Register(g *echo.Group) {
	g.GET("", ListEntities)
	g.GET("/canonical", FindCanonical)
	g.GET("/:id", GetEntity)
	g.GET("/:id/aliases", GetEntityAliases)
	g.GET("/:id/history", GetEntityHistory)
	g.POST("/merge", MergeEntities)
	g.POST("/:id/split", SplitEntity)
}

// ListEntities lists live entities for the request corpus
func ListEntities(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	corpusID := context.GetCorpusID(ctx)
	if corpusID == "" {
		corpusID = c.QueryParam("corpus_id")
	}
	if corpusID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	}

	var entityType *string
	if v := c.QueryParam("entity_type"); v != "" {
		entityType = &v
	}
	includeMerged := c.QueryParam("include_merged") == "true"

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[*entityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := repo.List(ctx, tenantID, corpusID, entityType, includeMerged, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetEntity gets an entity by ID. Merged-away entities are returned as-is
// with their redirect visible; pass follow=true to land on the canonical
// record.
func GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if c.QueryParam("follow") == "true" {
		ent, err := repo.ResolveCanonical(ctx, tenantID, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ent)
	}

	ent, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ent)
}

// FindCanonical resolves an entity reference to its canonical record,
// following merge redirects
func FindCanonical(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ref := c.QueryParam("ref")
	if ref == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "ref query parameter is required")
	}

	ctx, repo, err := ectoinject.GetContext[*entityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ent, err := repo.ResolveCanonical(ctx, tenantID, ref)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ent)
}

// GetEntityAliases lists the aliases of an entity
func GetEntityAliases(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entityalias.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	aliases, err := repo.ListByEntity(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, aliases)
}

// GetEntityHistory lists resolution log entries naming an entity
func GetEntityHistory(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*resolutionlog.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := repo.ListByEntity(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// MergeEntities merges one entity into another
func MergeEntities(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	userID := context.GetUserID(ctx)

	var req models.MergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "source_id, target_id, and reason are required")
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
		SourceID:    req.SourceID,
		TargetID:    req.TargetID,
		Reason:      req.Reason,
		Override:    req.Override,
		Confidence:  1.0,
		Method:      models.ResolutionMethodManual,
		PerformedBy: performedBy,
	})
	if err != nil {
		return mapMergeError(err)
	}

	emitMerged(ctx, tenantID, resp)

	return c.JSON(http.StatusOK, resp)
}

// SplitEntity moves a subset of an entity's aliases onto a new entity
func SplitEntity(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	userID := context.GetUserID(ctx)
	id := c.Param("id")

	var req models.SplitRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "alias_ids and reason are required")
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var performedBy *string
	if userID != "" {
		performedBy = &userID
	}

	resp, err := engine.Split(ctx, tenantID, id, req, performedBy)
	if err != nil {
		return mapMergeError(err)
	}

	if ctx, emitter, emitErr := ectoinject.GetContext[*events.Emitter](ctx); emitErr == nil {
		corpusID := context.GetCorpusID(ctx)
		if err := emitter.EntitySplit(ctx, tenantID, corpusID, id, resp); err != nil {
			warn(ctx, "Failed to emit entity.split event", err)
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// mapMergeError translates merge engine failures into HTTP errors
func mapMergeError(err error) error {
	switch err.(type) {
	case *merging.CircularMergeError:
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case *merging.CrossTypeError:
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case *merging.AlreadyMergedError:
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

func emitMerged(ctx stdcontext.Context, tenantID string, resp *models.MergeResponse) {
	ctx, logRepo, err := ectoinject.GetContext[*resolutionlog.Repository](ctx)
	if err != nil {
		return
	}
	entry, err := logRepo.Get(ctx, tenantID, resp.LogID)
	if err != nil || entry == nil {
		warn(ctx, "Failed to load merge log entry for event", err)
		return
	}
	ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx)
	if err != nil {
		return
	}
	if err := emitter.EntityMerged(ctx, entry, resp.CanonicalName); err != nil {
		warn(ctx, "Failed to emit entity.merged event", err)
	}
}

func warn(ctx stdcontext.Context, msg string, err error) {
	if _, logger, lerr := ectoinject.GetContext[ectologger.Logger](ctx); lerr == nil {
		logger.WithContext(ctx).WithError(err).Warn(msg)
	}
}
