package graph

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/fern/pkg/graph"
)

// Handler handles graph query API endpoints
type Handler struct {
	queryService   *graphpkg.QueryService
	lineageService *graphpkg.LineageService
	logger         ectologger.Logger
}

// NewHandler creates a new graph handler
func NewHandler(queryService *graphpkg.QueryService, lineageService *graphpkg.LineageService, logger ectologger.Logger) *Handler {
	return &Handler{
		queryService:   queryService,
		lineageService: lineageService,
		logger:         logger,
	}
}

// Register registers the graph routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/query", h.ExecuteQuery)
	g.GET("/path", h.FindResolutionPath)
	g.GET("/neighbors/:entityId", h.FindNeighbors)
	g.GET("/cluster/:entityId", h.GetCluster)
}

func (h *Handler) requireQueryService(c echo.Context) (*graphpkg.QueryService, error) {
	// Prefer an explicitly provided service (useful for tests), with DI-from-context
	// as the fallback used elsewhere.
	if h != nil && h.queryService != nil {
		return h.queryService, nil
	}

	ctx := c.Request().Context()
	_, svc, err := ectoinject.GetContext[*graphpkg.QueryService](ctx)
	if err != nil || svc == nil {
		// 503 because the graph projection can be disabled.
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "graph query service unavailable")
	}
	return svc, nil
}

func (h *Handler) requireLineageService(c echo.Context) (*graphpkg.LineageService, error) {
	if h != nil && h.lineageService != nil {
		return h.lineageService, nil
	}

	ctx := c.Request().Context()
	_, svc, err := ectoinject.GetContext[*graphpkg.LineageService](ctx)
	if err != nil || svc == nil {
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "graph lineage service unavailable")
	}
	return svc, nil
}

// QueryRequest is the request body for executing a Cypher query
type QueryRequest struct {
	Query  string         `json:"query" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// ExecuteQuery executes a read-only Cypher query
// @Summary Execute a Cypher query
// @Description Run a read-only OpenCypher query against the graph database
// @Tags Graph
// @Accept json
// @Produce json
// @Param body body QueryRequest true "Query request"
// @Success 200 {object} graphpkg.QueryResult
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/graph/query [post]
func (h *Handler) ExecuteQuery(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Query == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	result, err := qs.ExecuteQuery(ctx, tenantID, req.Query, req.Params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// FindResolutionPath finds the chain of merges connecting two entities
// @Summary Find resolution path
// @Description Find the chain of merge redirects connecting two entities
// @Tags Graph
// @Produce json
// @Param from query string true "From entity ID"
// @Param to query string true "To entity ID"
// @Param max_hops query int false "Maximum hops (default 10)"
// @Success 200 {object} graphpkg.QueryResult
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/graph/path [get]
func (h *Handler) FindResolutionPath(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	fromID := c.QueryParam("from")
	toID := c.QueryParam("to")

	if fromID == "" || toID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "from and to parameters are required")
	}

	maxHops := 10
	if hopsStr := c.QueryParam("max_hops"); hopsStr != "" {
		var parsed int
		if err := echo.QueryParamsBinder(c).Int("max_hops", &parsed).BindError(); err == nil && parsed > 0 {
			maxHops = parsed
		}
	}

	result, err := qs.FindResolutionPath(ctx, tenantID, fromID, toID, maxHops)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// FindNeighbors finds entities linked to a given entity by merge lineage
// @Summary Find neighbors
// @Description Find entities connected to a given entity within N redirect hops
// @Tags Graph
// @Produce json
// @Param entityId path string true "Entity ID"
// @Param type query string false "Entity type"
// @Param hops query int false "Number of hops (default 1)"
// @Success 200 {object} graphpkg.QueryResult
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/graph/neighbors/{entityId} [get]
func (h *Handler) FindNeighbors(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	entityID := c.Param("entityId")
	if entityID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity ID is required")
	}
	entityType := c.QueryParam("type")

	hops := 1
	if hopsStr := c.QueryParam("hops"); hopsStr != "" {
		var parsed int
		if err := echo.QueryParamsBinder(c).Int("hops", &parsed).BindError(); err == nil && parsed > 0 {
			hops = parsed
		}
	}

	result, err := qs.FindNeighbors(ctx, tenantID, entityID, entityType, hops)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// GetCluster returns every entity whose redirects land on the given canonical
// @Summary Get resolution cluster
// @Description List all entities merged, directly or transitively, into the given entity
// @Tags Graph
// @Produce json
// @Param entityId path string true "Canonical entity ID"
// @Success 200 {array} map[string]any
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/graph/cluster/{entityId} [get]
func (h *Handler) GetCluster(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ls, err := h.requireLineageService(c)
	if err != nil {
		return err
	}

	entityID := c.Param("entityId")
	if entityID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity ID is required")
	}

	members, err := ls.GetCluster(ctx, tenantID, entityID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, members)
}
