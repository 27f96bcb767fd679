package mention

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/labstack/echo/v4"

	mentionrepo "github.com/Ramsey-B/fern/internal/repositories/mention"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// Register registers mention routes
func Register(g *echo.Group) {
	g.GET("", ListMentions)
	g.GET("/:id", GetMention)
	g.POST("", CreateMention)
}

// ListMentions lists mentions for a corpus
func ListMentions(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	corpusID := context.GetCorpusID(ctx)
	if corpusID == "" {
		corpusID = c.QueryParam("corpus_id")
	}
	if corpusID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[*mentionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := repo.List(ctx, tenantID, corpusID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetMention gets a mention by ID
func GetMention(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*mentionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	m, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, m)
}

// CreateMentionResponse is the synchronous ingest result
type CreateMentionResponse struct {
	Mention *models.Mention `json:"mention"`
	Outcome string          `json:"outcome"`
}

// CreateMention ingests a single mention over HTTP and resolves it
// synchronously. The Kafka topic is the high-volume path; this endpoint
// exists for backfills and manual corrections.
func CreateMention(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.MentionMessage
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CorpusID == "" || req.EntityType == "" || req.Text == "" || req.SourceDocID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "corpus_id, entity_type, text, and source_doc_id are required")
	}

	ctx = context.SetCorpusID(ctx, req.CorpusID)

	observedAt := req.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	m := &models.Mention{
		TenantID:       tenantID,
		CorpusID:       req.CorpusID,
		EntityType:     req.EntityType,
		Text:           req.Text,
		NormalizedText: normalizers.Normalize(req.Text, req.EntityType),
		SourceDocID:    req.SourceDocID,
		SentenceIndex:  req.SentenceIndex,
		Role:           req.Role,
		Fingerprint:    fingerprint.Mention(req.CorpusID, req.EntityType, req.Text, req.SourceDocID, req.SentenceIndex),
		ObservedAt:     observedAt,
	}

	ctx, repo, err := ectoinject.GetContext[*mentionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	stored, err := repo.Upsert(ctx, m)
	if err != nil {
		return err
	}

	if stored.Status != models.MentionStatusPending {
		return c.JSON(http.StatusOK, CreateMentionResponse{Mention: stored, Outcome: "already_processed"})
	}

	ctx, svc, err := ectoinject.GetContext[*resolver.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	outcome, err := svc.ResolveMention(ctx, tenantID, stored)
	if err != nil {
		return err
	}

	resolved, err := repo.Get(ctx, tenantID, stored.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, CreateMentionResponse{Mention: resolved, Outcome: string(outcome)})
}
