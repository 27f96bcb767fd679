package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/health"
)

// TestAPIHelpers contains helper functions for API testing
type TestAPIHelpers struct {
	t        *testing.T
	e        *echo.Echo
	tenantID string
}

func NewTestAPIHelpers(t *testing.T) *TestAPIHelpers {
	e := echo.New()
	e.Use(middleware.Context())

	return &TestAPIHelpers{
		t:        t,
		e:        e,
		tenantID: "test-tenant",
	}
}

func (h *TestAPIHelpers) MakeRequest(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", h.tenantID)

	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthAPI(t *testing.T) {
	h := NewTestAPIHelpers(t)

	checker := health.NewChecker(nil, nil, "test")
	checker.RegisterRoutes(h.e)

	t.Run("Live_AlwaysUp", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/api/v1/health/live", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Ready_NotReadyUntilSet", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/api/v1/health/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		checker.SetReady(true)
		rec = h.MakeRequest(http.MethodGet, "/api/v1/health/ready", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Health_UnhealthyWithoutDatabase", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/api/v1/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var status health.HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "unhealthy", status.Status)
		require.NotNil(t, status.Checks["database"])
		assert.Equal(t, "unhealthy", status.Checks["database"].Status)
	})
}

func TestMergeAPI_Validation(t *testing.T) {
	t.Run("MergeRequest_ValidRequest", func(t *testing.T) {
		req := models.MergeRequest{
			SourceID: "e-source",
			TargetID: "e-target",
			Reason:   "same person across filings",
		}

		data, err := json.Marshal(req)
		require.NoError(t, err)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal(data, &parsed))
		assert.Equal(t, "e-source", parsed["source_id"])
		assert.Equal(t, "e-target", parsed["target_id"])
		assert.Equal(t, false, parsed["override"])
	})

	t.Run("MergeRequest_OverrideForCrossType", func(t *testing.T) {
		req := models.MergeRequest{
			SourceID: "e-org",
			TargetID: "e-place",
			Reason:   "city government filed as an organization",
			Override: true,
		}

		data, err := json.Marshal(req)
		require.NoError(t, err)

		var roundTrip models.MergeRequest
		require.NoError(t, json.Unmarshal(data, &roundTrip))
		assert.True(t, roundTrip.Override)
	})

	t.Run("SplitRequest_RequiresAliases", func(t *testing.T) {
		req := models.SplitRequest{
			AliasIDs: []string{"alias-1", "alias-2"},
			Reason:   "two distinct people were merged",
		}
		assert.NotEmpty(t, req.AliasIDs)

		empty := models.SplitRequest{Reason: "no aliases named"}
		assert.Empty(t, empty.AliasIDs, "request without aliases should be rejected by the handler")
	})
}

func TestResolveAPI_Validation(t *testing.T) {
	t.Run("ResolveAllRequest_DefaultThresholds", func(t *testing.T) {
		req := models.ResolveAllRequest{CorpusID: "corpus-1"}

		data, err := json.Marshal(req)
		require.NoError(t, err)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal(data, &parsed))
		assert.Equal(t, "corpus-1", parsed["corpus_id"])
		_, hasAuto := parsed["auto_threshold"]
		assert.False(t, hasAuto, "omitted thresholds fall back to configured defaults")
	})

	t.Run("ResolveAllRequest_ThresholdOverrides", func(t *testing.T) {
		auto := 0.9
		review := 0.7
		req := models.ResolveAllRequest{
			CorpusID:        "corpus-1",
			AutoThreshold:   &auto,
			ReviewThreshold: &review,
		}

		data, err := json.Marshal(req)
		require.NoError(t, err)

		var roundTrip models.ResolveAllRequest
		require.NoError(t, json.Unmarshal(data, &roundTrip))
		require.NotNil(t, roundTrip.AutoThreshold)
		assert.Equal(t, 0.9, *roundTrip.AutoThreshold)
	})
}

func TestMentionAPI_Validation(t *testing.T) {
	t.Run("MentionMessage_FullPayload", func(t *testing.T) {
		payload := []byte(`{
			"source": {"type": "extractor", "tenant_id": "t1", "execution_id": "run-1"},
			"tenant_id": "t1",
			"corpus_id": "c1",
			"entity_type": "person",
			"text": "Dr. Jane Smith",
			"source_doc_id": "doc-42",
			"sentence_index": 3,
			"role": "witness"
		}`)

		var msg models.MentionMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "person", msg.EntityType)
		require.NotNil(t, msg.SentenceIndex)
		assert.Equal(t, 3, *msg.SentenceIndex)
		require.NotNil(t, msg.Role)
		assert.Equal(t, "witness", *msg.Role)
	})

	t.Run("MentionMessage_OptionalFieldsOmitted", func(t *testing.T) {
		payload := []byte(`{
			"tenant_id": "t1",
			"corpus_id": "c1",
			"entity_type": "org",
			"text": "Acme Corp",
			"source_doc_id": "doc-7"
		}`)

		var msg models.MentionMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Nil(t, msg.SentenceIndex)
		assert.Nil(t, msg.Role)
	})
}
