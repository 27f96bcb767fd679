package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestParseMentionMessage(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{
			"tenant_id": "t1",
			"corpus_id": "c1",
			"entity_type": "person",
			"text": "Jane Smith",
			"source_doc_id": "doc-1"
		}`)}

		require.NoError(t, msg.ParseMentionMessage())
		assert.Equal(t, "person", msg.MentionMessage.EntityType)
		assert.True(t, msg.IsMention())
	})

	t.Run("invalid json", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`not json`)}
		require.Error(t, msg.ParseMentionMessage())
		assert.False(t, msg.IsMention())
	})

	t.Run("mention requires type, text, and provenance", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"entity_type": "person", "text": "Jane"}`)}
		require.NoError(t, msg.ParseMentionMessage())
		assert.False(t, msg.IsMention())
	})
}

func TestTenantAndCorpusFallbacks(t *testing.T) {
	t.Run("body wins over header", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers:        map[string]string{"tenant_id": "header-tenant", "corpus_id": "header-corpus"},
			MentionMessage: &models.MentionMessage{TenantID: "t1", CorpusID: "c1"},
		}
		assert.Equal(t, "t1", msg.GetTenantID())
		assert.Equal(t, "c1", msg.GetCorpusID())
	})

	t.Run("source block backs up the envelope", func(t *testing.T) {
		msg := &IncomingMessage{
			MentionMessage: &models.MentionMessage{
				Source: models.MentionMessageSource{TenantID: "t-src", ExecutionID: "run-9"},
			},
		}
		assert.Equal(t, "t-src", msg.GetTenantID())
		assert.Equal(t, "run-9", msg.GetExecutionID())
	})

	t.Run("headers are the last resort", func(t *testing.T) {
		msg := &IncomingMessage{Headers: map[string]string{"tenant_id": "t-h", "corpus_id": "c-h"}}
		assert.Equal(t, "t-h", msg.GetTenantID())
		assert.Equal(t, "c-h", msg.GetCorpusID())
	})
}

func TestIsExtractionCompleted(t *testing.T) {
	t.Run("header marker", func(t *testing.T) {
		msg := &IncomingMessage{Headers: map[string]string{"type": "extraction.completed"}}
		assert.True(t, msg.IsExtractionCompleted())
	})

	t.Run("body type field", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{},
			Value:   []byte(`{"type": "extraction.completed", "tenant_id": "t1", "corpus_id": "c1"}`),
		}
		assert.True(t, msg.IsExtractionCompleted())

		evt, err := msg.ParseExtractionCompleted()
		require.NoError(t, err)
		assert.Equal(t, "c1", evt.CorpusID)
	})

	t.Run("plain mention is not a completion signal", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{},
			Value:   []byte(`{"entity_type": "person", "text": "Jane"}`),
		}
		assert.False(t, msg.IsExtractionCompleted())
	})
}
