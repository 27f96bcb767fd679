package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	MentionMessage *models.MentionMessage
}

// ParseMentionMessage parses the message value as a mention message
func (m *IncomingMessage) ParseMentionMessage() error {
	var msg models.MentionMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.MentionMessage = &msg
	return nil
}

// GetTenantID returns the tenant ID from the mention message
func (m *IncomingMessage) GetTenantID() string {
	if m.MentionMessage != nil {
		if m.MentionMessage.TenantID != "" {
			return m.MentionMessage.TenantID
		}
		if m.MentionMessage.Source.TenantID != "" {
			return m.MentionMessage.Source.TenantID
		}
	}
	// Fallback to header
	return m.Headers["tenant_id"]
}

// GetCorpusID returns the corpus ID from the mention message
func (m *IncomingMessage) GetCorpusID() string {
	if m.MentionMessage != nil && m.MentionMessage.CorpusID != "" {
		return m.MentionMessage.CorpusID
	}
	return m.Headers["corpus_id"]
}

// GetExecutionID returns the extraction execution ID from the mention message
func (m *IncomingMessage) GetExecutionID() string {
	if m.MentionMessage != nil {
		return m.MentionMessage.Source.ExecutionID
	}
	return ""
}

// IsMention reports whether the message carries a usable mention: entity
// type, surface text, and provenance must all be present
func (m *IncomingMessage) IsMention() bool {
	if m.MentionMessage == nil {
		return false
	}
	return m.MentionMessage.EntityType != "" &&
		m.MentionMessage.Text != "" &&
		m.MentionMessage.SourceDocID != ""
}

// ExtractionCompletedMessage signals that an extraction run finished and its
// corpus is ready for a resolution pass
type ExtractionCompletedMessage struct {
	Type        string          `json:"type"` // "extraction.completed"
	TenantID    string          `json:"tenant_id"`
	CorpusID    string          `json:"corpus_id"`
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"` // "success", "partial", "failed"
	Timestamp   time.Time       `json:"timestamp"`
	Stats       ExtractionStats `json:"stats,omitempty"`
}

// ExtractionStats contains statistics about the extraction run
type ExtractionStats struct {
	DocumentsProcessed int   `json:"documents_processed"`
	MentionsEmitted    int   `json:"mentions_emitted"`
	DurationMs         int64 `json:"duration_ms"`
}

// IsExtractionCompleted checks if the message is an extraction.completed event
func (m *IncomingMessage) IsExtractionCompleted() bool {
	if msgType := m.Headers["type"]; msgType == "extraction.completed" {
		return true
	}

	var evt ExtractionCompletedMessage
	if err := json.Unmarshal(m.Value, &evt); err == nil {
		return evt.Type == "extraction.completed"
	}

	return false
}

// ParseExtractionCompleted parses the message as an extraction.completed event
func (m *IncomingMessage) ParseExtractionCompleted() (*ExtractionCompletedMessage, error) {
	var evt ExtractionCompletedMessage
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
