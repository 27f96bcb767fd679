package models

import (
	"time"
)

// Mention represents a single textual occurrence of an entity name in a
// source document, as produced by upstream extraction. Mentions are consumed
// by the resolution pipeline but never owned by it: the raw text is immutable
// once ingested.
type Mention struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	CorpusID         string     `json:"corpus_id" db:"corpus_id"`
	EntityType       string     `json:"entity_type" db:"entity_type"`
	Text             string     `json:"text" db:"text"`
	NormalizedText   string     `json:"normalized_text" db:"normalized_text"`
	SourceDocID      string     `json:"source_doc_id" db:"source_doc_id"`
	SentenceIndex    *int       `json:"sentence_index,omitempty" db:"sentence_index"`
	Role             *string    `json:"role,omitempty" db:"role"`
	Fingerprint      string     `json:"fingerprint" db:"fingerprint"`
	Status           string     `json:"status" db:"status"`
	ResolvedEntityID *string    `json:"resolved_entity_id,omitempty" db:"resolved_entity_id"`
	ObservedAt       time.Time  `json:"observed_at" db:"observed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Mention status constants
const (
	MentionStatusPending  = "pending"
	MentionStatusResolved = "resolved"
	MentionStatusSkipped  = "skipped"  // normalization produced an empty string
	MentionStatusOverflow = "overflow" // candidate generation overflowed twice
)

// CreateMentionRequest is the request for ingesting a mention
type CreateMentionRequest struct {
	CorpusID      string    `json:"corpus_id" validate:"required"`
	EntityType    string    `json:"entity_type" validate:"required,oneof=person place org"`
	Text          string    `json:"text" validate:"required"`
	SourceDocID   string    `json:"source_doc_id" validate:"required"`
	SentenceIndex *int      `json:"sentence_index,omitempty"`
	Role          *string   `json:"role,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

// MentionListResponse is the response for listing mentions
type MentionListResponse struct {
	Items      []Mention `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}

// MentionMessage represents an incoming mention from the extraction pipeline
type MentionMessage struct {
	Source        MentionMessageSource `json:"source"`
	TenantID      string               `json:"tenant_id"`
	CorpusID      string               `json:"corpus_id"`
	EntityType    string               `json:"entity_type"`
	Text          string               `json:"text"`
	SourceDocID   string               `json:"source_doc_id"`
	SentenceIndex *int                 `json:"sentence_index,omitempty"`
	Role          *string              `json:"role,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// MentionMessageSource identifies the extractor that produced the mention
type MentionMessageSource struct {
	Type        string `json:"type"`
	TenantID    string `json:"tenant_id"`
	Extractor   string `json:"extractor,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}
