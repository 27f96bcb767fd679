package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event
type EventType string

const (
	// Resolution events
	EventTypeMentionResolved EventType = "mention.resolved"
	EventTypeEntityCreated   EventType = "entity.created"
	EventTypeEntityMerged    EventType = "entity.merged"
	EventTypeEntitySplit     EventType = "entity.split"

	// Review events
	EventTypeMergeSuggested EventType = "merge.suggested"
	EventTypeMergeApproved  EventType = "merge.approved"
	EventTypeMergeRejected  EventType = "merge.rejected"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	CorpusID      string    `json:"corpus_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// MentionResolvedEvent is emitted when a mention lands on a canonical entity
type MentionResolvedEvent struct {
	BaseEvent
	MentionID  string `json:"mention_id"`
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
}

// EntityMergedEvent is emitted when one entity is merged into another
type EntityMergedEvent struct {
	BaseEvent
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	CanonicalName  string  `json:"canonical_name"`
	Confidence     float64 `json:"confidence"`
	Method         string  `json:"method"`
	LogID          string  `json:"log_id"`
}

// EntitySplitEvent is emitted when a split carves out a new entity
type EntitySplitEvent struct {
	BaseEvent
	EntityID    string `json:"entity_id"`
	NewEntityID string `json:"new_entity_id"`
	NewName     string `json:"new_name"`
	LogID       string `json:"log_id"`
}

// MergeSuggestedEvent is emitted when a pair is queued for human review
type MergeSuggestedEvent struct {
	BaseEvent
	ReviewItemID string  `json:"review_item_id"`
	EntityAID    string  `json:"entity_a_id"`
	EntityBID    string  `json:"entity_b_id"`
	Confidence   float64 `json:"confidence"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, tenantID, corpusID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      tenantID,
		CorpusID:      corpusID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
