// Package events handles event emission for resolution lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes resolution events to the output topic
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// MentionResolved emits a mention.resolved event
func (e *Emitter) MentionResolved(ctx context.Context, tenantID string, m *models.Mention, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MentionResolved")
	defer span.End()

	payload, _ := json.Marshal(MentionResolvedEvent{
		BaseEvent:  NewBaseEvent(EventTypeMentionResolved, tenantID, m.CorpusID),
		MentionID:  m.ID,
		EntityID:   entityID,
		EntityType: m.EntityType,
	})

	event := &kafka.ResolutionEvent{
		EventType:  string(EventTypeMentionResolved),
		TenantID:   tenantID,
		CorpusID:   m.CorpusID,
		EntityID:   entityID,
		EntityType: m.EntityType,
		MentionID:  m.ID,
		Data:       payload,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit mention.resolved event")
		return err
	}

	return nil
}

// EntityMerged emits an entity.merged event from a merge log entry
func (e *Emitter) EntityMerged(ctx context.Context, entry *models.ResolutionLogEntry, canonicalName string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMerged")
	defer span.End()

	payload, _ := json.Marshal(EntityMergedEvent{
		BaseEvent:      NewBaseEvent(EventTypeEntityMerged, entry.TenantID, entry.CorpusID),
		SourceEntityID: entry.SourceID,
		TargetEntityID: entry.TargetID,
		CanonicalName:  canonicalName,
		Confidence:     entry.Confidence,
		Method:         entry.Method,
		LogID:          entry.ID,
	})

	event := &kafka.ResolutionEvent{
		EventType:      string(EventTypeEntityMerged),
		TenantID:       entry.TenantID,
		CorpusID:       entry.CorpusID,
		EntityID:       entry.TargetID,
		SourceEntityID: entry.SourceID,
		Confidence:     entry.Confidence,
		Method:         entry.Method,
		LogID:          entry.ID,
		Data:           payload,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged event")
		return err
	}

	return nil
}

// EntitySplit emits an entity.split event
func (e *Emitter) EntitySplit(ctx context.Context, tenantID, corpusID, entityID string, resp *models.SplitResponse) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntitySplit")
	defer span.End()

	payload, _ := json.Marshal(EntitySplitEvent{
		BaseEvent:   NewBaseEvent(EventTypeEntitySplit, tenantID, corpusID),
		EntityID:    entityID,
		NewEntityID: resp.NewEntityID,
		NewName:     resp.NewEntityName,
		LogID:       resp.LogID,
	})

	event := &kafka.ResolutionEvent{
		EventType:      string(EventTypeEntitySplit),
		TenantID:       tenantID,
		CorpusID:       corpusID,
		EntityID:       resp.NewEntityID,
		SourceEntityID: entityID,
		LogID:          resp.LogID,
		Data:           payload,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.split event")
		return err
	}

	return nil
}

// MergeSuggested emits a merge.suggested event for a new review item
func (e *Emitter) MergeSuggested(ctx context.Context, item *models.ReviewItem) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MergeSuggested")
	defer span.End()

	payload, _ := json.Marshal(MergeSuggestedEvent{
		BaseEvent:    NewBaseEvent(EventTypeMergeSuggested, item.TenantID, item.CorpusID),
		ReviewItemID: item.ID,
		EntityAID:    item.EntityAID,
		EntityBID:    item.EntityBID,
		Confidence:   item.Confidence,
	})

	event := &kafka.ResolutionEvent{
		EventType:  string(EventTypeMergeSuggested),
		TenantID:   item.TenantID,
		CorpusID:   item.CorpusID,
		EntityID:   item.EntityAID,
		Confidence: item.Confidence,
		Data:       payload,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge.suggested event")
		return err
	}

	return nil
}
