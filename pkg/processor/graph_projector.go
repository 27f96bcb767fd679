package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	entityrepo "github.com/Ramsey-B/fern/internal/repositories/entity"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// GraphProjector maintains the graph projection of the entity store. It
// consumes the resolution event topic and applies node and edge updates,
// so the projection lags the store by at most the consumer backlog.
type GraphProjector struct {
	logger   ectologger.Logger
	entities *entityrepo.Repository
	nodes    *graph.EntityService
	lineage  *graph.LineageService
	enabled  bool
}

// NewGraphProjector creates a new graph projector
func NewGraphProjector(
	logger ectologger.Logger,
	entities *entityrepo.Repository,
	nodes *graph.EntityService,
	lineage *graph.LineageService,
	enabled bool,
) *GraphProjector {
	return &GraphProjector{
		logger:   logger,
		entities: entities,
		nodes:    nodes,
		lineage:  lineage,
		enabled:  enabled,
	}
}

// HandleMessage is the Kafka consumer entrypoint for the event topic
func (p *GraphProjector) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.GraphProjector.HandleMessage")
	defer span.End()

	if !p.enabled {
		return nil
	}

	var evt kafka.ResolutionEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		}).Error("Failed to parse resolution event, skipping")
		return nil
	}
	if evt.TenantID == "" {
		p.logger.WithContext(ctx).Warn("Dropping resolution event with no tenant ID")
		return nil
	}

	ctx = fernctx.SetTenantID(ctx, evt.TenantID)
	ctx = fernctx.SetCorpusID(ctx, evt.CorpusID)

	switch events.EventType(evt.EventType) {
	case events.EventTypeEntityCreated, events.EventTypeMentionResolved:
		return p.syncEntity(ctx, evt.TenantID, evt.EntityID)
	case events.EventTypeEntitySplit:
		// Both sides change on a split: the carved-out entity is new and
		// the remaining one may carry a different canonical name.
		if err := p.syncEntity(ctx, evt.TenantID, evt.SourceEntityID); err != nil {
			return err
		}
		return p.syncEntity(ctx, evt.TenantID, evt.EntityID)
	case events.EventTypeEntityMerged:
		return p.projectMerge(ctx, &evt)
	default:
		return nil
	}
}

func (p *GraphProjector) syncEntity(ctx context.Context, tenantID, entityID string) error {
	if entityID == "" {
		return nil
	}

	ent, err := p.entities.Get(ctx, tenantID, entityID)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
		}).Error("Failed to load entity for graph sync")
		return err
	}

	return p.nodes.Sync(ctx, ent)
}

func (p *GraphProjector) projectMerge(ctx context.Context, evt *kafka.ResolutionEvent) error {
	var payload events.EntityMergedEvent
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			p.logger.WithContext(ctx).WithError(err).Error("Failed to parse entity.merged payload, skipping")
			return nil
		}
	}

	sourceID := payload.SourceEntityID
	if sourceID == "" {
		sourceID = evt.SourceEntityID
	}
	targetID := payload.TargetEntityID
	if targetID == "" {
		targetID = evt.EntityID
	}

	// Sync both nodes first so the edge has endpoints to land on.
	if err := p.syncEntity(ctx, evt.TenantID, sourceID); err != nil {
		return err
	}
	if err := p.syncEntity(ctx, evt.TenantID, targetID); err != nil {
		return err
	}

	mergedAt := payload.Timestamp
	if mergedAt.IsZero() {
		mergedAt = time.Now().UTC()
	}

	return p.lineage.RecordMerge(ctx, &graph.MergeEdge{
		TenantID:   evt.TenantID,
		SourceID:   sourceID,
		TargetID:   targetID,
		Confidence: payload.Confidence,
		Method:     payload.Method,
		LogID:      payload.LogID,
		MergedAt:   mergedAt,
	})
}
