package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
)

// EntityService maintains the canonical-entity projection in the graph.
// Nodes are labeled by entity type; merged-away entities keep their node
// with a resolved_to property so old references still land somewhere.
type EntityService struct {
	client *Client
	logger ectologger.Logger
}

// NewEntityService creates a new entity service
func NewEntityService(client *Client, logger ectologger.Logger) *EntityService {
	return &EntityService{
		client: client,
		logger: logger,
	}
}

func entityProps(entity *models.Entity) map[string]any {
	props := map[string]any{
		"id":             entity.ID,
		"tenant_id":      entity.TenantID,
		"corpus_id":      entity.CorpusID,
		"entity_type":    entity.EntityType,
		"canonical_name": entity.CanonicalName,
		"version":        entity.Version,
		"created_at":     entity.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"updated_at":     entity.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if entity.ResolvedTo != nil {
		props["resolved_to"] = *entity.ResolvedTo
	}
	if entity.ResolutionConfidence != nil {
		props["resolution_confidence"] = *entity.ResolutionConfidence
	}
	if entity.ResolutionMethod != nil {
		props["resolution_method"] = *entity.ResolutionMethod
	}
	return props
}

// Sync creates or updates an entity node in the graph
func (s *EntityService) Sync(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityService.Sync")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entity.EntityType,
		"tenant_id":   entity.TenantID,
	})

	cypher := fmt.Sprintf(`
		MERGE (e:%s {id: $id, tenant_id: $tenant_id})
		SET e = $props
		RETURN e
	`, sanitizeLabel(entity.EntityType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        entity.ID,
			"tenant_id": entity.TenantID,
			"props":     entityProps(entity),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to sync entity to graph")
		return fmt.Errorf("failed to sync entity to graph: %w", err)
	}

	log.Debug("Synced entity to graph")
	return nil
}

// Get retrieves an entity node by ID
func (s *EntityService) Get(ctx context.Context, tenantID string, entityID string, entityType string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityService.Get")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (e:%s {id: $id, tenant_id: $tenant_id})
		RETURN e
	`, sanitizeLabel(entityType))

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        entityID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}

		if result.Next(ctx) {
			record := result.Record()
			node, ok := record.Get("e")
			if !ok {
				return nil, nil
			}
			n := node.(neo4j.Node)
			return n.Props, nil
		}
		return nil, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get entity from graph: %w", err)
	}

	if result == nil {
		return nil, nil
	}

	return result.(map[string]any), nil
}

// BatchSync creates or updates multiple entity nodes in a single transaction
func (s *EntityService) BatchSync(ctx context.Context, entities []*models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityService.BatchSync")
	defer span.End()

	if len(entities) == 0 {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(entities),
	})

	byType := make(map[string][]*models.Entity)
	for _, e := range entities {
		byType[e.EntityType] = append(byType[e.EntityType], e)
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for entityType, typeEntities := range byType {
			batchData := make([]map[string]any, len(typeEntities))
			for i, entity := range typeEntities {
				batchData[i] = entityProps(entity)
			}

			// UNWIND for efficient batch insert
			cypher := fmt.Sprintf(`
				UNWIND $batch AS props
				MERGE (e:%s {id: props.id, tenant_id: props.tenant_id})
				SET e = props
			`, sanitizeLabel(entityType))

			_, err := tx.Run(ctx, cypher, map[string]any{"batch": batchData})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		log.WithError(err).Error("Failed to batch sync entities to graph")
		return fmt.Errorf("failed to batch sync entities: %w", err)
	}

	log.Debug("Batch synced entities to graph")
	return nil
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "Entity"
	}
	return result
}
