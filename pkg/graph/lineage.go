package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// LineageService maintains RESOLVED_TO edges between merged-away entities
// and their canonical targets
type LineageService struct {
	client *Client
	logger ectologger.Logger
}

// NewLineageService creates a new lineage service
func NewLineageService(client *Client, logger ectologger.Logger) *LineageService {
	return &LineageService{
		client: client,
		logger: logger,
	}
}

// MergeEdge describes one RESOLVED_TO edge
type MergeEdge struct {
	TenantID   string
	SourceID   string
	TargetID   string
	Confidence float64
	Method     string
	LogID      string
	MergedAt   time.Time
}

// RecordMerge creates the RESOLVED_TO edge from the merged-away entity to
// its canonical target. Both nodes are matched by ID only since a merge can
// cross labels when overridden.
func (s *LineageService) RecordMerge(ctx context.Context, edge *MergeEdge) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageService.RecordMerge")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": edge.SourceID,
		"target_id": edge.TargetID,
		"tenant_id": edge.TenantID,
	})

	cypher := `
		MATCH (source {id: $source_id, tenant_id: $tenant_id})
		MATCH (target {id: $target_id, tenant_id: $tenant_id})
		MERGE (source)-[r:RESOLVED_TO]->(target)
		SET r.confidence = $confidence,
		    r.method = $method,
		    r.log_id = $log_id,
		    r.merged_at = $merged_at
		RETURN r
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"source_id":  edge.SourceID,
			"target_id":  edge.TargetID,
			"tenant_id":  edge.TenantID,
			"confidence": edge.Confidence,
			"method":     edge.Method,
			"log_id":     edge.LogID,
			"merged_at":  edge.MergedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to record merge edge in graph")
		return fmt.Errorf("failed to record merge edge: %w", err)
	}

	log.Debug("Recorded merge edge in graph")
	return nil
}

// RemoveRedirect deletes a RESOLVED_TO edge, used when a split reverses an
// earlier merge
func (s *LineageService) RemoveRedirect(ctx context.Context, tenantID, sourceID, targetID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageService.RemoveRedirect")
	defer span.End()

	cypher := `
		MATCH (source {id: $source_id, tenant_id: $tenant_id})-[r:RESOLVED_TO]->(target {id: $target_id, tenant_id: $tenant_id})
		DELETE r
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"source_id": sourceID,
			"target_id": targetID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to remove redirect edge in graph")
		return fmt.Errorf("failed to remove redirect edge: %w", err)
	}

	return nil
}

// GetCluster returns the properties of every entity that transitively
// resolves into the given canonical entity, including the canonical node
// itself
func (s *LineageService) GetCluster(ctx context.Context, tenantID, canonicalID string) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageService.GetCluster")
	defer span.End()

	cypher := `
		MATCH (canonical {id: $id, tenant_id: $tenant_id})
		OPTIONAL MATCH (member {tenant_id: $tenant_id})-[:RESOLVED_TO*1..32]->(canonical)
		RETURN canonical, collect(member) AS members
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        canonicalID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}

		if !result.Next(ctx) {
			return nil, nil
		}

		record := result.Record()
		nodes := make([]map[string]any, 0)

		if canonical, ok := record.Get("canonical"); ok && canonical != nil {
			nodes = append(nodes, canonical.(neo4j.Node).Props)
		}
		if members, ok := record.Get("members"); ok && members != nil {
			for _, m := range members.([]any) {
				if m == nil {
					continue
				}
				nodes = append(nodes, m.(neo4j.Node).Props)
			}
		}
		return nodes, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get merge cluster from graph: %w", err)
	}

	if result == nil {
		return nil, nil
	}

	return result.([]map[string]any), nil
}
