package store

import (
	"context"
	"fmt"

	"github.com/kgforge/kgforge/internal/models"
)

// EntityTypes returns the distinct entity labels of one version, sorted.
func (s *GraphStore) EntityTypes(ctx context.Context, version string) ([]string, error) {
	const query = `
MATCH (e:Entity {kg_version: $v})
RETURN DISTINCT e.entity_label AS t
ORDER BY t
`

	return s.collectStrings(ctx, query, version)
}

// RelationTypes returns the distinct predicates of one version, sorted.
func (s *GraphStore) RelationTypes(ctx context.Context, version string) ([]string, error) {
	const query = `
MATCH ()-[r:REL {kg_version: $v}]->()
RETURN DISTINCT r.predicate AS t
ORDER BY t
`

	return s.collectStrings(ctx, query, version)
}

func (s *GraphStore) collectStrings(ctx context.Context, query, version string) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, query, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("listing types for version %s: %w", version, err)
	}

	out := make([]string, 0, len(records))

	for _, rec := range records {
		if v, ok := recordValue(rec, "t").(string); ok && v != "" {
			out = append(out, v)
		}
	}

	return out, nil
}

// Stats counts entities, relations, and distinct entity labels of a version.
func (s *GraphStore) Stats(ctx context.Context, version string) (models.GraphStats, error) {
	const nodeQuery = `
MATCH (e:Entity {kg_version: $v})
RETURN count(e) AS n, count(DISTINCT e.entity_label) AS t
`
	const edgeQuery = `
MATCH ()-[r:REL {kg_version: $v}]->()
RETURN count(r) AS n
`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var stats models.GraphStats

	nodeRecords, err := s.DB.Run(ctx, nodeQuery, map[string]any{"v": version})
	if err != nil {
		return stats, fmt.Errorf("counting nodes for version %s: %w", version, err)
	}

	if len(nodeRecords) > 0 {
		stats.EntityCount = intValue(recordValue(nodeRecords[0], "n"))
		stats.NodeTypeCount = intValue(recordValue(nodeRecords[0], "t"))
	}

	edgeRecords, err := s.DB.Run(ctx, edgeQuery, map[string]any{"v": version})
	if err != nil {
		return stats, fmt.Errorf("counting edges for version %s: %w", version, err)
	}

	if len(edgeRecords) > 0 {
		stats.RelationCount = intValue(recordValue(edgeRecords[0], "n"))
	}

	return stats, nil
}

// LoadGraph projects a stored version back into a KnowledgeGraph, used as
// the base for incremental builds. Relations referencing entities missing
// from the node read are skipped.
func (s *GraphStore) LoadGraph(ctx context.Context, version string) (*models.KnowledgeGraph, error) {
	const nodeQuery = `
MATCH (e:Entity {kg_version: $v})
RETURN e
`
	const edgeQuery = `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
RETURN s, properties(r) AS rp, t
`

	nodeRecords, err := s.DB.Run(ctx, nodeQuery, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("loading nodes for version %s: %w", version, err)
	}

	kg := &models.KnowledgeGraph{}
	index := make(map[string]models.Entity, len(nodeRecords))

	for _, rec := range nodeRecords {
		props := nodeProps(recordValue(rec, "e"))
		if props == nil {
			continue
		}

		entity := models.Entity{
			Label:      propString(props, "entity_label"),
			Name:       propString(props, "name"),
			Embeddings: propFloats(props, "embeddings"),
		}
		kg.Entities = append(kg.Entities, entity)
		index[entity.Key()] = entity
	}

	edgeRecords, err := s.DB.Run(ctx, edgeQuery, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("loading edges for version %s: %w", version, err)
	}

	for _, rec := range edgeRecords {
		sourceProps := nodeProps(recordValue(rec, "s"))
		targetProps := nodeProps(recordValue(rec, "t"))
		relProps := nodeProps(recordValue(rec, "rp"))

		if sourceProps == nil || targetProps == nil {
			continue
		}

		source, sourceOK := index[propString(sourceProps, "entity_label")+":"+propString(sourceProps, "name")]
		target, targetOK := index[propString(targetProps, "entity_label")+":"+propString(targetProps, "name")]

		if !sourceOK || !targetOK {
			continue
		}

		predicate := propString(relProps, "predicate")
		if predicate == "" {
			predicate = "related_to"
		}

		kg.Relations = append(kg.Relations, models.Relation{
			Source:      source,
			Target:      target,
			Predicate:   predicate,
			AtomicFacts: propStrings(relProps, "atomic_facts"),
			TObs:        propStrings(relProps, "t_obs"),
			TStart:      propStrings(relProps, "t_start"),
			TEnd:        propStrings(relProps, "t_end"),
			Embeddings:  propFloats(relProps, "embeddings"),
		})
	}

	return kg, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
