package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/models"
	"github.com/kgforge/kgforge/internal/neo4jdb"
)

// upsertBatchSize bounds the UNWIND row count per statement.
const upsertBatchSize = 500

// GraphStore persists versioned graph data. Every node and relationship
// carries a kg_version property; no element is shared between versions.
type GraphStore struct {
	Base
}

// NewGraphStore creates a GraphStore.
func NewGraphStore(db neo4jdb.Runner, log *logrus.Logger) *GraphStore {
	return &GraphStore{Base: Base{DB: db, Log: log}}
}

const upsertNodesQuery = `
UNWIND $rows AS row
MERGE (e:Entity {kg_version: row.kg_version, entity_label: row.entity_label, name: row.name})
SET e += row.props
RETURN count(e) AS n
`

// UpsertNodes merges entities by (kg_version, entity_label, name) in batches.
// Property bags overwrite on re-merge.
func (s *GraphStore) UpsertNodes(ctx context.Context, version string, entities []models.Entity) error {
	rows := make([]map[string]any, 0, len(entities))

	for _, e := range entities {
		props := map[string]any{
			"kg_version":   version,
			"entity_label": e.Label,
			"name":         e.Name,
		}
		if len(e.Embeddings) > 0 {
			props["embeddings"] = e.Embeddings
		}

		rows = append(rows, map[string]any{
			"kg_version":   version,
			"entity_label": e.Label,
			"name":         e.Name,
			"props":        props,
		})
	}

	for batch := range batches(rows, upsertBatchSize) {
		ctx, cancel := withTimeout(ctx)
		_, err := s.DB.Run(ctx, upsertNodesQuery, map[string]any{"rows": batch})

		cancel()

		if err != nil {
			return fmt.Errorf("upserting nodes for version %s: %w", version, err)
		}
	}

	return nil
}

const upsertEdgesQuery = `
UNWIND $rows AS row
MATCH (s:Entity {kg_version: row.kg_version, entity_label: row.start_label, name: row.start_name})
MATCH (t:Entity {kg_version: row.kg_version, entity_label: row.end_label, name: row.end_name})
MERGE (s)-[r:REL {kg_version: row.kg_version, predicate: row.predicate}]->(t)
SET r += row.props
RETURN count(r) AS n
`

// UpsertEdges merges relations by (kg_version, endpoints, predicate) in
// batches. Endpoints must already exist under the same version.
func (s *GraphStore) UpsertEdges(ctx context.Context, version string, relations []models.Relation) error {
	rows := make([]map[string]any, 0, len(relations))

	for _, r := range relations {
		props := map[string]any{
			"kg_version": version,
			"predicate":  r.Predicate,
		}
		if len(r.AtomicFacts) > 0 {
			props["atomic_facts"] = r.AtomicFacts
		}
		if len(r.TObs) > 0 {
			props["t_obs"] = r.TObs
		}
		if len(r.TStart) > 0 {
			props["t_start"] = r.TStart
		}
		if len(r.TEnd) > 0 {
			props["t_end"] = r.TEnd
		}
		if len(r.Embeddings) > 0 {
			props["embeddings"] = r.Embeddings
		}

		rows = append(rows, map[string]any{
			"kg_version":  version,
			"start_label": r.Source.Label,
			"start_name":  r.Source.Name,
			"end_label":   r.Target.Label,
			"end_name":    r.Target.Name,
			"predicate":   r.Predicate,
			"props":       props,
		})
	}

	for batch := range batches(rows, upsertBatchSize) {
		ctx, cancel := withTimeout(ctx)
		_, err := s.DB.Run(ctx, upsertEdgesQuery, map[string]any{"rows": batch})

		cancel()

		if err != nil {
			return fmt.Errorf("upserting edges for version %s: %w", version, err)
		}
	}

	return nil
}

// WriteGraph persists a full knowledge graph under the given version:
// nodes first, then the edges that reference them.
func (s *GraphStore) WriteGraph(ctx context.Context, version string, kg *models.KnowledgeGraph) error {
	if err := s.UpsertNodes(ctx, version, kg.Entities); err != nil {
		return err
	}

	return s.UpsertEdges(ctx, version, kg.Relations)
}

// DeleteVersion detach-deletes every node tagged with the version. The
// version's relationships vanish with their endpoints.
func (s *GraphStore) DeleteVersion(ctx context.Context, version string) error {
	const query = `
MATCH (e:Entity {kg_version: $v})
DETACH DELETE e
`

	if _, err := s.DB.Run(ctx, query, map[string]any{"v": version}); err != nil {
		return fmt.Errorf("deleting version %s: %w", version, err)
	}

	return nil
}

// batches yields fixed-size slices of rows; a non-positive size yields all
// rows at once.
func batches(rows []map[string]any, size int) func(yield func([]map[string]any) bool) {
	return func(yield func([]map[string]any) bool) {
		if size <= 0 {
			yield(rows)

			return
		}

		for i := 0; i < len(rows); i += size {
			end := min(i+size, len(rows))
			if !yield(rows[i:end]) {
				return
			}
		}
	}
}
