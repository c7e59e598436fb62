package store_test

import (
	"context"
	"testing"

	"github.com/kgforge/kgforge/internal/models"
	"github.com/kgforge/kgforge/internal/store"
)

func TestUpsertNodes_Batches(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	s := store.NewGraphStore(db, testLogger())

	entities := make([]models.Entity, 1200)
	for i := range entities {
		entities[i] = models.Entity{Label: "person", Name: string(rune('a' + i%26))}
	}

	if err := s.UpsertNodes(context.Background(), "v1", entities); err != nil {
		t.Fatalf("UpsertNodes: %v", err)
	}

	calls := db.queriesMatching("MERGE (e:Entity {kg_version: row.kg_version")
	if len(calls) != 3 {
		t.Fatalf("expected 3 batches for 1200 rows, got %d", len(calls))
	}

	rows := calls[0].Params["rows"].([]map[string]any)
	if len(rows) != 500 {
		t.Errorf("expected first batch of 500, got %d", len(rows))
	}

	if rows[0]["kg_version"] != "v1" {
		t.Errorf("row missing version tag: %v", rows[0])
	}
}

func TestUpsertEdges_CarriesRelationProperties(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	s := store.NewGraphStore(db, testLogger())

	rel := models.Relation{
		Source:      models.Entity{Label: "person", Name: "Alice"},
		Target:      models.Entity{Label: "person", Name: "Bob"},
		Predicate:   "knows",
		AtomicFacts: []string{"Alice knows Bob."},
		TObs:        []string{"2024-01-01T00:00:00Z"},
	}

	if err := s.UpsertEdges(context.Background(), "v1", []models.Relation{rel}); err != nil {
		t.Fatalf("UpsertEdges: %v", err)
	}

	calls := db.queriesMatching("MERGE (s)-[r:REL")
	if len(calls) != 1 {
		t.Fatalf("expected one edge batch, got %d", len(calls))
	}

	rows := calls[0].Params["rows"].([]map[string]any)
	props := rows[0]["props"].(map[string]any)

	if props["kg_version"] != "v1" || props["predicate"] != "knows" {
		t.Errorf("edge props missing version or predicate: %v", props)
	}

	if facts := props["atomic_facts"].([]string); len(facts) != 1 {
		t.Errorf("expected atomic_facts carried, got %v", props["atomic_facts"])
	}
}

func TestDeleteVersion_DetachDeletes(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	s := store.NewGraphStore(db, testLogger())

	if err := s.DeleteVersion(context.Background(), "v1"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}

	calls := db.queriesMatching("DETACH DELETE e")
	if len(calls) != 1 {
		t.Fatalf("expected one delete, got %d", len(calls))
	}

	if calls[0].Params["v"] != "v1" {
		t.Errorf("expected version param v1, got %v", calls[0].Params["v"])
	}
}

func TestStats_CountsNodesEdgesTypes(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("count(DISTINCT e.entity_label)",
		record([]string{"n", "t"}, []any{int64(3), int64(2)}))
	db.respond("MATCH ()-[r:REL {kg_version: $v}]->()\nRETURN count(r)",
		record([]string{"n"}, []any{int64(2)}))

	s := store.NewGraphStore(db, testLogger())

	stats, err := s.Stats(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.EntityCount != 3 || stats.RelationCount != 2 || stats.NodeTypeCount != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSubgraph_SeededExpansion(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("toLower(e.name) CONTAINS toLower($q)",
		record([]string{"e"}, []any{entityNode("v1", "person", "Alice", nil)}))
	db.respondOnce("UNWIND $frontier AS f",
		record([]string{"a", "rp", "b", "outgoing"}, []any{
			entityNode("v1", "person", "Alice", nil),
			map[string]any{"predicate": "knows", "kg_version": "v1"},
			entityNode("v1", "person", "Bob", nil),
			true,
		}))

	s := store.NewGraphStore(db, testLogger())

	result, err := s.Subgraph(context.Background(), "v1", models.QueryOptions{
		Query:        "ali",
		Depth:        2,
		LimitNodes:   10,
		LimitEdges:   10,
		MaxSeedNodes: 5,
	})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}

	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(result.Nodes))
	}

	if len(result.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(result.Edges))
	}

	edge := result.Edges[0]
	if edge.Source != "person:Alice" || edge.Target != "person:Bob" || edge.Type != "knows" {
		t.Errorf("unexpected edge orientation: %+v", edge)
	}

	if result.Truncated {
		t.Error("expected untruncated result")
	}
}

func TestSubgraph_EmptySeedsReturnEmptyUntruncated(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}

	s := store.NewGraphStore(db, testLogger())

	result, err := s.Subgraph(context.Background(), "v1", models.QueryOptions{
		Query:        "nomatch",
		Depth:        2,
		LimitNodes:   10,
		LimitEdges:   10,
		MaxSeedNodes: 5,
	})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}

	if len(result.Nodes) != 0 || len(result.Edges) != 0 || result.Truncated {
		t.Errorf("expected empty untruncated result, got %+v", result)
	}

	if calls := db.queriesMatching("UNWIND $frontier"); len(calls) != 0 {
		t.Error("expansion must not run without seeds")
	}
}

func TestSubgraph_NodeLimitTruncates(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("toLower(e.name) CONTAINS toLower($q)",
		record([]string{"e"}, []any{entityNode("v1", "person", "Alice", nil)}),
		record([]string{"e"}, []any{entityNode("v1", "person", "Alina", nil)}),
		record([]string{"e"}, []any{entityNode("v1", "person", "Aline", nil)}),
	)

	s := store.NewGraphStore(db, testLogger())

	result, err := s.Subgraph(context.Background(), "v1", models.QueryOptions{
		Query:        "ali",
		Depth:        2,
		LimitNodes:   2,
		LimitEdges:   10,
		MaxSeedNodes: 5,
	})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}

	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 nodes after truncation, got %d", len(result.Nodes))
	}

	if !result.Truncated {
		t.Error("expected truncated result at node limit")
	}
}

func TestSubgraph_FullScanStripsInternalProps(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})",
		record([]string{"s", "rp", "t"}, []any{
			entityNode("v1", "person", "Alice", map[string]any{"embeddings": []any{0.1, 0.2}}),
			map[string]any{"predicate": "knows", "kg_version": "v1", "atomic_facts": []any{"Alice knows Bob."}},
			entityNode("v1", "person", "Bob", nil),
		}))

	s := store.NewGraphStore(db, testLogger())

	result, err := s.Subgraph(context.Background(), "v1", models.QueryOptions{
		LimitNodes:        10,
		LimitEdges:        10,
		IncludeProperties: true,
	})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}

	if len(result.Nodes) != 2 || len(result.Edges) != 1 {
		t.Fatalf("unexpected result shape: %d nodes, %d edges", len(result.Nodes), len(result.Edges))
	}

	for _, n := range result.Nodes {
		if _, ok := n.Properties["embeddings"]; ok {
			t.Error("embeddings must be stripped from node properties")
		}

		if _, ok := n.Properties["kg_version"]; ok {
			t.Error("kg_version must be stripped from node properties")
		}
	}

	if _, ok := result.Edges[0].Properties["atomic_facts"]; !ok {
		t.Error("atomic_facts should be present in edge properties")
	}
}

func TestSubgraph_FullScanFallsBackToNodes(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("MATCH (e:Entity {kg_version: $v})\nWHERE $entity_types IS NULL",
		record([]string{"e"}, []any{entityNode("v1", "person", "Alice", nil)}))

	s := store.NewGraphStore(db, testLogger())

	result, err := s.Subgraph(context.Background(), "v1", models.QueryOptions{
		LimitNodes: 10,
		LimitEdges: 10,
	})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}

	if len(result.Nodes) != 1 || len(result.Edges) != 0 {
		t.Errorf("expected node-only fallback, got %d nodes %d edges", len(result.Nodes), len(result.Edges))
	}
}

func TestFullGraph_ZeroLimitsScanEverything(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})",
		record([]string{"s", "rp", "t"}, []any{
			entityNode("v1", "person", "Alice", nil),
			map[string]any{"predicate": "knows"},
			entityNode("v1", "person", "Bob", nil),
		}))

	s := store.NewGraphStore(db, testLogger())

	result, err := s.FullGraph(context.Background(), "v1", 0, 0, false)
	if err != nil {
		t.Fatalf("FullGraph: %v", err)
	}

	if len(result.Nodes) != 2 || len(result.Edges) != 1 || result.Truncated {
		t.Errorf("unexpected full graph: %d nodes, %d edges, truncated=%v",
			len(result.Nodes), len(result.Edges), result.Truncated)
	}
}

func TestLoadGraph_RoundTripsEntitiesAndRelations(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("MATCH (e:Entity {kg_version: $v})\nRETURN e",
		record([]string{"e"}, []any{entityNode("v1", "person", "Alice", map[string]any{"embeddings": []any{0.5}})}),
		record([]string{"e"}, []any{entityNode("v1", "city", "Paris", nil)}),
	)
	db.respond("RETURN s, properties(r) AS rp, t",
		record([]string{"s", "rp", "t"}, []any{
			entityNode("v1", "person", "Alice", nil),
			map[string]any{"predicate": "lives_in", "t_obs": []any{"2024-01-01T00:00:00Z"}},
			entityNode("v1", "city", "Paris", nil),
		}))

	s := store.NewGraphStore(db, testLogger())

	kg, err := s.LoadGraph(context.Background(), "v1")
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}

	if len(kg.Entities) != 2 || len(kg.Relations) != 1 {
		t.Fatalf("unexpected graph shape: %d entities, %d relations", len(kg.Entities), len(kg.Relations))
	}

	if kg.Entities[0].Embeddings == nil {
		t.Error("expected embeddings loaded for Alice")
	}

	rel := kg.Relations[0]
	if rel.Predicate != "lives_in" || rel.Source.Name != "Alice" || rel.Target.Name != "Paris" {
		t.Errorf("unexpected relation: %+v", rel)
	}
}
