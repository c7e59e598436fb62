package store

import (
	"context"
	"fmt"

	"github.com/kgforge/kgforge/internal/models"
)

// Subgraph serves the versioned read behind /kg/query. With a query string it
// seeds on case-insensitive substring name matches and expands outward by
// application-level BFS up to the requested depth; without one it scans edges
// (falling back to bare nodes for edge-less graphs). BFS stops the moment a
// limit is reached and marks the result truncated.
func (s *GraphStore) Subgraph(ctx context.Context, version string, opts models.QueryOptions) (*models.SubgraphResult, error) {
	acc := newSubgraphAccumulator(opts)

	if opts.Query != "" {
		if err := s.expandFromSeeds(ctx, version, opts, acc); err != nil {
			return nil, err
		}
	} else {
		if err := s.scanFullGraph(ctx, version, opts, acc); err != nil {
			return nil, err
		}
	}

	return acc.result(), nil
}

// unboundedLimit stands in for "no limit" in full-graph scans.
const unboundedLimit = 1_000_000_000

// FullGraph returns up to limitNodes nodes and limitEdges edges of a version
// with no seeding. Zero limits mean unbounded.
func (s *GraphStore) FullGraph(ctx context.Context, version string, limitNodes, limitEdges int, includeProperties bool) (*models.SubgraphResult, error) {
	if limitNodes <= 0 {
		limitNodes = unboundedLimit
	}

	if limitEdges <= 0 {
		limitEdges = unboundedLimit
	}

	return s.Subgraph(ctx, version, models.QueryOptions{
		LimitNodes:        limitNodes,
		LimitEdges:        limitEdges,
		IncludeProperties: includeProperties,
	})
}

func (s *GraphStore) expandFromSeeds(ctx context.Context, version string, opts models.QueryOptions, acc *subgraphAccumulator) error {
	const seedQuery = `
MATCH (e:Entity {kg_version: $v})
WHERE toLower(e.name) CONTAINS toLower($q)
  AND ($entity_types IS NULL OR e.entity_label IN $entity_types)
RETURN e
ORDER BY e.name
LIMIT $seed_limit
`

	seedLimit := max(opts.MaxSeedNodes, 1)

	records, err := s.DB.Run(ctx, seedQuery, map[string]any{
		"v":            version,
		"q":            opts.Query,
		"entity_types": nullableList(opts.EntityTypes),
		"seed_limit":   seedLimit,
	})
	if err != nil {
		return fmt.Errorf("seeding subgraph for version %s: %w", version, err)
	}

	frontier := make([]map[string]any, 0, len(records))

	for _, rec := range records {
		props := nodeProps(recordValue(rec, "e"))
		if props == nil {
			continue
		}

		if acc.addNode(props) {
			frontier = append(frontier, map[string]any{
				"label": propString(props, "entity_label"),
				"name":  propString(props, "name"),
			})
		}

		if acc.full() {
			return nil
		}
	}

	if len(frontier) == 0 || opts.Depth <= 0 || opts.LimitEdges <= 0 {
		return nil
	}

	return s.bfs(ctx, version, opts, frontier, acc)
}

// neighborQuery expands one BFS hop. The undirected pattern finds edges in
// both directions; outgoing orients them for the response.
const neighborQuery = `
UNWIND $frontier AS f
MATCH (s:Entity {kg_version: $v, entity_label: f.label, name: f.name})
MATCH (s)-[r:REL {kg_version: $v}]-(n:Entity {kg_version: $v})
WHERE $relation_types IS NULL OR r.predicate IN $relation_types
RETURN s AS a, properties(r) AS rp, n AS b, startNode(r) = s AS outgoing
LIMIT $edge_limit
`

func (s *GraphStore) bfs(ctx context.Context, version string, opts models.QueryOptions, frontier []map[string]any, acc *subgraphAccumulator) error {
	for hop := 0; hop < opts.Depth && len(frontier) > 0 && !acc.full(); hop++ {
		records, err := s.DB.Run(ctx, neighborQuery, map[string]any{
			"v":              version,
			"frontier":       frontier,
			"relation_types": nullableList(opts.RelationTypes),
			"edge_limit":     opts.LimitEdges + 1,
		})
		if err != nil {
			return fmt.Errorf("expanding subgraph at hop %d: %w", hop, err)
		}

		var nextFrontier []map[string]any

		for _, rec := range records {
			aProps := nodeProps(recordValue(rec, "a"))
			bProps := nodeProps(recordValue(rec, "b"))
			relProps := nodeProps(recordValue(rec, "rp"))

			if aProps == nil || bProps == nil {
				continue
			}

			if acc.addNode(bProps) {
				nextFrontier = append(nextFrontier, map[string]any{
					"label": propString(bProps, "entity_label"),
					"name":  propString(bProps, "name"),
				})
			}

			outgoing, _ := recordValue(rec, "outgoing").(bool)
			if outgoing {
				acc.addEdge(aProps, relProps, bProps)
			} else {
				acc.addEdge(bProps, relProps, aProps)
			}

			if acc.full() {
				return nil
			}
		}

		frontier = nextFrontier
	}

	return nil
}

func (s *GraphStore) scanFullGraph(ctx context.Context, version string, opts models.QueryOptions, acc *subgraphAccumulator) error {
	const edgeQuery = `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
WHERE ($entity_types IS NULL OR (s.entity_label IN $entity_types AND t.entity_label IN $entity_types))
  AND ($relation_types IS NULL OR r.predicate IN $relation_types)
RETURN s, properties(r) AS rp, t
LIMIT $edge_limit
`

	if opts.LimitEdges > 0 {
		records, err := s.DB.Run(ctx, edgeQuery, map[string]any{
			"v":              version,
			"entity_types":   nullableList(opts.EntityTypes),
			"relation_types": nullableList(opts.RelationTypes),
			"edge_limit":     opts.LimitEdges + 1,
		})
		if err != nil {
			return fmt.Errorf("scanning edges for version %s: %w", version, err)
		}

		for _, rec := range records {
			sourceProps := nodeProps(recordValue(rec, "s"))
			targetProps := nodeProps(recordValue(rec, "t"))

			if sourceProps == nil || targetProps == nil {
				continue
			}

			acc.addNode(sourceProps)
			acc.addNode(targetProps)
			acc.addEdge(sourceProps, nodeProps(recordValue(rec, "rp")), targetProps)
		}
	}

	if !acc.empty() {
		return nil
	}

	// Edge-less graph: return bare nodes.
	const nodeQuery = `
MATCH (e:Entity {kg_version: $v})
WHERE $entity_types IS NULL OR e.entity_label IN $entity_types
RETURN e
LIMIT $node_limit
`

	records, err := s.DB.Run(ctx, nodeQuery, map[string]any{
		"v":            version,
		"entity_types": nullableList(opts.EntityTypes),
		"node_limit":   max(opts.LimitNodes, 1) + 1,
	})
	if err != nil {
		return fmt.Errorf("scanning nodes for version %s: %w", version, err)
	}

	for _, rec := range records {
		if props := nodeProps(recordValue(rec, "e")); props != nil {
			acc.addNode(props)
		}
	}

	return nil
}

func nullableList(items []string) any {
	if len(items) == 0 {
		return nil
	}

	return items
}

// subgraphAccumulator deduplicates nodes and edges while tracking limits.
type subgraphAccumulator struct {
	opts      models.QueryOptions
	nodes     []models.QueryNode
	edges     []models.QueryEdge
	nodeSeen  map[string]bool
	edgeSeen  map[string]bool
	truncated bool
}

func newSubgraphAccumulator(opts models.QueryOptions) *subgraphAccumulator {
	return &subgraphAccumulator{
		opts:     opts,
		nodeSeen: make(map[string]bool),
		edgeSeen: make(map[string]bool),
	}
}

// addNode records a node; returns true if it was newly added under the limit.
func (a *subgraphAccumulator) addNode(props map[string]any) bool {
	id := propString(props, "entity_label") + ":" + propString(props, "name")
	if a.nodeSeen[id] {
		return false
	}

	if len(a.nodes) >= a.opts.LimitNodes {
		a.truncated = true

		return false
	}

	a.nodeSeen[id] = true
	a.nodes = append(a.nodes, models.QueryNode{
		ID:         id,
		Types:      []string{"Entity", propString(props, "entity_label")},
		Name:       propString(props, "name"),
		Properties: cleanProps(props, a.opts.IncludeProperties),
	})

	return true
}

func (a *subgraphAccumulator) addEdge(sourceProps, relProps, targetProps map[string]any) {
	sourceID := propString(sourceProps, "entity_label") + ":" + propString(sourceProps, "name")
	targetID := propString(targetProps, "entity_label") + ":" + propString(targetProps, "name")

	predicate := propString(relProps, "predicate")
	if predicate == "" {
		predicate = "related_to"
	}

	id := sourceID + "->" + predicate + "->" + targetID
	if a.edgeSeen[id] {
		return
	}

	if len(a.edges) >= a.opts.LimitEdges {
		a.truncated = true

		return
	}

	a.edgeSeen[id] = true
	a.edges = append(a.edges, models.QueryEdge{
		ID:         id,
		Type:       predicate,
		Source:     sourceID,
		Target:     targetID,
		Properties: cleanProps(relProps, a.opts.IncludeProperties),
	})
}

// full reports whether a limit has been reached; reaching one mid-expansion
// marks the result truncated.
func (a *subgraphAccumulator) full() bool {
	if len(a.nodes) >= a.opts.LimitNodes || len(a.edges) >= a.opts.LimitEdges {
		a.truncated = true

		return true
	}

	return false
}

func (a *subgraphAccumulator) empty() bool {
	return len(a.nodes) == 0 && len(a.edges) == 0
}

// result drops edges whose endpoints were truncated away and returns the
// accumulated subgraph.
func (a *subgraphAccumulator) result() *models.SubgraphResult {
	edges := make([]models.QueryEdge, 0, len(a.edges))

	for _, e := range a.edges {
		if a.nodeSeen[e.Source] && a.nodeSeen[e.Target] {
			edges = append(edges, e)
		}
	}

	nodes := a.nodes
	if nodes == nil {
		nodes = make([]models.QueryNode, 0)
	}

	return &models.SubgraphResult{Nodes: nodes, Edges: edges, Truncated: a.truncated}
}

// cleanProps strips internal bookkeeping from a property bag for responses.
func cleanProps(props map[string]any, include bool) map[string]any {
	if !include || props == nil {
		return nil
	}

	cleaned := make(map[string]any, len(props))

	for k, v := range props {
		if k == "embeddings" || k == "kg_version" {
			continue
		}

		cleaned[k] = v
	}

	return cleaned
}
