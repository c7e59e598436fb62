package service

import (
	"context"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/models"
)

// QueryService serves reads pinned to the latest ready version captured at
// request time. A build publishing a newer version mid-request does not
// affect the response: every read filters on the captured version.
type QueryService struct {
	state StateRepository
	graph GraphReader
	query config.QueryConfig
}

// NewQueryService creates a QueryService with the given read defaults.
func NewQueryService(state StateRepository, graph GraphReader, query config.QueryConfig) *QueryService {
	return &QueryService{state: state, graph: graph, query: query}
}

// currentVersion resolves the version to read, or ErrNoReadyVersion.
func (q *QueryService) currentVersion(ctx context.Context) (string, error) {
	state, err := q.state.Read(ctx)
	if err != nil {
		return "", err
	}

	if state.LatestReadyVersion == nil {
		return "", models.ErrNoReadyVersion
	}

	return *state.LatestReadyVersion, nil
}

// EntityTypes lists distinct entity labels of the current version.
func (q *QueryService) EntityTypes(ctx context.Context) (string, []string, error) {
	version, err := q.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}

	types, err := q.graph.EntityTypes(ctx, version)

	return version, types, err
}

// RelationTypes lists distinct predicates of the current version.
func (q *QueryService) RelationTypes(ctx context.Context) (string, []string, error) {
	version, err := q.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}

	types, err := q.graph.RelationTypes(ctx, version)

	return version, types, err
}

// Stats summarizes the current version.
func (q *QueryService) Stats(ctx context.Context) (string, models.GraphStats, error) {
	version, err := q.currentVersion(ctx)
	if err != nil {
		return "", models.GraphStats{}, err
	}

	stats, err := q.graph.Stats(ctx, version)

	return version, stats, err
}

// Query runs a bounded subgraph read against the current version, filling
// configured defaults for unset limits and clamping depth.
func (q *QueryService) Query(ctx context.Context, opts models.QueryOptions) (string, *models.SubgraphResult, error) {
	version, err := q.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}

	if opts.LimitNodes <= 0 {
		opts.LimitNodes = q.query.DefaultLimitNodes
	}

	if opts.LimitEdges < 0 {
		opts.LimitEdges = q.query.DefaultLimitEdges
	}

	if opts.Depth < 0 {
		opts.Depth = q.query.DefaultDepth
	}

	if opts.Depth > q.query.MaxDepth {
		opts.Depth = q.query.MaxDepth
	}

	if opts.MaxSeedNodes <= 0 {
		opts.MaxSeedNodes = q.query.MaxSeedNodes
	}

	// A plain unfiltered read is a bounded full-graph scan; anything with a
	// search term, type filter, or an explicit zero edge budget goes through
	// Subgraph, which expands from seeds only when a search term is set.
	if opts.Query == "" && len(opts.EntityTypes) == 0 && len(opts.RelationTypes) == 0 && opts.LimitEdges > 0 {
		result, err := q.graph.FullGraph(ctx, version, opts.LimitNodes, opts.LimitEdges, opts.IncludeProperties)

		return version, result, err
	}

	result, err := q.graph.Subgraph(ctx, version, opts)

	return version, result, err
}
