package api_test

import (
	"context"

	"github.com/kgforge/kgforge/internal/models"
)

// mockBuildService implements api.BuildService for testing.
type mockBuildService struct {
	fullFn        func(ctx context.Context) (*models.TaskInfo, error)
	incrementalFn func(ctx context.Context) (*models.TaskInfo, error)
}

func (m *mockBuildService) TriggerFullBuild(ctx context.Context) (*models.TaskInfo, error) {
	return m.fullFn(ctx)
}

func (m *mockBuildService) TriggerIncrementalUpdate(ctx context.Context) (*models.TaskInfo, error) {
	return m.incrementalFn(ctx)
}

// mockStatusService implements api.StatusService for testing.
type mockStatusService struct {
	readFn func(ctx context.Context) (models.KGState, *models.TaskInfo, error)
}

func (m *mockStatusService) ReadWithTask(ctx context.Context) (models.KGState, *models.TaskInfo, error) {
	return m.readFn(ctx)
}

// mockQueryService implements api.QueryService for testing.
type mockQueryService struct {
	entityTypesFn   func(ctx context.Context) (string, []string, error)
	relationTypesFn func(ctx context.Context) (string, []string, error)
	statsFn         func(ctx context.Context) (string, models.GraphStats, error)
	queryFn         func(ctx context.Context, opts models.QueryOptions) (string, *models.SubgraphResult, error)
}

func (m *mockQueryService) EntityTypes(ctx context.Context) (string, []string, error) {
	return m.entityTypesFn(ctx)
}

func (m *mockQueryService) RelationTypes(ctx context.Context) (string, []string, error) {
	return m.relationTypesFn(ctx)
}

func (m *mockQueryService) Stats(ctx context.Context) (string, models.GraphStats, error) {
	return m.statsFn(ctx)
}

func (m *mockQueryService) Query(ctx context.Context, opts models.QueryOptions) (string, *models.SubgraphResult, error) {
	return m.queryFn(ctx, opts)
}
