package api

import (
	"context"

	"github.com/kgforge/kgforge/internal/models"
)

// BuildService defines the trigger operations used by BuildHandler.
type BuildService interface {
	TriggerFullBuild(ctx context.Context) (*models.TaskInfo, error)
	TriggerIncrementalUpdate(ctx context.Context) (*models.TaskInfo, error)
}

// StatusService defines the state read used by StatusHandler.
type StatusService interface {
	ReadWithTask(ctx context.Context) (models.KGState, *models.TaskInfo, error)
}

// QueryService defines the versioned reads used by QueryHandler.
type QueryService interface {
	EntityTypes(ctx context.Context) (string, []string, error)
	RelationTypes(ctx context.Context) (string, []string, error)
	Stats(ctx context.Context) (string, models.GraphStats, error)
	Query(ctx context.Context, opts models.QueryOptions) (string, *models.SubgraphResult, error)
}
