// Package service implements the build orchestrator and the read path.
package service

import (
	"context"

	"github.com/kgforge/kgforge/internal/models"
)

// StateRepository is the metadata surface the orchestrator drives.
type StateRepository interface {
	Read(ctx context.Context) (models.KGState, error)
	ReadWithTask(ctx context.Context) (models.KGState, *models.TaskInfo, error)
	TryAcquire(ctx context.Context, taskType models.TaskType, version string, baseVersion *string) (*models.TaskInfo, error)
	CommitSuccess(ctx context.Context, taskID, version string) error
	CommitFailure(ctx context.Context, taskID, errMsg string) error
	UpdateProgress(ctx context.Context, taskID string, progress int, message string) error
	ReadyVersions(ctx context.Context) ([]string, error)
}

// GraphWriter is the versioned write surface the pipelines use.
type GraphWriter interface {
	WriteGraph(ctx context.Context, version string, kg *models.KnowledgeGraph) error
	LoadGraph(ctx context.Context, version string) (*models.KnowledgeGraph, error)
	DeleteVersion(ctx context.Context, version string) error
}

// GraphReader is the versioned read surface the query service uses.
type GraphReader interface {
	EntityTypes(ctx context.Context, version string) ([]string, error)
	RelationTypes(ctx context.Context, version string) ([]string, error)
	Stats(ctx context.Context, version string) (models.GraphStats, error)
	FullGraph(ctx context.Context, version string, limitNodes, limitEdges int, includeProperties bool) (*models.SubgraphResult, error)
	Subgraph(ctx context.Context, version string, opts models.QueryOptions) (*models.SubgraphResult, error)
}

// EventBroadcaster publishes task lifecycle events; a nil broadcaster is
// allowed and drops them.
type EventBroadcaster interface {
	BroadcastEvent(eventType string, data any)
}
