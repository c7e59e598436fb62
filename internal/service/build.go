package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/extractor"
	"github.com/kgforge/kgforge/internal/hooks"
	"github.com/kgforge/kgforge/internal/metrics"
	"github.com/kgforge/kgforge/internal/models"
	"github.com/kgforge/kgforge/internal/ws"
)

// cleanupTimeout bounds the best-effort deletion of a failed version's data.
const cleanupTimeout = 2 * time.Minute

// BuildService is the single-writer state machine. Triggers race through the
// StateRepository CAS; the winner's pipeline runs in a background goroutine
// owned by the service's app context, so shutdown cancels it.
type BuildService struct {
	state     StateRepository
	graph     GraphWriter
	hooks     hooks.Hooks
	extractor extractor.Extractor
	hub       EventBroadcaster
	log       *logrus.Logger
	retention config.RetentionConfig
	timeout   time.Duration

	appCtx context.Context
	wg     sync.WaitGroup

	newVersion func() string
}

// NewBuildService wires the orchestrator. appCtx is the server's lifetime
// context; its cancellation aborts any running pipeline.
func NewBuildService(
	appCtx context.Context,
	state StateRepository,
	graph GraphWriter,
	dataHooks hooks.Hooks,
	ext extractor.Extractor,
	hub EventBroadcaster,
	retention config.RetentionConfig,
	taskCfg config.TaskConfig,
	log *logrus.Logger,
) *BuildService {
	return &BuildService{
		state:      state,
		graph:      graph,
		hooks:      dataHooks,
		extractor:  ext,
		hub:        hub,
		log:        log,
		retention:  retention,
		timeout:    time.Duration(taskCfg.TimeoutS) * time.Second,
		appCtx:     appCtx,
		newVersion: generateVersion,
	}
}

// generateVersion returns the UTC millisecond timestamp as a decimal string.
// Triggers are serialized by the state CAS, so same-millisecond collisions
// cannot happen on a single instance.
func generateVersion() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// TriggerFullBuild admits a full rebuild and starts its pipeline.
func (b *BuildService) TriggerFullBuild(ctx context.Context) (*models.TaskInfo, error) {
	version := b.newVersion()

	task, err := b.state.TryAcquire(ctx, models.TaskFullBuild, version, nil)
	if err != nil {
		return nil, err
	}

	b.startPipeline(task)

	return task, nil
}

// TriggerIncrementalUpdate admits an incremental update based on the latest
// ready version. Without one it fails with ErrNoBaseVersion.
// latest_ready_version only ever advances, so the base read here cannot be
// unset by the time the CAS lands; the acquired task records the snapshot.
func (b *BuildService) TriggerIncrementalUpdate(ctx context.Context) (*models.TaskInfo, error) {
	state, err := b.state.Read(ctx)
	if err != nil {
		return nil, err
	}

	if state.LatestReadyVersion == nil {
		return nil, models.ErrNoBaseVersion
	}

	version := b.newVersion()

	task, err := b.state.TryAcquire(ctx, models.TaskIncrementalUpdate, version, state.LatestReadyVersion)
	if err != nil {
		return nil, err
	}

	b.startPipeline(task)

	return task, nil
}

// Wait blocks until any running pipeline goroutine has exited.
func (b *BuildService) Wait() {
	b.wg.Wait()
}

func (b *BuildService) startPipeline(task *models.TaskInfo) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		b.run(task)
	}()
}

// run executes one pipeline to completion and settles the task state.
func (b *BuildService) run(task *models.TaskInfo) {
	ctx := b.appCtx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)

		defer cancel()
	}

	log := b.log.WithFields(logrus.Fields{
		"task_id": task.TaskID,
		"type":    string(task.Type),
		"version": task.Version,
	})

	b.broadcast(ws.EventTaskStarted, map[string]any{
		"task_id":      task.TaskID,
		"type":         task.Type,
		"version":      task.Version,
		"base_version": task.BaseVersion,
	})

	start := time.Now()

	err := b.pipeline(ctx, task)

	metrics.BuildDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.BuildsTotal.WithLabelValues(string(task.Type), "ok").Inc()
		log.WithField("duration", time.Since(start).String()).Info("build completed")
		b.broadcast(ws.EventTaskCompleted, map[string]any{
			"task_id": task.TaskID,
			"version": task.Version,
		})

		b.sweepOldVersions()

		return
	}

	metrics.BuildsTotal.WithLabelValues(string(task.Type), "error").Inc()
	log.WithError(err).Error("build failed")

	b.cleanupVersion(task.Version)

	// The pipeline context may already be dead; settle state on a fresh one.
	failCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if commitErr := b.state.CommitFailure(failCtx, task.TaskID, err.Error()); commitErr != nil {
		log.WithError(commitErr).Error("recording task failure")
	}

	b.broadcast(ws.EventTaskFailed, map[string]any{
		"task_id": task.TaskID,
		"error":   err.Error(),
	})
}

// pipeline runs the hook → extract → write → commit sequence. Any error
// aborts before publication, so partial writes are never observable.
func (b *BuildService) pipeline(ctx context.Context, task *models.TaskInfo) error {
	incremental := task.Type == models.TaskIncrementalUpdate

	b.progress(ctx, task.TaskID, 1, "fetching source data")

	chunks, err := b.fetchChunks(ctx, task)
	if err != nil {
		return err
	}

	b.progress(ctx, task.TaskID, 10, fmt.Sprintf("fetched %d text chunks", len(chunks)))

	var base *models.KnowledgeGraph

	if incremental {
		b.progress(ctx, task.TaskID, 20, "loading base version graph")

		base, err = b.graph.LoadGraph(ctx, *task.BaseVersion)
		if err != nil {
			return fmt.Errorf("loading base version %s: %w", *task.BaseVersion, err)
		}
	}

	b.progress(ctx, task.TaskID, 45, "extracting knowledge graph")

	kg, err := b.extractor.Build(ctx, chunks, base)
	if err != nil {
		return fmt.Errorf("extracting graph: %w", err)
	}

	b.progress(ctx, task.TaskID, 75, fmt.Sprintf("extracted %d entities, %d relations", len(kg.Entities), len(kg.Relations)))

	b.progress(ctx, task.TaskID, 85, "writing graph version")

	if err := b.graph.WriteGraph(ctx, task.Version, kg); err != nil {
		return fmt.Errorf("writing version %s: %w", task.Version, err)
	}

	b.progress(ctx, task.TaskID, 95, "publishing version")

	if err := b.state.CommitSuccess(ctx, task.TaskID, task.Version); err != nil {
		return fmt.Errorf("publishing version %s: %w", task.Version, err)
	}

	return nil
}

func (b *BuildService) fetchChunks(ctx context.Context, task *models.TaskInfo) ([]string, error) {
	var (
		chunks []string
		err    error
	)

	if task.Type == models.TaskIncrementalUpdate {
		chunks, err = b.hooks.IncrementalData(ctx, *task.BaseVersion)
	} else {
		chunks, err = b.hooks.FullData(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("hook: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("hook: %w", models.ErrEmptyData)
	}

	return chunks, nil
}

// cleanupVersion removes whatever a failed pipeline wrote. Best effort: the
// data is unreachable either way because the version was never published.
func (b *BuildService) cleanupVersion(version string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := b.graph.DeleteVersion(ctx, version); err != nil {
		b.log.WithError(err).WithField("version", version).Warn("cleaning up failed version")
	}
}

// sweepOldVersions enforces retention after a successful commit. The current
// latest version is never deleted. Failures are logged only — the build
// already succeeded.
func (b *BuildService) sweepOldVersions() {
	if !b.retention.EnableCleanup || b.retention.MaxVersions <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	state, err := b.state.Read(ctx)
	if err != nil {
		b.log.WithError(err).Warn("retention sweep: reading state")

		return
	}

	versions, err := b.state.ReadyVersions(ctx)
	if err != nil {
		b.log.WithError(err).Warn("retention sweep: listing versions")

		return
	}

	keep := make(map[string]bool, b.retention.MaxVersions+1)

	for i, v := range versions {
		if i < b.retention.MaxVersions {
			keep[v] = true
		}
	}

	if state.LatestReadyVersion != nil {
		keep[*state.LatestReadyVersion] = true
	}

	for _, v := range versions {
		if keep[v] {
			continue
		}

		if err := b.graph.DeleteVersion(ctx, v); err != nil {
			b.log.WithError(err).WithField("version", v).Warn("retention sweep: deleting version")

			continue
		}

		metrics.VersionsDeletedTotal.Inc()
		b.log.WithField("version", v).Info("retention sweep: version deleted")
	}
}

// progress records best-effort task progress and mirrors it to the event hub.
func (b *BuildService) progress(ctx context.Context, taskID string, pct int, message string) {
	if err := b.state.UpdateProgress(ctx, taskID, pct, message); err != nil {
		b.log.WithError(err).Debug("updating task progress")
	}

	b.broadcast(ws.EventTaskProgress, map[string]any{
		"task_id":  taskID,
		"progress": pct,
		"message":  message,
	})
}

func (b *BuildService) broadcast(eventType string, data any) {
	if b.hub != nil {
		b.hub.BroadcastEvent(eventType, data)
	}
}
