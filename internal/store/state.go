package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/models"
	"github.com/kgforge/kgforge/internal/neo4jdb"
)

// StateStore persists the KGState singleton and KGTask records. It is the
// single-writer admission gate: TryAcquire is a compare-and-set executed as
// one Cypher statement in one write transaction, so concurrent triggers are
// totally ordered by the database and exactly one wins.
type StateStore struct {
	Base
	GraphName string
}

// NewStateStore creates a StateStore for the default graph.
func NewStateStore(db neo4jdb.Runner, log *logrus.Logger) *StateStore {
	return &StateStore{Base: Base{DB: db, Log: log}, GraphName: models.GraphNameDefault}
}

// EnsureSchema creates the uniqueness constraints the stores rely on.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT kgstate_graph_name IF NOT EXISTS FOR (s:KGState) REQUIRE s.graph_name IS UNIQUE",
		"CREATE CONSTRAINT kgtask_task_id IF NOT EXISTS FOR (t:KGTask) REQUIRE t.task_id IS UNIQUE",
		"CREATE CONSTRAINT entity_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.kg_version, e.entity_label, e.name) IS UNIQUE",
	}

	for _, stmt := range statements {
		if _, err := s.DB.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}

	return nil
}

// stateQuery merges the singleton on first access so Read never fails on a
// fresh database.
const stateQuery = `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = timestamp()
WITH s
OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
RETURN s AS state, t AS task
`

// Read returns the singleton state, creating it as IDLE on first access.
func (s *StateStore) Read(ctx context.Context) (models.KGState, error) {
	state, _, err := s.ReadWithTask(ctx)

	return state, err
}

// ReadWithTask returns the state plus the current task. When the state is
// FAILED and no task is attached, the most recently failed task is returned
// so status responses can report what went wrong.
func (s *StateStore) ReadWithTask(ctx context.Context) (models.KGState, *models.TaskInfo, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, stateQuery, map[string]any{"graph_name": s.GraphName})
	if err != nil {
		return models.KGState{}, nil, fmt.Errorf("reading state: %w", err)
	}

	if len(records) == 0 {
		return models.KGState{}, nil, fmt.Errorf("reading state: no singleton row")
	}

	state := stateFromProps(nodeProps(recordValue(records[0], "state")))

	var task *models.TaskInfo
	if props := nodeProps(recordValue(records[0], "task")); props != nil {
		task = taskFromProps(props)
	}

	if state.Status == models.StatusFailed && task == nil {
		task, err = s.lastFailedTask(ctx)
		if err != nil {
			return state, nil, err
		}
	}

	return state, task, nil
}

func (s *StateStore) lastFailedTask(ctx context.Context) (*models.TaskInfo, error) {
	const query = `
MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND t.error IS NOT NULL
RETURN t
ORDER BY t.finished_at DESC
LIMIT 1
`

	records, err := s.DB.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("reading last failed task: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	return taskFromProps(nodeProps(recordValue(records[0], "t"))), nil
}

// acquireQuery is the admission CAS. The CALL subquery branches on the
// observed status: a non-admitting status returns conflict with the running
// task; otherwise the KGTask is created and the state moves to the target
// status, all inside the one write transaction.
const acquireQuery = `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = timestamp()
WITH s
OPTIONAL MATCH (running:KGTask {task_id: s.current_task_id})
WITH s, running
CALL (s, running) {
  WITH s, running
  WHERE s.status IN ['BUILDING','UPDATING']
  RETURN true AS conflict, s AS state, running AS task
  UNION
  WITH s, running
  WHERE NOT s.status IN ['BUILDING','UPDATING']
  MERGE (t:KGTask {task_id: $task_id})
  ON CREATE SET
    t.type = $task_type,
    t.version = $version,
    t.base_version = $base_version,
    t.started_at = timestamp(),
    t.finished_at = null,
    t.progress = 0,
    t.error = null
  SET s.status = $target_status, s.current_task_id = $task_id, s.updated_at = timestamp()
  RETURN false AS conflict, s AS state, t AS task
}
RETURN conflict, state, task
`

// TryAcquire attempts the IDLE/READY/FAILED -> BUILDING/UPDATING transition
// and inserts the task record. On CAS loss it returns a TaskConflictError
// carrying the observed state.
func (s *StateStore) TryAcquire(ctx context.Context, taskType models.TaskType, version string, baseVersion *string) (*models.TaskInfo, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	params := map[string]any{
		"graph_name":    s.GraphName,
		"task_id":       version,
		"task_type":     string(taskType),
		"version":       version,
		"base_version":  nil,
		"target_status": string(taskType.TargetStatus()),
	}
	if baseVersion != nil {
		params["base_version"] = *baseVersion
	}

	records, err := s.DB.Run(ctx, acquireQuery, params)
	if err != nil {
		return nil, fmt.Errorf("acquiring build state: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("acquiring build state: empty result")
	}

	rec := records[0]
	state := stateFromProps(nodeProps(recordValue(rec, "state")))

	var task *models.TaskInfo
	if props := nodeProps(recordValue(rec, "task")); props != nil {
		task = taskFromProps(props)
	}

	if conflict, _ := recordValue(rec, "conflict").(bool); conflict {
		return nil, &models.TaskConflictError{State: state, CurrentTask: task}
	}

	if task == nil {
		return nil, fmt.Errorf("acquiring build state: task row missing after acquire")
	}

	return task, nil
}

// commitSuccessQuery publishes a finished version. The WHERE clauses guard
// against stale task IDs and against lowering latest_ready_version: versions
// compare by length then lexically.
const commitSuccessQuery = `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
WHERE s.current_task_id = $task_id
  AND (s.latest_ready_version IS NULL
       OR size(s.latest_ready_version) < size($version)
       OR (size(s.latest_ready_version) = size($version) AND s.latest_ready_version < $version))
SET
  s.status = 'READY',
  s.latest_ready_version = $version,
  s.current_task_id = null,
  s.updated_at = timestamp(),
  t.finished_at = timestamp(),
  t.progress = 100,
  t.error = null
RETURN count(s) AS updated
`

// CommitSuccess publishes the version and finishes the task atomically.
// A stale task_id (or a non-advancing version) commits nothing and returns
// ErrStaleTask.
func (s *StateStore) CommitSuccess(ctx context.Context, taskID, version string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, commitSuccessQuery, map[string]any{
		"graph_name": s.GraphName,
		"task_id":    taskID,
		"version":    version,
	})
	if err != nil {
		return fmt.Errorf("committing success: %w", err)
	}

	if !commitApplied(records) {
		return fmt.Errorf("committing success for task %s: %w", taskID, models.ErrStaleTask)
	}

	return nil
}

const commitFailureQuery = `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
WHERE s.current_task_id = $task_id
SET
  s.status = 'FAILED',
  s.current_task_id = null,
  s.updated_at = timestamp(),
  t.finished_at = timestamp(),
  t.error = $error
RETURN count(s) AS updated
`

// CommitFailure marks the task failed. latest_ready_version is not touched.
func (s *StateStore) CommitFailure(ctx context.Context, taskID, errMsg string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, commitFailureQuery, map[string]any{
		"graph_name": s.GraphName,
		"task_id":    taskID,
		"error":      errMsg,
	})
	if err != nil {
		return fmt.Errorf("committing failure: %w", err)
	}

	if !commitApplied(records) {
		return fmt.Errorf("committing failure for task %s: %w", taskID, models.ErrStaleTask)
	}

	return nil
}

// UpdateProgress records task progress; best-effort, failures are the
// caller's to ignore.
func (s *StateStore) UpdateProgress(ctx context.Context, taskID string, progress int, message string) error {
	const query = `
MATCH (t:KGTask {task_id: $task_id})
SET t.progress = $progress
FOREACH (_ IN CASE WHEN $message = '' THEN [] ELSE [1] END | SET t.message = $message)
RETURN count(t) AS updated
`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.DB.Run(ctx, query, map[string]any{
		"task_id":  taskID,
		"progress": progress,
		"message":  message,
	}); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}

	return nil
}

// recoverQuery sweeps an interrupted build to FAILED. The FOREACH trick
// applies the task update only when a current task exists.
const recoverQuery = `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = timestamp()
WITH s
OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
WITH s, t
WHERE s.status IN ['BUILDING','UPDATING']
SET s.status = 'FAILED', s.current_task_id = null, s.updated_at = timestamp()
FOREACH (_ IN CASE WHEN t IS NULL THEN [] ELSE [1] END |
  SET t.error = coalesce(t.error, 'server restarted'), t.finished_at = timestamp()
)
RETURN count(s) AS swept
`

// RecoverOnStartup fails any build that was in flight when the process died.
// Idempotent: a clean state matches nothing.
func (s *StateStore) RecoverOnStartup(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, recoverQuery, map[string]any{"graph_name": s.GraphName})
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	if commitApplied(records) {
		s.Log.Warn("recovered interrupted build task as FAILED")
	}

	return nil
}

// ReadyVersions lists the versions of successfully finished tasks, newest
// first.
func (s *StateStore) ReadyVersions(ctx context.Context) ([]string, error) {
	const query = `
MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND t.error IS NULL
RETURN DISTINCT t.version AS version
`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	records, err := s.DB.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("listing ready versions: %w", err)
	}

	versions := make([]string, 0, len(records))

	for _, rec := range records {
		if v, ok := recordValue(rec, "version").(string); ok && v != "" {
			versions = append(versions, v)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return models.CompareVersions(versions[i], versions[j]) > 0
	})

	return versions, nil
}

// commitApplied reports whether a guarded write matched at least one row.
// Guarded queries return a single count column.
func commitApplied(records []*neo4j.Record) bool {
	if len(records) == 0 || len(records[0].Values) == 0 {
		return false
	}

	switch n := records[0].Values[0].(type) {
	case int64:
		return n > 0
	case int:
		return n > 0
	default:
		return false
	}
}

func stateFromProps(props map[string]any) models.KGState {
	state := models.KGState{
		GraphName:          propString(props, "graph_name"),
		Status:             models.KGStatus(propString(props, "status")),
		LatestReadyVersion: propStringPtr(props, "latest_ready_version"),
		CurrentTaskID:      propStringPtr(props, "current_task_id"),
	}

	if ts, ok := propTime(props, "updated_at"); ok {
		state.UpdatedAt = ts
	}

	return state
}

func taskFromProps(props map[string]any) *models.TaskInfo {
	task := &models.TaskInfo{
		TaskID:      propString(props, "task_id"),
		Type:        models.TaskType(propString(props, "type")),
		Version:     propString(props, "version"),
		BaseVersion: propStringPtr(props, "base_version"),
		Message:     propStringPtr(props, "message"),
		Error:       propStringPtr(props, "error"),
	}

	if ts, ok := propTime(props, "started_at"); ok {
		task.StartedAt = ts
	}

	if ts, ok := propTime(props, "finished_at"); ok {
		task.FinishedAt = &ts
	}

	if p, ok := propInt(props, "progress"); ok {
		task.Progress = &p
	}

	return task
}
