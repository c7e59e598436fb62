package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/models"
)

// fakeState is an in-memory StateRepository mirroring the CAS semantics.
type fakeState struct {
	mu    sync.Mutex
	state models.KGState
	tasks map[string]*models.TaskInfo

	failAcquire error
	failCommit  error

	commits  []string // task IDs committed successfully
	failures []string // "taskID:error" recorded failures
}

func newFakeState() *fakeState {
	return &fakeState{
		state: models.KGState{GraphName: models.GraphNameDefault, Status: models.StatusIdle},
		tasks: map[string]*models.TaskInfo{},
	}
}

func (f *fakeState) Read(_ context.Context) (models.KGState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state, nil
}

func (f *fakeState) ReadWithTask(_ context.Context) (models.KGState, *models.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var task *models.TaskInfo
	if f.state.CurrentTaskID != nil {
		task = f.tasks[*f.state.CurrentTaskID]
	}

	return f.state, task, nil
}

func (f *fakeState) TryAcquire(_ context.Context, taskType models.TaskType, version string, baseVersion *string) (*models.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAcquire != nil {
		return nil, f.failAcquire
	}

	if !f.state.Status.Admitting() {
		var running *models.TaskInfo
		if f.state.CurrentTaskID != nil {
			running = f.tasks[*f.state.CurrentTaskID]
		}

		return nil, &models.TaskConflictError{State: f.state, CurrentTask: running}
	}

	task := &models.TaskInfo{
		TaskID:      version,
		Type:        taskType,
		Version:     version,
		BaseVersion: baseVersion,
		StartedAt:   time.Now(),
	}
	f.tasks[version] = task
	f.state.Status = taskType.TargetStatus()
	f.state.CurrentTaskID = &task.TaskID

	return task, nil
}

func (f *fakeState) CommitSuccess(_ context.Context, taskID, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCommit != nil {
		return f.failCommit
	}

	if f.state.CurrentTaskID == nil || *f.state.CurrentTaskID != taskID {
		return models.ErrStaleTask
	}

	f.state.Status = models.StatusReady
	f.state.LatestReadyVersion = &version
	f.state.CurrentTaskID = nil
	f.commits = append(f.commits, taskID)

	now := time.Now()
	f.tasks[taskID].FinishedAt = &now

	return nil
}

func (f *fakeState) CommitFailure(_ context.Context, taskID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.Status = models.StatusFailed
	f.state.CurrentTaskID = nil
	f.failures = append(f.failures, taskID+":"+errMsg)

	if task, ok := f.tasks[taskID]; ok {
		now := time.Now()
		task.FinishedAt = &now
		task.Error = &errMsg
	}

	return nil
}

func (f *fakeState) UpdateProgress(_ context.Context, taskID string, progress int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if task, ok := f.tasks[taskID]; ok {
		task.Progress = &progress
		task.Message = &message
	}

	return nil
}

func (f *fakeState) ReadyVersions(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var versions []string

	for id, task := range f.tasks {
		if task.FinishedAt != nil && task.Error == nil {
			versions = append(versions, id)
		}
	}

	// Descending by version string (equal-length timestamps).
	for i := range versions {
		for j := i + 1; j < len(versions); j++ {
			if models.CompareVersions(versions[i], versions[j]) < 0 {
				versions[i], versions[j] = versions[j], versions[i]
			}
		}
	}

	return versions, nil
}

func (f *fakeState) latest() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.LatestReadyVersion == nil {
		return ""
	}

	return *f.state.LatestReadyVersion
}

// fakeGraph records versioned writes and deletions.
type fakeGraph struct {
	mu        sync.Mutex
	written   map[string]*models.KnowledgeGraph
	deleted   []string
	failLoad  error
	failWrite error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{written: map[string]*models.KnowledgeGraph{}}
}

func (f *fakeGraph) WriteGraph(_ context.Context, version string, kg *models.KnowledgeGraph) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWrite != nil {
		return f.failWrite
	}

	f.written[version] = kg

	return nil
}

func (f *fakeGraph) LoadGraph(_ context.Context, version string) (*models.KnowledgeGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failLoad != nil {
		return nil, f.failLoad
	}

	if kg, ok := f.written[version]; ok {
		return kg, nil
	}

	return &models.KnowledgeGraph{}, nil
}

func (f *fakeGraph) DeleteVersion(_ context.Context, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, version)
	delete(f.written, version)

	return nil
}

func (f *fakeGraph) deletedVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

// fakeHooks returns scripted chunks.
type fakeHooks struct {
	full        []string
	incremental []string
	err         error

	mu        sync.Mutex
	sinceSeen []string
}

func (f *fakeHooks) FullData(_ context.Context) ([]string, error) {
	return f.full, f.err
}

func (f *fakeHooks) IncrementalData(_ context.Context, since string) ([]string, error) {
	f.mu.Lock()
	f.sinceSeen = append(f.sinceSeen, since)
	f.mu.Unlock()

	return f.incremental, f.err
}

// fakeExtractor returns a scripted graph, optionally echoing the base.
type fakeExtractor struct {
	kg  *models.KnowledgeGraph
	err error

	mu        sync.Mutex
	baseSeen  []*models.KnowledgeGraph
	chunkSeen [][]string
}

func (f *fakeExtractor) Build(_ context.Context, chunks []string, base *models.KnowledgeGraph) (*models.KnowledgeGraph, error) {
	f.mu.Lock()
	f.baseSeen = append(f.baseSeen, base)
	f.chunkSeen = append(f.chunkSeen, chunks)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return f.kg, nil
}

// fakeHub records broadcast events.
type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHub) BroadcastEvent(eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, eventType)
}

func (f *fakeHub) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.events...)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	return l
}

func testGraphKG() *models.KnowledgeGraph {
	alice := models.Entity{Label: "person", Name: "Alice"}
	bob := models.Entity{Label: "person", Name: "Bob"}

	return &models.KnowledgeGraph{
		Entities: []models.Entity{alice, bob},
		Relations: []models.Relation{
			{Source: alice, Target: bob, Predicate: "knows"},
		},
	}
}
