package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kgforge/kgforge/internal/models"
	"github.com/kgforge/kgforge/internal/store"
)

func TestStateRead_CreatesIdleSingleton(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})",
		record([]string{"state", "task"}, []any{stateNode("IDLE", nil, nil), nil}))

	s := store.NewStateStore(db, testLogger())

	state, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if state.Status != models.StatusIdle {
		t.Errorf("expected IDLE, got %s", state.Status)
	}

	if state.LatestReadyVersion != nil {
		t.Errorf("expected nil latest_ready_version, got %v", *state.LatestReadyVersion)
	}

	if got := db.queriesMatching("MERGE (s:KGState"); len(got) != 1 {
		t.Errorf("expected one MERGE read, got %d", len(got))
	}
}

func TestStateReadWithTask_FailedFallsBackToLastFailedTask(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})",
		record([]string{"state", "task"}, []any{stateNode("FAILED", "100", nil), nil}))
	db.respond("ORDER BY t.finished_at DESC",
		record([]string{"t"}, []any{taskNode("200", "full_build", map[string]any{
			"error":       "boom",
			"finished_at": int64(1700000001000),
		})}))

	s := store.NewStateStore(db, testLogger())

	state, task, err := s.ReadWithTask(context.Background())
	if err != nil {
		t.Fatalf("ReadWithTask: %v", err)
	}

	if state.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}

	if task == nil || task.Error == nil || *task.Error != "boom" {
		t.Fatalf("expected last failed task with error, got %+v", task)
	}
}

func TestTryAcquire_Wins(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("RETURN conflict, state, task",
		record([]string{"conflict", "state", "task"}, []any{
			false,
			stateNode("BUILDING", nil, "1700000000001"),
			taskNode("1700000000001", "full_build", nil),
		}))

	s := store.NewStateStore(db, testLogger())

	task, err := s.TryAcquire(context.Background(), models.TaskFullBuild, "1700000000001", nil)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	if task.TaskID != "1700000000001" {
		t.Errorf("expected task_id 1700000000001, got %s", task.TaskID)
	}

	params := db.queriesMatching("RETURN conflict")[0].Params
	if params["target_status"] != "BUILDING" {
		t.Errorf("expected target_status BUILDING, got %v", params["target_status"])
	}
}

func TestTryAcquire_ConflictCarriesRunningTask(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("RETURN conflict, state, task",
		record([]string{"conflict", "state", "task"}, []any{
			true,
			stateNode("BUILDING", "1700000000001", "1700000000500"),
			taskNode("1700000000500", "full_build", nil),
		}))

	s := store.NewStateStore(db, testLogger())

	_, err := s.TryAcquire(context.Background(), models.TaskFullBuild, "1700000000900", nil)

	var conflict *models.TaskConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected TaskConflictError, got %v", err)
	}

	if conflict.State.Status != models.StatusBuilding {
		t.Errorf("expected BUILDING in conflict state, got %s", conflict.State.Status)
	}

	if conflict.CurrentTask == nil || conflict.CurrentTask.TaskID != "1700000000500" {
		t.Errorf("expected running task in conflict, got %+v", conflict.CurrentTask)
	}
}

func TestTryAcquire_IncrementalPassesBaseVersion(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("RETURN conflict, state, task",
		record([]string{"conflict", "state", "task"}, []any{
			false,
			stateNode("UPDATING", "100", "200"),
			taskNode("200", "incremental_update", map[string]any{"base_version": "100"}),
		}))

	s := store.NewStateStore(db, testLogger())

	base := "100"

	task, err := s.TryAcquire(context.Background(), models.TaskIncrementalUpdate, "200", &base)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	if task.BaseVersion == nil || *task.BaseVersion != "100" {
		t.Errorf("expected base_version 100, got %v", task.BaseVersion)
	}

	params := db.queriesMatching("RETURN conflict")[0].Params
	if params["base_version"] != "100" {
		t.Errorf("expected base_version param 100, got %v", params["base_version"])
	}

	if params["target_status"] != "UPDATING" {
		t.Errorf("expected target_status UPDATING, got %v", params["target_status"])
	}
}

func TestCommitSuccess_StaleTaskRejected(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("s.status = 'READY'", record([]string{"updated"}, []any{int64(0)}))

	s := store.NewStateStore(db, testLogger())

	err := s.CommitSuccess(context.Background(), "stale-task", "1700000000002")
	if !errors.Is(err, models.ErrStaleTask) {
		t.Fatalf("expected ErrStaleTask, got %v", err)
	}
}

func TestCommitSuccess_Applies(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("s.status = 'READY'", record([]string{"updated"}, []any{int64(1)}))

	s := store.NewStateStore(db, testLogger())

	if err := s.CommitSuccess(context.Background(), "t1", "v1"); err != nil {
		t.Fatalf("CommitSuccess: %v", err)
	}

	// The publish guard must enforce version monotonicity in the statement.
	q := db.queriesMatching("s.status = 'READY'")[0].Query
	if !contains(q, "size(s.latest_ready_version) < size($version)") {
		t.Error("commit query lacks the monotonic version guard")
	}
}

func TestCommitFailure_DoesNotTouchLatestVersion(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("s.status = 'FAILED'", record([]string{"updated"}, []any{int64(1)}))

	s := store.NewStateStore(db, testLogger())

	if err := s.CommitFailure(context.Background(), "t1", "hook: no data"); err != nil {
		t.Fatalf("CommitFailure: %v", err)
	}

	q := db.queriesMatching("s.status = 'FAILED'")[0].Query
	if contains(q, "latest_ready_version =") {
		t.Error("failure commit must not modify latest_ready_version")
	}
}

func TestRecoverOnStartup_Idempotent(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("WHERE s.status IN ['BUILDING','UPDATING']")

	s := store.NewStateStore(db, testLogger())

	if err := s.RecoverOnStartup(context.Background()); err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}

	if err := s.RecoverOnStartup(context.Background()); err != nil {
		t.Fatalf("second RecoverOnStartup: %v", err)
	}
}

func TestReadyVersions_SortedDescending(t *testing.T) {
	t.Parallel()

	db := &fakeRunner{}
	db.respond("RETURN DISTINCT t.version",
		record([]string{"version"}, []any{"999"}),
		record([]string{"version"}, []any{"1700000000001"}),
		record([]string{"version"}, []any{"1700000000300"}),
	)

	s := store.NewStateStore(db, testLogger())

	versions, err := s.ReadyVersions(context.Background())
	if err != nil {
		t.Fatalf("ReadyVersions: %v", err)
	}

	want := []string{"1700000000300", "1700000000001", "999"}
	if len(versions) != len(want) {
		t.Fatalf("expected %d versions, got %d", len(want), len(versions))
	}

	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], versions[i])
		}
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
