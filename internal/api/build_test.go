package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kgforge/kgforge/internal/api"
	"github.com/kgforge/kgforge/internal/models"
)

func buildRouter(svc api.BuildService) *gin.Engine {
	r := gin.New()
	h := api.NewBuildHandler(svc, testLogger())
	r.POST("/kg/build/full", h.TriggerFull)
	r.POST("/kg/update/incremental", h.TriggerIncremental)

	return r
}

func TestTriggerFull_OK(t *testing.T) {
	t.Parallel()

	svc := &mockBuildService{
		fullFn: func(_ context.Context) (*models.TaskInfo, error) {
			return &models.TaskInfo{
				TaskID:  "1700000000001",
				Type:    models.TaskFullBuild,
				Version: "1700000000001",
			}, nil
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/build/full", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeEnvelope(t, w)
	if !e.Success {
		t.Fatal("expected success envelope")
	}

	if e.Data["task_id"] != "1700000000001" || e.Data["status"] != "BUILDING" {
		t.Errorf("unexpected payload: %v", e.Data)
	}
}

func TestTriggerFull_Conflict(t *testing.T) {
	t.Parallel()

	running := "1700000000500"
	svc := &mockBuildService{
		fullFn: func(_ context.Context) (*models.TaskInfo, error) {
			return nil, &models.TaskConflictError{
				State: models.KGState{
					Status:        models.StatusBuilding,
					CurrentTaskID: &running,
				},
				CurrentTask: &models.TaskInfo{TaskID: running, Version: running, Type: models.TaskFullBuild},
			}
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/build/full", "")

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeEnvelope(t, w)
	if e.Error == nil || e.Error.Code != "TASK_RUNNING" {
		t.Fatalf("expected TASK_RUNNING, got %+v", e.Error)
	}

	detail := e.Error.Detail.(map[string]any)
	if detail["task_id"] != running || detail["status"] != "BUILDING" {
		t.Errorf("conflict detail missing running task: %v", detail)
	}
}

func TestTriggerFull_RejectsForeignGraphName(t *testing.T) {
	t.Parallel()

	svc := &mockBuildService{
		fullFn: func(_ context.Context) (*models.TaskInfo, error) {
			t.Fatal("service must not be reached")

			return nil, nil
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/build/full", `{"graph_name":"other"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	e := decodeEnvelope(t, w)
	if e.Error == nil || e.Error.Code != "BAD_REQUEST" {
		t.Errorf("expected BAD_REQUEST, got %+v", e.Error)
	}
}

func TestTriggerFull_AcceptsDefaultGraphName(t *testing.T) {
	t.Parallel()

	svc := &mockBuildService{
		fullFn: func(_ context.Context) (*models.TaskInfo, error) {
			return &models.TaskInfo{TaskID: "1", Version: "1", Type: models.TaskFullBuild}, nil
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/build/full", `{"graph_name":"default","trigger_source":"cron"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTriggerIncremental_OK(t *testing.T) {
	t.Parallel()

	base := "1700000000001"
	svc := &mockBuildService{
		incrementalFn: func(_ context.Context) (*models.TaskInfo, error) {
			return &models.TaskInfo{
				TaskID:      "1700000000900",
				Type:        models.TaskIncrementalUpdate,
				Version:     "1700000000900",
				BaseVersion: &base,
			}, nil
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/update/incremental", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeEnvelope(t, w)
	if e.Data["status"] != "UPDATING" || e.Data["base_version"] != base {
		t.Errorf("unexpected payload: %v", e.Data)
	}
}

func TestTriggerIncremental_NoBaseVersion(t *testing.T) {
	t.Parallel()

	svc := &mockBuildService{
		incrementalFn: func(_ context.Context) (*models.TaskInfo, error) {
			return nil, models.ErrNoBaseVersion
		},
	}

	w := doRequest(buildRouter(svc), http.MethodPost, "/kg/update/incremental", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeEnvelope(t, w)
	if e.Error == nil || e.Error.Code != "NO_BASE_VERSION" {
		t.Errorf("expected NO_BASE_VERSION, got %+v", e.Error)
	}
}
