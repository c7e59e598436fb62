// Package api provides HTTP handlers for the kgforge server.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/httputil"
	"github.com/kgforge/kgforge/internal/models"
)

// BuildHandler serves the build trigger endpoints.
type BuildHandler struct {
	svc BuildService
	log *logrus.Logger
}

// NewBuildHandler creates a BuildHandler.
func NewBuildHandler(svc BuildService, log *logrus.Logger) *BuildHandler {
	return &BuildHandler{svc: svc, log: log}
}

// triggerRequest is the optional trigger body.
type triggerRequest struct {
	GraphName     string `json:"graph_name"`
	TriggerSource string `json:"trigger_source"`
}

// bindTrigger decodes the optional body and rejects foreign graph names.
// Returns false when a response has already been written.
func bindTrigger(c *gin.Context) bool {
	if c.Request.ContentLength == 0 {
		return true
	}

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body", err.Error())

		return false
	}

	if req.GraphName != "" && req.GraphName != models.GraphNameDefault {
		respondError(c, http.StatusBadRequest, ErrCodeBadRequest, "only graph_name="+models.GraphNameDefault+" is supported", nil)

		return false
	}

	return true
}

// TriggerFull handles POST /kg/build/full.
func (h *BuildHandler) TriggerFull(c *gin.Context) {
	if !bindTrigger(c) {
		return
	}

	task, err := h.svc.TriggerFullBuild(c.Request.Context())
	if err != nil {
		h.respondTriggerError(c, err, "triggering full build")

		return
	}

	httputil.RespondOK(c, gin.H{
		"task_id": task.TaskID,
		"status":  models.StatusBuilding,
		"version": task.Version,
	})
}

// TriggerIncremental handles POST /kg/update/incremental.
func (h *BuildHandler) TriggerIncremental(c *gin.Context) {
	if !bindTrigger(c) {
		return
	}

	task, err := h.svc.TriggerIncrementalUpdate(c.Request.Context())
	if err != nil {
		h.respondTriggerError(c, err, "triggering incremental update")

		return
	}

	httputil.RespondOK(c, gin.H{
		"task_id":      task.TaskID,
		"status":       models.StatusUpdating,
		"version":      task.Version,
		"base_version": task.BaseVersion,
	})
}

func (h *BuildHandler) respondTriggerError(c *gin.Context, err error, action string) {
	var conflict *models.TaskConflictError
	if errors.As(err, &conflict) {
		detail := gin.H{
			"status":               conflict.State.Status,
			"latest_ready_version": conflict.State.LatestReadyVersion,
			"current_task":         conflict.CurrentTask,
		}
		if conflict.CurrentTask != nil {
			detail["task_id"] = conflict.CurrentTask.TaskID
			detail["version"] = conflict.CurrentTask.Version
		}

		respondError(c, http.StatusConflict, ErrCodeTaskRunning, "a build task is already running", detail)

		return
	}

	if errors.Is(err, models.ErrNoBaseVersion) {
		respondError(c, http.StatusBadRequest, ErrCodeNoBaseVersion, "no ready version exists; run a full build first", nil)

		return
	}

	h.log.WithError(err).Error(action)
	respondError(c, http.StatusInternalServerError, ErrCodeNeo4jError, "failed to start build task", err.Error())
}
