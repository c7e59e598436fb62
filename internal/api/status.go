package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/httputil"
)

// StatusHandler serves GET /kg/status.
type StatusHandler struct {
	svc StatusService
	log *logrus.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(svc StatusService, log *logrus.Logger) *StatusHandler {
	return &StatusHandler{svc: svc, log: log}
}

// Get reports the state machine status, the published version, and the
// current (or last failed) task.
func (h *StatusHandler) Get(c *gin.Context) {
	state, task, err := h.svc.ReadWithTask(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("reading graph state")
		respondError(c, http.StatusInternalServerError, ErrCodeNeo4jError, "failed to read graph state", err.Error())

		return
	}

	httputil.RespondOK(c, gin.H{
		"status":               state.Status,
		"latest_ready_version": state.LatestReadyVersion,
		"current_task":         task,
	})
}
