package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kgforge/kgforge/internal/httputil"
	"github.com/kgforge/kgforge/internal/metrics"
)

// Error code constants for standardized API responses.
const (
	ErrCodeTaskRunning   = "TASK_RUNNING"
	ErrCodeNoBaseVersion = "NO_BASE_VERSION"
	ErrCodeHookFailed    = "HOOK_FAILED"
	ErrCodeNeo4jError    = "NEO4J_ERROR"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
)

// respondError writes a standardized envelope error and counts it.
func respondError(c *gin.Context, status int, code, message string, detail any) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message, detail)
}
