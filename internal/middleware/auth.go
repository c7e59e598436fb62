package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/httputil"
)

// authTimingFloor is the minimum response time for rejected auth so timing
// cannot distinguish missing from wrong keys.
const authTimingFloor = 50 * time.Millisecond

// Auth returns Gin middleware that authenticates requests against the
// configured static API key via Bearer token.
func Auth(apiKey config.Secret, log *logrus.Logger) gin.HandlerFunc {
	expected := []byte(apiKey.Value())

	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		token := ExtractBearerToken(c)
		if token == "" {
			httputil.RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header", nil)

			return
		}

		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			logAuthFailure(log, c)
			httputil.RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", nil)

			return
		}

		c.Next()
	}
}

// ExtractBearerToken extracts the API key from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(header, "Bearer ")
}

// enforceTimingFloor sleeps if needed so the response takes at least authTimingFloor.
func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

func logAuthFailure(log *logrus.Logger, c *gin.Context) {
	log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString(RequestIDKey),
	}).Warn("authentication failed: invalid api key")
}
