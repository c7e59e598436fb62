package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/middleware"
	"github.com/kgforge/kgforge/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	DB          HealthChecker
	Hub         *ws.Hub
	Build       BuildService
	Status      StatusService
	Query       QueryService
	APIKey      config.Secret
	CORSOrigins []string
	Version     string
}

// Router-level limits.
const (
	maxBodySize = 1 << 20 // 1 MB; trigger bodies are tiny
	rateLimit   = 50      // requests per second per IP
	rateBurst   = 100     // token bucket burst size
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst).Handler())
	r.Use(middleware.Prometheus())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers.
func registerRoutes(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.DB, log, deps.Version)
	build := NewBuildHandler(deps.Build, log)
	status := NewStatusHandler(deps.Status, log)
	query := NewQueryHandler(deps.Query, log)

	// Health and readiness are unauthenticated.
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)

	// All /kg routes require the static API key.
	kg := r.Group("/kg")
	kg.Use(middleware.Auth(deps.APIKey, log))

	kg.POST("/build/full", build.TriggerFull)
	kg.POST("/update/incremental", build.TriggerIncremental)

	kg.GET("/status", status.Get)
	kg.GET("/types/entities", query.EntityTypes)
	kg.GET("/types/relations", query.RelationTypes)
	kg.GET("/query", query.Query)
	kg.GET("/stats", query.Stats)

	// Build event stream.
	kg.GET("/events", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins))
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(ctx, r, deps)
	registerRoutes(ctx, r, deps)

	return r
}
