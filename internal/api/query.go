package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/httputil"
	"github.com/kgforge/kgforge/internal/models"
)

// QueryHandler serves the versioned read endpoints.
type QueryHandler struct {
	svc QueryService
	log *logrus.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(svc QueryService, log *logrus.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, log: log}
}

// EntityTypes handles GET /kg/types/entities.
func (h *QueryHandler) EntityTypes(c *gin.Context) {
	version, types, err := h.svc.EntityTypes(c.Request.Context())
	if err != nil {
		h.respondReadError(c, err, "listing entity types")

		return
	}

	httputil.RespondOK(c, gin.H{"version": version, "entity_types": emptyIfNil(types)})
}

// RelationTypes handles GET /kg/types/relations.
func (h *QueryHandler) RelationTypes(c *gin.Context) {
	version, types, err := h.svc.RelationTypes(c.Request.Context())
	if err != nil {
		h.respondReadError(c, err, "listing relation types")

		return
	}

	httputil.RespondOK(c, gin.H{"version": version, "relation_types": emptyIfNil(types)})
}

// Stats handles GET /kg/stats.
func (h *QueryHandler) Stats(c *gin.Context) {
	version, stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.respondReadError(c, err, "reading graph stats")

		return
	}

	httputil.RespondOK(c, gin.H{
		"version":         version,
		"entity_count":    stats.EntityCount,
		"relation_count":  stats.RelationCount,
		"node_type_count": stats.NodeTypeCount,
	})
}

// Query handles GET /kg/query.
func (h *QueryHandler) Query(c *gin.Context) {
	opts := models.QueryOptions{
		Query:             strings.TrimSpace(c.Query("q")),
		EntityTypes:       splitCSV(c.Query("entity_types")),
		RelationTypes:     splitCSV(c.Query("relation_types")),
		LimitNodes:        parseIntDefault(c.Query("limit_nodes"), -1),
		LimitEdges:        parseIntDefault(c.Query("limit_edges"), -1),
		Depth:             parseIntDefault(c.Query("depth"), -1),
		IncludeProperties: c.Query("include_properties") == "true",
	}

	if opts.LimitNodes == 0 {
		respondError(c, http.StatusBadRequest, ErrCodeBadRequest, "limit_nodes must be >= 1", nil)

		return
	}

	version, result, err := h.svc.Query(c.Request.Context(), opts)
	if err != nil {
		h.respondReadError(c, err, "querying graph")

		return
	}

	httputil.RespondOK(c, gin.H{
		"version":   version,
		"nodes":     result.Nodes,
		"edges":     result.Edges,
		"truncated": result.Truncated,
	})
}

func (h *QueryHandler) respondReadError(c *gin.Context, err error, action string) {
	if errors.Is(err, models.ErrNoReadyVersion) {
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "no completed graph version to query", nil)

		return
	}

	h.log.WithError(err).Error(action)
	respondError(c, http.StatusInternalServerError, ErrCodeNeo4jError, "graph query failed", err.Error())
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}

	return items
}
