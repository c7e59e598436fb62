// Package metrics defines Prometheus metrics for the kgforge server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_errors_total",
			Help: "Total errors by code",
		},
		[]string{"code"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_builds_total",
			Help: "Total build tasks by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgforge_build_duration_seconds",
			Help:    "Build pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"type"},
	)

	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_upstream_calls_total",
			Help: "Total upstream API calls by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_upstream_retries_total",
			Help: "Total upstream retry attempts by target",
		},
		[]string{"target"},
	)

	VersionsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgforge_versions_deleted_total",
			Help: "Total graph versions removed by the retention sweeper",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgforge_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		BuildsTotal, BuildDuration,
		UpstreamCallsTotal, UpstreamRetriesTotal,
		VersionsDeletedTotal, WSConnections,
	)
}
