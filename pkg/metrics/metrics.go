// Package metrics defines the Prometheus instrumentation shared by the
// maildrop core, the storage layers and the POP3 listener. All collectors are
// registered with the default registry via promauto and exposed by the
// /metrics endpoint in main.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection and session metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dunlin_connections_total",
			Help: "Total number of POP3 connections established",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dunlin_connections_current",
			Help: "Current number of active POP3 connections",
		},
	)

	SessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dunlin_sessions_current",
			Help: "Current number of authenticated maildrop sessions",
		},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"mechanism", "result"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_commands_total",
			Help: "Total number of POP3 commands processed",
		},
		[]string{"command", "status"},
	)
)

// Maildrop metrics
var (
	MessagesRetrievedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dunlin_messages_retrieved_total",
			Help: "Total number of messages served to clients",
		},
	)

	MessagesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dunlin_messages_deleted_total",
			Help: "Total number of messages deleted at session commit",
		},
	)

	DeleteCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_delete_commits_total",
			Help: "Total number of session delete commits",
		},
		[]string{"result"},
	)
)

// Database metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dunlin_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

// Object storage and cache metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunlin_cache_operations_total",
			Help: "Total number of local cache operations",
		},
		[]string{"operation", "result"},
	)
)

// TrackDBQuery records the outcome of a single database query.
func TrackDBQuery(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DBQueriesTotal.WithLabelValues(operation, status).Inc()
}
