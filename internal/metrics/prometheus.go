package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch metrics
var (
	DispatchEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_enqueued_total",
			Help: "Total number of enqueue calls by result",
		},
		[]string{"result"}, // queued, conflict, queue_error, store_error
	)

	DispatchSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sends_total",
			Help: "Total number of send attempts by outcome",
		},
		[]string{"outcome"}, // sent, transport_error, store_error, skipped
	)

	DispatchSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Duration of mail transport sends",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchRemovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_removals_total",
			Help: "Total number of cancellation requests by outcome",
		},
		[]string{"outcome"}, // removed, not_found, client_mismatch, data_integrity, uncancellable, error
	)

	DispatchContentScrubsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_content_scrubs_total",
			Help: "Total number of content scrubs by result",
		},
		[]string{"result"}, // success, failure
	)

	DispatchBackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_background_tasks_total",
			Help: "Total number of background tasks by result",
		},
		[]string{"task", "result"},
	)

	DispatchBackgroundTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_background_tasks_in_flight",
			Help: "Number of background tasks currently running",
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)
)

// Database metrics
var (
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"query"},
	)
)
