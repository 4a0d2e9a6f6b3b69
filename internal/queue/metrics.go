package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Number of jobs in the queue by state",
		},
		[]string{"state"},
	)

	JobsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_added_total",
			Help: "Total number of add calls by result",
		},
		[]string{"result"}, // created, existing
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Total number of job attempts by outcome",
		},
		[]string{"outcome"}, // completed, retried, failed
	)

	JobProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_job_processing_duration_seconds",
			Help:    "Duration of job processing attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsStalledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_stalled_total",
			Help: "Total number of stalled active jobs recovered by outcome",
		},
		[]string{"outcome"}, // requeued, failed
	)

	JobsPromotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_promoted_total",
			Help: "Total number of delayed jobs promoted to waiting",
		},
	)
)
