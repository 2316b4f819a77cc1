package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Render pipeline metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipforge_render_jobs_total",
			Help: "Total number of render jobs processed, by terminal outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipforge_render_job_duration_seconds",
			Help:    "End-to-end render job duration in seconds",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_render_job_retries_total",
			Help: "Total number of job attempts re-enqueued after a retryable failure",
		},
	)

	ActiveRenders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipforge_active_renders",
			Help: "Number of worker slots currently rendering",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipforge_render_queue_depth",
			Help: "Number of jobs waiting in the render queue",
		},
	)
)

// Stage metrics
var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipforge_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	SidecarResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipforge_sidecar_results_total",
			Help: "Total crop analysis runs, by resulting mode",
		},
		[]string{"mode"},
	)

	BytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_bytes_uploaded_total",
			Help: "Total bytes streamed to the storage gateway",
		},
	)
)

// Outcome label values for JobsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRequeued  = "requeued"
)
