// Package metrics provides Prometheus metrics for the import engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportRunsStarted counts Start calls, split into new runs and idempotent replays.
	ImportRunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opscrm",
			Subsystem: "import",
			Name:      "runs_started_total",
			Help:      "Total number of import runs started by outcome",
		},
		[]string{"outcome"},
	)

	// ImportRowsProcessed counts classified rows by resulting status.
	ImportRowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opscrm",
			Subsystem: "import",
			Name:      "rows_processed_total",
			Help:      "Total number of import rows classified by status",
		},
		[]string{"status"},
	)

	// ImportChunkDuration tracks per-chunk processing time.
	ImportChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opscrm",
			Subsystem: "import",
			Name:      "chunk_duration_seconds",
			Help:      "Duration of import chunk processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// ImportRunsCompleted counts runs reaching COMPLETED.
	ImportRunsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opscrm",
			Subsystem: "import",
			Name:      "runs_completed_total",
			Help:      "Total number of import runs completed",
		},
	)

	// RowResolutions counts soft-duplicate resolutions by action.
	RowResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opscrm",
			Subsystem: "merge",
			Name:      "row_resolutions_total",
			Help:      "Total number of soft duplicate resolutions by action",
		},
		[]string{"action"},
	)

	// LeadMerges counts two-lead merges.
	LeadMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opscrm",
			Subsystem: "merge",
			Name:      "lead_merges_total",
			Help:      "Total number of two-lead merges",
		},
	)

	// HTTPRequestDuration tracks inbound request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opscrm",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status_code"},
	)
)
