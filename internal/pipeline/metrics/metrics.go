package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted tracks ingress outcomes per priority.
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_submitted_total",
			Help: "Total number of submitted analysis tasks",
		},
		[]string{"priority", "outcome"},
	)

	// TasksCompleted tracks terminal outcomes per result source.
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status", "source"},
	)

	// TaskRetries tracks scheduled retries per error category.
	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_task_retries_total",
			Help: "Total number of scheduled task retries",
		},
		[]string{"category"},
	)

	// DeadLettered tracks dead-letter escalations per category.
	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dead_lettered_total",
			Help: "Total number of tasks moved to the dead letter queue",
		},
		[]string{"category"},
	)

	// DeadLetterRecovered tracks bulk recovery outcomes.
	DeadLetterRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dead_letter_recovered_total",
			Help: "Total number of dead letter recovery attempts",
		},
		[]string{"outcome"},
	)

	// CompletionCalls tracks completion-service calls per outcome.
	CompletionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_completion_calls_total",
			Help: "Total number of completion service calls",
		},
		[]string{"outcome"},
	)

	// CompletionLatency tracks completion-service call latency.
	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_completion_latency_seconds",
			Help:    "Completion service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BreakerState exposes the per-service breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_breaker_state",
			Help: "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	// QueueDepth exposes the current number of queued tasks.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of queued tasks",
		},
	)

	// ActiveWorkers exposes the number of tasks currently processing.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_active_workers",
			Help: "Number of tasks currently being processed",
		},
	)

	// BackpressureLevel exposes the derived load signal (0 none .. 4 critical).
	BackpressureLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_backpressure_level",
			Help: "Current backpressure level (0=none .. 4=critical)",
		},
	)

	// FallbackInvocations tracks degraded-mode analyses.
	FallbackInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_fallback_invocations_total",
			Help: "Total number of rule-based fallback analyses",
		},
		[]string{"reason"},
	)

	// DBPoolUsage exposes database connection pool usage percentage.
	DBPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
