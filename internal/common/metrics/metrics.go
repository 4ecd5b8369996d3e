package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_turns_total",
			Help: "Conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_turn_duration_seconds",
			Help:    "End-to-end turn latency including generation",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"outcome"},
	)

	PromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_prompt_tokens",
			Help:    "Estimated prompt size sent to the completion backend",
			Buckets: prometheus.ExponentialBuckets(128, 2, 8),
		},
		[]string{"summarized"},
	)

	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_backend_calls_total",
			Help: "Completion backend calls by result",
		},
		[]string{"result"},
	)

	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_quota_decisions_total",
			Help: "Quota admissions by tier and result",
		},
		[]string{"tier", "allowed"},
	)

	QuotaBucketsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_quota_buckets_swept_total",
			Help: "Stale monthly quota buckets removed by the sweeper",
		},
	)

	VariantProposals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_variant_proposals_total",
			Help: "Variant detector outcomes",
		},
		[]string{"outcome"},
	)

	Exports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_exports_total",
			Help: "Conversation exports by format and status",
		},
		[]string{"format", "status"},
	)
)
