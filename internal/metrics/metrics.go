// Package metrics declares the Prometheus collectors exported by the worker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "screener"

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Total embedding errors",
		},
		[]string{"provider", "model", "error_type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

// Generative model metrics.
var (
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of generative model calls",
		},
		[]string{"model", "status"},
	)

	LLMRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Generative model retries by reason",
		},
		[]string{"model", "reason"},
	)

	RationaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rationale_total",
			Help:      "Generated rationales by result",
		},
		[]string{"result"}, // "generated" / "degraded" / "placeholder"
	)
)

// Screening metrics.
var (
	ApplicationsScreenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_screened_total",
			Help:      "Screened applications by resulting status",
		},
		[]string{"status"},
	)

	ScreeningFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screening_failures_total",
			Help:      "Failed screening units by stage",
		},
		[]string{"stage"},
	)

	FinalScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_score",
			Help:      "Distribution of final screening scores",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		},
	)

	SweepDueJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_due_jobs",
			Help:      "Jobs found due by the last sweep",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Queue messages handled by subject and outcome",
		},
		[]string{"subject", "outcome"}, // "ack" / "nak" / "term"
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
			LLMRequestsTotal,
			LLMRetriesTotal,
			RationaleTotal,
			ApplicationsScreenedTotal,
			ScreeningFailuresTotal,
			FinalScore,
			SweepDueJobs,
			TasksTotal,
		)
	})
}
