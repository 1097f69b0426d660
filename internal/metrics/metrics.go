// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts admitted jobs by type (sync, import) and target kind.
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "jobs_started_total",
		Help:      "Jobs admitted, by job type and target kind.",
	}, []string{"type", "kind"})

	// JobsFinished counts jobs reaching a terminal status.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "jobs_finished_total",
		Help:      "Jobs reaching a terminal status, by job type, target kind and status.",
	}, []string{"type", "kind", "status"})

	JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "jobs_rejected_total",
		Help:      "Job requests rejected because a job was already active for the target.",
	}, []string{"type", "kind"})

	JobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "jobs_reaped_total",
		Help:      "Stuck jobs marked failed by the reaper.",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guidevault",
		Name:      "jobs_active",
		Help:      "Jobs currently in a non-terminal status.",
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guidevault",
		Name:      "job_duration_seconds",
		Help:      "Wall time from admission to terminal status.",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 900},
	}, []string{"type", "kind"})

	// FetchedBytes counts decoded payload bytes by source format.
	FetchedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "fetched_bytes_total",
		Help:      "Decoded bytes fetched from upstream sources.",
	}, []string{"format"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "guidevault",
		Name:      "circuit_breaker_state",
		Help:      "Upstream circuit breaker state per host (0 closed, 1 half-open, 2 open).",
	}, []string{"host"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guidevault",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by route pattern and status code.",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guidevault",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
