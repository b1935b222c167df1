package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpilens_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpilens_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)
	askOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpilens_ask_outcomes_total",
			Help: "Total number of translation requests by final outcome.",
		},
		[]string{"kind"},
	)
	askAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpilens_ask_attempts_total",
			Help: "Total number of generated candidate queries by stage.",
		},
		[]string{"stage"},
	)
	generationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpilens_generation_latency_seconds",
			Help:    "Latency of text generation calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	executionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpilens_execution_latency_seconds",
			Help:    "Latency of mart query execution.",
			Buckets: prometheus.DefBuckets,
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpilens_validation_rejections_total",
			Help: "Total number of candidate queries rejected by the validator, by reason.",
		},
		[]string{"reason"},
	)
	martSnapshotRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpilens_mart_snapshot_rows",
			Help: "Row count of the most recently built mart.",
		},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpilens_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		askOutcomesTotal,
		askAttemptsTotal,
		generationLatencySeconds,
		executionLatencySeconds,
		validationRejectionsTotal,
		martSnapshotRows,
		rateLimitedTotal,
	)
}

func ObserveAskOutcome(kind string) {
	askOutcomesTotal.WithLabelValues(kind).Inc()
}

func ObserveAskAttempt(stage string) {
	askAttemptsTotal.WithLabelValues(stage).Inc()
}

func ObserveGenerationLatency(elapsed time.Duration) {
	generationLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveExecutionLatency(elapsed time.Duration) {
	executionLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func SetMartSnapshotRows(rows int64) {
	if rows < 0 {
		rows = 0
	}
	martSnapshotRows.Set(float64(rows))
}

func IncrementRateLimited() {
	rateLimitedTotal.Inc()
}
