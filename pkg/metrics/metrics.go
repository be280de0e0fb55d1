package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_sweep_duration_seconds",
			Help:    "Alert sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"scope"},
	)

	SweepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_sweep_outcomes_total",
			Help: "Alerts created/updated and projects skipped per sweep",
		},
		[]string{"outcome"}, // outcome: created, updated, skipped
	)

	CompletionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_completions_total",
			Help: "Line item completion attempts",
		},
		[]string{"result"}, // result: advanced, duplicate, rejected, error
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordSweepDuration(scope string, duration time.Duration) {
	SweepDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

func AddSweepOutcome(outcome string, n int) {
	SweepOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func IncrementCompletion(result string) {
	CompletionCount.WithLabelValues(result).Inc()
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
