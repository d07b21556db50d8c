// Package metrics holds the Prometheus collectors of the triage pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "triageio"

var (
	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Oracle operations by outcome (parsed, partial, unparseable, unavailable).",
	}, []string{"operation", "outcome"})

	oracleAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "attempts_total",
		Help:      "Individual oracle attempts including retries.",
	}, []string{"operation", "result"})

	oracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "call_duration_seconds",
		Help:      "Wall time of oracle operations including retries.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "circuit_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})

	tasksByState = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "tasks_finished_total",
		Help:      "Tasks reaching a terminal state.",
	}, []string{"state"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "fingerprint_cache_lookups_total",
		Help:      "Fingerprint cache lookups by result.",
	}, []string{"result"})

	kbQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kb",
		Name:      "queries_total",
		Help:      "Knowledge base queries by mode (hybrid, lexical).",
	}, []string{"mode"})

	kbQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "kb",
		Name:      "query_duration_seconds",
		Help:      "Knowledge base query latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	kbRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "kb",
		Name:      "records",
		Help:      "Records in the active knowledge base snapshot.",
	})
)

// ObserveOracleCall records the outcome and duration of one oracle operation.
func ObserveOracleCall(operation, outcome string, d time.Duration) {
	oracleCalls.WithLabelValues(operation, outcome).Inc()
	oracleDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveOracleAttempt records one attempt.
func ObserveOracleAttempt(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	oracleAttempts.WithLabelValues(operation, result).Inc()
}

// SetBreakerState publishes the breaker state as a number.
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}

// ObserveStage records a stage duration.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TaskFinished counts a task reaching a terminal state.
func TaskFinished(state string) {
	tasksByState.WithLabelValues(state).Inc()
}

// CacheLookup counts a fingerprint cache hit or miss.
func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveKBQuery records a knowledge base query.
func ObserveKBQuery(degraded bool, d time.Duration) {
	mode := "hybrid"
	if degraded {
		mode = "lexical"
	}
	kbQueries.WithLabelValues(mode).Inc()
	kbQueryDuration.Observe(d.Seconds())
}

// SetKBRecords publishes the size of the active snapshot.
func SetKBRecords(n int) {
	kbRecords.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
