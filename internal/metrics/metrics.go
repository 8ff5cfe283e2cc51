// Package metrics exposes run-level counters and latencies over Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulequery_oracle_calls_total",
			Help: "Total number of completion-service calls by pipeline stage.",
		},
		[]string{"stage"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulequery_executions_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulequery_cache_lookups_total",
			Help: "Total number of SQL cache lookups by result.",
		},
		[]string{"result"},
	)

	repairAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rulequery_repair_attempts_total",
			Help: "Total number of SQL repair attempts.",
		},
	)

	runDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rulequery_run_duration_seconds",
			Help:    "End-to-end run latency by terminal status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		oracleCallsTotal,
		executionsTotal,
		cacheLookupsTotal,
		repairAttemptsTotal,
		runDurationSeconds,
	)
}

// ObserveOracleCall records one completion call for a pipeline stage.
func ObserveOracleCall(stage string) {
	oracleCallsTotal.WithLabelValues(stage).Inc()
}

// ObserveExecution records one execution outcome: completed, pending, or failed.
func ObserveExecution(outcome string) {
	executionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRepairAttempt records one repair iteration.
func ObserveRepairAttempt() {
	repairAttemptsTotal.Inc()
}

// ObserveRun records the end-to-end latency of a run.
func ObserveRun(status string, elapsed time.Duration) {
	runDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
