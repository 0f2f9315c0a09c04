// Package metrics exposes Prometheus instrumentation for the scoring
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts scoring runs per task.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_evaluations_total",
		Help: "Total number of scoring evaluations performed.",
	}, []string{"task"})

	// EvaluationDuration observes end-to-end scoring latency, including
	// catalog lookup and record persistence.
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_evaluation_duration_seconds",
		Help:    "Scoring evaluation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	// SaveConflictsTotal counts optimistic-concurrency rejections on
	// system saves.
	SaveConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_save_conflicts_total",
		Help: "Total number of system saves rejected by version conflict.",
	}, []string{"task"})

	// AdvisoryFindingsTotal counts advisory findings by outcome.
	AdvisoryFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_advisory_findings_total",
		Help: "Total number of advisory findings by outcome.",
	}, []string{"task", "outcome"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
