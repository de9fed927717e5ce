// Package metrics provides Prometheus metrics for the BrokerFlow API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExtractionsTotal counts extraction runs by outcome (completed, scanned, unsupported, not_found, upstream_error)
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Total number of document extraction runs by outcome",
		},
		[]string{"outcome"},
	)

	// ExtractionDuration tracks end-to-end extraction time
	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "brokerflow",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Duration of completed extraction runs in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Total number of text generations by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	TasksGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "workflow",
			Name:      "tasks_generated_total",
			Help:      "Checklist tasks created by status transitions",
		},
		[]string{"status"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of LLM completion requests",
		},
		[]string{"provider", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brokerflow",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of LLM completion requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)

	// AuditWriteFailures counts audit rows that could not be written
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit log entries dropped because the write failed",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brokerflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// ObserveLLM records one completion call.
func ObserveLLM(provider string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMRequestsTotal.WithLabelValues(provider, outcome).Inc()
	LLMRequestDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
