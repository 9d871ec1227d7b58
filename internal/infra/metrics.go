package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics exposes pipeline counters for the worker process.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// NewWorkerMetrics registers worker collectors on a private registry.
func NewWorkerMetrics() *WorkerMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &WorkerMetrics{
		registry: reg,
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_started_total",
			Help: "Jobs picked up by the worker, by job type.",
		}, []string{"type"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs reaching a terminal state, by job type and status.",
		}, []string{"type", "status"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stage_fallbacks_total",
			Help: "Stage completions served by a non-primary engine.",
		}, []string{"stage", "engine"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Jobs currently being processed.",
		}),
	}
}

func (m *WorkerMetrics) JobStarted(jobType string) {
	m.jobsStarted.WithLabelValues(jobType).Inc()
	m.inFlight.Inc()
}

func (m *WorkerMetrics) JobFinished(jobType, status string) {
	m.jobsFinished.WithLabelValues(jobType, status).Inc()
	m.inFlight.Dec()
}

func (m *WorkerMetrics) FallbackUsed(stage, engine string) {
	m.fallbacks.WithLabelValues(stage, engine).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
