// Package metrics exposes Prometheus collectors for pipeline runs, route
// validation, stage latency, model calls, and endpoint circuit state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/task"
)

const namespace = "bloom"

// Route adjustment labels.
const (
	AdjustmentNone       = "none"
	AdjustmentRepaired   = "repaired"
	AdjustmentDowngraded = "downgraded"
)

// Metrics holds the collectors. It implements pipeline.Observer and
// llm.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	routes        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome and dispatched pillar.",
		}, []string{"outcome", "pillar"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),

		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Validated routes by pillar, action, and adjustment.",
		}, []string{"pillar", "action", "adjustment"}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"stage"}),

		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline stages that ended with an error.",
		}, []string{"stage"}),

		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model endpoint attempts by capability, endpoint, and status.",
		}, []string{"capability", "endpoint", "status"}),

		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of model endpoint attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"capability", "endpoint"}),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.routes,
		m.stageDuration, m.stageFailures,
		m.modelCalls, m.modelDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchEndpoints exports the circuit state of the registry's endpoints.
func (m *Metrics) WatchEndpoints(reg *model.Registry) error {
	return m.registry.Register(newHealthCollector(reg))
}

// ObserveRun implements pipeline.Observer.
func (m *Metrics) ObserveRun(outcome string, pillar task.Pillar, d time.Duration) {
	label := string(pillar)
	if label == "" {
		label = "none"
	}
	m.runs.WithLabelValues(outcome, label).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRoute implements pipeline.Observer.
func (m *Metrics) ObserveRoute(v pipeline.Validation) {
	adjustment := AdjustmentNone
	switch {
	case v.Downgraded:
		adjustment = AdjustmentDowngraded
	case v.Repaired:
		adjustment = AdjustmentRepaired
	}
	m.routes.WithLabelValues(string(v.Route.Pillar), v.Route.Action, adjustment).Inc()
}

// ObserveStage implements pipeline.Observer.
func (m *Metrics) ObserveStage(stage string, d time.Duration, failed bool) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveCall implements llm.Observer.
func (m *Metrics) ObserveCall(capability, endpoint string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = llm.KindOf(err).String()
	}
	m.modelCalls.WithLabelValues(capability, endpoint, status).Inc()
	m.modelDuration.WithLabelValues(capability, endpoint).Observe(d.Seconds())
}
