package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/bloom/model"
)

// healthCollector reads endpoint circuit state at scrape time.
type healthCollector struct {
	registry *model.Registry

	available *prometheus.Desc
	failures  *prometheus.Desc
}

func newHealthCollector(reg *model.Registry) *healthCollector {
	return &healthCollector{
		registry: reg,
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "endpoint", "available"),
			"1 when the endpoint's circuit is closed.",
			[]string{"endpoint"}, nil),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "endpoint", "consecutive_failures"),
			"Consecutive failed calls to the endpoint.",
			[]string{"endpoint"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *healthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.failures
}

// Collect implements prometheus.Collector.
func (c *healthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.registry.HealthSnapshot() {
		available := 0.0
		if c.registry.IsEndpointAvailable(h.Name) {
			available = 1
		}
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, available, h.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(h.FailureCount), h.Name)
	}
}
