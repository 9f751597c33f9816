package dataref

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airdeck/skybridge/metric"
)

// Metrics holds Prometheus metrics for the dataref registry.
type Metrics struct {
	channels prometheus.Gauge
	samples  prometheus.Counter
	changes  prometheus.Counter
}

// NewMetrics creates and registers registry metrics. Returns nil when no
// metrics registry is provided.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "dataref",
			Name:      "channels",
			Help:      "Live telemetry channels with at least one subscriber",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dataref",
			Name:      "samples_total",
			Help:      "Telemetry samples ingested",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dataref",
			Name:      "changes_total",
			Help:      "Samples whose rounded value changed and triggered recomputation",
		}),
	}

	registry.MustRegister("dataref", "channels", m.channels)
	registry.MustRegister("dataref", "samples", m.samples)
	registry.MustRegister("dataref", "changes", m.changes)
	return m
}
