package xplane

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airdeck/skybridge/metric"
)

// Metrics holds Prometheus metrics for the telemetry session and supervisor.
type Metrics struct {
	packets       prometheus.Counter
	samples       prometheus.Counter
	timeouts      prometheus.Counter
	reconnects    prometheus.Counter
	subscriptions prometheus.Gauge
}

// NewMetrics creates and registers session metrics. Returns nil when no
// metrics registry is provided.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "xplane",
			Name:      "packets_total",
			Help:      "Telemetry packets received from the simulator",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "xplane",
			Name:      "samples_total",
			Help:      "Dataref samples decoded from telemetry packets",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "xplane",
			Name:      "timeouts_total",
			Help:      "Read timeouts on the telemetry socket",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "xplane",
			Name:      "reconnects_total",
			Help:      "Connection attempts after a session loss",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "xplane",
			Name:      "subscriptions",
			Help:      "Dataref subscriptions held on the current session",
		}),
	}

	registry.MustRegister("xplane", "packets", m.packets)
	registry.MustRegister("xplane", "samples", m.samples)
	registry.MustRegister("xplane", "timeouts", m.timeouts)
	registry.MustRegister("xplane", "reconnects", m.reconnects)
	registry.MustRegister("xplane", "subscriptions", m.subscriptions)
	return m
}
