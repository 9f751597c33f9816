package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airdeck/skybridge/metric"
)

// engineMetrics counts the recompute pipeline's work.
type engineMetrics struct {
	recomputes   prometheus.Counter
	updates      prometheus.Counter
	evalFailures prometheus.Counter
	pageChanges  prometheus.Counter
	reloads      prometheus.Counter
}

func newEngineMetrics(registry *metric.Registry) *engineMetrics {
	if registry == nil {
		return nil
	}

	m := &engineMetrics{
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "recomputes_total",
			Help:      "State recomputations triggered by channel changes",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "updates_total",
			Help:      "State updates pushed to the UI",
		}),
		evalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "eval_failures_total",
			Help:      "Formula evaluations that failed at runtime",
		}),
		pageChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "page_changes_total",
			Help:      "Page activations driven by UI broadcasts",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "reloads_total",
			Help:      "Definition document reloads",
		}),
	}

	registry.MustRegister("engine", "recomputes", m.recomputes)
	registry.MustRegister("engine", "updates", m.updates)
	registry.MustRegister("engine", "eval_failures", m.evalFailures)
	registry.MustRegister("engine", "page_changes", m.pageChanges)
	registry.MustRegister("engine", "reloads", m.reloads)
	return m
}
