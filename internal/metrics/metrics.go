// Package metrics exposes engine activity as Prometheus metrics.
//
// A Collector is an engine observer. Attach one to any number of
// environments; they share its counters.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/prodsys/internal/engine"
)

const namespace = "prodsys"

// Collector counts trace events.
type Collector struct {
	registry *prometheus.Registry

	factOps     *prometheus.CounterVec
	liveFacts   prometheus.Gauge
	activations *prometheus.CounterVec
	fired       *prometheus.CounterVec
	runs        prometheus.Counter
	runErrors   prometheus.Counter
	firedPerRun prometheus.Histogram
	errors      prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,

		// factOps counts fact changes.
		// Labels: op (assert, retract, modify)
		factOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "facts",
			Name:      "changes_total",
			Help:      "Fact assertions, retractions and modifications",
		}, []string{"op"}),
		liveFacts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "facts",
			Name:      "live",
			Help:      "Facts currently in working memory",
		}),

		// activations counts agenda changes.
		// Labels: op (activate, deactivate)
		activations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agenda",
			Name:      "changes_total",
			Help:      "Activations added to and removed from the agenda",
		}, []string{"op"}),

		// fired counts rule firings.
		// Labels: rule (qualified rule name)
		fired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "fired_total",
			Help:      "Rule firings",
		}, []string{"rule"}),

		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Completed runs",
		}),
		runErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "errors_total",
			Help:      "Runs stopped by a failing action",
		}),
		firedPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "fired_rules",
			Help:      "Rules fired per run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events, including failed join tests",
		}),
	}
}

// Observe implements engine.Observer.
func (c *Collector) Observe(ev engine.TraceEvent) {
	switch ev.Type {
	case engine.EventAssert:
		c.factOps.WithLabelValues(string(ev.Type)).Inc()
		c.liveFacts.Inc()
	case engine.EventRetract:
		c.factOps.WithLabelValues(string(ev.Type)).Inc()
		c.liveFacts.Dec()
	case engine.EventModify:
		c.factOps.WithLabelValues(string(ev.Type)).Inc()
	case engine.EventActivate:
		c.activations.WithLabelValues(string(ev.Type)).Inc()
	case engine.EventDeactivate:
		c.activations.WithLabelValues(string(ev.Type)).Inc()
	case engine.EventFire:
		c.fired.WithLabelValues(ev.Rule).Inc()
	case engine.EventRunEnd:
		c.runs.Inc()
		c.firedPerRun.Observe(float64(ev.Count))
		if ev.Err != nil {
			c.runErrors.Inc()
		}
	case engine.EventError:
		c.errors.Inc()
	}
}

// Registry returns the registry holding the collector's metrics, for
// serving or gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteText writes every metric in the Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

var _ engine.Observer = (*Collector)(nil)
