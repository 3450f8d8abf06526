// Package metrics exposes inspection counters and timings to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/gasketvision/internal/inspection"
)

const namespace = "gasketvision"

// Collector records pipeline checkpoints and inspection outcomes. It
// implements inspection.Observer.
type Collector struct {
	registry *prometheus.Registry

	Checkpoints *prometheus.CounterVec
	Attempts    *prometheus.CounterVec
	Inspections *prometheus.CounterVec
	EarlyExits  *prometheus.CounterVec
	Duration    prometheus.Histogram
	BusUp       prometheus.Gauge
}

var _ inspection.Observer = (*Collector)(nil)

// New creates a Collector on its own registry, together with the Go
// runtime and process collectors.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		Checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Pipeline checkpoints reached, by stage",
		}, []string{"stage"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Inspection attempts, by outcome",
		}, []string{"outcome"}),
		Inspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspections_total",
			Help:      "Completed inspections, by result",
		}, []string{"result"}),
		EarlyExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "early_exits_total",
			Help:      "Attempts that ended at an early check, by stage",
		}, []string{"stage"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inspection_duration_seconds",
			Help:      "Wall time of a full inspection including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		BusUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "Robot bus connection status (1 connected, 0 disconnected)",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.Checkpoints, c.Attempts, c.Inspections, c.EarlyExits, c.Duration, c.BusUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// OnCheckpoint implements inspection.Observer.
func (c *Collector) OnCheckpoint(cp inspection.Checkpoint) {
	c.Checkpoints.WithLabelValues(string(cp.Stage)).Inc()

	switch cp.Stage {
	case inspection.StageSucceeded:
		c.Attempts.WithLabelValues("success").Inc()
	case inspection.StageFailed:
		c.Attempts.WithLabelValues("failure").Inc()
	case inspection.StageCountRejected, inspection.StageDistanceRejected:
		c.EarlyExits.WithLabelValues(string(cp.Stage)).Inc()
	}
}

// ObserveInspection records the result of a full retry run.
func (c *Collector) ObserveInspection(success bool, d time.Duration) {
	result := "failed"
	if success {
		result = "passed"
	}
	c.Inspections.WithLabelValues(result).Inc()
	c.Duration.Observe(d.Seconds())
}

// SetBusConnected records the robot bus connection state.
func (c *Collector) SetBusConnected(connected bool) {
	if connected {
		c.BusUp.Set(1)
		return
	}
	c.BusUp.Set(0)
}
