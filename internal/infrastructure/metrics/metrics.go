// Package metrics exports engine and scheduler counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Collector implements orchestrator.Observer and expiry.Observer.
type Collector struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	sweeps      *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nestfind_transitions_total",
				Help: "State transition requests by entity, trigger and outcome.",
			},
			[]string{"entity_type", "trigger", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nestfind_execute_duration_seconds",
				Help:    "Latency of transition requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity_type"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nestfind_expiry_sweeps_total",
				Help: "Time-driven transitions fired by the expiry scheduler.",
			},
			[]string{"sweep", "outcome"},
		),
	}
	c.registry.MustRegister(c.transitions, c.duration, c.sweeps)
	return c
}

func (c *Collector) ObserveExecute(entity lifecycle.EntityType, trigger lifecycle.Trigger, outcome string, elapsed time.Duration) {
	c.transitions.WithLabelValues(string(entity), string(trigger), outcome).Inc()
	c.duration.WithLabelValues(string(entity)).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveSweep(sweep, outcome string) {
	c.sweeps.WithLabelValues(sweep, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
