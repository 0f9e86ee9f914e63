// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome labels. Business failures are labelled by their error kind.
const (
	OutcomeOK = "ok"
)

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	SessionsSwept prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authkeeper_operation_duration_seconds",
				Help:    "Auth operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authkeeper_sessions_swept_total",
			Help: "Expired sessions removed by the periodic sweep",
		}),
	}
	reg.MustRegister(m.Operations, m.Duration, m.SessionsSwept)
	return m
}

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Observe records one finished operation.
func (m *Metrics) Observe(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(d.Seconds())
}

// Swept adds n to the swept-sessions counter.
func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}
