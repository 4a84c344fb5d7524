package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/shader-bridge/resource"
)

const (
	namespace = "shader_bridge"
	subsystem = "context"
)

// Metrics holds prometheus collectors for a Context. A nil *Metrics records
// nothing.
type Metrics struct {
	live          *prometheus.GaugeVec
	operations    *prometheus.CounterVec
	translateTime *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		live: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "live_resources",
				Help:      "Number of live resources by kind.",
			},
			[]string{"kind"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Context operations by name and result.",
			},
			[]string{"op", "result"}, // result is "success" or "error"
		),
		translateTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "translate_duration_seconds",
				Help:      "Foreign code generation time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
			[]string{"target", "result"},
		),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.live, m.operations, m.translateTime)
}

// OnResourceEvent keeps the live resource gauge in step with the tables.
func (m *Metrics) OnResourceEvent(e resource.Event) {
	g := m.live.WithLabelValues(e.Kind.String())
	switch e.Type {
	case resource.EventCreated:
		g.Inc()
	case resource.EventDropped:
		g.Dec()
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) operation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) translation(target string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.translateTime.WithLabelValues(target, resultLabel(err)).Observe(d.Seconds())
}
