// Package metrics provides Prometheus instrumentation for the signaling
// client lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "signalfire"

// Connection attempt results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for a signaling client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connectAttempts    *prometheus.CounterVec
	reconnectExhausted prometheus.Counter
	framesTotal        *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	connected          prometheus.Gauge
}

// New creates a Metrics instance and registers its collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, by result and whether they were automatic reconnections.",
		}, []string{"result", "reconnect"}),

		reconnectExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnection retry budget was exhausted.",
		}),

		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames, by classified kind.",
		}, []string{"kind"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Outgoing requests, by outcome.",
		}, []string{"outcome"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the signaling connection is established.",
		}),
	}

	reg.MustRegister(
		m.connectAttempts,
		m.reconnectExhausted,
		m.framesTotal,
		m.requestsTotal,
		m.connected,
	)

	return m
}

// ConnectAttempt records the outcome of a connection attempt.
func (m *Metrics) ConnectAttempt(result string, reconnect bool) {
	if m == nil {
		return
	}
	r := "false"
	if reconnect {
		r = "true"
	}
	m.connectAttempts.WithLabelValues(result, r).Inc()
}

// ReconnectExhausted records an exhausted retry budget.
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhausted.Inc()
}

// Frame records an inbound frame of the given classified kind.
func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(kind).Inc()
}

// Request records the outcome of an outgoing request.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// SetConnected records whether the connection is currently established.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
