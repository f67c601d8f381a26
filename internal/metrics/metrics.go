// Package metrics holds the Prometheus collectors of the login gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "urd"

// Metrics groups the gateway collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected prometheus.Counter
	connectionsClosed   *prometheus.CounterVec
	packetsReceived     *prometheus.CounterVec
	packetsSent         *prometheus.CounterVec
	decodeErrors        *prometheus.CounterVec
	logins              *prometheus.CounterVec
	loginDuration       prometheus.Histogram
	sessionsActive      prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_active",
			Help:      "Number of open client connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed on accept because the connection limit was reached",
		}),
		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_closed_total",
			Help:      "Closed client connections by reason",
		}, []string{"reason"}),
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_received_total",
			Help:      "Decoded client packets by type",
		}, []string{"type"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_sent_total",
			Help:      "Server packets written by type",
		}, []string{"type"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Client frames that failed to decode, by error kind",
		}, []string{"kind"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result and reason",
		}, []string{"result", "reason"}),
		loginDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "login_duration_seconds",
			Help:      "Time spent authenticating a login request",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1},
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of logged-in sessions",
		}),
	}
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.connectionsClosed.WithLabelValues(reason).Inc()
}

// ConnectionRejected records a connection refused at admission.
func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

// PacketReceived records a decoded client packet.
func (m *Metrics) PacketReceived(name string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(name).Inc()
}

// PacketSent records a written server packet.
func (m *Metrics) PacketSent(name string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(name).Inc()
}

// DecodeError records a frame that failed to decode.
func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

// Login records a login outcome and the time it took.
func (m *Metrics) Login(result, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result, reason).Inc()
	m.loginDuration.Observe(seconds)
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
