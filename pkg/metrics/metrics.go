// Package metrics exposes gateway counters to Prometheus.
//
// All methods are safe on a nil *Metrics, so components take an optional
// *Metrics and record unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uhost"

// Drop reasons.
const (
	ReasonFormat        = "format"
	ReasonCrypto        = "crypto"
	ReasonChallenge     = "challenge"
	ReasonUnknownDevice = "unknown_device"
	ReasonState         = "protocol_state"
	ReasonUnrecognized  = "unrecognized"
	ReasonRateLimited   = "rate_limited"
	ReasonQueueFull     = "queue_full"
	ReasonInternal      = "internal"
)

// Metrics holds the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	inbound     *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	handshakes  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	probes      prometheus.Counter
	deaths      prometheus.Counter
	sessions    prometheus.Gauge
	queueDepth  *prometheus.GaugeVec
	connected   prometheus.Gauge
	handleTime  prometheus.Histogram
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Messages published, by command name.",
		}, []string{"command"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed SRP proofs, by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Device status changes, by new status.",
		}, []string{"status"}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_probes_total",
			Help:      "KEEPALIVE commands sent.",
		}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_dead_total",
			Help:      "Devices declared dead by the keepalive sweep.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handshake_sessions",
			Help:      "Handshake sessions in memory.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in a pipeline queue.",
		}, []string{"queue"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the broker connection is up.",
		}),
		handleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_seconds",
			Help:      "Time to process one inbound message.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}

	reg.MustRegister(
		m.inbound, m.outbound, m.dropped, m.handshakes, m.transitions,
		m.probes, m.deaths, m.sessions, m.queueDepth, m.connected, m.handleTime,
	)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Inbound counts a dispatched command.
func (m *Metrics) Inbound(command string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(command).Inc()
}

// Outbound counts a published message.
func (m *Metrics) Outbound(command string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(command).Inc()
}

// Dropped counts a dropped inbound message.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Handshake counts a verified or rejected client proof.
func (m *Metrics) Handshake(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// Transition counts a status change.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Sweep records the outcome of a keepalive pass.
func (m *Metrics) Sweep(probed, dead int) {
	if m == nil {
		return
	}
	m.probes.Add(float64(probed))
	m.deaths.Add(float64(dead))
}

// Sessions sets the handshake session gauge.
func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// QueueDepth sets the depth gauge of a queue.
func (m *Metrics) QueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

// Connected sets the broker connection gauge.
func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.connected.Set(v)
}

// HandleTime observes the processing time of one message.
func (m *Metrics) HandleTime(d time.Duration) {
	if m == nil {
		return
	}
	m.handleTime.Observe(d.Seconds())
}
