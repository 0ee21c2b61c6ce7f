// Package metrics exposes Prometheus instruments for terminal connections,
// exec sessions and the runtime backend. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webshell"

// Directions for Bytes.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

type Metrics struct {
	ConnectionsActive prometheus.Gauge
	SessionsActive    prometheus.Gauge
	Attaches          *prometheus.CounterVec
	StreamEnds        *prometheus.CounterVec
	Bytes             *prometheus.CounterVec
	DroppedMessages   *prometheus.CounterVec
	RuntimeUp         prometheus.Gauge

	registry *prometheus.Registry
}

// New registers all instruments on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open terminal websocket connections",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of exec sessions currently bridged to a client",
		}),
		Attaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attach_total",
			Help:      "Attach requests by result",
		}, []string{"result"}),
		StreamEnds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_end_total",
			Help:      "Exec stream terminations by reason",
		}, []string{"reason"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_bytes_total",
			Help:      "Terminal bytes forwarded, in = client to container, out = container to client",
		}, []string{"direction"}),
		DroppedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Client messages discarded by the transport",
		}, []string{"reason"}),
		RuntimeUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_up",
			Help:      "1 if the last runtime health probe succeeded",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

// AttachResult counts one attach outcome; a successful attach also opens a
// session.
func (m *Metrics) AttachResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Attaches.WithLabelValues("error").Inc()
		return
	}
	m.Attaches.WithLabelValues("ok").Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.StreamEnds.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddBytes(direction string, n int) {
	if m != nil && n > 0 {
		m.Bytes.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.DroppedMessages.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetRuntimeUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.RuntimeUp.Set(1)
	} else {
		m.RuntimeUp.Set(0)
	}
}
