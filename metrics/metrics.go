// Package metrics exposes tunnel counters in Prometheus format, fed
// from the event bus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/porihq/pori/event"
)

const (
	namespace       = "pori"
	tunnelSubsystem = "tunnel"
)

// Metrics owns the tunnel collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	requestsForwarded prometheus.Counter
	responses         *prometheus.CounterVec
	responseBytes     prometheus.Counter
	errors            prometheus.Counter
	reconnects        prometheus.Counter
	connected         prometheus.Gauge
}

// New builds and registers the tunnel collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "requests_forwarded_total",
			Help:      "Number of requests handed to the local origin",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "responses_total",
			Help:      "Number of responses sent back through the tunnel",
		}, []string{"status"}),
		responseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "response_bytes_total",
			Help:      "Response body bytes sent back through the tunnel",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "errors_total",
			Help:      "Number of tunnel errors",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: tunnelSubsystem,
			Name:      "connected",
			Help:      "Whether the tunnel is currently authenticated",
		}),
	}

	m.registry.MustRegister(
		m.requestsForwarded,
		m.responses,
		m.responseBytes,
		m.errors,
		m.reconnects,
		m.connected,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Run consumes bus events until the channel closes.
func (m *Metrics) Run(events <-chan event.Event) {
	for ev := range events {
		m.observe(ev)
	}
}

func (m *Metrics) observe(ev event.Event) {
	switch ev.Kind {
	case event.KindRequestForwarded:
		m.requestsForwarded.Inc()
	case event.KindResponseReceived:
		m.responses.WithLabelValues(strconv.Itoa(ev.Status)).Inc()
		m.responseBytes.Add(float64(ev.BodyLen))
	case event.KindError:
		m.errors.Inc()
	case event.KindConnectionStatus:
		switch ev.ConnState {
		case event.StatusConnected:
			m.connected.Set(1)
		case event.StatusReconnecting:
			m.reconnects.Inc()
			m.connected.Set(0)
		default:
			m.connected.Set(0)
		}
	}
}
