// Package metrics owns the relay's Prometheus collectors. All recording
// methods are safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

type Metrics struct {
	registry      *prometheus.Registry
	onlineDevices prometheus.Gauge
	authResults   *prometheus.CounterVec
	persisted     *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New builds collectors on a private registry together with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		onlineDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_devices",
			Help:      "Live device channels currently registered.",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_total",
			Help:      "Connection admission outcomes by result code.",
		}, []string{"result"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Message rows persisted, by kind.",
		}, []string{"kind"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Push events offered to live channels, by event and outcome.",
		}, []string{"event", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests handled, by event and result code.",
		}, []string{"event", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.onlineDevices, m.authResults, m.persisted, m.pushes, m.requests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) DeviceOnline() {
	if m == nil {
		return
	}
	m.onlineDevices.Inc()
}

func (m *Metrics) DeviceOffline() {
	if m == nil {
		return
	}
	m.onlineDevices.Dec()
}

// AuthResult counts one admission decision; "OK" for admitted connections.
func (m *Metrics) AuthResult(result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
}

// MessagePersisted counts one stored row; kind is "direct" or "group".
func (m *Metrics) MessagePersisted(kind string) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(kind).Inc()
}

// Push counts one push offered to a single channel.
func (m *Metrics) Push(event string, accepted bool) {
	if m == nil {
		return
	}
	outcome := "dropped"
	if accepted {
		outcome = "queued"
	}
	m.pushes.WithLabelValues(event, outcome).Inc()
}

// Request counts one handled request; code is "OK" or the error code.
func (m *Metrics) Request(event, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(event, code).Inc()
}
