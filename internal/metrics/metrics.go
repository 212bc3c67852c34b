// Package metrics exposes the gateway's Prometheus instrumentation. Unlike
// promhttp.Handler()'s usual reliance on the global registry, Registry
// builds and holds its own prometheus.Registry so constructing a Gateway
// never has import-time side effects on a process-wide singleton.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the gateway records.
type Registry struct {
	reg *prometheus.Registry

	SessionsOpened   prometheus.Counter
	SessionsClosed   *prometheus.CounterVec // labeled by close code
	HandshakeSeconds prometheus.Histogram
	BytesUpstream    prometheus.Counter // browser -> guacd
	BytesDownstream  prometheus.Counter // guacd -> browser
	ActiveSessions   prometheus.Gauge
	RecorderDrops    prometheus.Counter
}

// New builds a Registry with every metric registered against a private
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guacgateway",
			Name:      "sessions_opened_total",
			Help:      "Total sessions that completed the guacd handshake and entered relay.",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guacgateway",
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed, labeled by WebSocket close code sent to the browser.",
		}, []string{"code"}),
		HandshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guacgateway",
			Name:      "handshake_duration_seconds",
			Help:      "Time from accepting a WebSocket connection to the guacd handshake completing or failing.",
			Buckets:   prometheus.DefBuckets,
		}),
		BytesUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guacgateway",
			Name:      "bytes_upstream_total",
			Help:      "Bytes relayed from browser to guacd.",
		}),
		BytesDownstream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guacgateway",
			Name:      "bytes_downstream_total",
			Help:      "Bytes relayed from guacd to browser.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guacgateway",
			Name:      "active_sessions",
			Help:      "Sessions currently relaying.",
		}),
		RecorderDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guacgateway",
			Name:      "recorder_drops_total",
			Help:      "Recording spans dropped because a session's recorder buffer was full.",
		}),
	}

	reg.MustRegister(
		r.SessionsOpened,
		r.SessionsClosed,
		r.HandshakeSeconds,
		r.BytesUpstream,
		r.BytesDownstream,
		r.ActiveSessions,
		r.RecorderDrops,
	)
	return r
}

// ObserveHandshake records the outcome of one dial-and-handshake attempt.
func (r *Registry) ObserveHandshake(seconds float64, ok bool) {
	if r == nil {
		return
	}
	r.HandshakeSeconds.Observe(seconds)
	if ok {
		r.SessionsOpened.Inc()
	}
}

// ObserveClose records a session teardown with the close code sent to the
// browser.
func (r *Registry) ObserveClose(code int) {
	if r == nil {
		return
	}
	r.SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the HTTP handler serving this Registry's metrics in the
// Prometheus exposition format, for mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
