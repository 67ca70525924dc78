// ABOUTME: Prometheus instruments for handshakes, token issuance and gate rejections
// ABOUTME: Registered on a private registry served by the ops listener

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "srpgate"

// Handshake result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Metrics holds every srpgate instrument.
type Metrics struct {
	registry *prometheus.Registry

	handshakes     *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	gateRejections *prometheus.CounterVec
	evicted        prometheus.Counter
}

// New creates the instruments on a fresh registry. inFlight, when non-nil, is
// sampled at scrape time for the sessions_in_flight gauge.
func New(inFlight func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_total",
			Help:      "SRP handshake steps by step and result.",
		}, []string{"step", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Bearer tokens issued by session type.",
		}, []string{"session_type"}),
		gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Requests refused by the gate, by reason.",
		}, []string{"reason"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Handshake sessions removed by the expiry sweep.",
		}),
	}

	reg.MustRegister(
		m.handshakes,
		m.tokensIssued,
		m.gateRejections,
		m.evicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if inFlight != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_in_flight",
			Help:      "Handshakes waiting for step 2.",
		}, func() float64 { return float64(inFlight()) }))
	}
	return m
}

// ObserveHandshake counts one handshake step outcome.
func (m *Metrics) ObserveHandshake(step, result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(step, result).Inc()
}

// TokenIssued counts one issued token.
func (m *Metrics) TokenIssued(sessionType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(sessionType).Inc()
}

// GateRejected counts one gate rejection. Its signature matches auth.GateConfig.OnReject.
func (m *Metrics) GateRejected(reason string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(reason).Inc()
}

// SessionsEvicted counts n expired sessions. Its signature matches sessions.WithEvictHook.
func (m *Metrics) SessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
