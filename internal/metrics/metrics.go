package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	refreshes      *prometheus.CounterVec
	refreshJoins   prometheus.Counter
	sends          *prometheus.CounterVec
	gatewayOutcome *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_token_refresh_total",
			Help: "Access token refresh calls made to the backend, by result.",
		}, []string{"result"}),
		refreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_token_refresh_joined_total",
			Help: "Callers that joined a refresh already in flight.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_message_send_total",
			Help: "Message sends by final result (sent or a failure class).",
		}, []string{"result"}),
		gatewayOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_gateway_requests_total",
			Help: "Outbound backend requests by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.refreshes, m.refreshJoins, m.sends, m.gatewayOutcome)
	return m
}

func (m *Metrics) RefreshDone(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.refreshJoins.Inc()
}

func (m *Metrics) SendDone(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) GatewayRequest(outcome string) {
	if m == nil {
		return
	}
	m.gatewayOutcome.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
