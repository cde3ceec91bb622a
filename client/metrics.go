package client

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a client reports to. A nil
// *Metrics records nothing.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	backendErrorsTotal *prometheus.CounterVec
	pendingRequests    prometheus.Gauge
	eventsTotal        *prometheus.CounterVec
	loginSubmissions   *prometheus.CounterVec
}

// NewMetrics registers the client collectors with reg. Use
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotdl_client",
				Name:      "requests_total",
				Help:      "Requests sent to the backend by type.",
			},
			[]string{"type"},
		),
		backendErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotdl_client",
				Name:      "backend_errors_total",
				Help:      "Error objects received from the backend by code.",
			},
			[]string{"code"},
		),
		pendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gotdl_client",
				Name:      "pending_requests",
				Help:      "Requests waiting for their response.",
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotdl_client",
				Name:      "events_emitted_total",
				Help:      "Events emitted to listeners by name.",
			},
			[]string{"event"},
		),
		loginSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotdl_client",
				Name:      "login_submissions_total",
				Help:      "Credentials submitted during login by field and outcome.",
			},
			[]string{"field", "result"},
		),
	}
}

func (m *Metrics) request(typ string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(typ).Inc()
	m.pendingRequests.Inc()
}

func (m *Metrics) settled() {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
}

func (m *Metrics) backendError(code int) {
	if m == nil {
		return
	}
	m.backendErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) event(name string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) submission(field Field, result string) {
	if m == nil {
		return
	}
	m.loginSubmissions.WithLabelValues(string(field), result).Inc()
}
