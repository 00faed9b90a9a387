package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/session"
)

// Metrics counts what happens to registration sessions. It owns its own
// registry so tests can create as many as they like.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	limitNotices    prometheus.Counter
	payments        *prometheus.CounterVec
}

// NewMetrics registers the registration counters plus a gauge of live
// sessions in sessions.
func NewMetrics(sessions *session.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racereg",
			Name:      "sessions_started_total",
			Help:      "Registration sessions opened, by mode.",
		}, []string{"mode"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racereg",
			Name:      "submissions_total",
			Help:      "Registration submissions, by outcome.",
		}, []string{"outcome"}),
		limitNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "racereg",
			Name:      "ticket_limit_notices_total",
			Help:      "Ticket increments rejected by a group cap.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racereg",
			Name:      "payments_total",
			Help:      "Payment webhooks handled, by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.sessionsStarted, m.submissions, m.limitNotices, m.payments)
	if sessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "racereg",
			Name:      "live_sessions",
			Help:      "Registration sessions currently held in memory.",
		}, func() float64 { return float64(sessions.Len()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionStarted(mode session.Mode) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) limitNotice() {
	if m == nil {
		return
	}
	m.limitNotices.Inc()
}

// submission records the outcome of leaving the details step: "accepted",
// or the code of the error that kept the session where it was.
func (m *Metrics) submission(err error) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) payment(status string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
}
