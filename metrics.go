package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the auth counters. A nil *Metrics records nothing.
type Metrics struct {
	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	handshakes   *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	blacklist    prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg. A nil
// registerer skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_auth",
			Name:      "token_refreshes_total",
			Help:      "Token refreshes by outcome.",
		}, []string{"outcome"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_auth",
			Name:      "handshakes_total",
			Help:      "Nonce handshakes by outcome.",
		}, []string{"outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_auth",
			Name:      "authentication_failures_total",
			Help:      "Rejected requests by strategy and code.",
		}, []string{"strategy", "code"}),
		blacklist: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trace_auth",
			Name:      "blacklisted_tokens_total",
			Help:      "Tokens written to the blacklist.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.handshakes, m.authFailures, m.blacklist)
	}
	return m
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) handshake(outcome string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) authFailure(strategy, code string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(strategy, code).Inc()
}

func (m *Metrics) blacklisted() {
	if m == nil {
		return
	}
	m.blacklist.Inc()
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
