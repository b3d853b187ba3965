package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "camperstories_admin"

// Refresh outcomes recorded on the token_refresh_total counter.
const (
	refreshSuccess = "success"
	refreshExpired = "expired"
	refreshFailure = "failure"
)

// Metrics counts pipeline traffic. A nil *Metrics records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	waiters   prometheus.Counter
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use to read values
// directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Backend requests sent, by method and response status.",
			},
			[]string{"method", "status"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "token_refresh_total",
				Help:      "Token refresh attempts, by result.",
			},
			[]string{"result"},
		),
		waiters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_waiters_total",
			Help:      "Requests that waited on an in-flight token refresh.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.refreshes, m.waiters)
	}

	return m
}

func (m *Metrics) request(method, status string) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(method, status).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}

	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) waiter() {
	if m == nil {
		return
	}

	m.waiters.Inc()
}
