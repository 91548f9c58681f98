package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for authentication flows.
type Metrics struct {
	Attempts      *prometheus.CounterVec
	FlowDuration  *prometheus.HistogramVec
	Registrations prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_auth_attempts_total",
			Help: "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}), // outcome: "success" or an error kind
		FlowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkpauth_auth_flow_duration_seconds",
			Help:    "End-to-end duration of authentication flows",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}, []string{"method"}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "zkpauth_users_registered_total",
			Help: "Users registered for the credential flow",
		}),
	}
}

func (m *Metrics) ObserveAttempt(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(method, outcome).Inc()
	m.FlowDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) IncrementRegistrations() {
	if m != nil {
		m.Registrations.Inc()
	}
}
