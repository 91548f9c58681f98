package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks state machine outcomes.
type Metrics struct {
	Transitions *prometheus.CounterVec
	Committed   *prometheus.CounterVec
	Rejected    prometheus.Counter
	Active      prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_session_transitions_total",
			Help: "State machine transitions by target state",
		}, []string{"to"}),
		Committed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_sessions_committed_total",
			Help: "Sessions committed by authentication method",
		}, []string{"method"}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "zkpauth_session_attempts_rejected_total",
			Help: "Attempts rejected because the subject already had one in flight",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zkpauth_session_attempts_in_flight",
			Help: "Attempts currently holding a subject's in-flight slot",
		}),
	}
}

func (m *Metrics) IncrementTransition(to State) {
	if m != nil {
		m.Transitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Metrics) IncrementCommitted(method string) {
	if m != nil {
		m.Committed.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) IncrementRejected() {
	if m != nil {
		m.Rejected.Inc()
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.Active.Set(float64(n))
	}
}
