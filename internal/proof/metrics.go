package proof

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for proof generation and verification.
type Metrics struct {
	PhaseDuration *prometheus.HistogramVec
	Generated     *prometheus.CounterVec
	Verified      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkpauth_proof_phase_duration_seconds",
			Help:    "Duration of each proof generation phase",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"phase"}),
		Generated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_proofs_generated_total",
			Help: "Proof generation attempts by outcome",
		}, []string{"outcome"}), // outcome: "ok", "failed", "cancelled"
		Verified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_proofs_verified_total",
			Help: "Proof verifications by result; rejected proofs are labelled with the reason",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObservePhase(phase Phase, d time.Duration) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementGenerated(outcome string) {
	if m != nil {
		m.Generated.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementVerified(result string) {
	if m != nil {
		m.Verified.WithLabelValues(result).Inc()
	}
}
