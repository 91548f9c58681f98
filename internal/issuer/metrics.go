package issuer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for issuer node calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Circuit  prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpauth_issuer_requests_total",
			Help: "Issuer node calls by operation and outcome",
		}, []string{"operation", "outcome"}), // outcome: "ok", "rejected", "unavailable", "circuit_open"
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkpauth_issuer_request_duration_seconds",
			Help:    "Latency of issuer node calls by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"operation"}),
		Circuit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zkpauth_issuer_circuit_open",
			Help: "1 while the issuer circuit breaker is open",
		}),
	}
}

func (m *Metrics) ObserveRequest(op, outcome string, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(op, outcome).Inc()
		m.Latency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Circuit.Set(1)
	} else {
		m.Circuit.Set(0)
	}
}
