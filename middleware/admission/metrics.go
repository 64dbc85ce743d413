package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa os contadores prometheus dos middlewares. Todos os métodos
// aceitam receiver nil, então instrumentação é sempre opcional.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	DedupResults  *prometheus.CounterVec
	StoreFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Admission decisions by policy and outcome.",
			},
			[]string{"policy", "outcome"},
		),
		DedupResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dedup_requests_total",
				Help: "Deduplication results: hit, miss or bypass.",
			},
			[]string{"result"},
		),
		StoreFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shared_store_failures_total",
				Help: "Shared store round trips that failed and degraded (fail-open or miss).",
			},
		),
	}
}

func (m *Metrics) decision(policy, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) dedup(result string) {
	if m == nil {
		return
	}
	m.DedupResults.WithLabelValues(result).Inc()
}

func (m *Metrics) storeFailure() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}
