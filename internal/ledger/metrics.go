package ledger

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments ledger operations.
type Metrics struct {
	operations *prometheus.CounterVec
	deferred   prometheus.Counter
	repaired   prometheus.Counter
}

// NewMetrics registers ledger metrics with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupledger",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result.",
		}, []string{"operation", "result"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupledger",
			Subsystem: "ledger",
			Name:      "deferred_rates_total",
			Help:      "Transactions committed with an unresolved multiplier.",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupledger",
			Subsystem: "ledger",
			Name:      "repaired_rates_total",
			Help:      "Deferred multipliers filled in after commit.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.deferred, m.repaired)
	}
	return m
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) deferredRate() {
	if m != nil {
		m.deferred.Inc()
	}
}

func (m *Metrics) repairedRates(n int) {
	if m != nil {
		m.repaired.Add(float64(n))
	}
}
