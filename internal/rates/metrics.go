package rates

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.
const (
	OutcomeIdentity   = "identity"
	OutcomeCached     = "cached"
	OutcomeFetched    = "fetched"
	OutcomeUnresolved = "unresolved"
)

// Metrics instruments a Resolver.
type Metrics struct {
	resolutions *prometheus.CounterVec
	fetches     *prometheus.HistogramVec
}

// NewMetrics registers resolver metrics with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupledger",
			Subsystem: "rates",
			Name:      "resolutions_total",
			Help:      "Exchange rate resolutions by outcome.",
		}, []string{"outcome"}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "groupledger",
			Subsystem: "rates",
			Name:      "fetch_duration_seconds",
			Help:      "Rate source fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.fetches)
	}
	return m
}

func (m *Metrics) resolved(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) fetched(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Observe(seconds)
}
