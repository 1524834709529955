package middleware

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsInterceptor counts RPCs and records their latency by procedure and
// Connect code.
func MetricsInterceptor(reg prometheus.Registerer) connect.UnaryInterceptorFunc {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupledger",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests by procedure and code.",
	}, []string{"procedure", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "groupledger",
		Subsystem: "rpc",
		Name:      "duration_seconds",
		Help:      "RPC latency by procedure.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"procedure"})
	if reg != nil {
		reg.MustRegister(requests, latency)
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			procedure := req.Spec().Procedure

			resp, err := next(ctx, req)

			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			requests.WithLabelValues(procedure, code).Inc()
			latency.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
			return resp, err
		}
	}
}
