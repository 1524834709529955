package rates

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
)

const (
	// DefaultTTL bounds how long a fetched table is trusted.
	DefaultTTL = 120 * time.Hour
	// DefaultFetchTimeout bounds a single source lookup.
	DefaultFetchTimeout = 5 * time.Second

	reciprocalPrecision = 16
)

// Resolver converts currency pairs into multipliers.
type Resolver struct {
	cache   Cache
	source  Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	flight  singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithTTL(d time.Duration) Option { return func(r *Resolver) { r.ttl = d } }
func WithFetchTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }
func WithMetrics(m *Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// NewResolver creates a Resolver over cache and source.
func NewResolver(cache Cache, source Source, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   cache,
		source:  source,
		ttl:     DefaultTTL,
		timeout: DefaultFetchTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the multiplier that converts an amount in from into to.
// An unavailable rate yields an invalid NullDecimal and no error; only a
// malformed currency code is an error.
func (r *Resolver) Resolve(ctx context.Context, from, to string) (decimal.NullDecimal, error) {
	from, err := money.NormalizeCode(from)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	to, err = money.NormalizeCode(to)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if from == to {
		r.metrics.resolved(OutcomeIdentity)
		return valid(decimal.NewFromInt(1)), nil
	}

	if t := r.fresh(ctx, from); t != nil {
		if v, ok := t.Rate(to); ok {
			r.metrics.resolved(OutcomeCached)
			return valid(v), nil
		}
	}
	if t := r.fresh(ctx, to); t != nil {
		if v, ok := t.Rate(from); ok {
			r.metrics.resolved(OutcomeCached)
			return valid(reciprocal(v)), nil
		}
	}

	if t := r.fetch(ctx, from); t != nil {
		if v, ok := t.Rate(to); ok {
			r.metrics.resolved(OutcomeFetched)
			return valid(v), nil
		}
	}
	if t := r.fetch(ctx, to); t != nil {
		if v, ok := t.Rate(from); ok {
			r.metrics.resolved(OutcomeFetched)
			return valid(reciprocal(v)), nil
		}
	}

	r.metrics.resolved(OutcomeUnresolved)
	r.logger.Warn("exchange rate unresolved", "from", from, "to", to)
	return decimal.NullDecimal{}, nil
}

// fresh returns the cached table for code if it has not passed its deadline.
func (r *Resolver) fresh(ctx context.Context, code string) *models.RateTable {
	t, ok, err := r.cache.Get(ctx, code)
	if err != nil {
		r.logger.Warn("rate cache read failed", "currency", code, "error", err)
		return nil
	}
	if !ok || t.Expired(r.now()) {
		return nil
	}
	return t
}

// fetch loads code's table from the source and caches it. Concurrent
// fetches of the same code share one request.
func (r *Resolver) fetch(ctx context.Context, code string) *models.RateTable {
	v, err, _ := r.flight.Do(code, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		t, err := r.source.FetchRates(fctx, code)
		r.metrics.fetched(err == nil, time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}

		now := r.now()
		if deadline := now.Add(r.ttl); t.NextRefreshAt.IsZero() || t.NextRefreshAt.After(deadline) {
			t.NextRefreshAt = deadline
		}
		if t.AsOf.IsZero() {
			t.AsOf = now
		}
		t.Base = code
		if err := r.cache.Put(fctx, t); err != nil {
			r.logger.Warn("rate cache write failed", "currency", code, "error", err)
		}
		return t, nil
	})
	if err != nil {
		r.logger.Warn("rate fetch failed", "currency", code, "error", err)
		return nil
	}
	return v.(*models.RateTable)
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func reciprocal(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(d, reciprocalPrecision)
}
