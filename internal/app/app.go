// Package app wires configuration into a running ledger: store, rate
// resolver, notifier and the engine on top. Both binaries start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mmynk/groupledger/internal/config"
	"github.com/mmynk/groupledger/internal/events"
	"github.com/mmynk/groupledger/internal/groups"
	"github.com/mmynk/groupledger/internal/ledger"
	"github.com/mmynk/groupledger/internal/rates"
	"github.com/mmynk/groupledger/internal/storage/sqlite"
)

// App holds the long-lived components. Close releases them.
type App struct {
	Store     *sqlite.Store
	Source    *rates.HTTPSource
	Resolver  *rates.Resolver
	Ledger    *ledger.Ledger
	Directory *groups.Directory
	Events    *events.Client

	closers []func() error
}

// Options tune New.
type Options struct {
	// Registerer receives metrics; nil disables them.
	Registerer prometheus.Registerer
	// Publish connects to AMQP when configured so deferred rates are announced.
	Publish bool
}

// New opens the store and builds the engine described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Store: store}
	a.closers = append(a.closers, store.Close)

	cache, err := a.rateCache(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Source = rates.NewHTTPSource(rates.SourceConfig{
		URL:               cfg.RateSourceURL,
		RequestsPerSecond: cfg.RateRequestsPerSecond,
		MaxFailures:       cfg.BreakerMaxFailures,
		Cooldown:          cfg.BreakerCooldown,
		Client:            &http.Client{Timeout: cfg.RateFetchTimeout},
	})

	resolverOpts := []rates.Option{
		rates.WithTTL(cfg.RateCacheTTL),
		rates.WithFetchTimeout(cfg.RateFetchTimeout),
		rates.WithLogger(logger),
	}
	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if opts.Registerer != nil {
		resolverOpts = append(resolverOpts, rates.WithMetrics(rates.NewMetrics(opts.Registerer)))
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(ledger.NewMetrics(opts.Registerer)))
	}
	a.Resolver = rates.NewResolver(cache, a.Source, resolverOpts...)

	if opts.Publish && cfg.AMQPURL != "" {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Deferred rates are still repaired lazily and by ledgerctl.
			logger.Warn("AMQP unavailable, deferred rates will not be announced", "error", err)
		} else {
			a.Events = client
			a.closers = append(a.closers, client.Close)
			ledgerOpts = append(ledgerOpts, ledger.WithNotifier(client))
		}
	}

	a.Ledger = ledger.New(store, a.Resolver, ledgerOpts...)
	a.Directory = groups.NewDirectory(store, groups.WithLogger(logger))
	return a, nil
}

func (a *App) rateCache(ctx context.Context, cfg *config.Config) (rates.Cache, error) {
	switch cfg.RateCache {
	case config.CacheMemory:
		return rates.NewMemoryCache(), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		return rates.NewRedisCache(client, ""), nil
	default:
		return a.Store.RateCache(), nil
	}
}

// Close releases everything New opened, last opened first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
