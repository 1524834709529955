package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mmynk/groupledger/internal/models"
)

// DefaultSourceURL serves the open.er-api.com latest-rates format.
const DefaultSourceURL = "https://open.er-api.com/v6/latest"

// ErrSourceUnavailable is returned when the rate API cannot serve a table.
var ErrSourceUnavailable = errors.New("rate source unavailable")

// Source fetches the rate table published for one base currency.
type Source interface {
	FetchRates(ctx context.Context, base string) (*models.RateTable, error)
}

// SourceConfig configures HTTPSource.
type SourceConfig struct {
	URL               string
	RequestsPerSecond float64
	MaxFailures       uint32
	Cooldown          time.Duration
	Client            *http.Client
}

// HTTPSource fetches tables from an HTTP rate API. Calls go through a rate
// limiter and a circuit breaker; an open breaker fails fast.
type HTTPSource struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource builds a source from cfg, filling in defaults.
func NewHTTPSource(cfg SourceConfig) *HTTPSource {
	if cfg.URL == "" {
		cfg.URL = DefaultSourceURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	maxFailures := cfg.MaxFailures
	return &HTTPSource{
		url:     strings.TrimRight(cfg.URL, "/"),
		client:  cfg.Client,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "rate-source",
			Timeout: cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
}

// BreakerState exposes the circuit breaker state for health reporting.
func (s *HTTPSource) BreakerState() string {
	return s.breaker.State().String()
}

type latestResponse struct {
	Result             string                     `json:"result"`
	ErrorType          string                     `json:"error-type"`
	BaseCode           string                     `json:"base_code"`
	TimeLastUpdateUnix int64                      `json:"time_last_update_unix"`
	TimeNextUpdateUnix int64                      `json:"time_next_update_unix"`
	Rates              map[string]decimal.Decimal `json:"rates"`
}

func (s *HTTPSource) FetchRates(ctx context.Context, base string) (*models.RateTable, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	v, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, base)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker %s", ErrSourceUnavailable, s.breaker.State())
		}
		return nil, err
	}
	return v.(*models.RateTable), nil
}

func (s *HTTPSource) fetch(ctx context.Context, base string) (*models.RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/"+base, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", ErrSourceUnavailable, resp.StatusCode, base)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrSourceUnavailable, base, err)
	}
	if body.Result != "success" {
		return nil, fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, base, body.ErrorType)
	}

	t := &models.RateTable{
		Base:  strings.ToUpper(body.BaseCode),
		Rates: body.Rates,
	}
	if t.Base == "" {
		t.Base = base
	}
	if body.TimeLastUpdateUnix > 0 {
		t.AsOf = time.Unix(body.TimeLastUpdateUnix, 0).UTC()
	}
	if body.TimeNextUpdateUnix > 0 {
		t.NextRefreshAt = time.Unix(body.TimeNextUpdateUnix, 0).UTC()
	}
	return t, nil
}
