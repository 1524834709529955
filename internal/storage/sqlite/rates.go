package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/models"
)

// RateCache persists rate tables in the rate_tables table, one row per base
// currency, so cached rates survive restarts.
type RateCache struct {
	db *sql.DB
}

// RateCache returns a rate cache backed by the same database.
func (s *Store) RateCache() *RateCache {
	return &RateCache{db: s.db}
}

// Get returns the stored table for code, stale or not.
func (c *RateCache) Get(ctx context.Context, code string) (*models.RateTable, bool, error) {
	var (
		t             models.RateTable
		asOf, refresh int64
		raw           string
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT base, as_of, next_refresh_at, rates FROM rate_tables WHERE base = ?",
		code,
	).Scan(&t.Base, &asOf, &refresh, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rate table: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &t.Rates); err != nil {
		return nil, false, fmt.Errorf("failed to decode rate table %s: %w", code, err)
	}
	t.AsOf = fromMillis(asOf)
	t.NextRefreshAt = fromMillis(refresh)
	return &t, true, nil
}

// Put stores table, replacing any previous table for the same base.
func (c *RateCache) Put(ctx context.Context, table *models.RateTable) error {
	rates := table.Rates
	if rates == nil {
		rates = map[string]decimal.Decimal{}
	}
	raw, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("failed to encode rate table %s: %w", table.Base, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO rate_tables (base, as_of, next_refresh_at, rates)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (base) DO UPDATE SET
			as_of = excluded.as_of,
			next_refresh_at = excluded.next_refresh_at,
			rates = excluded.rates`,
		table.Base, toMillis(table.AsOf), toMillis(table.NextRefreshAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to store rate table: %w", err)
	}
	return nil
}
