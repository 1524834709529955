package rates

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mmynk/groupledger/internal/models"
)

// Cache stores rate tables keyed by their base currency code.
// Get returns stale tables too; freshness is the caller's concern.
type Cache interface {
	Get(ctx context.Context, code string) (*models.RateTable, bool, error)
	Put(ctx context.Context, table *models.RateTable) error
}

// staleGrace is how long a table is kept after its refresh deadline.
const staleGrace = 24 * time.Hour

func retention(t *models.RateTable, now time.Time) time.Duration {
	d := t.NextRefreshAt.Sub(now) + staleGrace
	if d <= 0 {
		return time.Minute
	}
	return d
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	c *gocache.Cache
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryCache) Get(_ context.Context, code string) (*models.RateTable, bool, error) {
	v, ok := m.c.Get(code)
	if !ok {
		return nil, false, nil
	}
	return v.(*models.RateTable), true, nil
}

func (m *MemoryCache) Put(_ context.Context, table *models.RateTable) error {
	m.c.Set(table.Base, table, retention(table, time.Now()))
	return nil
}
