package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/groupledger/internal/models"
)

// RedisCache shares rate tables between server replicas.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache stores tables under prefix+code.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "groupledger:rates:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, code string) (*models.RateTable, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rate table %s: %w", code, err)
	}
	var t models.RateTable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, fmt.Errorf("failed to decode rate table %s: %w", code, err)
	}
	return &t, true, nil
}

func (r *RedisCache) Put(ctx context.Context, table *models.RateTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode rate table %s: %w", table.Base, err)
	}
	if err := r.client.Set(ctx, r.prefix+table.Base, raw, retention(table, time.Now())).Err(); err != nil {
		return fmt.Errorf("failed to store rate table %s: %w", table.Base, err)
	}
	return nil
}
