package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailcraft/backend/internal/domain"
)

const rateKeyPrefix = "pos:rates:"

type RedisRateCache struct {
	client *redis.Client
}

func NewRedisRateCache(addr string, password string, db int) *RedisRateCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRateCache{client: client}
}

func (c *RedisRateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

func (c *RedisRateCache) Get(ctx context.Context, tenantID string) (*domain.TenantRates, bool, error) {
	val, err := c.client.Get(ctx, rateKeyPrefix+tenantID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rates domain.TenantRates
	if err := json.Unmarshal(val, &rates); err != nil {
		return nil, false, err
	}
	return &rates, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, tenantID string, rates *domain.TenantRates, ttl time.Duration) error {
	if rates == nil {
		return nil
	}
	payload, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rateKeyPrefix+tenantID, payload, ttl).Err()
}

// Invalidate drops the cached rates of a tenant after its tax or loyalty settings change.
func (c *RedisRateCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, rateKeyPrefix+tenantID).Err()
}
