package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stokcabang/backend/internal/domain"
)

type RedisStockHealthCache struct {
	client *redis.Client
}

func NewRedisStockHealthCache(addr string, password string, db int) *RedisStockHealthCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockHealthCache{client: client}
}

func (c *RedisStockHealthCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockHealthCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection so other redis-backed pieces
// (the rebalance run lock) can share it.
func (c *RedisStockHealthCache) Client() *redis.Client {
	return c.client
}

func (c *RedisStockHealthCache) Get(ctx context.Context, key string) (*domain.StockHealthResponse, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.StockHealthResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisStockHealthCache) Set(ctx context.Context, key string, value *domain.StockHealthResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisStockHealthCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
