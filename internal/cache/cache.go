package cache

import (
	"context"
	"time"

	"stokcabang/backend/internal/domain"
)

// StockHealthCache holds recently computed stock-health snapshots so the
// dashboard does not recompute velocity aggregates on every poll.
type StockHealthCache interface {
	Get(ctx context.Context, key string) (*domain.StockHealthResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.StockHealthResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopStockHealthCache struct{}

func (NoopStockHealthCache) Get(_ context.Context, _ string) (*domain.StockHealthResponse, bool, error) {
	return nil, false, nil
}

func (NoopStockHealthCache) Set(_ context.Context, _ string, _ *domain.StockHealthResponse, _ time.Duration) error {
	return nil
}

func (NoopStockHealthCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
