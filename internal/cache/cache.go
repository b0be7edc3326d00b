package cache

import (
	"context"
	"time"

	"retailcraft/backend/internal/domain"
)

// RateCache keeps resolved tenant rates between sales.
type RateCache interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantRates, bool, error)
	Set(ctx context.Context, tenantID string, rates *domain.TenantRates, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (*domain.TenantRates, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ string, _ *domain.TenantRates, _ time.Duration) error {
	return nil
}

func (NoopRateCache) Invalidate(_ context.Context, _ string) error { return nil }
