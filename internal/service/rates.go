package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailcraft/backend/internal/cache"
	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/pricing"
	"retailcraft/backend/internal/store"
)

// RateResolver reads the tax and loyalty rates of a tenant, going through the cache first.
// Rates written outside UpdateTenantRates stay cached until the TTL runs out.
type RateResolver struct {
	cache  cache.RateCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewRateResolver(c cache.RateCache, ttl time.Duration, logger *zap.Logger) *RateResolver {
	if c == nil {
		c = cache.NoopRateCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateResolver{cache: c, ttl: ttl, logger: logger}
}

// Cached returns the cached rates of a tenant. A cache error counts as a miss.
// It runs outside any unit of work so the cache round trip never holds a lock.
func (r *RateResolver) Cached(ctx context.Context, tenantID string) (domain.TenantRates, bool) {
	cached, ok, err := r.cache.Get(ctx, tenantID)
	if err != nil {
		r.logger.Warn("rate cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return domain.TenantRates{}, false
	}
	if !ok || cached == nil {
		return domain.TenantRates{}, false
	}
	return *cached, true
}

// Load reads the rates from the catalog. A tenant without loyalty settings
// earns and redeems nothing.
func (r *RateResolver) Load(ctx context.Context, catalog store.Catalog, tenantID string) (domain.TenantRates, error) {
	taxes, err := catalog.ListActiveTaxes(ctx, tenantID)
	if err != nil {
		return domain.TenantRates{}, err
	}
	rates := domain.TenantRates{
		TenantID:     tenantID,
		Taxes:        taxes,
		TotalTaxRate: pricing.TotalTaxRate(taxes),
	}

	settings, err := catalog.GetTenantSettings(ctx, tenantID)
	switch {
	case err == nil:
		rates.EarnRate = settings.LoyaltyEarnRate
		rates.RedeemRate = settings.LoyaltyRedeemRate
	case !errors.Is(err, store.ErrNotFound):
		return domain.TenantRates{}, err
	}
	return rates, nil
}

// Remember caches rates that were loaded from the catalog.
func (r *RateResolver) Remember(ctx context.Context, rates domain.TenantRates) {
	if err := r.cache.Set(ctx, rates.TenantID, &rates, r.ttl); err != nil {
		r.logger.Warn("rate cache write failed", zap.String("tenant_id", rates.TenantID), zap.Error(err))
	}
}

// Invalidate drops the cached rates of a tenant. A failure is logged and the
// stale entry expires with its TTL.
func (r *RateResolver) Invalidate(ctx context.Context, tenantID string) {
	if err := r.cache.Invalidate(ctx, tenantID); err != nil {
		r.logger.Warn("rate cache invalidate failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// UpdateTenantRates saves tax and loyalty rates for a tenant and drops its cached
// rates, so the next sale prices with the new values.
func (s *Service) UpdateTenantRates(ctx context.Context, req domain.UpdateTenantRatesRequest) (domain.TenantRates, error) {
	if req.TenantID == "" {
		return domain.TenantRates{}, fmt.Errorf("%w: tenant is required", store.ErrInvalidTransaction)
	}
	if len(req.Taxes) == 0 && req.LoyaltyEarnRate == nil && req.LoyaltyRedeemRate == nil {
		return domain.TenantRates{}, fmt.Errorf("%w: nothing to update", store.ErrInvalidTransaction)
	}
	for i := range req.Taxes {
		req.Taxes[i].ID = strings.TrimSpace(req.Taxes[i].ID)
		req.Taxes[i].TenantID = req.TenantID
		if req.Taxes[i].ID == "" || req.Taxes[i].Rate < 0 {
			return domain.TenantRates{}, fmt.Errorf("%w: taxes need an id and a non-negative rate", store.ErrInvalidTransaction)
		}
	}
	if (req.LoyaltyEarnRate != nil && *req.LoyaltyEarnRate < 0) || (req.LoyaltyRedeemRate != nil && *req.LoyaltyRedeemRate < 0) {
		return domain.TenantRates{}, fmt.Errorf("%w: loyalty rates must not be negative", store.ErrInvalidTransaction)
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		for _, tax := range req.Taxes {
			if err := tx.SaveTax(ctx, tax); err != nil {
				return err
			}
		}
		if req.LoyaltyEarnRate == nil && req.LoyaltyRedeemRate == nil {
			return nil
		}

		settings := domain.TenantSettings{TenantID: req.TenantID}
		current, err := tx.GetTenantSettings(ctx, req.TenantID)
		switch {
		case err == nil:
			settings = *current
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if req.LoyaltyEarnRate != nil {
			settings.LoyaltyEarnRate = *req.LoyaltyEarnRate
		}
		if req.LoyaltyRedeemRate != nil {
			settings.LoyaltyRedeemRate = *req.LoyaltyRedeemRate
		}
		return tx.SaveTenantSettings(ctx, settings)
	})
	if err != nil {
		return domain.TenantRates{}, err
	}

	s.rates.Invalidate(ctx, req.TenantID)
	s.logAudit(ctx, req.TenantID, "", "tenant_rates_updated", "tenant", req.TenantID, "")

	var rates domain.TenantRates
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rates, err = s.rates.Load(ctx, tx, req.TenantID)
		return err
	})
	if err != nil {
		return domain.TenantRates{}, err
	}
	s.rates.Remember(ctx, rates)
	return rates, nil
}
