package service

import (
	"context"
	"errors"
	"fmt"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/pricing"
	"retailcraft/backend/internal/store"
)

func loadCustomer(ctx context.Context, tx store.Loyalty, tenantID string, customerID string) (*domain.Customer, error) {
	customer, err := tx.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customerID)
		}
		return nil, err
	}
	return customer, nil
}

// redeemPoints debits the balance right away and returns the money value of the points.
func redeemPoints(ctx context.Context, tx store.Loyalty, customer *domain.Customer, points int64, redeemRate float64) (int64, error) {
	if customer == nil {
		return 0, fmt.Errorf("%w: redeeming points requires a customer", store.ErrInvalidTransaction)
	}
	if redeemRate <= 0 {
		return 0, fmt.Errorf("%w: loyalty redemption is not enabled for this tenant", store.ErrInvalidTransaction)
	}
	if customer.LoyaltyPoints < points {
		return 0, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientPoints, customer.LoyaltyPoints, points)
	}

	if err := tx.DebitLoyaltyPoints(ctx, customer.TenantID, customer.ID, points); err != nil {
		if errors.Is(err, store.ErrInsufficientPoints) {
			return 0, fmt.Errorf("%w: balance changed while redeeming %d", store.ErrInsufficientPoints, points)
		}
		return 0, err
	}
	customer.LoyaltyPoints -= points
	return pricing.RedeemValueCents(points, redeemRate), nil
}

// accruePoints credits loyalty members on the post-discount amount. Non-members earn nothing.
func accruePoints(ctx context.Context, tx store.Loyalty, customer *domain.Customer, taxableCents int64, earnRate float64) (int64, error) {
	if customer == nil || !customer.IsLoyaltyMember {
		return 0, nil
	}
	earned := pricing.AccruePoints(taxableCents, earnRate)
	if earned <= 0 {
		return 0, nil
	}
	if err := tx.CreditLoyaltyPoints(ctx, customer.TenantID, customer.ID, earned); err != nil {
		return 0, err
	}
	customer.LoyaltyPoints += earned
	return earned, nil
}
