package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/xid"
)

const defaultInventoryEventLimit = 100

// checkStock reads the on-hand quantity only to report a precise shortage.
// The decrement itself is conditional, so stock never goes below zero through a sale.
func checkStock(ctx context.Context, inv store.Inventory, storeID string, product domain.Product, qty int) error {
	available, err := inv.GetStock(ctx, storeID, product.ID)
	if err != nil {
		return err
	}
	if qty > available {
		return fmt.Errorf("%w: %s has %d available, %d requested", store.ErrInsufficientStock, product.Name, available, qty)
	}
	return nil
}

func decrementStock(ctx context.Context, inv store.Inventory, sale domain.Sale, product domain.Product, qty int) error {
	ok, err := inv.DecrementStock(ctx, sale.StoreID, product.ID, qty)
	if err != nil {
		return err
	}
	if !ok {
		available, err := inv.GetStock(ctx, sale.StoreID, product.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s has %d available, %d requested", store.ErrInsufficientStock, product.Name, available, qty)
	}

	return inv.AppendInventoryEvent(ctx, domain.InventoryEvent{
		ID:        xid.New("invev"),
		StoreID:   sale.StoreID,
		ProductID: product.ID,
		UserID:    sale.UserID,
		Type:      domain.InventoryEventSale,
		QtyDelta:  -qty,
		Reason:    "sale " + sale.ID,
		CreatedAt: sale.CreatedAt,
	})
}

// AdjustInventory applies a signed stock correction outside a sale: a receipt,
// a count adjustment or a supplier return. Missing rows are created.
func (s *Service) AdjustInventory(ctx context.Context, req domain.InventoryAdjustmentRequest) (domain.InventoryLevel, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = domain.InventoryEventAdjust
	}

	switch req.Type {
	case domain.InventoryEventReceive, domain.InventoryEventAdjust, domain.InventoryEventReturn:
	default:
		return domain.InventoryLevel{}, fmt.Errorf("%w: unsupported adjustment type %q", store.ErrInvalidTransaction, req.Type)
	}
	if req.StoreID == "" || req.ProductID == "" || req.QtyDelta == 0 || req.Reason == "" {
		return domain.InventoryLevel{}, fmt.Errorf("%w: store_id, product_id, non-zero qty_delta and reason are required", store.ErrInvalidTransaction)
	}

	now := s.now().UTC()
	level := domain.InventoryLevel{StoreID: req.StoreID, ProductID: req.ProductID, UpdatedAt: now}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if req.TenantID != "" {
			if _, err := tx.GetProduct(ctx, req.TenantID, req.ProductID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
				}
				return err
			}
		}

		qty, err := tx.AdjustStock(ctx, req.StoreID, req.ProductID, req.QtyDelta)
		if err != nil {
			return err
		}
		level.Qty = qty

		return tx.AppendInventoryEvent(ctx, domain.InventoryEvent{
			ID:         xid.New("invev"),
			StoreID:    req.StoreID,
			ProductID:  req.ProductID,
			UserID:     req.UserID,
			Type:       req.Type,
			QtyDelta:   req.QtyDelta,
			Reason:     req.Reason,
			SupplierID: strings.TrimSpace(req.SupplierID),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.InventoryLevel{}, err
	}

	s.logAudit(ctx, req.TenantID, req.StoreID, "inventory_adjusted", "product", req.ProductID,
		fmt.Sprintf("type=%s,delta=%d,qty_after=%d,reason=%s", req.Type, req.QtyDelta, level.Qty, req.Reason))
	s.publish(ctx, req.StoreID+"/"+req.ProductID, domain.InventoryAdjustedEvent{
		BaseEvent: s.baseEvent(domain.EventTypeInventoryAdjusted),
		StoreID:   req.StoreID,
		ProductID: req.ProductID,
		Type:      req.Type,
		QtyDelta:  req.QtyDelta,
		QtyAfter:  level.Qty,
	})
	return level, nil
}

// ListInventoryEvents returns the newest events first. An empty productID lists the whole store.
func (s *Service) ListInventoryEvents(ctx context.Context, storeID string, productID string, limit int) ([]domain.InventoryEvent, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if limit < 1 || limit > 500 {
		limit = defaultInventoryEventLimit
	}

	var events []domain.InventoryEvent
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		events, err = tx.ListInventoryEvents(ctx, storeID, strings.TrimSpace(productID), limit)
		return err
	})
	return events, err
}
