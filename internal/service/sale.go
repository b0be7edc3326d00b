package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/pricing"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/telemetry"
	"retailcraft/backend/internal/xid"
)

// ProcessSale prices, validates and commits one sale. Every write it makes
// (sale, payments, items, stock, inventory events, loyalty balance) lands in
// a single unit of work.
func (s *Service) ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.Sale, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ProcessSale")
	defer span.End()
	started := time.Now()

	sale, err := s.processSale(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.SaleFailed(failureReason(err))
		return domain.Sale{}, err
	}
	span.SetAttributes(
		attribute.String("sale.id", sale.ID),
		attribute.String("sale.payment_method", sale.PaymentMethod),
		attribute.Int64("sale.total_cents", sale.TotalCents),
	)
	s.metrics.SaleCompleted(sale.PaymentMethod, sale.TotalCents, time.Since(started))

	s.logAudit(ctx, sale.TenantID, sale.StoreID, "sale_completed", "sale", sale.ID,
		fmt.Sprintf("total=%d,payment=%s,discount=%d,points_used=%d,points_earned=%d",
			sale.TotalCents, sale.PaymentMethod, sale.DiscountCents, sale.LoyaltyPointsUsed, sale.LoyaltyPointsEarned))
	s.publish(ctx, sale.ID, s.saleCompletedEvent(sale))

	return sale, nil
}

func (s *Service) processSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.Sale, error) {
	req, err := normalizeSaleRequest(req)
	if err != nil {
		return domain.Sale{}, err
	}

	rates, cached := s.rates.Cached(ctx, req.TenantID)

	var sale domain.Sale
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if !cached {
			loaded, err := s.rates.Load(ctx, tx, req.TenantID)
			if err != nil {
				return err
			}
			rates = loaded
		}
		var err error
		sale, err = s.postSale(ctx, tx, req, rates)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}
	if !cached {
		s.rates.Remember(ctx, rates)
	}
	return sale, nil
}

func (s *Service) postSale(ctx context.Context, tx store.Tx, req domain.ProcessSaleRequest, rates domain.TenantRates) (domain.Sale, error) {
	now := s.now().UTC()

	if req.TillSessionID != "" {
		if _, err := validateSessionForSale(ctx, tx, req.TillSessionID, req.StoreID); err != nil {
			return domain.Sale{}, err
		}
	}

	desc, appliedDiscountID, err := s.resolveDiscount(ctx, tx, req, now)
	if err != nil {
		return domain.Sale{}, err
	}

	var lines pricing.Lines
	for _, item := range req.Items {
		product, err := tx.GetProduct(ctx, req.TenantID, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			return domain.Sale{}, err
		}
		if !product.Active {
			return domain.Sale{}, fmt.Errorf("%w: product %s is inactive", store.ErrNotFound, item.ProductID)
		}
		if err := checkStock(ctx, tx, req.StoreID, *product, item.Qty); err != nil {
			return domain.Sale{}, err
		}
		lines.AddLine(*product, item.Qty, desc)
	}

	discountCents := pricing.DiscountAmount(desc, lines.EligibleSubtotalCents)

	var customer *domain.Customer
	if req.CustomerID != "" {
		customer, err = loadCustomer(ctx, tx, req.TenantID, req.CustomerID)
		if err != nil {
			return domain.Sale{}, err
		}
	}

	var pointsUsed int64
	if req.RedeemPoints > 0 {
		redeemed, err := redeemPoints(ctx, tx, customer, req.RedeemPoints, rates.RedeemRate)
		if err != nil {
			return domain.Sale{}, err
		}
		discountCents += redeemed
		pointsUsed = req.RedeemPoints
	}
	discountCents = pricing.ClampDiscount(discountCents, lines.SubtotalCents)

	taxableCents := lines.SubtotalCents - discountCents
	taxCents := pricing.Tax(taxableCents, rates.TotalTaxRate)
	totalCents := taxableCents + taxCents

	pointsEarned, err := accruePoints(ctx, tx, customer, taxableCents, rates.EarnRate)
	if err != nil {
		return domain.Sale{}, err
	}

	saleID := xid.New("sale")
	tender, err := reconcilePayments(saleID, req.Payments, req.PaymentMethod, totalCents)
	if err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		ID:                  saleID,
		TenantID:            req.TenantID,
		StoreID:             req.StoreID,
		UserID:              req.UserID,
		CustomerID:          req.CustomerID,
		TillSessionID:       req.TillSessionID,
		DiscountID:          appliedDiscountID,
		SubtotalCents:       lines.SubtotalCents,
		DiscountCents:       discountCents,
		TaxCents:            taxCents,
		TotalCents:          totalCents,
		PaidCents:           tender.PaidCents,
		ChangeCents:         tender.ChangeCents,
		PaymentMethod:       tender.Method,
		Status:              domain.SaleStatusCompleted,
		LoyaltyPointsUsed:   pointsUsed,
		LoyaltyPointsEarned: pointsEarned,
		CreatedAt:           now,
		Items:               make([]domain.SaleItem, 0, len(lines.Items)),
		Payments:            tender.Payments,
	}
	for _, line := range lines.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:               xid.New("item"),
			SaleID:           saleID,
			ProductID:        line.Product.ID,
			ProductName:      line.Product.Name,
			Qty:              line.Qty,
			PriceAtSaleCents: line.Product.PriceCents,
			CostAtSaleCents:  line.Product.CostCents,
			LineTotalCents:   line.TotalCents,
		})
	}

	if err := tx.CreateSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}
	for _, line := range lines.Items {
		if err := decrementStock(ctx, tx, sale, line.Product, line.Qty); err != nil {
			return domain.Sale{}, err
		}
	}
	return sale, nil
}

// resolveDiscount returns a nil descriptor when no usable discount applies.
// An unknown, inactive or expired discount id is not an error.
func (s *Service) resolveDiscount(ctx context.Context, tx store.Catalog, req domain.ProcessSaleRequest, now time.Time) (*domain.DiscountDescriptor, string, error) {
	if req.ManualDiscount != nil {
		desc := pricing.ManualDescriptor(*req.ManualDiscount)
		return &desc, "", nil
	}
	if req.DiscountID == "" {
		return nil, "", nil
	}

	rule, err := tx.GetDiscount(ctx, req.TenantID, req.DiscountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("discount not found, selling without discount",
				zap.String("tenant_id", req.TenantID), zap.String("discount_id", req.DiscountID))
			return nil, "", nil
		}
		return nil, "", err
	}
	desc, ok := pricing.ResolveDiscount(rule, now)
	if !ok {
		s.logger.Info("discount not usable, selling without discount",
			zap.String("tenant_id", req.TenantID), zap.String("discount_id", req.DiscountID))
		return nil, "", nil
	}
	return &desc, rule.ID, nil
}

func (s *Service) GetSale(ctx context.Context, tenantID string, saleID string) (domain.Sale, error) {
	if tenantID == "" || saleID == "" {
		return domain.Sale{}, store.ErrInvalidTransaction
	}

	var sale *domain.Sale
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, tenantID, saleID)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// normalizeSaleRequest validates the request shape and merges repeated product
// lines, keeping the order in which products first appear.
func normalizeSaleRequest(req domain.ProcessSaleRequest) (domain.ProcessSaleRequest, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.DiscountID = strings.TrimSpace(req.DiscountID)
	req.TillSessionID = strings.TrimSpace(req.TillSessionID)

	if req.TenantID == "" || req.StoreID == "" || req.UserID == "" {
		return req, fmt.Errorf("%w: tenant, store and user are required", store.ErrInvalidTransaction)
	}
	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: sale has no items", store.ErrInvalidTransaction)
	}
	if req.RedeemPoints < 0 {
		return req, fmt.Errorf("%w: redeem_points must not be negative", store.ErrInvalidTransaction)
	}
	if req.DiscountID != "" && req.ManualDiscount != nil {
		return req, fmt.Errorf("%w: use either discount_id or manual_discount", store.ErrInvalidTransaction)
	}
	if req.ManualDiscount != nil {
		if err := validateManualDiscount(*req.ManualDiscount); err != nil {
			return req, err
		}
	}

	merged := make([]domain.SaleLineRequest, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Qty < 1 {
			return req, fmt.Errorf("%w: every item needs a product_id and a positive qty", store.ErrInvalidTransaction)
		}
		if i, seen := index[productID]; seen {
			merged[i].Qty += item.Qty
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, domain.SaleLineRequest{ProductID: productID, Qty: item.Qty})
	}
	req.Items = merged

	payments, method, err := normalizePayments(req.Payments, req.PaymentMethod)
	if err != nil {
		return req, err
	}
	req.Payments = payments
	req.PaymentMethod = method
	return req, nil
}

func validateManualDiscount(m domain.ManualDiscount) error {
	switch strings.ToUpper(strings.TrimSpace(m.Type)) {
	case domain.DiscountTypePercentage:
		if m.Percent <= 0 || m.Percent > 100 {
			return fmt.Errorf("%w: manual percentage must be within (0, 100]", store.ErrInvalidTransaction)
		}
	case domain.DiscountTypeFixed:
		if m.AmountCents <= 0 {
			return fmt.Errorf("%w: manual fixed discount must be positive", store.ErrInvalidTransaction)
		}
	default:
		return fmt.Errorf("%w: unknown manual discount type %q", store.ErrInvalidTransaction, m.Type)
	}
	return nil
}

func (s *Service) saleCompletedEvent(sale domain.Sale) domain.SaleCompletedEvent {
	items := make([]domain.SaleEventItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, domain.SaleEventItem{
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceCents: item.PriceAtSaleCents,
		})
	}
	return domain.SaleCompletedEvent{
		BaseEvent:     s.baseEvent(domain.EventTypeSaleCompleted),
		SaleID:        sale.ID,
		TenantID:      sale.TenantID,
		StoreID:       sale.StoreID,
		UserID:        sale.UserID,
		TillSessionID: sale.TillSessionID,
		TotalCents:    sale.TotalCents,
		PaymentMethod: sale.PaymentMethod,
		Items:         items,
	}
}
