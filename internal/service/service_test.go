package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/metrics"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/store/memory"
)

const (
	testTenant = "tenant-a"
	testStore  = "store-a"
	otherStore = "store-b"
	cashier    = "user-1"
)

type recordingPublisher struct {
	mu        sync.Mutex
	keys      []string
	events    []any
	deadlines []time.Time
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	deadline, _ := ctx.Deadline()
	p.deadlines = append(p.deadlines, deadline)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	svc  *Service
	repo *memory.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := memory.New()
	f := &fixture{repo: repo, svc: New(repo, opts...)}
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		for _, till := range []domain.Till{
			{ID: "till-a1", TenantID: testTenant, StoreID: testStore, Name: "A1", Status: domain.TillStatusClosed},
			{ID: "till-a2", TenantID: testTenant, StoreID: testStore, Name: "A2", Status: domain.TillStatusClosed},
			{ID: "till-b1", TenantID: testTenant, StoreID: otherStore, Name: "B1", Status: domain.TillStatusClosed},
		} {
			if err := tx.CreateTill(ctx, till); err != nil {
				return err
			}
		}
		return nil
	})
	return f
}

func (f *fixture) seed(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.WithTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) }))
}

func (f *fixture) product(t *testing.T, id string, category string, priceCents int64, stock int) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SaveProduct(ctx, domain.Product{
			ID: id, TenantID: testTenant, Name: "Product " + id, Category: category,
			PriceCents: priceCents, CostCents: priceCents / 2, Active: true,
		}); err != nil {
			return err
		}
		return tx.SetStock(ctx, testStore, id, stock)
	})
}

func (f *fixture) taxRate(t *testing.T, rate float64) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveTax(ctx, domain.Tax{ID: "tax-1", TenantID: testTenant, Name: "VAT", Rate: rate, Active: true})
	})
}

func (f *fixture) loyalty(t *testing.T, earn float64, redeem float64) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveTenantSettings(ctx, domain.TenantSettings{TenantID: testTenant, LoyaltyEarnRate: earn, LoyaltyRedeemRate: redeem})
	})
}

func (f *fixture) customer(t *testing.T, id string, points int64, member bool) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveCustomer(ctx, domain.Customer{ID: id, TenantID: testTenant, Name: id, LoyaltyPoints: points, IsLoyaltyMember: member})
	})
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	var qty int
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		qty, err = tx.GetStock(ctx, testStore, productID)
		return err
	})
	return qty
}

func (f *fixture) points(t *testing.T, customerID string) int64 {
	t.Helper()
	var points int64
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCustomer(ctx, testTenant, customerID)
		if err != nil {
			return err
		}
		points = c.LoyaltyPoints
		return nil
	})
	return points
}

func (f *fixture) events(t *testing.T, productID string) []domain.InventoryEvent {
	t.Helper()
	events, err := f.svc.ListInventoryEvents(context.Background(), testStore, productID, 0)
	require.NoError(t, err)
	return events
}

func saleRequest(items ...domain.SaleLineRequest) domain.ProcessSaleRequest {
	return domain.ProcessSaleRequest{
		TenantID: testTenant,
		StoreID:  testStore,
		UserID:   cashier,
		Items:    items,
	}
}

func line(productID string, qty int) domain.SaleLineRequest {
	return domain.SaleLineRequest{ProductID: productID, Qty: qty}
}

func TestProcessSaleSimpleCart(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 5)

	sale, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 2)))
	require.NoError(t, err)

	assert.Equal(t, int64(2000), sale.SubtotalCents)
	assert.Equal(t, int64(0), sale.DiscountCents)
	assert.Equal(t, int64(0), sale.TaxCents)
	assert.Equal(t, int64(2000), sale.TotalCents)
	assert.Equal(t, domain.PaymentMethodCash, sale.PaymentMethod)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, int64(2000), sale.Payments[0].AmountCents)

	assert.Equal(t, 3, f.stock(t, "p1"))
	events := f.events(t, "p1")
	require.Len(t, events, 1)
	assert.Equal(t, domain.InventoryEventSale, events[0].Type)
	assert.Equal(t, -2, events[0].QtyDelta)
	assert.Equal(t, "sale "+sale.ID, events[0].Reason)
}

func TestProcessSaleInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 1)

	_, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 2)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "Product p1")
	assert.Contains(t, err.Error(), "1 available, 2 requested")

	assert.Equal(t, 1, f.stock(t, "p1"))
	assert.Empty(t, f.events(t, "p1"))
}

func TestProcessSaleFailingLineRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 500, 10)
	f.product(t, "p2", "Grocery", 700, 1)
	f.customer(t, "c1", 100, true)
	f.loyalty(t, 1, 0.1)

	req := saleRequest(line("p1", 3), line("p2", 5))
	req.CustomerID = "c1"
	req.RedeemPoints = 50
	_, err := f.svc.ProcessSale(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 10, f.stock(t, "p1"))
	assert.Equal(t, 1, f.stock(t, "p2"))
	assert.Empty(t, f.events(t, ""))
	assert.Equal(t, int64(100), f.points(t, "c1"))
}

func TestProcessSalePercentageDiscountAndTax(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 5000, 10)
	f.taxRate(t, 0.075)
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveDiscount(ctx, domain.Discount{
			ID: "d10", TenantID: testTenant, Type: domain.DiscountTypePercentage, Percent: 10,
			TargetType: domain.DiscountTargetAll, Active: true,
		})
	})

	req := saleRequest(line("p1", 2))
	req.DiscountID = "d10"
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), sale.SubtotalCents)
	assert.Equal(t, int64(1000), sale.DiscountCents)
	assert.Equal(t, int64(675), sale.TaxCents)
	assert.Equal(t, int64(9675), sale.TotalCents)
	assert.Equal(t, "d10", sale.DiscountID)
}

func TestProcessSaleRedeemsLoyaltyPoints(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 10000, 10)
	f.loyalty(t, 0, 0.10)
	f.customer(t, "c1", 500, false)

	req := saleRequest(line("p1", 1))
	req.CustomerID = "c1"
	req.RedeemPoints = 200
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), sale.DiscountCents)
	assert.Equal(t, int64(8000), sale.TotalCents)
	assert.Equal(t, int64(200), sale.LoyaltyPointsUsed)
	assert.Equal(t, int64(300), f.points(t, "c1"))
}

func TestProcessSaleRedeemAndAccrueTogether(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 10000, 10)
	f.loyalty(t, 1, 0.10)
	f.customer(t, "c1", 500, true)

	req := saleRequest(line("p1", 1))
	req.CustomerID = "c1"
	req.RedeemPoints = 200
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)

	// 80.00 taxable at one point per unit.
	assert.Equal(t, int64(80), sale.LoyaltyPointsEarned)
	assert.Equal(t, int64(380), f.points(t, "c1"))
}

func TestProcessSaleNonMemberEarnsNothing(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 10000, 10)
	f.loyalty(t, 1, 0.10)
	f.customer(t, "c1", 0, false)

	req := saleRequest(line("p1", 1))
	req.CustomerID = "c1"
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, sale.LoyaltyPointsEarned)
	assert.Zero(t, f.points(t, "c1"))
}

func TestProcessSaleInsufficientPointsRollsBack(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	f.loyalty(t, 1, 0.10)
	f.customer(t, "c1", 50, true)

	req := saleRequest(line("p1", 1))
	req.CustomerID = "c1"
	req.RedeemPoints = 51
	_, err := f.svc.ProcessSale(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInsufficientPoints)

	assert.Equal(t, int64(50), f.points(t, "c1"))
	assert.Equal(t, 10, f.stock(t, "p1"))
}

func TestProcessSaleRedeemRequiresCustomer(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	f.loyalty(t, 1, 0.10)

	req := saleRequest(line("p1", 1))
	req.RedeemPoints = 10
	_, err := f.svc.ProcessSale(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestProcessSaleDiscountNeverExceedsSubtotal(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	f.loyalty(t, 0, 1)
	f.customer(t, "c1", 5000, false)

	req := saleRequest(line("p1", 1))
	req.CustomerID = "c1"
	req.RedeemPoints = 20
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, sale.SubtotalCents, sale.DiscountCents)
	assert.Equal(t, int64(0), sale.TotalCents)
	assert.Equal(t, int64(4980), f.points(t, "c1"))
}

func TestProcessSaleSplitPaymentGivesChange(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 4500, 10)

	req := saleRequest(line("p1", 1))
	req.Payments = []domain.PaymentRequest{
		{Method: "cash", AmountCents: 3000},
		{Method: "CARD", AmountCents: 2000, Reference: "auth-77"},
	}
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(4500), sale.TotalCents)
	assert.Equal(t, int64(5000), sale.PaidCents)
	assert.Equal(t, int64(500), sale.ChangeCents)
	assert.Equal(t, domain.PaymentMethodSplit, sale.PaymentMethod)
	require.Len(t, sale.Payments, 2)
	assert.Equal(t, domain.PaymentMethodCash, sale.Payments[0].Method)
}

func TestProcessSalePaymentTolerance(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 4500, 10)

	short := saleRequest(line("p1", 1))
	short.Payments = []domain.PaymentRequest{{Method: "CARD", AmountCents: 4498}}
	_, err := f.svc.ProcessSale(context.Background(), short)
	require.ErrorIs(t, err, store.ErrInsufficientPayment)
	assert.Equal(t, 10, f.stock(t, "p1"))

	withinTolerance := saleRequest(line("p1", 1))
	withinTolerance.Payments = []domain.PaymentRequest{{Method: "CARD", AmountCents: 4499}}
	sale, err := f.svc.ProcessSale(context.Background(), withinTolerance)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCard, sale.PaymentMethod)
	assert.Zero(t, sale.ChangeCents)
}

func TestProcessSaleLegacyPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1234, 10)

	req := saleRequest(line("p1", 1))
	req.PaymentMethod = "bank_transfer"
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodBankTransfer, sale.PaymentMethod)
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, sale.TotalCents, sale.Payments[0].AmountCents)

	req.PaymentMethod = "crypto"
	_, err = f.svc.ProcessSale(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestProcessSaleExpiredDiscountIsIgnored(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	f.product(t, "p1", "Grocery", 1000, 10)
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveDiscount(ctx, domain.Discount{
			ID: "old", TenantID: testTenant, Type: domain.DiscountTypeFixed, AmountCents: 300, Active: true, EndsAt: &ended,
		})
	})

	req := saleRequest(line("p1", 1))
	req.DiscountID = "old"
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, sale.DiscountCents)
	assert.Empty(t, sale.DiscountID)

	req.DiscountID = "does-not-exist"
	sale, err = f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, sale.DiscountCents)
}

func TestProcessSaleTargetedDiscounts(t *testing.T) {
	f := newFixture(t)
	f.product(t, "milk", "Dairy", 200, 10)
	f.product(t, "bread", "Bakery", 400, 10)
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SaveDiscount(ctx, domain.Discount{
			ID: "dairy", TenantID: testTenant, Type: domain.DiscountTypePercentage, Percent: 50,
			TargetType: domain.DiscountTargetCategory, TargetValues: []string{"dairy"}, Active: true,
		}); err != nil {
			return err
		}
		return tx.SaveDiscount(ctx, domain.Discount{
			ID: "bread-off", TenantID: testTenant, Type: domain.DiscountTypeFixed, AmountCents: 10000,
			TargetType: domain.DiscountTargetProduct, TargetValues: []string{"bread"}, Active: true,
		})
	})

	req := saleRequest(line("milk", 2), line("bread", 1))
	req.DiscountID = "dairy"
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(800), sale.SubtotalCents)
	assert.Equal(t, int64(200), sale.DiscountCents)

	req.DiscountID = "bread-off"
	sale, err = f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(400), sale.DiscountCents, "fixed discount is capped by the eligible lines")
}

func TestProcessSaleManualDiscount(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)

	req := saleRequest(line("p1", 3))
	req.ManualDiscount = &domain.ManualDiscount{Type: "fixed", AmountCents: 250}
	sale, err := f.svc.ProcessSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(250), sale.DiscountCents)
	assert.Equal(t, int64(2750), sale.TotalCents)

	req.DiscountID = "d10"
	_, err = f.svc.ProcessSale(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestProcessSaleSnapshotsPriceAndCost(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)

	sale, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 1), line("p1", 2)))
	require.NoError(t, err)
	require.Len(t, sale.Items, 1, "repeated product lines are merged")
	assert.Equal(t, 3, sale.Items[0].Qty)

	f.product(t, "p1", "Grocery", 9999, 10)
	stored, err := f.svc.GetSale(context.Background(), testTenant, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Items[0].PriceAtSaleCents)
	assert.Equal(t, int64(500), stored.Items[0].CostAtSaleCents)
	assert.Equal(t, int64(3000), stored.Items[0].LineTotalCents)

	_, err = f.svc.GetSale(context.Background(), "tenant-b", sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessSaleUnknownOrInactiveProduct(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	f.seed(t, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveProduct(ctx, domain.Product{ID: "retired", TenantID: testTenant, Name: "Retired", PriceCents: 100})
	})

	_, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 1), line("missing", 1)))
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 10, f.stock(t, "p1"))

	_, err = f.svc.ProcessSale(context.Background(), saleRequest(line("retired", 1)))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessSaleRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)

	cases := map[string]domain.ProcessSaleRequest{
		"no items":        saleRequest(),
		"zero qty":        saleRequest(line("p1", 0)),
		"blank product":   saleRequest(line(" ", 1)),
		"missing tenant":  {StoreID: testStore, UserID: cashier, Items: []domain.SaleLineRequest{line("p1", 1)}},
		"negative redeem": func() domain.ProcessSaleRequest { r := saleRequest(line("p1", 1)); r.RedeemPoints = -1; return r }(),
		"bad payment": func() domain.ProcessSaleRequest {
			r := saleRequest(line("p1", 1))
			r.Payments = []domain.PaymentRequest{{Method: "CASH", AmountCents: 0}}
			return r
		}(),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ProcessSale(context.Background(), req)
			require.ErrorIs(t, err, store.ErrInvalidTransaction)
		})
	}
}

func TestProcessSaleValidatesTillSession(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	ctx := context.Background()

	req := saleRequest(line("p1", 1))
	req.TillSessionID = "sess-missing"
	_, err := f.svc.ProcessSale(ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidTillSession)

	remote, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-b1", UserID: cashier})
	require.NoError(t, err)
	req.TillSessionID = remote.ID
	_, err = f.svc.ProcessSale(ctx, req)
	require.ErrorIs(t, err, store.ErrStoreMismatch)

	local, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier})
	require.NoError(t, err)
	req.TillSessionID = local.ID
	sale, err := f.svc.ProcessSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, local.ID, sale.TillSessionID)

	_, err = f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: local.ID, ClosingCashCents: 1000})
	require.NoError(t, err)
	_, err = f.svc.ProcessSale(ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidTillSession)
	assert.Equal(t, 9, f.stock(t, "p1"))
}

func TestProcessSaleConcurrentCashiersNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 100, 10)

	const attempts = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortages int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := saleRequest(line("p1", 1))
			req.UserID = fmt.Sprintf("user-%d", i)
			_, err := f.svc.ProcessSale(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, attempts-10, shortages)
	assert.Equal(t, 0, f.stock(t, "p1"))
	assert.Len(t, f.events(t, "p1"), 10)
}

func TestProcessSaleRecordsMetricsAndPublishes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := &recordingPublisher{}
	f := newFixture(t, WithMetrics(m), WithPublisher(pub))
	f.product(t, "p1", "Grocery", 1000, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	sale, err := f.svc.ProcessSale(ctx, saleRequest(line("p1", 1)))
	require.NoError(t, err)
	_, err = f.svc.ProcessSale(ctx, saleRequest(line("p1", 1)))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SalesCompleted.WithLabelValues(domain.PaymentMethodCash)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SaleFailures.WithLabelValues("insufficient_stock")))

	require.Equal(t, 1, pub.count())
	event, ok := pub.events[0].(domain.SaleCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, sale.ID, event.SaleID)
	assert.Equal(t, domain.EventTypeSaleCompleted, event.EventType)
	assert.Equal(t, sale.ID, pub.keys[0])

	// the broker write runs on its own deadline, not the request's
	require.False(t, pub.deadlines[0].IsZero())
	assert.WithinDuration(t, time.Now().Add(publishTimeout), pub.deadlines[0], publishTimeout)
}

func TestOpenTillSessionUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier, OpeningFloatCents: 5000})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusOpen, session.Status)
	assert.Equal(t, testStore, session.StoreID)

	_, err = f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: "user-2"})
	require.ErrorIs(t, err, store.ErrTillAlreadyOpen)

	_, err = f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a2", UserID: cashier})
	require.ErrorIs(t, err, store.ErrUserAlreadySessionOpen)

	_, err = f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-b1", UserID: cashier})
	require.NoError(t, err, "the same user may hold a session in another store")

	_, err = f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-missing", UserID: "user-3"})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TenantID: "tenant-b", TillID: "till-a2", UserID: "user-3"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCloseTillSessionComputesVariance(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 6000, 10)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier, OpeningFloatCents: 5000})
	require.NoError(t, err)

	req := saleRequest(line("p1", 2))
	req.TillSessionID = session.ID
	_, err = f.svc.ProcessSale(ctx, req)
	require.NoError(t, err)

	card := saleRequest(line("p1", 1))
	card.TillSessionID = session.ID
	card.PaymentMethod = "CARD"
	_, err = f.svc.ProcessSale(ctx, card)
	require.NoError(t, err)

	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, UserID: cashier, Type: "cash_in", AmountCents: 1000, Reason: "float top-up"})
	require.NoError(t, err)
	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, UserID: cashier, Type: domain.CashOut, AmountCents: 500, Reason: "courier"})
	require.NoError(t, err)

	closed, err := f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID, ClosingCashCents: 17000})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusClosed, closed.Status)
	assert.Equal(t, int64(17500), closed.ExpectedCashCents)
	assert.Equal(t, int64(-500), closed.VarianceCents)
	assert.Equal(t, int64(17000), closed.ClosingCashCents)
	require.NotNil(t, closed.ClosedAt)

	_, err = f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID, ClosingCashCents: 1})
	require.ErrorIs(t, err, store.ErrInvalidTillSession)

	_, err = f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: "sess-missing"})
	require.ErrorIs(t, err, store.ErrNotFound)

	reopened, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: "user-2"})
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, reopened.ID)
}

func TestCloseTillSessionNetsChangeFromCashSales(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 4500, 10)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier, OpeningFloatCents: 1000})
	require.NoError(t, err)

	req := saleRequest(line("p1", 1))
	req.TillSessionID = session.ID
	req.Payments = []domain.PaymentRequest{{Method: "CASH", AmountCents: 5000}}
	_, err = f.svc.ProcessSale(ctx, req)
	require.NoError(t, err)

	closed, err := f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID, ClosingCashCents: 5500})
	require.NoError(t, err)
	assert.Equal(t, int64(5500), closed.ExpectedCashCents)
	assert.Zero(t, closed.VarianceCents)
}

func TestCloseTillSessionIgnoresChangeOnNonCashTender(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 4500, 10)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier, OpeningFloatCents: 1000})
	require.NoError(t, err)

	card := saleRequest(line("p1", 1))
	card.TillSessionID = session.ID
	card.Payments = []domain.PaymentRequest{{Method: "CARD", AmountCents: 5000}}
	sale, err := f.svc.ProcessSale(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCard, sale.PaymentMethod)
	assert.Equal(t, int64(500), sale.ChangeCents)

	// only the 200 cash tendered can leave the drawer as change
	split := saleRequest(line("p1", 1))
	split.TillSessionID = session.ID
	split.Payments = []domain.PaymentRequest{{Method: "CASH", AmountCents: 200}, {Method: "CARD", AmountCents: 4800}}
	sale, err = f.svc.ProcessSale(ctx, split)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sale.ChangeCents)

	report, err := f.svc.TillSessionReport(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Zero(t, report.CashSalesCents)

	closed, err := f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID, ClosingCashCents: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), closed.ExpectedCashCents)
	assert.Zero(t, closed.VarianceCents)
}

func TestRecordCashTransactionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier})
	require.NoError(t, err)

	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, Type: "REFUND", AmountCents: 100, Reason: "x"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, Type: domain.CashIn, AmountCents: 0, Reason: "x"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: "sess-missing", Type: domain.CashIn, AmountCents: 100, Reason: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID})
	require.NoError(t, err)
	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, Type: domain.CashIn, AmountCents: 100, Reason: "late"})
	require.ErrorIs(t, err, store.ErrInvalidTillSession)
}

func TestGetActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.svc.GetActiveSession(ctx, cashier, testStore)
	require.NoError(t, err)
	assert.Nil(t, none)

	opened, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier})
	require.NoError(t, err)

	active, err := f.svc.GetActiveSession(ctx, cashier, testStore)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, opened.ID, active.ID)

	anyStore, err := f.svc.GetActiveSession(ctx, cashier, "")
	require.NoError(t, err)
	require.NotNil(t, anyStore)
	assert.Equal(t, opened.ID, anyStore.ID)

	elsewhere, err := f.svc.GetActiveSession(ctx, cashier, otherStore)
	require.NoError(t, err)
	assert.Nil(t, elsewhere)
}

func TestTillSessionReport(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", "Grocery", 1000, 10)
	ctx := context.Background()

	session, err := f.svc.OpenTillSession(ctx, domain.OpenTillSessionRequest{TillID: "till-a1", UserID: cashier, OpeningFloatCents: 2000})
	require.NoError(t, err)

	req := saleRequest(line("p1", 3))
	req.TillSessionID = session.ID
	req.Payments = []domain.PaymentRequest{{Method: "CASH", AmountCents: 1000}, {Method: "CARD", AmountCents: 2000}}
	_, err = f.svc.ProcessSale(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.RecordCashTransaction(ctx, domain.CashTransactionRequest{TillSessionID: session.ID, Type: domain.CashOut, AmountCents: 300, Reason: "milk run"})
	require.NoError(t, err)

	open, err := f.svc.TillSessionReport(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1", open.TillName)
	assert.Equal(t, 1, open.SaleCount)
	assert.Equal(t, int64(3000), open.SalesTotalCents)
	assert.Equal(t, int64(1000), open.PaymentsByMethod[domain.PaymentMethodCash])
	assert.Equal(t, int64(2000), open.PaymentsByMethod[domain.PaymentMethodCard])
	assert.Equal(t, int64(300), open.CashOutCents)
	assert.Equal(t, int64(2700), open.ExpectedCashCents)
	assert.Nil(t, open.VarianceCents)
	assert.Len(t, open.CashTransactions, 1)

	_, err = f.svc.CloseTillSession(ctx, domain.CloseTillSessionRequest{SessionID: session.ID, ClosingCashCents: 2750})
	require.NoError(t, err)
	closed, err := f.svc.TillSessionReport(ctx, testTenant, session.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.VarianceCents)
	assert.Equal(t, int64(50), *closed.VarianceCents)
	assert.Equal(t, int64(2750), *closed.CountedCashCents)

	_, err = f.svc.TillSessionReport(ctx, "tenant-b", session.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustInventory(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	f.product(t, "p1", "Grocery", 1000, 2)
	ctx := context.Background()

	level, err := f.svc.AdjustInventory(ctx, domain.InventoryAdjustmentRequest{
		TenantID: testTenant, StoreID: testStore, ProductID: "p1", UserID: cashier,
		Type: "receive", QtyDelta: 10, Reason: "delivery", SupplierID: "sup-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, level.Qty)

	level, err = f.svc.AdjustInventory(ctx, domain.InventoryAdjustmentRequest{
		TenantID: testTenant, StoreID: testStore, ProductID: "p1", QtyDelta: -3, Reason: "damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, 9, level.Qty)

	events := f.events(t, "p1")
	require.Len(t, events, 2)
	assert.Equal(t, domain.InventoryEventAdjust, events[0].Type)
	assert.Equal(t, domain.InventoryEventReceive, events[1].Type)
	assert.Equal(t, "sup-1", events[1].SupplierID)
	assert.Equal(t, 2, pub.count())

	_, err = f.svc.AdjustInventory(ctx, domain.InventoryAdjustmentRequest{TenantID: testTenant, StoreID: testStore, ProductID: "p1", Type: domain.InventoryEventSale, QtyDelta: -1, Reason: "x"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.AdjustInventory(ctx, domain.InventoryAdjustmentRequest{TenantID: testTenant, StoreID: testStore, ProductID: "p1", Reason: "x"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.AdjustInventory(ctx, domain.InventoryAdjustmentRequest{TenantID: testTenant, StoreID: testStore, ProductID: "ghost", QtyDelta: 1, Reason: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*domain.TenantRates, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, *domain.TenantRates, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Invalidate(context.Context, string) error {
	return errors.New("cache down")
}

func TestRateResolverFallsBackWhenCacheFails(t *testing.T) {
	f := newFixture(t, WithRateCache(failingCache{}, time.Minute))
	f.product(t, "p1", "Grocery", 1000, 10)
	f.taxRate(t, 0.1)

	sale, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sale.TaxCents)
}

type mapCache struct {
	mu    sync.Mutex
	rates map[string]domain.TenantRates
}

func (c *mapCache) Get(_ context.Context, tenantID string) (*domain.TenantRates, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rates[tenantID]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *mapCache) Set(_ context.Context, tenantID string, rates *domain.TenantRates, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[tenantID] = *rates
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rates, tenantID)
	return nil
}

func TestRateResolverReadsThroughCache(t *testing.T) {
	c := &mapCache{rates: map[string]domain.TenantRates{}}
	f := newFixture(t, WithRateCache(c, time.Minute))
	f.product(t, "p1", "Grocery", 1000, 10)
	f.taxRate(t, 0.1)

	_, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 1)))
	require.NoError(t, err)
	require.Contains(t, c.rates, testTenant)
	assert.InDelta(t, 0.1, c.rates[testTenant].TotalTaxRate, 1e-9)
	assert.Zero(t, c.rates[testTenant].RedeemRate, "missing tenant settings mean no loyalty")

	// A cached rate wins over the catalog until it expires.
	f.taxRate(t, 0.2)
	sale, err := f.svc.ProcessSale(context.Background(), saleRequest(line("p1", 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sale.TaxCents)
}

func TestUpdateTenantRatesInvalidatesCache(t *testing.T) {
	c := &mapCache{rates: map[string]domain.TenantRates{}}
	f := newFixture(t, WithRateCache(c, time.Hour))
	f.product(t, "p1", "Grocery", 1000, 10)
	f.taxRate(t, 0.1)
	f.loyalty(t, 2, 0.05)
	ctx := context.Background()

	sale, err := f.svc.ProcessSale(ctx, saleRequest(line("p1", 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sale.TaxCents)
	require.Contains(t, c.rates, testTenant)

	redeem := 0.2
	rates, err := f.svc.UpdateTenantRates(ctx, domain.UpdateTenantRatesRequest{
		TenantID:          testTenant,
		Taxes:             []domain.Tax{{ID: "tax-1", Name: "VAT", Rate: 0.2, Active: true}},
		LoyaltyRedeemRate: &redeem,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, rates.TotalTaxRate, 1e-9)
	assert.InDelta(t, 2, rates.EarnRate, 1e-9, "an omitted loyalty rate keeps its stored value")
	assert.InDelta(t, 0.2, rates.RedeemRate, 1e-9)

	sale, err = f.svc.ProcessSale(ctx, saleRequest(line("p1", 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(200), sale.TaxCents)
}

func TestUpdateTenantRatesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	negative := -1.0

	for name, req := range map[string]domain.UpdateTenantRatesRequest{
		"no tenant":       {Taxes: []domain.Tax{{ID: "vat", Rate: 0.1}}},
		"empty":           {TenantID: testTenant},
		"tax without id":  {TenantID: testTenant, Taxes: []domain.Tax{{Rate: 0.1}}},
		"negative tax":    {TenantID: testTenant, Taxes: []domain.Tax{{ID: "vat", Rate: -0.1}}},
		"negative earn":   {TenantID: testTenant, LoyaltyEarnRate: &negative},
		"negative redeem": {TenantID: testTenant, LoyaltyRedeemRate: &negative},
	} {
		_, err := f.svc.UpdateTenantRates(ctx, req)
		require.ErrorIs(t, err, store.ErrInvalidTransaction, name)
	}
}
