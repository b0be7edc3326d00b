package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/service"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/store/sqlstore"
)

func TestPostgresConcurrentSalesNeverOversell(t *testing.T) {
	databaseURL := os.Getenv("RETAILCRAFT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILCRAFT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.DriverPostgres, databaseURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	tenant := fmt.Sprintf("tenant-it-%d", stamp)
	storeA := fmt.Sprintf("store-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)

	if err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveProduct(ctx, domain.Product{ID: productID, TenantID: tenant, Name: "Produk IT", PriceCents: 500, Active: true}); err != nil {
			return err
		}
		return tx.SetStock(ctx, storeA, productID, 5)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := service.New(s)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		rejected  int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ProcessSale(ctx, domain.ProcessSaleRequest{
				TenantID: tenant,
				StoreID:  storeA,
				UserID:   fmt.Sprintf("cashier-%d", i),
				Items:    []domain.SaleLineRequest{{ProductID: productID, Qty: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				// Serialization retries can run out under heavy contention.
				t.Logf("sale %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var qty int
	if err := s.WithTx(ctx, func(tx store.Tx) error {
		qty, err = tx.GetStock(ctx, storeA, productID)
		return err
	}); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	if qty < 0 {
		t.Fatalf("stock went negative: %d", qty)
	}
	if completed+qty != 5 {
		t.Fatalf("completed %d sales but %d left in stock", completed, qty)
	}
	if completed > 5 {
		t.Fatalf("oversold: %d completed", completed)
	}
	t.Logf("completed=%d rejected=%d remaining=%d", completed, rejected, qty)
}

func TestPostgresOpenSessionConstraintNames(t *testing.T) {
	databaseURL := os.Getenv("RETAILCRAFT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILCRAFT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := sqlstore.Open(ctx, "postgres", databaseURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	storeA := fmt.Sprintf("store-it-%d", stamp)
	tillA := fmt.Sprintf("till-it-a-%d", stamp)
	tillB := fmt.Sprintf("till-it-b-%d", stamp)
	user := fmt.Sprintf("user-it-%d", stamp)
	now := time.Now().UTC()

	if err := s.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range []string{tillA, tillB} {
			if err := tx.CreateTill(ctx, domain.Till{ID: id, TenantID: "tenant-it", StoreID: storeA, Name: id, Status: domain.TillStatusClosed}); err != nil {
				return err
			}
		}
		return tx.CreateTillSession(ctx, domain.TillSession{ID: tillA + "-s1", TillID: tillA, StoreID: storeA, UserID: user, OpenedAt: now})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateTillSession(ctx, domain.TillSession{ID: tillA + "-s2", TillID: tillA, StoreID: storeA, UserID: user + "-other", OpenedAt: now})
	})
	if !errors.Is(err, store.ErrTillAlreadyOpen) {
		t.Fatalf("expected ErrTillAlreadyOpen, got %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateTillSession(ctx, domain.TillSession{ID: tillB + "-s1", TillID: tillB, StoreID: storeA, UserID: user, OpenedAt: now})
	})
	if !errors.Is(err, store.ErrUserAlreadySessionOpen) {
		t.Fatalf("expected ErrUserAlreadySessionOpen, got %v", err)
	}
}
