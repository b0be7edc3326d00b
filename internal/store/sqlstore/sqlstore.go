// Package sqlstore implements store.Repository on a relational database
// through sqlx. The same queries run on PostgreSQL (pgx) and SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/store"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"

	// serialization failures under concurrent sales are retried this many times
	maxTxAttempts = 3
)

type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects and pings. "postgres" is accepted as an alias of the pgx driver.
func Open(ctx context.Context, driver string, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "postgres" || driver == "postgresql" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverSQLite:
		// One connection keeps an in-memory database alive and serializes writers.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	default:
		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(30)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db, driver), nil
}

// New wraps an existing handle. driver must be DriverPostgres or DriverSQLite.
func New(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in one database transaction. PostgreSQL runs at SERIALIZABLE
// and the whole unit is retried on a serialization failure.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx, driver: s.driver}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	tx     *sqlx.Tx
	driver string
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
}

func (t *sqlTx) get(ctx context.Context, dest any, query string, args ...any) error {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (t *sqlTx) sel(ctx context.Context, dest any, query string, args ...any) error {
	return t.tx.SelectContext(ctx, dest, t.tx.Rebind(query), args...)
}

// Catalog

func (t *sqlTx) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	var p domain.Product
	if err := t.get(ctx, &p, `
		SELECT id, tenant_id, name, category, price_cents, cost_cents, active
		FROM products
		WHERE tenant_id = ? AND id = ?
	`, tenantID, productID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *sqlTx) ListActiveTaxes(ctx context.Context, tenantID string) ([]domain.Tax, error) {
	taxes := make([]domain.Tax, 0, 4)
	if err := t.sel(ctx, &taxes, `
		SELECT id, tenant_id, name, rate, active
		FROM taxes
		WHERE tenant_id = ? AND active = ?
		ORDER BY id
	`, tenantID, true); err != nil {
		return nil, err
	}
	return taxes, nil
}

func (t *sqlTx) GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error) {
	var settings domain.TenantSettings
	if err := t.get(ctx, &settings, `
		SELECT tenant_id, loyalty_earn_rate, loyalty_redeem_rate
		FROM tenant_settings
		WHERE tenant_id = ?
	`, tenantID); err != nil {
		return nil, err
	}
	return &settings, nil
}

type discountRow struct {
	ID           string       `db:"id"`
	TenantID     string       `db:"tenant_id"`
	Name         string       `db:"name"`
	Type         string       `db:"type"`
	Percent      float64      `db:"percent"`
	AmountCents  int64        `db:"amount_cents"`
	TargetType   string       `db:"target_type"`
	TargetValues string       `db:"target_values"`
	StartsAt     sql.NullTime `db:"starts_at"`
	EndsAt       sql.NullTime `db:"ends_at"`
	Active       bool         `db:"active"`
}

func (t *sqlTx) GetDiscount(ctx context.Context, tenantID string, discountID string) (*domain.Discount, error) {
	var row discountRow
	if err := t.get(ctx, &row, `
		SELECT id, tenant_id, name, type, percent, amount_cents, target_type, target_values, starts_at, ends_at, active
		FROM discounts
		WHERE tenant_id = ? AND id = ?
	`, tenantID, discountID); err != nil {
		return nil, err
	}

	d := domain.Discount{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		Type:        row.Type,
		Percent:     row.Percent,
		AmountCents: row.AmountCents,
		TargetType:  row.TargetType,
		StartsAt:    timePtr(row.StartsAt),
		EndsAt:      timePtr(row.EndsAt),
		Active:      row.Active,
	}
	if row.TargetValues != "" {
		if err := json.Unmarshal([]byte(row.TargetValues), &d.TargetValues); err != nil {
			return nil, fmt.Errorf("decode discount %s targets: %w", row.ID, err)
		}
	}
	return &d, nil
}

func (t *sqlTx) SaveProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" || p.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO products (id, tenant_id, name, category, price_cents, cost_cents, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id, name = excluded.name, category = excluded.category,
			price_cents = excluded.price_cents, cost_cents = excluded.cost_cents, active = excluded.active
	`, p.ID, p.TenantID, p.Name, p.Category, p.PriceCents, p.CostCents, p.Active)
	return err
}

func (t *sqlTx) SaveTax(ctx context.Context, tax domain.Tax) error {
	if tax.ID == "" || tax.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO taxes (id, tenant_id, name, rate, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id, name = excluded.name, rate = excluded.rate, active = excluded.active
	`, tax.ID, tax.TenantID, tax.Name, tax.Rate, tax.Active)
	return err
}

func (t *sqlTx) SaveTenantSettings(ctx context.Context, settings domain.TenantSettings) error {
	if settings.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, loyalty_earn_rate, loyalty_redeem_rate)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			loyalty_earn_rate = excluded.loyalty_earn_rate, loyalty_redeem_rate = excluded.loyalty_redeem_rate
	`, settings.TenantID, settings.LoyaltyEarnRate, settings.LoyaltyRedeemRate)
	return err
}

func (t *sqlTx) SaveDiscount(ctx context.Context, d domain.Discount) error {
	if d.ID == "" || d.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	targets := d.TargetValues
	if targets == nil {
		targets = []string{}
	}
	encoded, err := json.Marshal(targets)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `
		INSERT INTO discounts (id, tenant_id, name, type, percent, amount_cents, target_type, target_values, starts_at, ends_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id, name = excluded.name, type = excluded.type,
			percent = excluded.percent, amount_cents = excluded.amount_cents,
			target_type = excluded.target_type, target_values = excluded.target_values,
			starts_at = excluded.starts_at, ends_at = excluded.ends_at, active = excluded.active
	`, d.ID, d.TenantID, d.Name, d.Type, d.Percent, d.AmountCents, d.TargetType, string(encoded),
		nullTime(d.StartsAt), nullTime(d.EndsAt), d.Active)
	return err
}

// Inventory

func (t *sqlTx) GetStock(ctx context.Context, storeID string, productID string) (int, error) {
	var qty int
	err := t.get(ctx, &qty, `
		SELECT quantity FROM inventory WHERE store_id = ? AND product_id = ?
	`, storeID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return qty, err
}

func (t *sqlTx) DecrementStock(ctx context.Context, storeID string, productID string, qty int) (bool, error) {
	res, err := t.exec(ctx, `
		UPDATE inventory
		SET quantity = quantity - ?, updated_at = ?
		WHERE store_id = ? AND product_id = ? AND quantity >= ?
	`, qty, time.Now().UTC(), storeID, productID, qty)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *sqlTx) AdjustStock(ctx context.Context, storeID string, productID string, delta int) (int, error) {
	var qty int
	err := t.get(ctx, &qty, `
		INSERT INTO inventory (store_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			quantity = inventory.quantity + excluded.quantity, updated_at = excluded.updated_at
		RETURNING quantity
	`, storeID, productID, delta, time.Now().UTC())
	return qty, err
}

func (t *sqlTx) SetStock(ctx context.Context, storeID string, productID string, qty int) error {
	_, err := t.exec(ctx, `
		INSERT INTO inventory (store_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			quantity = excluded.quantity, updated_at = excluded.updated_at
	`, storeID, productID, qty, time.Now().UTC())
	return err
}

func (t *sqlTx) AppendInventoryEvent(ctx context.Context, ev domain.InventoryEvent) error {
	if ev.ID == "" || ev.StoreID == "" || ev.ProductID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO inventory_events (id, store_id, product_id, user_id, type, qty_delta, reason, supplier_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.StoreID, ev.ProductID, ev.UserID, ev.Type, ev.QtyDelta, ev.Reason, nullIfEmpty(ev.SupplierID), ev.CreatedAt.UTC())
	return err
}

type inventoryEventRow struct {
	ID         string         `db:"id"`
	StoreID    string         `db:"store_id"`
	ProductID  string         `db:"product_id"`
	UserID     string         `db:"user_id"`
	Type       string         `db:"type"`
	QtyDelta   int            `db:"qty_delta"`
	Reason     string         `db:"reason"`
	SupplierID sql.NullString `db:"supplier_id"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (t *sqlTx) ListInventoryEvents(ctx context.Context, storeID string, productID string, limit int) ([]domain.InventoryEvent, error) {
	if limit < 1 {
		limit = 100
	}
	query := `
		SELECT id, store_id, product_id, user_id, type, qty_delta, reason, supplier_id, created_at
		FROM inventory_events
		WHERE store_id = ?`
	args := []any{storeID}
	if productID != "" {
		query += ` AND product_id = ?`
		args = append(args, productID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []inventoryEventRow
	if err := t.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	events := make([]domain.InventoryEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.InventoryEvent{
			ID:         row.ID,
			StoreID:    row.StoreID,
			ProductID:  row.ProductID,
			UserID:     row.UserID,
			Type:       row.Type,
			QtyDelta:   row.QtyDelta,
			Reason:     row.Reason,
			SupplierID: row.SupplierID.String,
			CreatedAt:  row.CreatedAt.UTC(),
		})
	}
	return events, nil
}

// Loyalty

func (t *sqlTx) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	if err := t.get(ctx, &c, `
		SELECT id, tenant_id, name, loyalty_points, is_loyalty_member
		FROM customers
		WHERE tenant_id = ? AND id = ?
	`, tenantID, customerID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *sqlTx) SaveCustomer(ctx context.Context, c domain.Customer) error {
	if c.ID == "" || c.TenantID == "" || c.LoyaltyPoints < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO customers (id, tenant_id, name, loyalty_points, is_loyalty_member)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id, name = excluded.name,
			loyalty_points = excluded.loyalty_points, is_loyalty_member = excluded.is_loyalty_member
	`, c.ID, c.TenantID, c.Name, c.LoyaltyPoints, c.IsLoyaltyMember)
	return err
}

func (t *sqlTx) DebitLoyaltyPoints(ctx context.Context, tenantID string, customerID string, points int64) error {
	res, err := t.exec(ctx, `
		UPDATE customers
		SET loyalty_points = loyalty_points - ?
		WHERE tenant_id = ? AND id = ? AND loyalty_points >= ?
	`, points, tenantID, customerID, points)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := t.GetCustomer(ctx, tenantID, customerID); err != nil {
		return err
	}
	return store.ErrInsufficientPoints
}

func (t *sqlTx) CreditLoyaltyPoints(ctx context.Context, tenantID string, customerID string, points int64) error {
	res, err := t.exec(ctx, `
		UPDATE customers SET loyalty_points = loyalty_points + ? WHERE tenant_id = ? AND id = ?
	`, points, tenantID, customerID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// Sales

func (t *sqlTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO sales (
			id, tenant_id, store_id, user_id, customer_id, till_session_id, discount_id,
			subtotal_cents, discount_cents, tax_cents, total_cents, paid_cents, change_cents,
			payment_method, status, loyalty_points_used, loyalty_points_earned, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sale.ID, sale.TenantID, sale.StoreID, sale.UserID,
		nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.TillSessionID), nullIfEmpty(sale.DiscountID),
		sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents, sale.PaidCents, sale.ChangeCents,
		sale.PaymentMethod, sale.Status, sale.LoyaltyPointsUsed, sale.LoyaltyPointsEarned, sale.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}

	for i, item := range sale.Items {
		if _, err := t.exec(ctx, `
			INSERT INTO sale_items (id, sale_id, line_no, product_id, product_name, qty, price_at_sale_cents, cost_at_sale_cents, line_total_cents)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, sale.ID, i, item.ProductID, item.ProductName, item.Qty,
			item.PriceAtSaleCents, item.CostAtSaleCents, item.LineTotalCents); err != nil {
			return err
		}
	}
	for i, p := range sale.Payments {
		if _, err := t.exec(ctx, `
			INSERT INTO payments (id, sale_id, line_no, method, amount_cents, reference)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, sale.ID, i, p.Method, p.AmountCents, p.Reference); err != nil {
			return err
		}
	}
	return nil
}

type saleRow struct {
	ID                  string         `db:"id"`
	TenantID            string         `db:"tenant_id"`
	StoreID             string         `db:"store_id"`
	UserID              string         `db:"user_id"`
	CustomerID          sql.NullString `db:"customer_id"`
	TillSessionID       sql.NullString `db:"till_session_id"`
	DiscountID          sql.NullString `db:"discount_id"`
	SubtotalCents       int64          `db:"subtotal_cents"`
	DiscountCents       int64          `db:"discount_cents"`
	TaxCents            int64          `db:"tax_cents"`
	TotalCents          int64          `db:"total_cents"`
	PaidCents           int64          `db:"paid_cents"`
	ChangeCents         int64          `db:"change_cents"`
	PaymentMethod       string         `db:"payment_method"`
	Status              string         `db:"status"`
	LoyaltyPointsUsed   int64          `db:"loyalty_points_used"`
	LoyaltyPointsEarned int64          `db:"loyalty_points_earned"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (t *sqlTx) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	var row saleRow
	if err := t.get(ctx, &row, `
		SELECT id, tenant_id, store_id, user_id, customer_id, till_session_id, discount_id,
			subtotal_cents, discount_cents, tax_cents, total_cents, paid_cents, change_cents,
			payment_method, status, loyalty_points_used, loyalty_points_earned, created_at
		FROM sales
		WHERE tenant_id = ? AND id = ?
	`, tenantID, saleID); err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:                  row.ID,
		TenantID:            row.TenantID,
		StoreID:             row.StoreID,
		UserID:              row.UserID,
		CustomerID:          row.CustomerID.String,
		TillSessionID:       row.TillSessionID.String,
		DiscountID:          row.DiscountID.String,
		SubtotalCents:       row.SubtotalCents,
		DiscountCents:       row.DiscountCents,
		TaxCents:            row.TaxCents,
		TotalCents:          row.TotalCents,
		PaidCents:           row.PaidCents,
		ChangeCents:         row.ChangeCents,
		PaymentMethod:       row.PaymentMethod,
		Status:              row.Status,
		LoyaltyPointsUsed:   row.LoyaltyPointsUsed,
		LoyaltyPointsEarned: row.LoyaltyPointsEarned,
		CreatedAt:           row.CreatedAt.UTC(),
	}
	if err := t.sel(ctx, &sale.Items, `
		SELECT id, sale_id, product_id, product_name, qty, price_at_sale_cents, cost_at_sale_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY line_no
	`, sale.ID); err != nil {
		return nil, err
	}
	if err := t.sel(ctx, &sale.Payments, `
		SELECT id, sale_id, method, amount_cents, reference
		FROM payments
		WHERE sale_id = ?
		ORDER BY line_no
	`, sale.ID); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (t *sqlTx) SessionSalesSummary(ctx context.Context, sessionID string) (domain.SessionSalesSummary, error) {
	var totals struct {
		SaleCount   int   `db:"sale_count"`
		SalesTotal  int64 `db:"sales_total"`
		ChangeGiven int64 `db:"change_given"`
	}
	if err := t.get(ctx, &totals, `
		SELECT COUNT(*) AS sale_count,
			CAST(COALESCE(SUM(s.total_cents), 0) AS BIGINT) AS sales_total,
			CAST(COALESCE(SUM(
				CASE WHEN s.change_cents < COALESCE(c.cash_paid, 0) THEN s.change_cents ELSE COALESCE(c.cash_paid, 0) END
			), 0) AS BIGINT) AS change_given
		FROM sales s
		LEFT JOIN (
			SELECT sale_id, SUM(amount_cents) AS cash_paid
			FROM payments
			WHERE method = ?
			GROUP BY sale_id
		) c ON c.sale_id = s.id
		WHERE s.till_session_id = ? AND s.status = ?
	`, domain.PaymentMethodCash, sessionID, domain.SaleStatusCompleted); err != nil {
		return domain.SessionSalesSummary{}, err
	}

	var byMethod []struct {
		Method string `db:"method"`
		Amount int64  `db:"amount"`
	}
	if err := t.sel(ctx, &byMethod, `
		SELECT p.method AS method, CAST(COALESCE(SUM(p.amount_cents), 0) AS BIGINT) AS amount
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.till_session_id = ? AND s.status = ?
		GROUP BY p.method
	`, sessionID, domain.SaleStatusCompleted); err != nil {
		return domain.SessionSalesSummary{}, err
	}

	summary := domain.SessionSalesSummary{
		SaleCount:        totals.SaleCount,
		SalesTotalCents:  totals.SalesTotal,
		ChangeGivenCents: totals.ChangeGiven,
		PaymentsByMethod: make(map[string]int64, len(byMethod)),
	}
	for _, m := range byMethod {
		summary.PaymentsByMethod[m.Method] = m.Amount
	}
	return summary, nil
}

// Tills

func (t *sqlTx) CreateTill(ctx context.Context, till domain.Till) error {
	if till.ID == "" || till.StoreID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO tills (id, tenant_id, store_id, name, status) VALUES (?, ?, ?, ?, ?)
	`, till.ID, till.TenantID, till.StoreID, till.Name, till.Status)
	if isUniqueViolation(err) {
		return store.ErrInvalidTransaction
	}
	return err
}

func (t *sqlTx) GetTill(ctx context.Context, tillID string) (*domain.Till, error) {
	var till domain.Till
	if err := t.get(ctx, &till, `
		SELECT id, tenant_id, store_id, name, status FROM tills WHERE id = ?
	`, tillID); err != nil {
		return nil, err
	}
	return &till, nil
}

func (t *sqlTx) SetTillStatus(ctx context.Context, tillID string, status string) error {
	res, err := t.exec(ctx, `UPDATE tills SET status = ? WHERE id = ?`, status, tillID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (t *sqlTx) CreateTillSession(ctx context.Context, session domain.TillSession) error {
	if session.ID == "" || session.TillID == "" || session.StoreID == "" || session.UserID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO till_sessions (id, till_id, store_id, user_id, opening_float_cents, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.TillID, session.StoreID, session.UserID, session.OpeningFloatCents,
		domain.SessionStatusOpen, session.OpenedAt.UTC())
	if err != nil {
		return mapSessionConflict(err)
	}
	return nil
}

const tillSessionColumns = `id, till_id, store_id, user_id, opening_float_cents, status, opened_at,
	closed_at, closing_cash_cents, expected_cash_cents, variance_cents`

type tillSessionRow struct {
	ID                string       `db:"id"`
	TillID            string       `db:"till_id"`
	StoreID           string       `db:"store_id"`
	UserID            string       `db:"user_id"`
	OpeningFloatCents int64        `db:"opening_float_cents"`
	Status            string       `db:"status"`
	OpenedAt          time.Time    `db:"opened_at"`
	ClosedAt          sql.NullTime `db:"closed_at"`
	ClosingCashCents  int64        `db:"closing_cash_cents"`
	ExpectedCashCents int64        `db:"expected_cash_cents"`
	VarianceCents     int64        `db:"variance_cents"`
}

func (r tillSessionRow) toDomain() *domain.TillSession {
	return &domain.TillSession{
		ID:                r.ID,
		TillID:            r.TillID,
		StoreID:           r.StoreID,
		UserID:            r.UserID,
		OpeningFloatCents: r.OpeningFloatCents,
		Status:            r.Status,
		OpenedAt:          r.OpenedAt.UTC(),
		ClosedAt:          timePtr(r.ClosedAt),
		ClosingCashCents:  r.ClosingCashCents,
		ExpectedCashCents: r.ExpectedCashCents,
		VarianceCents:     r.VarianceCents,
	}
}

func (t *sqlTx) getSession(ctx context.Context, where string, args ...any) (*domain.TillSession, error) {
	var row tillSessionRow
	if err := t.get(ctx, &row, `SELECT `+tillSessionColumns+` FROM till_sessions WHERE `+where, args...); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (t *sqlTx) GetTillSession(ctx context.Context, sessionID string) (*domain.TillSession, error) {
	return t.getSession(ctx, `id = ?`, sessionID)
}

func (t *sqlTx) FindOpenSessionByTill(ctx context.Context, tillID string) (*domain.TillSession, error) {
	return t.getSession(ctx, `till_id = ? AND status = ?`, tillID, domain.SessionStatusOpen)
}

func (t *sqlTx) FindOpenSessionByUser(ctx context.Context, userID string, storeID string) (*domain.TillSession, error) {
	if storeID != "" {
		return t.getSession(ctx, `user_id = ? AND store_id = ? AND status = ?`, userID, storeID, domain.SessionStatusOpen)
	}
	return t.getSession(ctx, `user_id = ? AND status = ? ORDER BY opened_at DESC LIMIT 1`, userID, domain.SessionStatusOpen)
}

func (t *sqlTx) CloseTillSession(ctx context.Context, session domain.TillSession) error {
	res, err := t.exec(ctx, `
		UPDATE till_sessions
		SET status = ?, closed_at = ?, closing_cash_cents = ?, expected_cash_cents = ?, variance_cents = ?
		WHERE id = ? AND status = ?
	`, domain.SessionStatusClosed, nullTime(session.ClosedAt), session.ClosingCashCents,
		session.ExpectedCashCents, session.VarianceCents, session.ID, domain.SessionStatusOpen)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := t.GetTillSession(ctx, session.ID); err != nil {
		return err
	}
	return store.ErrInvalidTillSession
}

func (t *sqlTx) CreateCashTransaction(ctx context.Context, txn domain.CashTransaction) error {
	if txn.ID == "" || txn.TillSessionID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.exec(ctx, `
		INSERT INTO cash_transactions (id, till_session_id, user_id, type, amount_cents, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.TillSessionID, txn.UserID, txn.Type, txn.AmountCents, txn.Reason, txn.CreatedAt.UTC())
	return err
}

func (t *sqlTx) ListCashTransactions(ctx context.Context, sessionID string) ([]domain.CashTransaction, error) {
	txns := make([]domain.CashTransaction, 0, 8)
	if err := t.sel(ctx, &txns, `
		SELECT id, till_session_id, user_id, type, amount_cents, reason, created_at
		FROM cash_transactions
		WHERE till_session_id = ?
		ORDER BY created_at, id
	`, sessionID); err != nil {
		return nil, err
	}
	for i := range txns {
		txns[i].CreatedAt = txns[i].CreatedAt.UTC()
	}
	return txns, nil
}

func (t *sqlTx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.exec(ctx, `
		INSERT INTO audit_logs (id, tenant_id, store_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TenantID, entry.StoreID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

// mapSessionConflict turns a violation of the open-session partial indexes into
// the matching domain error.
func mapSessionConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "open_user") {
			return store.ErrUserAlreadySessionOpen
		}
		return store.ErrTillAlreadyOpen
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && isSQLiteUnique(liteErr) {
		if strings.Contains(liteErr.Error(), "user_id") {
			return store.ErrUserAlreadySessionOpen
		}
		return store.ErrTillAlreadyOpen
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return isSQLiteUnique(liteErr)
	}
	return false
}

// isSQLiteUnique accepts both extended and primary result codes.
func isSQLiteUnique(err *sqlite.Error) bool {
	switch err.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
