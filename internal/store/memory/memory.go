package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/store"
)

// Store keeps all state in maps. Units of work are serialized by one mutex and
// write in place; every write records its inverse, and a unit that fails replays
// them backwards, so a failed sale leaves nothing behind.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	products   map[string]domain.Product
	taxes      map[string]domain.Tax
	settings   map[string]domain.TenantSettings
	discounts  map[string]domain.Discount
	customers  map[string]domain.Customer
	stock      map[string]domain.InventoryLevel
	events     []domain.InventoryEvent
	sales      map[string]domain.Sale
	tills      map[string]domain.Till
	sessions   map[string]domain.TillSession
	openByTill map[string]string
	openByUser map[string]string
	cashTxns   []domain.CashTransaction
	auditLogs  []domain.AuditLog
}

func New() *Store {
	return &Store{state: &state{
		products:   make(map[string]domain.Product),
		taxes:      make(map[string]domain.Tax),
		settings:   make(map[string]domain.TenantSettings),
		discounts:  make(map[string]domain.Discount),
		customers:  make(map[string]domain.Customer),
		stock:      make(map[string]domain.InventoryLevel),
		sales:      make(map[string]domain.Sale),
		tills:      make(map[string]domain.Till),
		sessions:   make(map[string]domain.TillSession),
		openByTill: make(map[string]string),
		openByUser: make(map[string]string),
	}}
}

// NewSeeded returns a store with a demo tenant, one store, two tills and a small catalog.
func NewSeeded() *Store {
	s := New()
	st := s.state
	const tenant, storeID = "demo-tenant", "main-store"

	products := []domain.Product{
		{ID: "prod-coffee", TenantID: tenant, Name: "Ground Coffee 250g", Category: "Beverage", PriceCents: 899, CostCents: 520, Active: true},
		{ID: "prod-milk", TenantID: tenant, Name: "Whole Milk 1L", Category: "Dairy", PriceCents: 189, CostCents: 120, Active: true},
		{ID: "prod-bread", TenantID: tenant, Name: "Sourdough Loaf", Category: "Bakery", PriceCents: 450, CostCents: 210, Active: true},
		{ID: "prod-eggs", TenantID: tenant, Name: "Free Range Eggs x12", Category: "Dairy", PriceCents: 399, CostCents: 260, Active: true},
		{ID: "prod-soap", TenantID: tenant, Name: "Hand Soap", Category: "Household", PriceCents: 325, CostCents: 140, Active: true},
	}
	now := time.Now().UTC()
	for _, p := range products {
		st.products[p.ID] = p
		st.stock[stockKey(storeID, p.ID)] = domain.InventoryLevel{StoreID: storeID, ProductID: p.ID, Qty: 120, UpdatedAt: now}
	}

	st.taxes["tax-vat"] = domain.Tax{ID: "tax-vat", TenantID: tenant, Name: "VAT", Rate: 0.075, Active: true}
	st.settings[tenant] = domain.TenantSettings{TenantID: tenant, LoyaltyEarnRate: 1, LoyaltyRedeemRate: 0.01}
	st.customers["cust-demo"] = domain.Customer{ID: "cust-demo", TenantID: tenant, Name: "Demo Member", LoyaltyPoints: 250, IsLoyaltyMember: true}
	st.discounts["disc-dairy10"] = domain.Discount{
		ID: "disc-dairy10", TenantID: tenant, Name: "Dairy 10%", Type: domain.DiscountTypePercentage,
		Percent: 10, TargetType: domain.DiscountTargetCategory, TargetValues: []string{"Dairy"}, Active: true,
	}
	for _, till := range []domain.Till{
		{ID: "till-1", TenantID: tenant, StoreID: storeID, Name: "Front 1", Status: domain.TillStatusClosed},
		{ID: "till-2", TenantID: tenant, StoreID: storeID, Name: "Front 2", Status: domain.TillStatusClosed},
	} {
		st.tills[till.ID] = till
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{st: s.state}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Close() error { return nil }

type memTx struct {
	st   *state
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put writes m[k] and remembers how to restore the previous entry.
func put[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func remove[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = prev })
	delete(m, k)
}

func push[E any](t *memTx, list *[]E, v E) {
	n := len(*list)
	t.undo = append(t.undo, func() { *list = (*list)[:n] })
	*list = append(*list, v)
}

func (t *memTx) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	p, ok := t.st.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) ListActiveTaxes(_ context.Context, tenantID string) ([]domain.Tax, error) {
	taxes := make([]domain.Tax, 0, 4)
	for _, tax := range t.st.taxes {
		if tax.TenantID == tenantID && tax.Active {
			taxes = append(taxes, tax)
		}
	}
	slices.SortFunc(taxes, func(a, b domain.Tax) int { return cmp.Compare(a.ID, b.ID) })
	return taxes, nil
}

func (t *memTx) GetTenantSettings(_ context.Context, tenantID string) (*domain.TenantSettings, error) {
	settings, ok := t.st.settings[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (t *memTx) GetDiscount(_ context.Context, tenantID string, discountID string) (*domain.Discount, error) {
	d, ok := t.st.discounts[discountID]
	if !ok || d.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	d.TargetValues = slices.Clone(d.TargetValues)
	return &d, nil
}

func (t *memTx) SaveProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || product.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.products, product.ID, product)
	return nil
}

func (t *memTx) SaveTax(_ context.Context, tax domain.Tax) error {
	if tax.ID == "" || tax.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.taxes, tax.ID, tax)
	return nil
}

func (t *memTx) SaveTenantSettings(_ context.Context, settings domain.TenantSettings) error {
	if settings.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.settings, settings.TenantID, settings)
	return nil
}

func (t *memTx) SaveDiscount(_ context.Context, discount domain.Discount) error {
	if discount.ID == "" || discount.TenantID == "" {
		return store.ErrInvalidTransaction
	}
	discount.TargetValues = slices.Clone(discount.TargetValues)
	put(t, t.st.discounts, discount.ID, discount)
	return nil
}

func (t *memTx) GetStock(_ context.Context, storeID string, productID string) (int, error) {
	return t.st.stock[stockKey(storeID, productID)].Qty, nil
}

func (t *memTx) DecrementStock(_ context.Context, storeID string, productID string, qty int) (bool, error) {
	key := stockKey(storeID, productID)
	level, ok := t.st.stock[key]
	if !ok || level.Qty < qty {
		return false, nil
	}
	level.Qty -= qty
	level.UpdatedAt = time.Now().UTC()
	put(t, t.st.stock, key, level)
	return true, nil
}

func (t *memTx) AdjustStock(_ context.Context, storeID string, productID string, delta int) (int, error) {
	key := stockKey(storeID, productID)
	level, ok := t.st.stock[key]
	if !ok {
		level = domain.InventoryLevel{StoreID: storeID, ProductID: productID}
	}
	level.Qty += delta
	level.UpdatedAt = time.Now().UTC()
	put(t, t.st.stock, key, level)
	return level.Qty, nil
}

func (t *memTx) SetStock(_ context.Context, storeID string, productID string, qty int) error {
	put(t, t.st.stock, stockKey(storeID, productID), domain.InventoryLevel{
		StoreID:   storeID,
		ProductID: productID,
		Qty:       qty,
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *memTx) AppendInventoryEvent(_ context.Context, event domain.InventoryEvent) error {
	if event.ID == "" || event.StoreID == "" || event.ProductID == "" {
		return store.ErrInvalidTransaction
	}
	push(t, &t.st.events, event)
	return nil
}

func (t *memTx) ListInventoryEvents(_ context.Context, storeID string, productID string, limit int) ([]domain.InventoryEvent, error) {
	events := make([]domain.InventoryEvent, 0, 16)
	for i := len(t.st.events) - 1; i >= 0; i-- {
		ev := t.st.events[i]
		if ev.StoreID != storeID || (productID != "" && ev.ProductID != productID) {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (t *memTx) GetCustomer(_ context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	c, ok := t.st.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) SaveCustomer(_ context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.TenantID == "" || customer.LoyaltyPoints < 0 {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.customers, customer.ID, customer)
	return nil
}

func (t *memTx) DebitLoyaltyPoints(_ context.Context, tenantID string, customerID string, points int64) error {
	c, ok := t.st.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	if c.LoyaltyPoints < points {
		return store.ErrInsufficientPoints
	}
	c.LoyaltyPoints -= points
	put(t, t.st.customers, customerID, c)
	return nil
}

func (t *memTx) CreditLoyaltyPoints(_ context.Context, tenantID string, customerID string, points int64) error {
	c, ok := t.st.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	c.LoyaltyPoints += points
	put(t, t.st.customers, customerID, c)
	return nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.sales, sale.ID, cloneSale(sale))
	return nil
}

func (t *memTx) GetSale(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) SessionSalesSummary(_ context.Context, sessionID string) (domain.SessionSalesSummary, error) {
	summary := domain.SessionSalesSummary{PaymentsByMethod: make(map[string]int64)}
	for _, sale := range t.st.sales {
		if sale.TillSessionID != sessionID || sale.Status != domain.SaleStatusCompleted {
			continue
		}
		summary.SaleCount++
		summary.SalesTotalCents += sale.TotalCents
		var cashPaid int64
		for _, p := range sale.Payments {
			summary.PaymentsByMethod[p.Method] += p.AmountCents
			if p.Method == domain.PaymentMethodCash {
				cashPaid += p.AmountCents
			}
		}
		summary.ChangeGivenCents += min(sale.ChangeCents, cashPaid)
	}
	return summary, nil
}

func (t *memTx) CreateTill(_ context.Context, till domain.Till) error {
	if till.ID == "" || till.StoreID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.tills[till.ID]; exists {
		return store.ErrInvalidTransaction
	}
	put(t, t.st.tills, till.ID, till)
	return nil
}

func (t *memTx) GetTill(_ context.Context, tillID string) (*domain.Till, error) {
	till, ok := t.st.tills[tillID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &till, nil
}

func (t *memTx) SetTillStatus(_ context.Context, tillID string, status string) error {
	till, ok := t.st.tills[tillID]
	if !ok {
		return store.ErrNotFound
	}
	till.Status = status
	put(t, t.st.tills, tillID, till)
	return nil
}

func (t *memTx) CreateTillSession(_ context.Context, session domain.TillSession) error {
	if session.ID == "" || session.TillID == "" || session.StoreID == "" || session.UserID == "" {
		return store.ErrInvalidTransaction
	}
	if _, taken := t.st.openByTill[session.TillID]; taken {
		return store.ErrTillAlreadyOpen
	}
	userKey := sessionUserKey(session.UserID, session.StoreID)
	if _, taken := t.st.openByUser[userKey]; taken {
		return store.ErrUserAlreadySessionOpen
	}

	session.Status = domain.SessionStatusOpen
	put(t, t.st.sessions, session.ID, session)
	put(t, t.st.openByTill, session.TillID, session.ID)
	put(t, t.st.openByUser, userKey, session.ID)
	return nil
}

func (t *memTx) GetTillSession(_ context.Context, sessionID string) (*domain.TillSession, error) {
	session, ok := t.st.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

func (t *memTx) FindOpenSessionByTill(_ context.Context, tillID string) (*domain.TillSession, error) {
	id, ok := t.st.openByTill[tillID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(t.st.sessions[id]), nil
}

func (t *memTx) FindOpenSessionByUser(_ context.Context, userID string, storeID string) (*domain.TillSession, error) {
	if storeID != "" {
		id, ok := t.st.openByUser[sessionUserKey(userID, storeID)]
		if !ok {
			return nil, store.ErrNotFound
		}
		return cloneSession(t.st.sessions[id]), nil
	}

	var latest *domain.TillSession
	for _, id := range t.st.openByUser {
		session := t.st.sessions[id]
		if session.UserID != userID {
			continue
		}
		if latest == nil || session.OpenedAt.After(latest.OpenedAt) {
			latest = cloneSession(session)
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) CloseTillSession(_ context.Context, session domain.TillSession) error {
	current, ok := t.st.sessions[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != domain.SessionStatusOpen {
		return store.ErrInvalidTillSession
	}

	current.Status = domain.SessionStatusClosed
	current.ClosedAt = session.ClosedAt
	current.ClosingCashCents = session.ClosingCashCents
	current.ExpectedCashCents = session.ExpectedCashCents
	current.VarianceCents = session.VarianceCents
	put(t, t.st.sessions, current.ID, current)
	remove(t, t.st.openByTill, current.TillID)
	remove(t, t.st.openByUser, sessionUserKey(current.UserID, current.StoreID))
	return nil
}

func (t *memTx) CreateCashTransaction(_ context.Context, txn domain.CashTransaction) error {
	if txn.ID == "" || txn.TillSessionID == "" {
		return store.ErrInvalidTransaction
	}
	push(t, &t.st.cashTxns, txn)
	return nil
}

func (t *memTx) ListCashTransactions(_ context.Context, sessionID string) ([]domain.CashTransaction, error) {
	txns := make([]domain.CashTransaction, 0, 8)
	for _, txn := range t.st.cashTxns {
		if txn.TillSessionID == sessionID {
			txns = append(txns, txn)
		}
	}
	return txns, nil
}

func (t *memTx) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	push(t, &t.st.auditLogs, entry)
	return nil
}

func stockKey(storeID string, productID string) string {
	return storeID + "|" + productID
}

func sessionUserKey(userID string, storeID string) string {
	return userID + "|" + storeID
}

func cloneSale(src domain.Sale) domain.Sale {
	out := src
	out.Items = slices.Clone(src.Items)
	out.Payments = slices.Clone(src.Payments)
	return out
}

func cloneSession(src domain.TillSession) *domain.TillSession {
	out := src
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		out.ClosedAt = &at
	}
	return &out
}
