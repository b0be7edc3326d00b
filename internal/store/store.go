package store

import (
	"context"
	"errors"

	"retailcraft/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTillSession     = errors.New("invalid till session")
	ErrStoreMismatch          = errors.New("till session belongs to another store")
	ErrInsufficientPoints     = errors.New("insufficient loyalty points")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrTillAlreadyOpen        = errors.New("till already has an open session")
	ErrUserAlreadySessionOpen = errors.New("user already has an open session in this store")
)

// Repository runs units of work. Everything done through the Tx passed to fn
// commits together, or not at all when fn returns an error.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	Catalog
	Inventory
	Loyalty
	Sales
	Tills
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// Catalog holds the tenant reference data the engine reads. The Save methods exist
// for seeding; catalog maintenance lives outside this service.
type Catalog interface {
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	ListActiveTaxes(ctx context.Context, tenantID string) ([]domain.Tax, error)
	GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error)
	GetDiscount(ctx context.Context, tenantID string, discountID string) (*domain.Discount, error)

	SaveProduct(ctx context.Context, product domain.Product) error
	SaveTax(ctx context.Context, tax domain.Tax) error
	SaveTenantSettings(ctx context.Context, settings domain.TenantSettings) error
	SaveDiscount(ctx context.Context, discount domain.Discount) error
}

type Inventory interface {
	// GetStock returns 0 when the store has no row for the product.
	GetStock(ctx context.Context, storeID string, productID string) (int, error)
	// DecrementStock subtracts qty only if at least qty is on hand and reports whether it did.
	DecrementStock(ctx context.Context, storeID string, productID string, qty int) (bool, error)
	// AdjustStock adds a signed delta, creating the row when missing, and returns the new quantity.
	AdjustStock(ctx context.Context, storeID string, productID string, delta int) (int, error)
	SetStock(ctx context.Context, storeID string, productID string, qty int) error
	AppendInventoryEvent(ctx context.Context, event domain.InventoryEvent) error
	ListInventoryEvents(ctx context.Context, storeID string, productID string, limit int) ([]domain.InventoryEvent, error)
}

type Loyalty interface {
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error)
	SaveCustomer(ctx context.Context, customer domain.Customer) error
	// DebitLoyaltyPoints fails with ErrInsufficientPoints instead of going negative.
	DebitLoyaltyPoints(ctx context.Context, tenantID string, customerID string, points int64) error
	CreditLoyaltyPoints(ctx context.Context, tenantID string, customerID string, points int64) error
}

type Sales interface {
	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	SessionSalesSummary(ctx context.Context, sessionID string) (domain.SessionSalesSummary, error)
}

type Tills interface {
	CreateTill(ctx context.Context, till domain.Till) error
	GetTill(ctx context.Context, tillID string) (*domain.Till, error)
	SetTillStatus(ctx context.Context, tillID string, status string) error

	// CreateTillSession reports ErrTillAlreadyOpen or ErrUserAlreadySessionOpen when
	// the new OPEN session collides with an existing one.
	CreateTillSession(ctx context.Context, session domain.TillSession) error
	GetTillSession(ctx context.Context, sessionID string) (*domain.TillSession, error)
	FindOpenSessionByTill(ctx context.Context, tillID string) (*domain.TillSession, error)
	// FindOpenSessionByUser searches every store when storeID is empty.
	FindOpenSessionByUser(ctx context.Context, userID string, storeID string) (*domain.TillSession, error)
	// CloseTillSession persists the closing figures of a session that is still OPEN,
	// or fails with ErrInvalidTillSession.
	CloseTillSession(ctx context.Context, session domain.TillSession) error

	CreateCashTransaction(ctx context.Context, txn domain.CashTransaction) error
	ListCashTransactions(ctx context.Context, sessionID string) ([]domain.CashTransaction, error)
}
