package domain

import "time"

const (
	PaymentMethodCash         = "CASH"
	PaymentMethodCard         = "CARD"
	PaymentMethodBankTransfer = "BANK_TRANSFER"
	PaymentMethodSplit        = "SPLIT"
)

const (
	SaleStatusCompleted = "COMPLETED"
	SaleStatusRefunded  = "REFUNDED"
	SaleStatusVoided    = "VOIDED"
)

const (
	DiscountTypePercentage = "PERCENTAGE"
	DiscountTypeFixed      = "FIXED"

	DiscountTargetAll      = "ALL"
	DiscountTargetProduct  = "PRODUCT"
	DiscountTargetCategory = "CATEGORY"
)

const (
	InventoryEventSale    = "SALE"
	InventoryEventReceive = "RECEIVE"
	InventoryEventAdjust  = "ADJUST"
	InventoryEventReturn  = "RETURN"
)

const (
	TillStatusOpen   = "OPEN"
	TillStatusClosed = "CLOSED"

	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"

	CashIn  = "CASH_IN"
	CashOut = "CASH_OUT"
)

type Product struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	Name       string `json:"name" db:"name"`
	Category   string `json:"category" db:"category"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	CostCents  int64  `json:"cost_cents" db:"cost_cents"`
	Active     bool   `json:"active" db:"active"`
}

type Tax struct {
	ID       string  `json:"id" db:"id"`
	TenantID string  `json:"tenant_id" db:"tenant_id"`
	Name     string  `json:"name" db:"name"`
	Rate     float64 `json:"rate" db:"rate"`
	Active   bool    `json:"active" db:"active"`
}

type TenantSettings struct {
	TenantID          string  `json:"tenant_id" db:"tenant_id"`
	LoyaltyEarnRate   float64 `json:"loyalty_earn_rate" db:"loyalty_earn_rate"`
	LoyaltyRedeemRate float64 `json:"loyalty_redeem_rate" db:"loyalty_redeem_rate"`
}

// TenantRates is the resolved tax and loyalty configuration used while pricing a sale.
type TenantRates struct {
	TenantID     string  `json:"tenant_id"`
	TotalTaxRate float64 `json:"total_tax_rate"`
	Taxes        []Tax   `json:"taxes"`
	EarnRate     float64 `json:"earn_rate"`
	RedeemRate   float64 `json:"redeem_rate"`
}

type Customer struct {
	ID              string `json:"id" db:"id"`
	TenantID        string `json:"tenant_id" db:"tenant_id"`
	Name            string `json:"name" db:"name"`
	LoyaltyPoints   int64  `json:"loyalty_points" db:"loyalty_points"`
	IsLoyaltyMember bool   `json:"is_loyalty_member" db:"is_loyalty_member"`
}

// Discount is a tenant rule. Percent is used by PERCENTAGE rules and AmountCents by FIXED rules.
type Discount struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Percent      float64    `json:"percent,omitempty"`
	AmountCents  int64      `json:"amount_cents,omitempty"`
	TargetType   string     `json:"target_type"`
	TargetValues []string   `json:"target_values,omitempty"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	Active       bool       `json:"active"`
}

type DiscountDescriptor struct {
	Type         string   `json:"type"`
	Percent      float64  `json:"percent,omitempty"`
	AmountCents  int64    `json:"amount_cents,omitempty"`
	TargetType   string   `json:"target_type"`
	TargetValues []string `json:"target_values,omitempty"`
}

type Sale struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	StoreID             string     `json:"store_id"`
	UserID              string     `json:"user_id"`
	CustomerID          string     `json:"customer_id,omitempty"`
	TillSessionID       string     `json:"till_session_id,omitempty"`
	DiscountID          string     `json:"discount_id,omitempty"`
	SubtotalCents       int64      `json:"subtotal_cents"`
	DiscountCents       int64      `json:"discount_cents"`
	TaxCents            int64      `json:"tax_cents"`
	TotalCents          int64      `json:"total_cents"`
	PaidCents           int64      `json:"paid_cents"`
	ChangeCents         int64      `json:"change_cents"`
	PaymentMethod       string     `json:"payment_method"`
	Status              string     `json:"status"`
	LoyaltyPointsUsed   int64      `json:"loyalty_points_used"`
	LoyaltyPointsEarned int64      `json:"loyalty_points_earned"`
	CreatedAt           time.Time  `json:"created_at"`
	Items               []SaleItem `json:"items"`
	Payments            []Payment  `json:"payments"`
}

type SaleItem struct {
	ID               string `json:"id" db:"id"`
	SaleID           string `json:"sale_id" db:"sale_id"`
	ProductID        string `json:"product_id" db:"product_id"`
	ProductName      string `json:"product_name" db:"product_name"`
	Qty              int    `json:"qty" db:"qty"`
	PriceAtSaleCents int64  `json:"price_at_sale_cents" db:"price_at_sale_cents"`
	CostAtSaleCents  int64  `json:"cost_at_sale_cents" db:"cost_at_sale_cents"`
	LineTotalCents   int64  `json:"line_total_cents" db:"line_total_cents"`
}

type Payment struct {
	ID          string `json:"id" db:"id"`
	SaleID      string `json:"sale_id" db:"sale_id"`
	Method      string `json:"method" db:"method"`
	AmountCents int64  `json:"amount_cents" db:"amount_cents"`
	Reference   string `json:"reference,omitempty" db:"reference"`
}

type InventoryLevel struct {
	StoreID   string    `json:"store_id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryEvent is an append-only record of a stock mutation.
type InventoryEvent struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ProductID  string    `json:"product_id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	QtyDelta   int       `json:"qty_delta"`
	Reason     string    `json:"reason"`
	SupplierID string    `json:"supplier_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Till struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	StoreID  string `json:"store_id" db:"store_id"`
	Name     string `json:"name" db:"name"`
	Status   string `json:"status" db:"status"`
}

type TillSession struct {
	ID                string     `json:"id"`
	TillID            string     `json:"till_id"`
	StoreID           string     `json:"store_id"`
	UserID            string     `json:"user_id"`
	OpeningFloatCents int64      `json:"opening_float_cents"`
	Status            string     `json:"status"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	ClosingCashCents  int64      `json:"closing_cash_cents"`
	ExpectedCashCents int64      `json:"expected_cash_cents"`
	VarianceCents     int64      `json:"variance_cents"`
}

type CashTransaction struct {
	ID            string    `json:"id" db:"id"`
	TillSessionID string    `json:"till_session_id" db:"till_session_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Type          string    `json:"type" db:"type"`
	AmountCents   int64     `json:"amount_cents" db:"amount_cents"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// SessionSalesSummary aggregates the completed sales attached to one till session.
type SessionSalesSummary struct {
	SaleCount        int              `json:"sale_count"`
	SalesTotalCents  int64            `json:"sales_total_cents"`
	ChangeGivenCents int64            `json:"change_given_cents"` // capped per sale at its cash tender
	PaymentsByMethod map[string]int64 `json:"payments_by_method"`
}

// CashSalesCents is the net cash that sales left in the drawer.
func (s SessionSalesSummary) CashSalesCents() int64 {
	return s.PaymentsByMethod[PaymentMethodCash] - s.ChangeGivenCents
}

type TillSessionReport struct {
	Session           TillSession       `json:"session"`
	TillName          string            `json:"till_name"`
	SaleCount         int               `json:"sale_count"`
	SalesTotalCents   int64             `json:"sales_total_cents"`
	PaymentsByMethod  map[string]int64  `json:"payments_by_method"`
	CashSalesCents    int64             `json:"cash_sales_cents"`
	CashInCents       int64             `json:"cash_in_cents"`
	CashOutCents      int64             `json:"cash_out_cents"`
	ExpectedCashCents int64             `json:"expected_cash_cents"`
	CountedCashCents  *int64            `json:"counted_cash_cents,omitempty"`
	VarianceCents     *int64            `json:"variance_cents,omitempty"`
	CashTransactions  []CashTransaction `json:"cash_transactions"`
}

type AuditLog struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	StoreID    string    `json:"store_id" db:"store_id"`
	ActorID    string    `json:"actor_id" db:"actor_id"`
	ActorRole  string    `json:"actor_role" db:"actor_role"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Actor is the identity resolved by the transport before calling the service.
type Actor struct {
	UserID   string
	TenantID string
	StoreID  string
	Role     string
}
