package domain

type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

// ManualDiscount is an ad-hoc discount keyed in at the till. It always applies to every line.
type ManualDiscount struct {
	Type        string  `json:"type"`
	Percent     float64 `json:"percent,omitempty"`
	AmountCents int64   `json:"amount_cents,omitempty"`
}

type ProcessSaleRequest struct {
	TenantID       string            `json:"-"`
	StoreID        string            `json:"-"`
	UserID         string            `json:"-"`
	Items          []SaleLineRequest `json:"items"`
	Payments       []PaymentRequest  `json:"payments,omitempty"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	DiscountID     string            `json:"discount_id,omitempty"`
	ManualDiscount *ManualDiscount   `json:"manual_discount,omitempty"`
	TillSessionID  string            `json:"till_session_id,omitempty"`
	RedeemPoints   int64             `json:"redeem_points,omitempty"`
}

// UpdateTenantRatesRequest upserts taxes by id. A nil loyalty rate keeps the stored value.
type UpdateTenantRatesRequest struct {
	TenantID          string   `json:"-"`
	Taxes             []Tax    `json:"taxes,omitempty"`
	LoyaltyEarnRate   *float64 `json:"loyalty_earn_rate,omitempty"`
	LoyaltyRedeemRate *float64 `json:"loyalty_redeem_rate,omitempty"`
}

type CreateTillRequest struct {
	TenantID string `json:"-"`
	StoreID  string `json:"store_id"`
	Name     string `json:"name"`
}

type OpenTillSessionRequest struct {
	TenantID          string `json:"-"`
	TillID            string `json:"till_id"`
	UserID            string `json:"-"`
	OpeningFloatCents int64  `json:"opening_float_cents"`
}

type CloseTillSessionRequest struct {
	TenantID         string `json:"-"`
	SessionID        string `json:"-"`
	ClosingCashCents int64  `json:"closing_cash_cents"`
}

type CashTransactionRequest struct {
	TenantID      string `json:"-"`
	TillSessionID string `json:"-"`
	UserID        string `json:"-"`
	Type          string `json:"type"`
	AmountCents   int64  `json:"amount_cents"`
	Reason        string `json:"reason"`
}

type InventoryAdjustmentRequest struct {
	TenantID   string `json:"-"`
	StoreID    string `json:"store_id"`
	ProductID  string `json:"product_id"`
	UserID     string `json:"-"`
	Type       string `json:"type"`
	QtyDelta   int    `json:"qty_delta"`
	Reason     string `json:"reason"`
	SupplierID string `json:"supplier_id,omitempty"`
}
