package domain

import "time"

const (
	EventTypeSaleCompleted           = "SALE_COMPLETED"
	EventTypeTillSessionOpened       = "TILL_SESSION_OPENED"
	EventTypeTillSessionClosed       = "TILL_SESSION_CLOSED"
	EventTypeCashTransactionRecorded = "CASH_TRANSACTION_RECORDED"
	EventTypeInventoryAdjusted       = "INVENTORY_ADJUSTED"
)

type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

type SaleCompletedEvent struct {
	BaseEvent
	SaleID        string          `json:"sale_id"`
	TenantID      string          `json:"tenant_id"`
	StoreID       string          `json:"store_id"`
	UserID        string          `json:"user_id"`
	TillSessionID string          `json:"till_session_id,omitempty"`
	TotalCents    int64           `json:"total_cents"`
	PaymentMethod string          `json:"payment_method"`
	Items         []SaleEventItem `json:"items"`
}

type SaleEventItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type TillSessionOpenedEvent struct {
	BaseEvent
	SessionID         string `json:"session_id"`
	TillID            string `json:"till_id"`
	StoreID           string `json:"store_id"`
	UserID            string `json:"user_id"`
	OpeningFloatCents int64  `json:"opening_float_cents"`
}

type TillSessionClosedEvent struct {
	BaseEvent
	SessionID         string `json:"session_id"`
	TillID            string `json:"till_id"`
	StoreID           string `json:"store_id"`
	ExpectedCashCents int64  `json:"expected_cash_cents"`
	ClosingCashCents  int64  `json:"closing_cash_cents"`
	VarianceCents     int64  `json:"variance_cents"`
}

type CashTransactionRecordedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	SessionID     string `json:"session_id"`
	Type          string `json:"type"`
	AmountCents   int64  `json:"amount_cents"`
}

type InventoryAdjustedEvent struct {
	BaseEvent
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
	QtyDelta  int    `json:"qty_delta"`
	QtyAfter  int    `json:"qty_after"`
}
