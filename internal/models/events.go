package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderCompleted       = "ORDER_COMPLETED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypePaymentIntentCreated = "PAYMENT_INTENT_CREATED"
	EventTypePaymentCompleted     = "PAYMENT_COMPLETED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypeInventoryAllocated   = "INVENTORY_ALLOCATED"
	EventTypeInventoryShortfall   = "INVENTORY_SHORTFALL"
	EventTypeAuditRecorded        = "AUDIT_RECORDED"
)

// Gateway webhook event types consumed by the gateway event worker
const (
	GatewayEventIntentSucceeded = "payment_intent.succeeded"
	GatewayEventIntentCanceled  = "payment_intent.canceled"
	GatewayEventIntentUpdated   = "payment_intent.updated"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after checkout commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	UserID     int64           `json:"user_id"`
	Total      decimal.Decimal `json:"total"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusEvent published when an order reaches completed or cancelled
type OrderStatusEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// PaymentEvent published for intent creation and terminal payment transitions
type PaymentEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	PaymentID     int64           `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
}

// InventoryEvent published after allocation; Shortfalls is empty for a full allocation
type InventoryEvent struct {
	BaseEvent
	OrderID    int64            `json:"order_id"`
	UnitIDs    []int64          `json:"unit_ids"`
	Shortfalls []ShortfallEntry `json:"shortfalls,omitempty"`
}

// ShortfallEntry reports units that could not be allocated for one order line
type ShortfallEntry struct {
	OrderLineID   int64 `json:"order_line_id"`
	CatalogItemID int64 `json:"catalog_item_id"`
	Requested     int   `json:"requested"`
	Allocated     int   `json:"allocated"`
}

// AuditEvent is the wire shape of an audit log entry
type AuditEvent struct {
	BaseEvent
	UserID      int64  `json:"user_id,omitempty"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Module      string `json:"module"`
}

// GatewayEvent is a webhook delivery from the payment gateway
type GatewayEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	IntentID  string `json:"intent_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	CatalogItemID int64           `json:"catalog_item_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}
