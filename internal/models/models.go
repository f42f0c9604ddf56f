package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is a priced listing owned by the catalog. Never mutated here.
type CatalogItem struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Currency  string          `db:"currency" json:"currency"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SerializedUnit is one physical, individually tracked instance of a catalog item
type SerializedUnit struct {
	ID            int64      `db:"id" json:"id"`
	CatalogItemID int64      `db:"catalog_item_id" json:"catalog_item_id"`
	SerialNumber  string     `db:"serial_number" json:"serial_number"`
	Status        string     `db:"status" json:"status"`
	IngressAt     time.Time  `db:"ingress_at" json:"ingress_at"`
	SoldAt        *time.Time `db:"sold_at" json:"sold_at,omitempty"`
	OrderID       *int64     `db:"order_id" json:"order_id,omitempty"`
}

// Customer is resolved through the customer directory
type Customer struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Active bool   `db:"active" json:"active"`
}

// Cart is the per-user basket
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is a (cart, catalog item) pair with a quantity of at least one
type CartLine struct {
	ID            int64     `db:"id" json:"id"`
	CartID        int64     `db:"cart_id" json:"cart_id"`
	CatalogItemID int64     `db:"catalog_item_id" json:"catalog_item_id"`
	Quantity      int       `db:"quantity" json:"quantity"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Order is the immutable-once-created snapshot of a purchase
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
	ShippingCost    decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	DeliveryAddress string          `db:"delivery_address" json:"delivery_address"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Lines           []OrderLine     `db:"-" json:"lines,omitempty"`
}

// OrderLine carries the unit price copied at order creation
type OrderLine struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	CatalogItemID int64           `db:"catalog_item_id" json:"catalog_item_id"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total         decimal.Decimal `db:"total" json:"total"`
}

// Payment is one attempt to collect funds for an order
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        string          `db:"status" json:"status"`
	Provider      string          `db:"provider" json:"provider"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Serialized unit statuses
const (
	UnitStatusAvailable = "available"
	UnitStatusReserved  = "reserved"
	UnitStatusSold      = "sold"
	UnitStatusInRepair  = "in_repair"
	UnitStatusRetired   = "retired"
)

// ProviderGateway is the provider name stored on payments created through the gateway
const ProviderGateway = "gateway"

// Supported payment currencies
const (
	CurrencyBOB = "BOB"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// IsSupportedCurrency reports whether code is one of the accepted payment currencies
func IsSupportedCurrency(code string) bool {
	switch code {
	case CurrencyBOB, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
