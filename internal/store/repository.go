package store

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// Queries is the data access surface shared by the connection pool and by an
// open transaction.
type Queries interface {
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	GetCatalogItem(ctx context.Context, id int64) (*models.CatalogItem, error)

	GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	TouchCart(ctx context.Context, cartID int64) error
	ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error)
	GetCartLineByItem(ctx context.Context, cartID, catalogItemID int64) (*models.CartLine, error)
	CreateCartLine(ctx context.Context, line *models.CartLine) error
	UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error
	// IncrementCartLineQuantity adds delta to a line's quantity atomically
	IncrementCartLineQuantity(ctx context.Context, lineID int64, delta int) error
	DeleteCartLine(ctx context.Context, lineID int64) error
	DeleteCartLines(ctx context.Context, cartID int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// GetOrderForUpdate reads the order and, inside a transaction, holds its
	// row lock until commit.
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	// ListPaymentsByOrder returns payments oldest first
	ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error)
	ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status string) error
	DeletePayment(ctx context.Context, id int64) error

	// ListAvailableUnits returns up to limit available units of an item,
	// oldest ingress first, skipping rows locked by other transactions.
	ListAvailableUnits(ctx context.Context, catalogItemID int64, limit int) ([]models.SerializedUnit, error)
	// MarkUnitSold flips one available unit to sold. It reports false when the
	// unit was no longer available.
	MarkUnitSold(ctx context.Context, unitID, orderID int64, soldAt time.Time) (bool, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository adds transactions and health checks to Queries
type Repository interface {
	Queries
	// InTx runs fn in one transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
