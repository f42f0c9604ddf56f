package store

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// CreateOrder creates a new order
func (q queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, subtotal, tax, discount, shipping_cost, total, status, delivery_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	row := q.ext.QueryRowxContext(ctx, query,
		order.CustomerID, order.Subtotal, order.Tax, order.Discount, order.ShippingCost,
		order.Total, order.Status, order.DeliveryAddress)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// CreateOrderLine creates a new order line
func (q queries) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, catalog_item_id, quantity, unit_price, discount, subtotal, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return q.get(ctx, &line.ID, query,
		line.OrderID, line.CatalogItemID, line.Quantity, line.UnitPrice, line.Discount, line.Subtotal, line.Total)
}

// GetOrder retrieves an order by ID
func (q queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := q.get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order and locks its row
func (q queries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := q.get(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrderLines retrieves all lines for an order
func (q queries) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	err := q.selectAll(ctx, &lines, "SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// UpdateOrderStatus updates order status
func (q queries) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	return expectOne(q.exec(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id))
}

// CreatePayment creates a new payment record
func (q queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, currency, status, provider, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := q.ext.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Amount, payment.Currency, payment.Status, payment.Provider, payment.TransactionID)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (q queries) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := q.get(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByTransactionID retrieves a payment by its gateway handle
func (q queries) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := q.get(ctx, &payment, "SELECT * FROM payments WHERE transaction_id = $1", transactionID)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsByOrder retrieves all payments of an order, oldest first
func (q queries) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := q.selectAll(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return payments, err
}

// ListStalePendingPayments retrieves pending gateway payments created before
// olderThan, skipping orders that already have a completed payment
func (q queries) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := q.selectAll(ctx, &payments,
		`SELECT p.* FROM payments p
		WHERE p.status = $1 AND p.provider = $2 AND p.created_at < $3
		AND NOT EXISTS (
			SELECT 1 FROM payments c WHERE c.order_id = p.order_id AND c.status = $4
		)
		ORDER BY p.created_at, p.id
		LIMIT $5`,
		models.PaymentStatusPending, models.ProviderGateway, olderThan, models.PaymentStatusCompleted, limit)
	return payments, err
}

// UpdatePaymentStatus updates payment status
func (q queries) UpdatePaymentStatus(ctx context.Context, id int64, status string) error {
	return expectOne(q.exec(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id))
}

// DeletePayment removes a payment row whose gateway intent was abandoned
func (q queries) DeletePayment(ctx context.Context, id int64) error {
	return expectOne(q.exec(ctx, "DELETE FROM payments WHERE id = $1", id))
}

// IsEventProcessed checks if an event has been processed
func (q queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := q.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.exec(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
