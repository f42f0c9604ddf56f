package store

import (
	"context"

	"checkout-service/internal/models"
)

// GetCustomer retrieves a customer by ID
func (q queries) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	if err := q.get(ctx, &customer, "SELECT * FROM customers WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetCatalogItem retrieves a catalog item by ID
func (q queries) GetCatalogItem(ctx context.Context, id int64) (*models.CatalogItem, error) {
	var item models.CatalogItem
	if err := q.get(ctx, &item, "SELECT * FROM catalog_items WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetCartByUser retrieves the cart owned by userID
func (q queries) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	if err := q.get(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateCart creates an empty cart, returning ErrDuplicate if the user already has one
func (q queries) CreateCart(ctx context.Context, cart *models.Cart) error {
	return q.get(ctx, cart,
		`INSERT INTO carts (user_id) VALUES ($1) RETURNING id, user_id, created_at, updated_at`,
		cart.UserID)
}

// TouchCart bumps the cart's updated_at
func (q queries) TouchCart(ctx context.Context, cartID int64) error {
	return expectOne(q.exec(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID))
}

// ListCartLines retrieves the lines of a cart in insertion order
func (q queries) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.selectAll(ctx, &lines, "SELECT * FROM cart_lines WHERE cart_id = $1 ORDER BY id", cartID)
	return lines, err
}

// GetCartLine retrieves a cart line by ID
func (q queries) GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error) {
	var line models.CartLine
	if err := q.get(ctx, &line, "SELECT * FROM cart_lines WHERE id = $1", lineID); err != nil {
		return nil, err
	}
	return &line, nil
}

// GetCartLineByItem retrieves the line for a catalog item in a cart
func (q queries) GetCartLineByItem(ctx context.Context, cartID, catalogItemID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := q.get(ctx, &line,
		"SELECT * FROM cart_lines WHERE cart_id = $1 AND catalog_item_id = $2", cartID, catalogItemID)
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// CreateCartLine inserts a cart line
func (q queries) CreateCartLine(ctx context.Context, line *models.CartLine) error {
	return q.get(ctx, line,
		`INSERT INTO cart_lines (cart_id, catalog_item_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, cart_id, catalog_item_id, quantity, created_at`,
		line.CartID, line.CatalogItemID, line.Quantity)
}

// UpdateCartLineQuantity overwrites the quantity of a cart line
func (q queries) UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	return expectOne(q.exec(ctx, "UPDATE cart_lines SET quantity = $1 WHERE id = $2", quantity, lineID))
}

// IncrementCartLineQuantity adds delta to the quantity of a cart line
func (q queries) IncrementCartLineQuantity(ctx context.Context, lineID int64, delta int) error {
	return expectOne(q.exec(ctx, "UPDATE cart_lines SET quantity = quantity + $1 WHERE id = $2", delta, lineID))
}

// DeleteCartLine removes a cart line
func (q queries) DeleteCartLine(ctx context.Context, lineID int64) error {
	return expectOne(q.exec(ctx, "DELETE FROM cart_lines WHERE id = $1", lineID))
}

// DeleteCartLines empties a cart
func (q queries) DeleteCartLines(ctx context.Context, cartID int64) error {
	_, err := q.exec(ctx, "DELETE FROM cart_lines WHERE cart_id = $1", cartID)
	return err
}
