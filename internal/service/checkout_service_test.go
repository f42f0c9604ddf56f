package service

import (
	"context"
	"testing"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_ComputesTotalsFromCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, 2)
	require.NoError(t, err)

	tax := decimal.RequireFromString("999")
	res, err := f.checkout.Checkout(ctx, &CheckoutRequest{
		UserID:          testUserID,
		CustomerID:      f.customerID,
		DeliveryAddress: "Av. Arce 123",
		Tax:             &tax,
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("70.00")))
	assert.True(t, order.Tax.Equal(decimal.RequireFromString("9.10")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("79.10")))
	require.Len(t, order.Lines, 1)
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("35.00")))
	assert.Equal(t, 1, f.pub.count(models.EventTypeOrderCreated))

	cart, err := f.carts.GetCart(ctx, testUserID)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1, "checkout leaves the cart untouched")
}

func TestCheckout_DiscountAndShipping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, 1)
	require.NoError(t, err)

	res, err := f.checkout.Checkout(ctx, &CheckoutRequest{
		UserID:       testUserID,
		CustomerID:   f.customerID,
		Discount:     decimal.RequireFromString("5.00"),
		ShippingCost: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	// 35.00 + 4.55 tax + 10.00 shipping - 5.00 discount
	assert.True(t, res.Order.Total.Equal(decimal.RequireFromString("44.55")))

	_, err = f.checkout.Checkout(ctx, &CheckoutRequest{
		UserID:     testUserID,
		CustomerID: f.customerID,
		Discount:   decimal.RequireFromString("100.00"),
	})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCheckout_UsesCurrentCatalogPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, 1)
	require.NoError(t, err)

	f.repo.AddCatalogItem(models.CatalogItem{
		ID:     f.phoneID,
		SKU:    "PHN-1",
		Name:   "Phone",
		Price:  decimal.RequireFromString("40.00"),
		Active: true,
	})

	res, err := f.checkout.Checkout(ctx, &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID})
	require.NoError(t, err)
	assert.True(t, res.Order.Subtotal.Equal(decimal.RequireFromString("40.00")))
}

func TestCheckout_InvalidatesStaleCachedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, 1)
	require.NoError(t, err)
	cached, err := f.catalog.Get(ctx, f.phoneID)
	require.NoError(t, err)
	require.True(t, cached.Price.Equal(decimal.RequireFromString("35.00")))

	f.repo.AddCatalogItem(models.CatalogItem{
		ID:     f.phoneID,
		SKU:    "PHN-1",
		Name:   "Phone",
		Price:  decimal.RequireFromString("40.00"),
		Active: true,
	})

	_, err = f.checkout.Checkout(ctx, &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID})
	require.NoError(t, err)

	cached, err = f.catalog.Get(ctx, f.phoneID)
	require.NoError(t, err)
	assert.True(t, cached.Price.Equal(decimal.RequireFromString("40.00")))
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inactive := f.repo.AddCustomer(models.Customer{Name: "Old", Active: false})

	_, err := f.checkout.Checkout(ctx, &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddLine(ctx, testUserID, f.phoneID, 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CheckoutRequest
		want error
	}{
		{"missing customer", CheckoutRequest{UserID: testUserID}, ErrInvalidCustomer},
		{"unknown customer", CheckoutRequest{UserID: testUserID, CustomerID: 99999}, ErrInvalidCustomer},
		{"inactive customer", CheckoutRequest{UserID: testUserID, CustomerID: inactive}, ErrInvalidCustomer},
		{"other user's empty cart", CheckoutRequest{UserID: testUserID + 1, CustomerID: f.customerID}, ErrEmptyCart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.checkout.Checkout(ctx, &tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
	assert.Equal(t, 0, f.pub.count(models.EventTypeOrderCreated))
}

func TestCheckout_ReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, 1)
	require.NoError(t, err)

	req := &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID, IdempotencyKey: "key-1"}
	first, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)

	second, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Order.Lines, 1)
	assert.Equal(t, 1, f.pub.count(models.EventTypeOrderCreated))

	third, err := f.checkout.Checkout(ctx, &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID})
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
}
