package service

import (
	"context"
	"sync"
	"testing"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, 2)

	order, err := f.orders.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 2, order.Lines[0].Quantity)

	_, err = f.orders.GetOrder(ctx, placed.ID+100)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.orders.ListOrderPayments(ctx, placed.ID+100)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrderPayments_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, 1)

	first, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)
	require.NoError(t, f.gw.SetStatus(first.TransactionID, gateway.StatusCanceled))
	_, err = f.payments.Verify(ctx, first.TransactionID)
	require.NoError(t, err)

	second, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)

	payments, err := f.orders.ListOrderPayments(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, second.TransactionID, payments[1].TransactionID)
}

func TestCancelOrder_CancelsOpenIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, 1)

	res, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)

	cancelled, err := f.orders.CancelOrder(ctx, order.ID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	intent, err := f.gw.RetrieveIntent(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCanceled, intent.Status)

	payments := f.paymentsOf(t, order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, 1, f.pub.count(models.EventTypeOrderCancelled))

	again, err := f.orders.CancelOrder(ctx, order.ID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, again.Status)
	assert.Equal(t, 1, f.pub.count(models.EventTypeOrderCancelled))
}

func TestCancelOrder_CapturedIntentCompletesInstead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUnits(1)
	order := f.placeOrder(t, 1)

	res, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)
	require.NoError(t, f.gw.SetStatus(res.TransactionID, gateway.StatusSucceeded))

	_, err = f.orders.CancelOrder(ctx, order.ID, testUserID)
	assert.ErrorIs(t, err, ErrOrderCompleted)
	assert.Equal(t, models.OrderStatusCompleted, f.orderStatus(t, order.ID))
	assert.Len(t, f.soldUnits(order.ID), 1)

	_, err = f.orders.CancelOrder(ctx, order.ID, testUserID)
	assert.ErrorIs(t, err, ErrOrderCompleted)
}

func TestCancelOrder_TransientGatewayErrorChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, 1)

	_, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)

	f.gw.FailNext("cancel", transientErr("cancel"))
	_, err = f.orders.CancelOrder(ctx, order.ID, testUserID)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, models.OrderStatusPending, f.orderStatus(t, order.ID))
	assert.Equal(t, models.PaymentStatusPending, f.paymentsOf(t, order.ID)[0].Status)
}

func TestCancelledOrderIgnoresLateCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUnits(1)
	order := f.placeOrder(t, 1)

	res, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, order.ID, testUserID)
	require.NoError(t, err)

	// the gateway reports a capture after the order was cancelled
	require.NoError(t, f.gw.SetStatus(res.TransactionID, gateway.StatusSucceeded))
	vr, err := f.payments.Verify(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, vr.OrderStatus)
	assert.Nil(t, vr.Allocation)
	assert.Empty(t, f.soldUnits(order.ID))
}

// cancelHookGateway runs onCancel once, right after the first intent cancel
type cancelHookGateway struct {
	gateway.Gateway
	once     sync.Once
	onCancel func()
}

func (g *cancelHookGateway) CancelIntent(ctx context.Context, id string) (*gateway.Intent, error) {
	intent, err := g.Gateway.CancelIntent(ctx, id)
	g.once.Do(g.onCancel)
	return intent, err
}

func TestCancelOrder_BlocksIntentCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, 1)

	first, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)

	var createErr error
	f.payments.gateway = &cancelHookGateway{Gateway: f.gw, onCancel: func() {
		_, createErr = f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	}}

	_, err = f.orders.CancelOrder(ctx, order.ID, testUserID)
	require.NoError(t, err)
	assert.ErrorIs(t, createErr, ErrIntentInProgress)
	assert.Equal(t, 1, f.gw.Calls("create"))

	payments := f.paymentsOf(t, order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, first.TransactionID, payments[0].TransactionID)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
}

func TestCancelOrder_CancelsIntentCreatedMidCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, 1)

	_, err := f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	require.NoError(t, err)

	// without the lock backend the concurrent create gets through
	f.mr.Close()
	var late *IntentResult
	var createErr error
	f.payments.gateway = &cancelHookGateway{Gateway: f.gw, onCancel: func() {
		late, createErr = f.payments.CreateOrReuseIntent(ctx, &CreateIntentRequest{OrderID: order.ID})
	}}

	cancelled, err := f.orders.CancelOrder(ctx, order.ID, testUserID)
	require.NoError(t, err)
	require.NoError(t, createErr)
	require.Equal(t, OutcomeCreated, late.Outcome)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	intent, err := f.gw.RetrieveIntent(ctx, late.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCanceled, intent.Status)

	for _, p := range f.paymentsOf(t, order.ID) {
		assert.Equal(t, models.PaymentStatusFailed, p.Status, p.TransactionID)
	}
}
