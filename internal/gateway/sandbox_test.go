package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_CreateIsIdempotentPerKey(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	first, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 7910, Currency: "bob", IdempotencyKey: "pi-order-1-100"})
	require.NoError(t, err)
	second, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 7910, Currency: "bob", IdempotencyKey: "pi-order-1-100"})
	require.NoError(t, err)
	third, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 7910, Currency: "bob", IdempotencyKey: "pi-order-1-101"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, StatusAwaitingMethod, first.Status)
	assert.NotEmpty(t, first.ClientSecret)
}

func TestSandbox_ConfirmOutcomes(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	tests := []struct {
		name       string
		method     string
		wantStatus string
		wantCode   string
	}{
		{name: "visa succeeds", method: TestMethodVisa, wantStatus: StatusSucceeded},
		{name: "authentication required", method: TestMethodAuthenticate, wantStatus: StatusAwaitingAction},
		{name: "declined", method: TestMethodDeclined, wantCode: "card_declined"},
		{name: "unknown method", method: "pm_nope", wantCode: "resource_missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 100, Currency: "usd"})
			require.NoError(t, err)

			confirmed, err := gw.ConfirmIntent(ctx, intent.ID, tt.method)
			if tt.wantCode != "" {
				var gwErr *Error
				require.True(t, errors.As(err, &gwErr))
				assert.Equal(t, tt.wantCode, gwErr.Code)
				assert.False(t, gwErr.Transient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, confirmed.Status)
		})
	}
}

func TestSandbox_CancelAndUnknown(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 100, Currency: "usd"})
	require.NoError(t, err)

	canceled, err := gw.CancelIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	_, err = gw.CancelIntent(ctx, intent.ID)
	assert.Error(t, err)

	_, err = gw.RetrieveIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestSandbox_FailNext(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	gw.FailNext("create", &Error{Op: "create", Message: "connection reset", Transient: true})

	_, err := gw.CreateIntent(ctx, CreateIntentParams{Amount: 100, Currency: "usd"})
	assert.True(t, IsTransient(err))

	_, err = gw.CreateIntent(ctx, CreateIntentParams{Amount: 100, Currency: "usd"})
	assert.NoError(t, err)
	assert.Equal(t, 2, gw.Calls("create"))
}

func TestReusable(t *testing.T) {
	assert.True(t, Reusable(StatusAwaitingMethod))
	assert.True(t, Reusable(StatusAwaitingConfirmation))
	assert.True(t, Reusable(StatusAwaitingAction))
	assert.False(t, Reusable(StatusRequiresCapture))
	assert.False(t, Reusable(StatusProcessing))
	assert.False(t, Reusable(StatusSucceeded))
}
