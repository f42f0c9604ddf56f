package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_CreateIntent(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody createIntentBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: StatusAwaitingMethod, Amount: gotBody.Amount})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_test", time.Second)
	intent, err := client.CreateIntent(context.Background(), CreateIntentParams{
		Amount:         7910,
		Currency:       "bob",
		Metadata:       map[string]string{"order_id": "1"},
		IdempotencyKey: "pi-order-1-100",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi-order-1-100", gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, int64(7910), gotBody.Amount)
	assert.Equal(t, "1", gotBody.Metadata["order_id"])
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantNotFound  bool
		wantTransient bool
		wantCode      string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":{"code":"resource_missing","message":"No such payment_intent"}}`, wantNotFound: true},
		{name: "card declined", status: http.StatusPaymentRequired, body: `{"error":{"code":"card_declined","message":"Your card was declined."}}`, wantCode: "card_declined"},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, wantTransient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"code":"rate_limit","message":"slow down"}}`, wantTransient: true, wantCode: "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL, "", time.Second)
			_, err := client.RetrieveIntent(context.Background(), "pi_1")
			require.Error(t, err)

			if tt.wantNotFound {
				assert.ErrorIs(t, err, ErrIntentNotFound)
				return
			}
			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.wantTransient, gwErr.Transient)
			assert.Equal(t, tt.wantCode, gwErr.Code)
		})
	}
}

func TestHTTPClient_BreakerOpensOnTransientFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second)
	for i := 0; i < 5; i++ {
		_, err := client.RetrieveIntent(context.Background(), "pi_1")
		require.True(t, IsTransient(err))
	}

	_, err := client.RetrieveIntent(context.Background(), "pi_1")
	assert.True(t, IsTransient(err))
	assert.Equal(t, 5, hits, "open breaker must not reach the server")
}

func TestHTTPClient_BusinessErrorsDoNotTripBreaker(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"declined"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second)
	for i := 0; i < 7; i++ {
		_, err := client.ConfirmIntent(context.Background(), "pi_1", "pm_card_visa")
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	}
	assert.Equal(t, 7, hits)
}
