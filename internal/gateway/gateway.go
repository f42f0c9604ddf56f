// Package gateway models the external payment gateway that owns payment
// intents. The service only ever sees opaque intent handles and their status.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Intent statuses reported by the gateway
const (
	StatusAwaitingMethod       = "requires_payment_method"
	StatusAwaitingConfirmation = "requires_confirmation"
	StatusAwaitingAction       = "requires_action"
	StatusProcessing           = "processing"
	StatusRequiresCapture      = "requires_capture"
	StatusCanceled             = "canceled"
	StatusSucceeded            = "succeeded"
)

// Reusable reports whether an intent in this status can still be completed by the client.
func Reusable(status string) bool {
	switch status {
	case StatusAwaitingMethod, StatusAwaitingConfirmation, StatusAwaitingAction:
		return true
	}
	return false
}

// Intent is the gateway-side handle of one payment attempt
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateIntentParams describes a new intent; Amount is in minor units
type CreateIntentParams struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Gateway is the set of operations the service consumes from the payment provider
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	ConfirmIntent(ctx context.Context, id, paymentMethod string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
}

// ErrIntentNotFound is returned when the gateway does not know the handle
var ErrIntentNotFound = errors.New("payment intent not found at gateway")

// Error is a failure reported by, or while talking to, the gateway.
// Transient errors are network or availability problems and are safe to retry.
type Error struct {
	Op        string
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable gateway communication error
func IsTransient(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Transient
}

// ProviderCurrency maps a payment currency to the gateway's lower-case code
func ProviderCurrency(currency string) string {
	switch currency {
	case "USD":
		return "usd"
	case "EUR":
		return "eur"
	default:
		return "bob"
	}
}
