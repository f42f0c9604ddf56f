package service

import (
	"errors"
	"fmt"

	"checkout-service/internal/gateway"
)

// Kind classifies a service error for the transport layer
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindGateway        Kind = "gateway"
	KindTransient      Kind = "transient"
	KindInternal       Kind = "internal"
	KindNotImplemented Kind = "not_implemented"
)

// Error is returned by every service operation that fails for a reason the
// caller can act on. Reason is safe to show to clients.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Reason == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrEmptyCart           = &Error{Kind: KindValidation, Reason: "cart is empty, nothing to checkout"}
	ErrInvalidCustomer     = &Error{Kind: KindValidation, Reason: "customer does not exist or is inactive"}
	ErrInvalidQuantity     = &Error{Kind: KindValidation, Reason: "quantity must be at least 1"}
	ErrInvalidAmount       = &Error{Kind: KindValidation, Reason: "payment amount must be greater than zero"}
	ErrUnsupportedCurrency = &Error{Kind: KindValidation, Reason: "unsupported currency"}
	ErrMissingMethod       = &Error{Kind: KindValidation, Reason: "payment_method or card_number is required"}
	ErrUnknownTestCard     = &Error{Kind: KindValidation, Reason: "unknown test card number"}
	ErrCatalogItemNotFound = &Error{Kind: KindNotFound, Reason: "catalog item not found"}
	ErrCartLineNotFound    = &Error{Kind: KindNotFound, Reason: "cart line not found"}
	ErrOrderNotFound       = &Error{Kind: KindNotFound, Reason: "order not found"}
	ErrPaymentNotFound     = &Error{Kind: KindNotFound, Reason: "no payment matches this payment intent"}
	ErrOrderCancelled      = &Error{Kind: KindConflict, Reason: "order is cancelled"}
	ErrOrderCompleted      = &Error{Kind: KindConflict, Reason: "order is already completed"}
	ErrIntentInProgress    = &Error{Kind: KindConflict, Reason: "payment intent creation already in progress for this order"}
	ErrRefundNotSupported  = &Error{Kind: KindNotImplemented, Reason: "refunds are not supported"}
)

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// ReasonOf returns the client-facing reason for err
func ReasonOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Kind != KindInternal {
		return svcErr.Reason
	}
	return "internal error"
}

func validationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func internalError(reason string, err error) error {
	return &Error{Kind: KindInternal, Reason: reason, Err: err}
}

// gatewayFailure maps a gateway error into the service taxonomy. Card
// declines and similar rejections keep the provider's message.
func gatewayFailure(err error) error {
	var gwErr *gateway.Error
	switch {
	case gateway.IsTransient(err):
		return &Error{Kind: KindTransient, Reason: "payment gateway unavailable, retry later", Err: err}
	case errors.Is(err, gateway.ErrIntentNotFound):
		return &Error{Kind: KindGateway, Reason: "payment intent not found at gateway", Err: err}
	case errors.As(err, &gwErr):
		return &Error{Kind: KindGateway, Reason: gwErr.Message, Err: err}
	default:
		return internalError("payment gateway call failed", err)
	}
}
