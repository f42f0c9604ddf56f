package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Test payment methods understood by the sandbox
const (
	TestMethodVisa         = "pm_card_visa"
	TestMethodMastercard   = "pm_card_mastercard"
	TestMethodAmex         = "pm_card_amex"
	TestMethodDeclined     = "pm_card_chargeDeclined"
	TestMethodAuthenticate = "pm_card_authenticationRequired"
)

// Sandbox is an in-process gateway that mimics intent lifecycles for
// development and tests. Intents live only in memory.
type Sandbox struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	idempotency map[string]string
	calls       map[string]int
	failures    map[string]error
}

// NewSandbox creates an empty sandbox gateway
func NewSandbox() *Sandbox {
	return &Sandbox{
		intents:     make(map[string]*Intent),
		idempotency: make(map[string]string),
		calls:       make(map[string]int),
		failures:    make(map[string]error),
	}
}

func (s *Sandbox) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, "create"); err != nil {
		return nil, err
	}
	if params.Amount <= 0 {
		return nil, &Error{Op: "create", Code: "amount_too_small", Message: "amount must be positive"}
	}

	if params.IdempotencyKey != "" {
		if id, ok := s.idempotency[params.IdempotencyKey]; ok {
			return cloneIntent(s.intents[id]), nil
		}
	}

	id := "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.New().String()[:8],
		Status:       StatusAwaitingMethod,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Description:  params.Description,
		Metadata:     copyMetadata(params.Metadata),
	}
	s.intents[id] = intent
	if params.IdempotencyKey != "" {
		s.idempotency[params.IdempotencyKey] = id
	}
	return cloneIntent(intent), nil
}

func (s *Sandbox) ConfirmIntent(ctx context.Context, id, paymentMethod string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, "confirm"); err != nil {
		return nil, err
	}
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status == StatusSucceeded || intent.Status == StatusCanceled {
		return nil, &Error{
			Op:      "confirm",
			Code:    "payment_intent_unexpected_state",
			Message: fmt.Sprintf("intent %s is already %s", id, intent.Status),
		}
	}

	switch paymentMethod {
	case TestMethodVisa, TestMethodMastercard, TestMethodAmex:
		intent.Status = StatusSucceeded
	case TestMethodAuthenticate:
		intent.Status = StatusAwaitingAction
	case TestMethodDeclined:
		intent.Status = StatusAwaitingMethod
		return nil, &Error{Op: "confirm", Code: "card_declined", Message: "Your card was declined."}
	default:
		return nil, &Error{Op: "confirm", Code: "resource_missing", Message: fmt.Sprintf("No such PaymentMethod: '%s'", paymentMethod)}
	}
	return cloneIntent(intent), nil
}

func (s *Sandbox) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, "retrieve"); err != nil {
		return nil, err
	}
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return cloneIntent(intent), nil
}

func (s *Sandbox) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, "cancel"); err != nil {
		return nil, err
	}
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status == StatusSucceeded || intent.Status == StatusCanceled {
		return nil, &Error{
			Op:      "cancel",
			Code:    "payment_intent_unexpected_state",
			Message: fmt.Sprintf("intent %s is already %s", id, intent.Status),
		}
	}
	intent.Status = StatusCanceled
	return cloneIntent(intent), nil
}

// SetStatus forces an intent into status, as an asynchronous gateway transition would.
func (s *Sandbox) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = status
	return nil
}

// Forget drops an intent so later calls report it unknown.
func (s *Sandbox) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, id)
}

// FailNext makes the next call of op ("create", "confirm", "retrieve", "cancel") return err.
func (s *Sandbox) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Calls returns how many times op was invoked
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter must be called with s.mu held
func (s *Sandbox) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Message: err.Error(), Transient: true, Err: err}
	}
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func cloneIntent(in *Intent) *Intent {
	out := *in
	out.Metadata = copyMetadata(in.Metadata)
	return &out
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
