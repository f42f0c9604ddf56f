package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/audit"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Intent outcomes
const (
	OutcomeCreated     = "created"
	OutcomeReused      = "reused"
	OutcomeAlreadyPaid = "already_paid"
)

// testCards maps gateway test card numbers to their test payment methods
var testCards = map[string]string{
	"4242424242424242": gateway.TestMethodVisa,
	"5555555555554444": gateway.TestMethodMastercard,
	"378282246310005":  gateway.TestMethodAmex,
}

// PaymentConfig holds payment tunables
type PaymentConfig struct {
	DefaultCurrency string
	IntentLockTTL   time.Duration
	// DefaultPaymentMethod confirms requests naming neither a method nor a
	// card. Only set against the sandbox gateway.
	DefaultPaymentMethod string
}

// PaymentService owns the payment-intent lifecycle of orders
type PaymentService struct {
	repo      store.Repository
	gateway   gateway.Gateway
	locker    Locker
	allocator *InventoryAllocator
	publisher EventPublisher
	audit     audit.Recorder
	cfg       PaymentConfig
	now       func() time.Time
	verifies  singleflight.Group
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil.
func NewPaymentService(
	repo store.Repository,
	gw gateway.Gateway,
	locker Locker,
	allocator *InventoryAllocator,
	publisher EventPublisher,
	recorder audit.Recorder,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = models.CurrencyBOB
	}
	if cfg.IntentLockTTL <= 0 {
		cfg.IntentLockTTL = 30 * time.Second
	}
	return &PaymentService{
		repo:      repo,
		gateway:   gw,
		locker:    locker,
		allocator: allocator,
		publisher: publisher,
		audit:     recorder,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateIntentRequest represents a request for a payment handle
type CreateIntentRequest struct {
	OrderID     int64           `json:"order_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// IntentResult is what the client needs to complete payment with the gateway
type IntentResult struct {
	Outcome       string          `json:"outcome"`
	Payment       *models.Payment `json:"payment"`
	TransactionID string          `json:"payment_intent_id"`
	ClientSecret  string          `json:"client_secret,omitempty"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
}

// ConfirmRequest carries either a payment method or a gateway test card number
type ConfirmRequest struct {
	PaymentMethod string `json:"payment_method"`
	CardNumber    string `json:"card_number"`
}

// CreateOrReuseIntent returns a payment handle for the order. A live pending
// intent is reused, a captured one is reconciled and reported as already
// paid, and anything else is discarded before a new intent is created.
func (s *PaymentService) CreateOrReuseIntent(ctx context.Context, req *CreateIntentRequest) (res *IntentResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateOrReuseIntent", attribute.Int64("order_id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if !models.IsSupportedCurrency(currency) {
		return nil, ErrUnsupportedCurrency
	}

	release, err := s.lockIntentCreation(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, ErrOrderCancelled
	}

	payments, err := s.repo.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	if paid := completedPayment(payments, 0); paid != nil {
		return s.alreadyPaid(paid), nil
	}
	if pending := latestPendingGatewayPayment(payments); pending != nil {
		res, err := s.reuseOrDiscard(ctx, pending)
		if err != nil || res != nil {
			return res, err
		}
	}

	amount := req.Amount
	if !amount.IsPositive() {
		amount = order.Total
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Payment for order #%d", order.ID)
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentParams{
		Amount:      models.ToMinorUnits(amount),
		Currency:    gateway.ProviderCurrency(currency),
		Description: description,
		Metadata: map[string]string{
			"order_id":    strconv.FormatInt(order.ID, 10),
			"customer_id": strconv.FormatInt(order.CustomerID, 10),
		},
		IdempotencyKey: fmt.Sprintf("pi-order-%d-%d", order.ID, s.now().UnixNano()),
	})
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("gateway_error").Inc()
		s.logger.Error("Failed to create payment intent", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, gatewayFailure(err)
	}

	payment := &models.Payment{
		OrderID:       order.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        models.PaymentStatusPending,
		Provider:      models.ProviderGateway,
		TransactionID: intent.ID,
	}

	var paid *models.Payment
	err = s.repo.InTx(ctx, func(q store.Queries) error {
		locked, err := q.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if locked.Status == models.OrderStatusCancelled {
			return ErrOrderCancelled
		}
		current, err := q.ListPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}
		if paid = completedPayment(current, 0); paid != nil {
			return nil
		}

		err = q.CreatePayment(ctx, payment)
		if errors.Is(err, store.ErrDuplicate) {
			return internalError("payment transaction id already recorded", err)
		}
		if err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		return nil
	})
	if (err != nil && !errors.Is(err, store.ErrDuplicate)) || paid != nil {
		s.abandonIntent(ctx, intent.ID)
	}
	if err != nil {
		return nil, err
	}
	if paid != nil {
		return s.alreadyPaid(paid), nil
	}

	util.PaymentIntentsTotal.WithLabelValues(OutcomeCreated).Inc()
	s.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("intent_id", intent.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency))
	s.publishPayment(ctx, models.EventTypePaymentIntentCreated, payment, intent.Status)

	return &IntentResult{
		Outcome:       OutcomeCreated,
		Payment:       payment,
		TransactionID: intent.ID,
		ClientSecret:  intent.ClientSecret,
		GatewayStatus: intent.Status,
	}, nil
}

// reuseOrDiscard returns a result when the pending payment settles the
// request, or nil after discarding it so a new intent can be created.
func (s *PaymentService) reuseOrDiscard(ctx context.Context, pending *models.Payment) (*IntentResult, error) {
	intent, err := s.gateway.RetrieveIntent(ctx, pending.TransactionID)
	switch {
	case err != nil && gateway.IsTransient(err):
		return nil, gatewayFailure(err)

	case err == nil && gateway.Reusable(intent.Status):
		util.PaymentIntentsTotal.WithLabelValues(OutcomeReused).Inc()
		s.logger.Info("Reusing payment intent",
			zap.Int64("order_id", pending.OrderID),
			zap.String("intent_id", intent.ID),
			zap.String("status", intent.Status))
		return &IntentResult{
			Outcome:       OutcomeReused,
			Payment:       pending,
			TransactionID: pending.TransactionID,
			ClientSecret:  intent.ClientSecret,
			GatewayStatus: intent.Status,
		}, nil

	case err == nil && intent.Status == gateway.StatusSucceeded:
		res, err := s.reconcile(ctx, pending.TransactionID, intent.Status, "create")
		if err != nil {
			return nil, err
		}
		if res.Payment.Status == models.PaymentStatusCompleted {
			return s.alreadyPaid(res.Payment), nil
		}
		payments, err := s.repo.ListPaymentsByOrder(ctx, pending.OrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to list payments: %w", err)
		}
		if paid := completedPayment(payments, 0); paid != nil {
			return s.alreadyPaid(paid), nil
		}
		return nil, internalError("captured payment could not be reconciled", nil)

	case err == nil && intent.Status == gateway.StatusRequiresCapture:
		if _, cerr := s.gateway.CancelIntent(ctx, intent.ID); cerr != nil {
			if gateway.IsTransient(cerr) {
				return nil, gatewayFailure(cerr)
			}
			s.logger.Warn("Failed to cancel uncaptured intent", zap.String("intent_id", intent.ID), zap.Error(cerr))
		}

	case err == nil:
		s.logger.Warn("Discarding payment intent in unusable state",
			zap.String("intent_id", intent.ID),
			zap.String("status", intent.Status))

	case errors.Is(err, gateway.ErrIntentNotFound):
		s.logger.Warn("Payment intent unknown to gateway, discarding", zap.String("intent_id", pending.TransactionID))

	default:
		s.logger.Error("Failed to retrieve payment intent, discarding",
			zap.String("intent_id", pending.TransactionID),
			zap.Error(err))
	}

	return nil, s.discardPending(ctx, pending)
}

// discardPending deletes a pending payment whose intent can no longer be used
func (s *PaymentService) discardPending(ctx context.Context, pending *models.Payment) error {
	return s.repo.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetOrderForUpdate(ctx, pending.OrderID); err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		current, err := q.GetPayment(ctx, pending.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if current.Status != models.PaymentStatusPending {
			return nil
		}
		if err := q.DeletePayment(ctx, current.ID); err != nil {
			return fmt.Errorf("failed to delete payment: %w", err)
		}
		s.logger.Info("Discarded stale payment",
			zap.Int64("order_id", current.OrderID),
			zap.Int64("payment_id", current.ID),
			zap.String("intent_id", current.TransactionID))
		return nil
	})
}

// abandonIntent cancels a freshly created remote intent that was not persisted
func (s *PaymentService) abandonIntent(ctx context.Context, intentID string) {
	if _, err := s.gateway.CancelIntent(context.WithoutCancel(ctx), intentID); err != nil {
		s.logger.Warn("Failed to cancel abandoned payment intent", zap.String("intent_id", intentID), zap.Error(err))
	}
}

func (s *PaymentService) alreadyPaid(p *models.Payment) *IntentResult {
	util.PaymentIntentsTotal.WithLabelValues(OutcomeAlreadyPaid).Inc()
	s.logger.Warn("Order already has a completed payment",
		zap.Int64("order_id", p.OrderID),
		zap.Int64("payment_id", p.ID))
	return &IntentResult{Outcome: OutcomeAlreadyPaid, Payment: p, TransactionID: p.TransactionID}
}

// lockIntentCreation serialises intent creation per order across instances.
// When the lock backend is unavailable creation proceeds unlocked.
func (s *PaymentService) lockIntentCreation(ctx context.Context, orderID int64) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	key := fmt.Sprintf("intent:%d", orderID)
	token, ok, err := s.locker.AcquireLock(ctx, key, s.cfg.IntentLockTTL)
	if err != nil {
		s.logger.Warn("Intent lock unavailable, continuing without it", zap.Int64("order_id", orderID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		util.PaymentIntentsTotal.WithLabelValues("in_progress").Inc()
		return nil, ErrIntentInProgress
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release intent lock", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}, nil
}

// Confirm confirms the intent with the gateway and reconciles the result
func (s *PaymentService) Confirm(ctx context.Context, intentID string, req *ConfirmRequest) (res *VerifyResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm", attribute.String("intent_id", intentID))
	defer func() { util.EndSpan(span, err) }()

	method, err := resolvePaymentMethod(req, s.cfg.DefaultPaymentMethod)
	if err != nil {
		return nil, err
	}

	payment, err := s.findPayment(ctx, intentID)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.ConfirmIntent(ctx, intentID, method)
	if err != nil {
		s.logger.Warn("Payment intent confirmation failed", zap.String("intent_id", intentID), zap.Error(err))
		return nil, gatewayFailure(err)
	}
	s.checkIntentAmount(payment, intent)

	return s.reconcile(ctx, intentID, intent.Status, "confirm")
}

func resolvePaymentMethod(req *ConfirmRequest, fallback string) (string, error) {
	if method := strings.TrimSpace(req.PaymentMethod); method != "" {
		return method, nil
	}
	card := strings.NewReplacer(" ", "", "-", "").Replace(req.CardNumber)
	if card == "" {
		if fallback != "" {
			return fallback, nil
		}
		return "", ErrMissingMethod
	}
	method, ok := testCards[card]
	if !ok {
		return "", ErrUnknownTestCard
	}
	return method, nil
}

// Verify fetches the intent's current gateway status and reconciles it.
// Safe to call any number of times; concurrent calls for the same intent
// share one gateway round trip. The shared call is detached from the caller
// that started it, so one caller going away does not fail the others.
func (s *PaymentService) Verify(ctx context.Context, intentID string) (*VerifyResult, error) {
	ch := s.verifies.DoChan(intentID, func() (interface{}, error) {
		return s.verify(context.WithoutCancel(ctx), intentID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			s.logger.Debug("Coalesced concurrent verify", zap.String("intent_id", intentID))
		}
		return r.Val.(*VerifyResult), nil
	}
}

func (s *PaymentService) verify(ctx context.Context, intentID string) (res *VerifyResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Verify", attribute.String("intent_id", intentID))
	defer func() { util.EndSpan(span, err) }()

	payment, err := s.findPayment(ctx, intentID)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		s.logger.Warn("Failed to retrieve payment intent", zap.String("intent_id", intentID), zap.Error(err))
		return nil, gatewayFailure(err)
	}
	s.checkIntentAmount(payment, intent)

	return s.reconcile(ctx, intentID, intent.Status, "verify")
}

// checkIntentAmount reports a gateway amount that differs from the recorded one
func (s *PaymentService) checkIntentAmount(p *models.Payment, intent *gateway.Intent) {
	charged := models.FromMinorUnits(intent.Amount)
	if charged.Equal(p.Amount) {
		return
	}
	util.IntentAmountMismatchTotal.Inc()
	s.logger.Error("Gateway intent amount differs from recorded payment",
		zap.Int64("payment_id", p.ID),
		zap.String("intent_id", intent.ID),
		zap.String("recorded", p.Amount.StringFixed(2)),
		zap.String("gateway", charged.StringFixed(2)))
}

// RefundPayment is not supported; it only checks that the payment exists
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID int64) error {
	_, err := s.repo.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Reason: "payment not found", Err: err}
	}
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}
	return ErrRefundNotSupported
}

func (s *PaymentService) findPayment(ctx context.Context, intentID string) (*models.Payment, error) {
	payment, err := s.repo.GetPaymentByTransactionID(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return payment, nil
}

func (s *PaymentService) publishPayment(ctx context.Context, eventType string, p *models.Payment, gatewayStatus string) {
	event := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		GatewayStatus: gatewayStatus,
	}
	if err := s.publisher.PublishPayment(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.Int64("payment_id", p.ID),
			zap.Error(err))
	}
}

// completedPayment returns the completed payment other than excludeID, if any
func completedPayment(payments []models.Payment, excludeID int64) *models.Payment {
	for i := range payments {
		if payments[i].Status == models.PaymentStatusCompleted && payments[i].ID != excludeID {
			return &payments[i]
		}
	}
	return nil
}

// latestPendingGatewayPayment expects payments oldest first
func latestPendingGatewayPayment(payments []models.Payment) *models.Payment {
	for i := len(payments) - 1; i >= 0; i-- {
		p := payments[i]
		if p.Status == models.PaymentStatusPending && p.Provider == models.ProviderGateway {
			return &payments[i]
		}
	}
	return nil
}
