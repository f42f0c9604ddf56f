package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/audit"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles order reads and cancellation
type OrderService struct {
	repo      store.Repository
	payments  *PaymentService
	publisher EventPublisher
	audit     audit.Recorder
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	payments *PaymentService,
	publisher EventPublisher,
	recorder audit.Recorder,
) *OrderService {
	return &OrderService{
		repo:      repo,
		payments:  payments,
		publisher: publisher,
		audit:     recorder,
		logger:    util.GetLogger(),
	}
}

// GetOrder retrieves an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Lines, err = s.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order lines: %w", err)
	}
	return order, nil
}

// ListOrderPayments returns every payment attempt of an order, oldest first
func (s *OrderService) ListOrderPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrderPayments")
	defer span.End()

	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	payments, err := s.repo.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// cancelAttempts bounds how often CancelOrder re-runs when new intents
// appear while it is cancelling the known ones
const cancelAttempts = 3

// errNewIntent aborts the cancel transaction when a pending intent that was
// not cancelled at the gateway is found
var errNewIntent = errors.New("pending payment intent appeared during cancel")

// CancelOrder cancels a pending order. Open gateway intents are cancelled
// first; if one turns out to be captured already the order is completed
// instead and ErrOrderCompleted is returned. Intent creation for the order
// is locked out for the whole call.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	release, err := s.payments.lockIntentCreation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err = s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	switch order.Status {
	case models.OrderStatusCompleted:
		return nil, ErrOrderCompleted
	case models.OrderStatusCancelled:
		return order, nil
	}

	cancelled := make(map[string]bool)
	var failed []models.Payment
	var changed bool
	for attempt := 1; ; attempt++ {
		if err = s.cancelOpenIntents(ctx, orderID, cancelled); err != nil {
			return nil, err
		}

		order, failed, changed, err = s.cancelLocally(ctx, orderID, cancelled)
		if !errors.Is(err, errNewIntent) {
			break
		}
		if attempt == cancelAttempts {
			return nil, ErrIntentInProgress
		}
		s.logger.Warn("New payment intent created during cancel, retrying",
			zap.Int64("order_id", orderID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.Int("failed_payments", len(failed)))

	for i := range failed {
		util.PaymentsFailedTotal.Inc()
		s.payments.publishPayment(ctx, models.EventTypePaymentFailed, &failed[i], gateway.StatusCanceled)
	}
	s.publishCancelled(ctx, orderID)
	s.audit.Record(ctx, audit.Entry{
		UserID:      userID,
		Action:      audit.ActionCancel,
		Description: fmt.Sprintf("Order %d cancelled", orderID),
		Module:      audit.ModuleSales,
	})

	return order, nil
}

// cancelOpenIntents cancels every pending gateway intent of the order that
// is not in cancelled yet and records it there
func (s *OrderService) cancelOpenIntents(ctx context.Context, orderID int64, cancelled map[string]bool) error {
	payments, err := s.repo.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	for _, p := range payments {
		if p.Status != models.PaymentStatusPending || p.Provider != models.ProviderGateway || cancelled[p.TransactionID] {
			continue
		}
		if err := s.cancelRemoteIntent(ctx, &p); err != nil {
			return err
		}
		cancelled[p.TransactionID] = true
	}
	return nil
}

// cancelLocally fails the order's pending payments and cancels the order.
// It returns errNewIntent without changes if a pending gateway payment is
// missing from cancelled.
func (s *OrderService) cancelLocally(ctx context.Context, orderID int64, cancelled map[string]bool) (order *models.Order, failed []models.Payment, changed bool, err error) {
	err = s.repo.InTx(ctx, func(q store.Queries) error {
		order, failed, changed = nil, nil, false

		locked, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		switch locked.Status {
		case models.OrderStatusCompleted:
			return ErrOrderCompleted
		case models.OrderStatusCancelled:
			order = locked
			return nil
		}

		current, err := q.ListPaymentsByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}
		for _, p := range current {
			if p.Status == models.PaymentStatusPending && p.Provider == models.ProviderGateway && !cancelled[p.TransactionID] {
				return errNewIntent
			}
		}
		for _, p := range current {
			if p.Status != models.PaymentStatusPending {
				continue
			}
			if err := q.UpdatePaymentStatus(ctx, p.ID, models.PaymentStatusFailed); err != nil {
				return fmt.Errorf("failed to mark payment failed: %w", err)
			}
			p.Status = models.PaymentStatusFailed
			failed = append(failed, p)
		}

		if err := q.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		locked.Status = models.OrderStatusCancelled
		order = locked
		changed = true
		return nil
	})
	return order, failed, changed, err
}

// cancelRemoteIntent cancels a pending payment's intent at the gateway
func (s *OrderService) cancelRemoteIntent(ctx context.Context, p *models.Payment) error {
	_, err := s.payments.gateway.CancelIntent(ctx, p.TransactionID)
	switch {
	case err == nil:
		return nil
	case gateway.IsTransient(err):
		return gatewayFailure(err)
	case errors.Is(err, gateway.ErrIntentNotFound):
		s.logger.Warn("Intent unknown to gateway during cancel", zap.String("intent_id", p.TransactionID))
		return nil
	}

	intent, rerr := s.payments.gateway.RetrieveIntent(ctx, p.TransactionID)
	if rerr != nil {
		if gateway.IsTransient(rerr) {
			return gatewayFailure(rerr)
		}
		s.logger.Warn("Failed to cancel payment intent",
			zap.String("intent_id", p.TransactionID),
			zap.Error(err))
		return nil
	}
	if intent.Status == gateway.StatusSucceeded {
		if _, err := s.payments.reconcile(ctx, p.TransactionID, intent.Status, "cancel"); err != nil {
			return err
		}
		return ErrOrderCompleted
	}
	return nil
}

func (s *OrderService) publishCancelled(ctx context.Context, orderID int64) {
	event := &models.OrderStatusEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		Status:  models.OrderStatusCancelled,
		Reason:  "cancelled by user",
	}
	if err := s.publisher.PublishOrderStatus(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}
