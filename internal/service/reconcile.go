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

// VerifyResult is the local state after reconciling an intent's gateway status
type VerifyResult struct {
	Status           string            `json:"status"`
	OrderID          int64             `json:"order_id"`
	OrderStatus      string            `json:"order_status"`
	Payment          *models.Payment   `json:"payment"`
	Allocation       *AllocationReport `json:"allocation,omitempty"`
	DuplicateCapture bool              `json:"duplicate_capture,omitempty"`
}

// transition records what a reconciliation changed so side effects run after commit
type transition struct {
	paymentCompleted bool
	paymentFailed    bool
	orderCompleted   bool
	duplicate        bool
	capturedOnCancel bool
}

// reconcile applies a gateway status to the payment and its order. Every
// mutation is guarded by the current local state, so applying the same
// status twice changes nothing the second time.
func (s *PaymentService) reconcile(ctx context.Context, transactionID, status, source string) (res *VerifyResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.reconcile",
		attribute.String("intent_id", transactionID),
		attribute.String("status", status),
		attribute.String("source", source))
	defer func() { util.EndSpan(span, err) }()

	var tr transition
	err = s.repo.InTx(ctx, func(q store.Queries) error {
		tr = transition{}

		payment, err := q.GetPaymentByTransactionID(ctx, transactionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}

		order, err := q.GetOrderForUpdate(ctx, payment.OrderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		// re-read under the order lock
		payment, err = q.GetPayment(ctx, payment.ID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}

		res = &VerifyResult{Status: status, OrderID: order.ID}

		switch status {
		case gateway.StatusSucceeded:
			if err := s.applySuccess(ctx, q, order, payment, res, &tr); err != nil {
				return err
			}
		case gateway.StatusCanceled:
			if payment.Status == models.PaymentStatusPending {
				if err := q.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed); err != nil {
					return fmt.Errorf("failed to mark payment failed: %w", err)
				}
				payment.Status = models.PaymentStatusFailed
				tr.paymentFailed = true
			}
		}

		res.Payment = payment
		res.OrderStatus = order.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.ReconciliationsTotal.WithLabelValues(source, status).Inc()
	s.afterReconcile(ctx, res, tr)
	return res, nil
}

func (s *PaymentService) applySuccess(
	ctx context.Context,
	q store.Queries,
	order *models.Order,
	payment *models.Payment,
	res *VerifyResult,
	tr *transition,
) error {
	switch payment.Status {
	case models.PaymentStatusPending, models.PaymentStatusFailed:
		payments, err := q.ListPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}
		if completedPayment(payments, payment.ID) != nil {
			tr.duplicate = true
			res.DuplicateCapture = true
			return nil
		}
		if err := q.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusCompleted); err != nil {
			return fmt.Errorf("failed to mark payment completed: %w", err)
		}
		payment.Status = models.PaymentStatusCompleted
		tr.paymentCompleted = true
	case models.PaymentStatusCompleted:
	default:
		return nil
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		return nil
	case models.OrderStatusCancelled:
		tr.capturedOnCancel = true
		return nil
	}

	if err := q.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCompleted); err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	order.Status = models.OrderStatusCompleted
	tr.orderCompleted = true

	report, err := s.allocator.Allocate(ctx, q, order)
	if err != nil {
		return fmt.Errorf("failed to allocate inventory: %w", err)
	}
	res.Allocation = report
	return nil
}

func (s *PaymentService) afterReconcile(ctx context.Context, res *VerifyResult, tr transition) {
	p := res.Payment

	if tr.paymentCompleted {
		util.PaymentsCompletedTotal.Inc()
		s.logger.Info("Payment completed",
			zap.Int64("order_id", res.OrderID),
			zap.Int64("payment_id", p.ID),
			zap.String("intent_id", p.TransactionID))
		s.publishPayment(ctx, models.EventTypePaymentCompleted, p, res.Status)
		s.audit.Record(ctx, audit.Entry{
			Action:      audit.ActionPayment,
			Description: fmt.Sprintf("Payment %d of %s %s completed for order %d", p.ID, p.Amount.StringFixed(2), p.Currency, res.OrderID),
			Module:      audit.ModuleFinance,
		})
	}

	if tr.paymentFailed {
		util.PaymentsFailedTotal.Inc()
		s.logger.Info("Payment failed",
			zap.Int64("order_id", res.OrderID),
			zap.Int64("payment_id", p.ID),
			zap.String("intent_id", p.TransactionID))
		s.publishPayment(ctx, models.EventTypePaymentFailed, p, res.Status)
	}

	if tr.duplicate {
		util.DuplicateCapturesTotal.Inc()
		s.logger.Error("Duplicate capture: order already has a completed payment, manual refund required",
			zap.Int64("order_id", res.OrderID),
			zap.Int64("payment_id", p.ID),
			zap.String("intent_id", p.TransactionID))
	}

	if tr.capturedOnCancel {
		s.logger.Error("Payment captured for cancelled order, manual refund required",
			zap.Int64("order_id", res.OrderID),
			zap.Int64("payment_id", p.ID),
			zap.String("intent_id", p.TransactionID))
	}

	if tr.orderCompleted {
		util.OrdersCompletedTotal.Inc()
		s.logger.Info("Order completed", zap.Int64("order_id", res.OrderID))
		s.publishOrderStatus(ctx, res.OrderID, models.EventTypeOrderCompleted, models.OrderStatusCompleted, "payment succeeded")
		s.audit.Record(ctx, audit.Entry{
			Action:      audit.ActionUpdate,
			Description: fmt.Sprintf("Order %d completed", res.OrderID),
			Module:      audit.ModuleSales,
		})
	}

	if res.Allocation != nil {
		s.publishInventory(ctx, res.Allocation)
	}
}

func (s *PaymentService) publishOrderStatus(ctx context.Context, orderID int64, eventType, status, reason string) {
	event := &models.OrderStatusEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		Status:  status,
		Reason:  reason,
	}
	if err := s.publisher.PublishOrderStatus(ctx, event); err != nil {
		s.logger.Error("Failed to publish order status event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (s *PaymentService) publishInventory(ctx context.Context, report *AllocationReport) {
	eventType := models.EventTypeInventoryAllocated
	if !report.Complete() {
		eventType = models.EventTypeInventoryShortfall
	}
	event := &models.InventoryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:    report.OrderID,
		UnitIDs:    report.UnitIDs,
		Shortfalls: report.Shortfalls,
	}
	if err := s.publisher.PublishInventory(ctx, event); err != nil {
		s.logger.Error("Failed to publish inventory event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", report.OrderID),
			zap.Error(err))
	}
}
