package worker

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Verifier is satisfied by *service.PaymentService
type Verifier interface {
	Verify(ctx context.Context, intentID string) (*service.VerifyResult, error)
}

// EventLog records which gateway deliveries were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// GatewayEventWorker reconciles payments from gateway webhook events relayed through Kafka
type GatewayEventWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	events   EventLog
	verifier Verifier
	logger   *zap.Logger
}

// NewGatewayEventWorker creates a new gateway event worker
func NewGatewayEventWorker(consumer *broker.Consumer, events EventLog, verifier Verifier) *GatewayEventWorker {
	w := &GatewayEventWorker{
		consumer: consumer,
		handler:  broker.NewEventHandler(),
		events:   events,
		verifier: verifier,
		logger:   util.ComponentLogger("gateway_event_worker"),
	}
	w.handler.OnGatewayEvent(w.HandleGatewayEvent)
	return w
}

// Start starts the worker
func (w *GatewayEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting gateway event worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *GatewayEventWorker) Stop() error {
	w.logger.Info("Stopping gateway event worker")
	return w.consumer.Close()
}

// HandleGatewayEvent verifies the intent an event refers to. The event's
// payload status is never trusted; the gateway is asked again. Returning an
// error makes the consumer retry the message before reading past it.
func (w *GatewayEventWorker) HandleGatewayEvent(ctx context.Context, event *models.GatewayEvent) error {
	ctx, span := util.StartSpan(ctx, "GatewayEventWorker.HandleGatewayEvent")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	res, err := w.verifier.Verify(ctx, event.IntentID)
	kind := service.KindOf(err)
	switch {
	case err == nil:
		w.logger.Info("Gateway event reconciled",
			zap.String("event_id", event.EventID),
			zap.String("intent_id", event.IntentID),
			zap.String("status", res.Status),
			zap.String("order_status", res.OrderStatus))
	case kind == service.KindTransient || kind == service.KindInternal:
		return fmt.Errorf("failed to verify intent %s: %w", event.IntentID, err)
	case kind == service.KindNotFound:
		w.logger.Warn("Gateway event for unknown intent",
			zap.String("event_id", event.EventID),
			zap.String("intent_id", event.IntentID))
	default:
		w.logger.Error("Dropping gateway event",
			zap.String("event_id", event.EventID),
			zap.String("intent_id", event.IntentID),
			zap.Error(err))
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.String("event_id", event.EventID), zap.Error(err))
	}
	return nil
}

// StalePaymentLister is satisfied by store.Repository
type StalePaymentLister interface {
	ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
}

// ReconcilePoller periodically verifies pending payments whose outcome was
// never reported, covering lost webhooks and abandoned clients.
type ReconcilePoller struct {
	payments  StalePaymentLister
	verifier  Verifier
	interval  time.Duration
	minAge    time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewReconcilePoller creates a new reconcile poller
func NewReconcilePoller(payments StalePaymentLister, verifier Verifier, interval, minAge time.Duration) *ReconcilePoller {
	return &ReconcilePoller{
		payments:  payments,
		verifier:  verifier,
		interval:  interval,
		minAge:    minAge,
		batchSize: 100,
		now:       time.Now,
		logger:    util.ComponentLogger("reconcile_poller"),
	}
}

// Start polls until ctx is cancelled
func (p *ReconcilePoller) Start(ctx context.Context) error {
	p.logger.Info("Starting reconcile poller",
		zap.Duration("interval", p.interval),
		zap.Duration("min_age", p.minAge))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Reconcile poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce verifies one batch of stale pending payments and returns how many
// were verified successfully. Individual failures are logged and skipped.
func (p *ReconcilePoller) RunOnce(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReconcilePoller.RunOnce")
	defer span.End()

	stale, err := p.payments.ListStalePendingPayments(ctx, p.now().Add(-p.minAge), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	verified := 0
	for _, payment := range stale {
		if ctx.Err() != nil {
			return verified, ctx.Err()
		}
		res, err := p.verifier.Verify(ctx, payment.TransactionID)
		if err != nil {
			p.logger.Warn("Failed to verify stale payment",
				zap.Int64("payment_id", payment.ID),
				zap.String("intent_id", payment.TransactionID),
				zap.Error(err))
			continue
		}
		verified++
		if res.Payment.Status != models.PaymentStatusPending {
			p.logger.Info("Stale payment settled",
				zap.Int64("payment_id", payment.ID),
				zap.String("status", res.Payment.Status))
		}
	}

	if len(stale) > 0 {
		p.logger.Info("Reconcile pass finished", zap.Int("stale", len(stale)), zap.Int("verified", verified))
	}
	return verified, nil
}
