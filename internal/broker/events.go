package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events, keyed by order so every
// event of one order lands on the same partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatus publishes ORDER_COMPLETED or ORDER_CANCELLED
func (ep *EventPublisher) PublishOrderStatus(ctx context.Context, event *models.OrderStatusEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPayment publishes PAYMENT_INTENT_CREATED, PAYMENT_COMPLETED or PAYMENT_FAILED
func (ep *EventPublisher) PublishPayment(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishInventory publishes INVENTORY_ALLOCATED or INVENTORY_SHORTFALL
func (ep *EventPublisher) PublishInventory(ctx context.Context, event *models.InventoryEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// EventHandler decodes gateway webhook deliveries and routes them
type EventHandler struct {
	onGatewayEvent func(context.Context, *models.GatewayEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event_handler")}
}

// OnGatewayEvent registers a handler for payment_intent.* events
func (eh *EventHandler) OnGatewayEvent(handler func(context.Context, *models.GatewayEvent) error) {
	eh.onGatewayEvent = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable messages
// are logged and dropped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.GatewayEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Error("Dropping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event", zap.String("event_type", event.EventType), zap.String("event_id", event.EventID))

	if !strings.HasPrefix(event.EventType, "payment_intent.") {
		eh.logger.Info("Unhandled event type", zap.String("event_type", event.EventType))
		return nil
	}
	if event.IntentID == "" || event.EventID == "" {
		eh.logger.Warn("Dropping gateway event without ids", zap.String("event_type", event.EventType))
		return nil
	}
	if eh.onGatewayEvent == nil {
		return nil
	}
	return eh.onGatewayEvent(ctx, &event)
}
