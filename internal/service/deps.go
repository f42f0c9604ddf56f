package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// EventPublisher is satisfied by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatus(ctx context.Context, event *models.OrderStatusEvent) error
	PublishPayment(ctx context.Context, event *models.PaymentEvent) error
	PublishInventory(ctx context.Context, event *models.InventoryEvent) error
}

// Locker is satisfied by *redisclient.Client
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// IdempotencyStore is satisfied by *redisclient.Client
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CatalogReader is satisfied by *redisclient.CatalogCache
type CatalogReader interface {
	Get(ctx context.Context, id int64) (*models.CatalogItem, error)
}

// CatalogCache is satisfied by *redisclient.CatalogCache
type CatalogCache interface {
	CatalogReader
	Invalidate(ctx context.Context, id int64) error
}

// CatalogFunc adapts a plain lookup function to CatalogReader
type CatalogFunc func(ctx context.Context, id int64) (*models.CatalogItem, error)

func (f CatalogFunc) Get(ctx context.Context, id int64) (*models.CatalogItem, error) {
	return f(ctx, id)
}
