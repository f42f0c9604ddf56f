package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/audit"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutService turns a cart into a pending order
type CheckoutService struct {
	repo        store.Repository
	idempotency IdempotencyStore
	catalog     CatalogCache
	publisher   EventPublisher
	audit       audit.Recorder
	taxRate     decimal.Decimal
	idemTTL     time.Duration
	logger      *zap.Logger
}

// NewCheckoutService creates a new checkout service. idempotency and catalog
// may be nil.
func NewCheckoutService(
	repo store.Repository,
	idempotency IdempotencyStore,
	catalog CatalogCache,
	publisher EventPublisher,
	recorder audit.Recorder,
	taxRate decimal.Decimal,
	idemTTL time.Duration,
) *CheckoutService {
	return &CheckoutService{
		repo:        repo,
		idempotency: idempotency,
		catalog:     catalog,
		publisher:   publisher,
		audit:       recorder,
		taxRate:     taxRate,
		idemTTL:     idemTTL,
		logger:      util.GetLogger(),
	}
}

// CheckoutRequest represents a request to check out the user's cart
type CheckoutRequest struct {
	UserID          int64            `json:"-"`
	CustomerID      int64            `json:"customer_id" binding:"required"`
	DeliveryAddress string           `json:"delivery_address"`
	Discount        decimal.Decimal  `json:"discount"`
	ShippingCost    decimal.Decimal  `json:"shipping_cost"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
	IdempotencyKey  string           `json:"-"`
}

// CheckoutResult carries the order and whether it was replayed from an earlier request
type CheckoutResult struct {
	Order    *models.Order
	Replayed bool
}

// Checkout creates one pending order from the current cart lines at current
// catalog prices. The cart is left untouched. Client-supplied tax is ignored.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("customer_id", req.CustomerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.validate(req); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	if req.Tax != nil && !req.Tax.IsZero() {
		s.logger.Debug("Ignoring client-supplied tax", zap.String("tax", req.Tax.String()))
	}

	if replay := s.lookupReplay(ctx, req); replay != nil {
		return &CheckoutResult{Order: replay, Replayed: true}, nil
	}

	var order *models.Order
	err = s.repo.InTx(ctx, func(q store.Queries) error {
		var txErr error
		order, txErr = s.createOrder(ctx, q, req)
		return txErr
	})
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("total", order.Total.StringFixed(2)))

	s.rememberReplay(ctx, req, order.ID)
	s.refreshCachedPrices(ctx, order)
	s.publishCreated(ctx, req.UserID, order)
	s.audit.Record(ctx, audit.Entry{
		UserID:      req.UserID,
		Action:      audit.ActionCreate,
		Description: fmt.Sprintf("Order %d created for customer %d, total %s", order.ID, order.CustomerID, order.Total.StringFixed(2)),
		Module:      audit.ModuleSales,
	})

	return &CheckoutResult{Order: order}, nil
}

func (s *CheckoutService) validate(req *CheckoutRequest) error {
	if req.CustomerID <= 0 {
		return ErrInvalidCustomer
	}
	if req.Discount.IsNegative() {
		return validationError("discount must not be negative")
	}
	if req.ShippingCost.IsNegative() {
		return validationError("shipping_cost must not be negative")
	}
	return nil
}

func (s *CheckoutService) createOrder(ctx context.Context, q store.Queries, req *CheckoutRequest) (*models.Order, error) {
	customer, err := q.GetCustomer(ctx, req.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCustomer
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if !customer.Active {
		return nil, ErrInvalidCustomer
	}

	cart, err := q.GetCartByUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	cartLines, err := q.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart lines: %w", err)
	}
	if len(cartLines) == 0 {
		return nil, ErrEmptyCart
	}

	order := &models.Order{
		CustomerID:      customer.ID,
		Subtotal:        decimal.Zero,
		Discount:        req.Discount,
		ShippingCost:    req.ShippingCost,
		Status:          models.OrderStatusPending,
		DeliveryAddress: req.DeliveryAddress,
	}

	lines := make([]models.OrderLine, 0, len(cartLines))
	for _, cl := range cartLines {
		item, err := q.GetCatalogItem(ctx, cl.CatalogItemID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !item.Active) {
			return nil, validationError("catalog item %d is no longer available", cl.CatalogItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog item: %w", err)
		}

		line := models.OrderLine{
			CatalogItemID: cl.CatalogItemID,
			Quantity:      cl.Quantity,
			UnitPrice:     item.Price,
			Discount:      decimal.Zero,
		}
		models.ComputeLineTotals(&line)
		order.Subtotal = order.Subtotal.Add(line.Total)
		lines = append(lines, line)
	}

	models.ComputeOrderTotals(order, s.taxRate)
	if order.Total.IsNegative() {
		return nil, validationError("discount exceeds order total")
	}

	if err := q.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	for i := range lines {
		lines[i].OrderID = order.ID
		if err := q.CreateOrderLine(ctx, &lines[i]); err != nil {
			return nil, fmt.Errorf("failed to create order line: %w", err)
		}
	}
	order.Lines = lines
	return order, nil
}

// refreshCachedPrices drops cached catalog items whose price differs from the
// price the order was just charged at
func (s *CheckoutService) refreshCachedPrices(ctx context.Context, order *models.Order) {
	if s.catalog == nil {
		return
	}
	for _, line := range order.Lines {
		cached, err := s.catalog.Get(ctx, line.CatalogItemID)
		if err != nil || cached.Price.Equal(line.UnitPrice) {
			continue
		}
		s.logger.Info("Cached catalog price is stale, invalidating",
			zap.Int64("catalog_item_id", line.CatalogItemID),
			zap.String("cached_price", cached.Price.StringFixed(2)),
			zap.String("price", line.UnitPrice.StringFixed(2)))
		if err := s.catalog.Invalidate(ctx, line.CatalogItemID); err != nil {
			s.logger.Warn("Failed to invalidate catalog cache", zap.Int64("catalog_item_id", line.CatalogItemID), zap.Error(err))
		}
	}
}

func replayKey(req *CheckoutRequest) string {
	return fmt.Sprintf("checkout:%d:%s", req.UserID, req.IdempotencyKey)
}

// lookupReplay returns the order created by an earlier request with the same
// idempotency key. Redis failures degrade to a normal checkout.
func (s *CheckoutService) lookupReplay(ctx context.Context, req *CheckoutRequest) *models.Order {
	if s.idempotency == nil || req.IdempotencyKey == "" {
		return nil
	}

	val, found, err := s.idempotency.GetIdempotencyKey(ctx, replayKey(req))
	if err != nil {
		s.logger.Warn("Checkout idempotency lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		s.logger.Warn("Invalid checkout idempotency value", zap.String("value", val))
		return nil
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("Checkout replay points to missing order", zap.Int64("order_id", orderID), zap.Error(err))
		return nil
	}
	if order.Lines, err = s.repo.ListOrderLines(ctx, orderID); err != nil {
		return nil
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int64("order_id", orderID))
	return order
}

func (s *CheckoutService) rememberReplay(ctx context.Context, req *CheckoutRequest, orderID int64) {
	if s.idempotency == nil || req.IdempotencyKey == "" {
		return
	}
	if err := s.idempotency.SetIdempotencyKey(ctx, replayKey(req), orderID, s.idemTTL); err != nil {
		s.logger.Warn("Failed to store checkout idempotency key", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *CheckoutService) publishCreated(ctx context.Context, userID int64, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Lines))
	for _, l := range order.Lines {
		items = append(items, models.OrderItemData{
			CatalogItemID: l.CatalogItemID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		UserID:     userID,
		Total:      order.Total,
		Items:      items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
