package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

// state holds every table. Methods assume the caller holds Store.mu.
type state struct {
	now func() time.Time
	seq int64

	customers  map[int64]models.Customer
	catalog    map[int64]models.CatalogItem
	units      map[int64]models.SerializedUnit
	carts      map[int64]models.Cart
	cartLines  map[int64]models.CartLine
	orders     map[int64]models.Order
	orderLines map[int64]models.OrderLine
	payments   map[int64]models.Payment
	events     map[string]models.ProcessedEvent
}

func newState(now func() time.Time) *state {
	return &state{
		now:        now,
		customers:  make(map[int64]models.Customer),
		catalog:    make(map[int64]models.CatalogItem),
		units:      make(map[int64]models.SerializedUnit),
		carts:      make(map[int64]models.Cart),
		cartLines:  make(map[int64]models.CartLine),
		orders:     make(map[int64]models.Order),
		orderLines: make(map[int64]models.OrderLine),
		payments:   make(map[int64]models.Payment),
		events:     make(map[string]models.ProcessedEvent),
	}
}

func (s *state) clone() *state {
	c := newState(s.now)
	c.seq = s.seq
	copyMap(c.customers, s.customers)
	copyMap(c.catalog, s.catalog)
	copyMap(c.units, s.units)
	copyMap(c.carts, s.carts)
	copyMap(c.cartLines, s.cartLines)
	copyMap(c.orders, s.orders)
	copyMap(c.orderLines, s.orderLines)
	copyMap(c.payments, s.payments)
	copyMap(c.events, s.events)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *state) GetCatalogItem(ctx context.Context, id int64) (*models.CatalogItem, error) {
	item, ok := s.catalog[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *state) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	for _, c := range s.carts {
		if c.UserID == userID {
			cart := c
			return &cart, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *state) CreateCart(ctx context.Context, cart *models.Cart) error {
	if _, err := s.GetCartByUser(ctx, cart.UserID); err == nil {
		return fmt.Errorf("%w: carts_user_id_key", store.ErrDuplicate)
	}
	now := s.now()
	cart.ID = s.nextID()
	cart.CreatedAt, cart.UpdatedAt = now, now
	s.carts[cart.ID] = *cart
	return nil
}

func (s *state) TouchCart(ctx context.Context, cartID int64) error {
	cart, ok := s.carts[cartID]
	if !ok {
		return store.ErrNotFound
	}
	cart.UpdatedAt = s.now()
	s.carts[cartID] = cart
	return nil
}

func (s *state) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	for _, l := range s.cartLines {
		if l.CartID == cartID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (s *state) GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error) {
	l, ok := s.cartLines[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *state) GetCartLineByItem(ctx context.Context, cartID, catalogItemID int64) (*models.CartLine, error) {
	for _, l := range s.cartLines {
		if l.CartID == cartID && l.CatalogItemID == catalogItemID {
			line := l
			return &line, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *state) CreateCartLine(ctx context.Context, line *models.CartLine) error {
	if _, err := s.GetCartLineByItem(ctx, line.CartID, line.CatalogItemID); err == nil {
		return fmt.Errorf("%w: cart_lines_cart_item_key", store.ErrDuplicate)
	}
	line.ID = s.nextID()
	line.CreatedAt = s.now()
	s.cartLines[line.ID] = *line
	return nil
}

func (s *state) UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	l, ok := s.cartLines[lineID]
	if !ok {
		return store.ErrNotFound
	}
	l.Quantity = quantity
	s.cartLines[lineID] = l
	return nil
}

func (s *state) IncrementCartLineQuantity(ctx context.Context, lineID int64, delta int) error {
	l, ok := s.cartLines[lineID]
	if !ok {
		return store.ErrNotFound
	}
	l.Quantity += delta
	s.cartLines[lineID] = l
	return nil
}

func (s *state) DeleteCartLine(ctx context.Context, lineID int64) error {
	if _, ok := s.cartLines[lineID]; !ok {
		return store.ErrNotFound
	}
	delete(s.cartLines, lineID)
	return nil
}

func (s *state) DeleteCartLines(ctx context.Context, cartID int64) error {
	for id, l := range s.cartLines {
		if l.CartID == cartID {
			delete(s.cartLines, id)
		}
	}
	return nil
}

func (s *state) CreateOrder(ctx context.Context, order *models.Order) error {
	now := s.now()
	order.ID = s.nextID()
	order.CreatedAt, order.UpdatedAt = now, now
	stored := *order
	stored.Lines = nil
	s.orders[order.ID] = stored
	return nil
}

func (s *state) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	if _, ok := s.orders[line.OrderID]; !ok {
		return fmt.Errorf("order_lines: order %d does not exist", line.OrderID)
	}
	line.ID = s.nextID()
	s.orderLines[line.ID] = *line
	return nil
}

func (s *state) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *state) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *state) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	for _, l := range s.orderLines {
		if l.OrderID == orderID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (s *state) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

func (s *state) CreatePayment(ctx context.Context, payment *models.Payment) error {
	for _, p := range s.payments {
		if p.TransactionID == payment.TransactionID {
			return fmt.Errorf("%w: payments_transaction_id_key", store.ErrDuplicate)
		}
	}
	now := s.now()
	payment.ID = s.nextID()
	payment.CreatedAt, payment.UpdatedAt = now, now
	s.payments[payment.ID] = *payment
	return nil
}

func (s *state) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *state) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.TransactionID == transactionID {
			payment := p
			return &payment, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *state) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	for _, p := range s.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sortPayments(payments)
	return payments, nil
}

func (s *state) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	paid := make(map[int64]bool)
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusCompleted {
			paid[p.OrderID] = true
		}
	}
	payments := []models.Payment{}
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.Provider == models.ProviderGateway && p.CreatedAt.Before(olderThan) && !paid[p.OrderID] {
			payments = append(payments, p)
		}
	}
	sortPayments(payments)
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func sortPayments(payments []models.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].CreatedAt.Before(payments[j].CreatedAt)
		}
		return payments[i].ID < payments[j].ID
	})
}

func (s *state) UpdatePaymentStatus(ctx context.Context, id int64, status string) error {
	p, ok := s.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = s.now()
	s.payments[id] = p
	return nil
}

func (s *state) DeletePayment(ctx context.Context, id int64) error {
	if _, ok := s.payments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

func (s *state) ListAvailableUnits(ctx context.Context, catalogItemID int64, limit int) ([]models.SerializedUnit, error) {
	units := []models.SerializedUnit{}
	for _, u := range s.units {
		if u.CatalogItemID == catalogItemID && u.Status == models.UnitStatusAvailable {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if !units[i].IngressAt.Equal(units[j].IngressAt) {
			return units[i].IngressAt.Before(units[j].IngressAt)
		}
		return units[i].ID < units[j].ID
	})
	if len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

func (s *state) MarkUnitSold(ctx context.Context, unitID, orderID int64, soldAt time.Time) (bool, error) {
	u, ok := s.units[unitID]
	if !ok || u.Status != models.UnitStatusAvailable {
		return false, nil
	}
	u.Status = models.UnitStatusSold
	u.SoldAt = &soldAt
	u.OrderID = &orderID
	s.units[unitID] = u
	return true, nil
}

func (s *state) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *state) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	if _, ok := s.events[eventID]; ok {
		return nil
	}
	s.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: s.now()}
	return nil
}
