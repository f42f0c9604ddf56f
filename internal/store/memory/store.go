// Package memory is an in-process implementation of store.Repository used by
// tests and the sandbox profile. Transactions are serialised by one mutex and
// rolled back by restoring a snapshot.
package memory

import (
	"context"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Repository = (*Store)(nil)

// NewStore creates an empty store using the wall clock
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates an empty store stamping rows with now
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{st: newState(now)}
}

// InTx runs fn with exclusive access, restoring the previous state if fn fails
func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(s.st); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// AddCustomer seeds a customer and returns its ID
func (s *Store) AddCustomer(c models.Customer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.st.nextID()
	}
	s.st.customers[c.ID] = c
	return c.ID
}

// AddCatalogItem seeds a catalog item and returns its ID
func (s *Store) AddCatalogItem(item models.CatalogItem) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.st.nextID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.st.now()
	}
	s.st.catalog[item.ID] = item
	return item.ID
}

// AddUnit seeds a serialized unit and returns its ID
func (s *Store) AddUnit(unit models.SerializedUnit) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit.ID == 0 {
		unit.ID = s.st.nextID()
	}
	if unit.Status == "" {
		unit.Status = models.UnitStatusAvailable
	}
	s.st.units[unit.ID] = unit
	return unit.ID
}

// Units returns every unit of a catalog item
func (s *Store) Units(catalogItemID int64) []models.SerializedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var units []models.SerializedUnit
	for _, u := range s.st.units {
		if u.CatalogItemID == catalogItemID {
			units = append(units, u)
		}
	}
	return units
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCustomer(ctx, id)
}

func (s *Store) GetCatalogItem(ctx context.Context, id int64) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCatalogItem(ctx, id)
}

func (s *Store) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCartByUser(ctx, userID)
}

func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateCart(ctx, cart)
}

func (s *Store) TouchCart(ctx context.Context, cartID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.TouchCart(ctx, cartID)
}

func (s *Store) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListCartLines(ctx, cartID)
}

func (s *Store) GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCartLine(ctx, lineID)
}

func (s *Store) GetCartLineByItem(ctx context.Context, cartID, catalogItemID int64) (*models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCartLineByItem(ctx, cartID, catalogItemID)
}

func (s *Store) CreateCartLine(ctx context.Context, line *models.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateCartLine(ctx, line)
}

func (s *Store) UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateCartLineQuantity(ctx, lineID, quantity)
}

func (s *Store) IncrementCartLineQuantity(ctx context.Context, lineID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementCartLineQuantity(ctx, lineID, delta)
}

func (s *Store) DeleteCartLine(ctx context.Context, lineID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteCartLine(ctx, lineID)
}

func (s *Store) DeleteCartLines(ctx context.Context, cartID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteCartLines(ctx, cartID)
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateOrder(ctx, order)
}

func (s *Store) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateOrderLine(ctx, line)
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetOrder(ctx, id)
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetOrderForUpdate(ctx, id)
}

func (s *Store) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListOrderLines(ctx, orderID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateOrderStatus(ctx, id, status)
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreatePayment(ctx, payment)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetPayment(ctx, id)
}

func (s *Store) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetPaymentByTransactionID(ctx, transactionID)
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListPaymentsByOrder(ctx, orderID)
}

func (s *Store) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListStalePendingPayments(ctx, olderThan, limit)
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdatePaymentStatus(ctx, id, status)
}

func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeletePayment(ctx, id)
}

func (s *Store) ListAvailableUnits(ctx context.Context, catalogItemID int64, limit int) ([]models.SerializedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAvailableUnits(ctx, catalogItemID, limit)
}

func (s *Store) MarkUnitSold(ctx context.Context, unitID, orderID int64, soldAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MarkUnitSold(ctx, unitID, orderID, soldAt)
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IsEventProcessed(ctx, eventID)
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MarkEventProcessed(ctx, eventID, eventType)
}
