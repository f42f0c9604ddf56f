package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/audit"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testUserID int64 = 7

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatus(ctx context.Context, e *models.OrderStatusEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPayment(ctx context.Context, e *models.PaymentEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishInventory(ctx context.Context, e *models.InventoryEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	repo     *memory.Store
	gw       *gateway.Sandbox
	redis    *redisclient.Client
	mr       *miniredis.Miniredis
	pub      *recordingPublisher
	catalog  *redisclient.CatalogCache
	carts    *CartService
	checkout *CheckoutService
	payments *PaymentService
	orders   *OrderService

	customerID int64
	phoneID    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rc.Close() })

	repo := memory.NewStore()
	gw := gateway.NewSandbox()
	pub := &recordingPublisher{}
	catalog := redisclient.NewCatalogCache(rc, time.Hour, repo.GetCatalogItem)

	payments := NewPaymentService(repo, gw, rc, NewInventoryAllocator(), pub, audit.Nop{}, PaymentConfig{
		DefaultCurrency: models.CurrencyBOB,
		IntentLockTTL:   30 * time.Second,
	})

	f := &fixture{
		repo:     repo,
		gw:       gw,
		redis:    rc,
		mr:       mr,
		pub:      pub,
		catalog:  catalog,
		carts:    NewCartService(repo, CatalogFunc(repo.GetCatalogItem)),
		checkout: NewCheckoutService(repo, rc, catalog, pub, audit.Nop{}, decimal.RequireFromString("0.13"), time.Hour),
		payments: payments,
		orders:   NewOrderService(repo, payments, pub, audit.Nop{}),
	}
	f.customerID = repo.AddCustomer(models.Customer{Name: "Ana", Email: "ana@example.com", Active: true})
	f.phoneID = repo.AddCatalogItem(models.CatalogItem{
		SKU:      "PHN-1",
		Name:     "Phone",
		Price:    decimal.RequireFromString("35.00"),
		Currency: models.CurrencyBOB,
		Active:   true,
	})
	return f
}

// placeOrder checks out a cart holding qty phones
func (f *fixture) placeOrder(t *testing.T, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()

	_, err := f.carts.AddLine(ctx, testUserID, f.phoneID, qty)
	require.NoError(t, err)

	res, err := f.checkout.Checkout(ctx, &CheckoutRequest{UserID: testUserID, CustomerID: f.customerID})
	require.NoError(t, err)
	return res.Order
}

// addUnits stocks n phones; each unit is older than the one added before it
func (f *fixture) addUnits(n int) []int64 {
	base := time.Now().Add(-24 * time.Hour)
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = f.repo.AddUnit(models.SerializedUnit{
			CatalogItemID: f.phoneID,
			SerialNumber:  fmt.Sprintf("SN-%03d", i),
			IngressAt:     base.Add(-time.Duration(i) * 24 * time.Hour),
		})
	}
	return ids
}

func (f *fixture) soldUnits(orderID int64) []int64 {
	var sold []int64
	for _, u := range f.repo.Units(f.phoneID) {
		if u.Status == models.UnitStatusSold {
			if u.OrderID != nil && *u.OrderID == orderID {
				sold = append(sold, u.ID)
			}
		}
	}
	return sold
}

func (f *fixture) paymentsOf(t *testing.T, orderID int64) []models.Payment {
	t.Helper()
	payments, err := f.repo.ListPaymentsByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return payments
}

func (f *fixture) orderStatus(t *testing.T, orderID int64) string {
	t.Helper()
	order, err := f.repo.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func transientErr(op string) error {
	return &gateway.Error{Op: op, Message: "connection reset by peer", Transient: true}
}
