package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService manages per-user baskets. Concurrent edits by the same user
// are last-write-wins.
type CartService struct {
	repo    store.Repository
	catalog CatalogReader
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository, catalog CatalogReader) *CartService {
	return &CartService{
		repo:    repo,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// CartLineView is a cart line priced at the current catalog price
type CartLineView struct {
	ID            int64           `json:"id"`
	CatalogItemID int64           `json:"catalog_item_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// CartView is the client projection of a cart
type CartView struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Lines     []CartLineView  `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GetOrCreate returns the user's cart, creating it on first access
func (s *CartService) GetOrCreate(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.repo.GetCartByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	cart = &models.Cart{UserID: userID}
	err = s.repo.CreateCart(ctx, cart)
	if errors.Is(err, store.ErrDuplicate) {
		return s.repo.GetCartByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

// GetCart returns the priced view of the user's cart
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cart)
}

// AddLine adds qty of an item. Adding an item already in the cart
// accumulates its quantity instead of replacing it.
func (s *CartService) AddLine(ctx context.Context, userID, catalogItemID int64, qty int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddLine", attribute.Int64("user_id", userID))
	defer span.End()

	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	item, err := s.catalog.Get(ctx, catalogItemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCatalogItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog item: %w", err)
	}
	if !item.Active {
		return nil, ErrCatalogItemNotFound
	}

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.addOrAccumulate(ctx, cart.ID, catalogItemID, qty); err != nil {
		return nil, err
	}
	if err := s.repo.TouchCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to touch cart: %w", err)
	}

	s.logger.Debug("Cart line added",
		zap.Int64("user_id", userID),
		zap.Int64("catalog_item_id", catalogItemID),
		zap.Int("quantity", qty))

	return s.GetCart(ctx, userID)
}

func (s *CartService) addOrAccumulate(ctx context.Context, cartID, catalogItemID int64, qty int) error {
	line, err := s.repo.GetCartLineByItem(ctx, cartID, catalogItemID)
	if err == nil {
		if err := s.repo.IncrementCartLineQuantity(ctx, line.ID, qty); err != nil {
			return fmt.Errorf("failed to increment cart line: %w", err)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load cart line: %w", err)
	}

	err = s.repo.CreateCartLine(ctx, &models.CartLine{CartID: cartID, CatalogItemID: catalogItemID, Quantity: qty})
	if errors.Is(err, store.ErrDuplicate) {
		// lost a race with another add for the same item
		return s.addOrAccumulate(ctx, cartID, catalogItemID, qty)
	}
	if err != nil {
		return fmt.Errorf("failed to create cart line: %w", err)
	}
	return nil
}

// SetLineQuantity overwrites a line's quantity; qty <= 0 removes the line
func (s *CartService) SetLineQuantity(ctx context.Context, userID, lineID int64, qty int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.SetLineQuantity", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.ownedLine(ctx, userID, lineID)
	if err != nil {
		return nil, err
	}

	if qty <= 0 {
		err = s.repo.DeleteCartLine(ctx, lineID)
	} else {
		err = s.repo.UpdateCartLineQuantity(ctx, lineID, qty)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCartLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update cart line: %w", err)
	}
	if err := s.repo.TouchCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to touch cart: %w", err)
	}
	return s.view(ctx, cart)
}

// RemoveLine deletes one line from the user's cart
func (s *CartService) RemoveLine(ctx context.Context, userID, lineID int64) (*CartView, error) {
	return s.SetLineQuantity(ctx, userID, lineID, 0)
}

// Clear removes every line from the user's cart
func (s *CartService) Clear(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteCartLines(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	if err := s.repo.TouchCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to touch cart: %w", err)
	}
	return s.view(ctx, cart)
}

// ownedLine returns the user's cart if lineID belongs to it
func (s *CartService) ownedLine(ctx context.Context, userID, lineID int64) (*models.Cart, error) {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	line, err := s.repo.GetCartLine(ctx, lineID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCartLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart line: %w", err)
	}
	if line.CartID != cart.ID {
		return nil, ErrCartLineNotFound
	}
	return cart, nil
}

func (s *CartService) view(ctx context.Context, cart *models.Cart) (*CartView, error) {
	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart lines: %w", err)
	}

	current, err := s.repo.GetCartByUser(ctx, cart.UserID)
	if err == nil {
		cart = current
	}

	view := &CartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Lines:     make([]CartLineView, 0, len(lines)),
		Total:     decimal.Zero,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, line := range lines {
		item, err := s.catalog.Get(ctx, line.CatalogItemID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Cart references unknown catalog item",
				zap.Int64("cart_id", cart.ID),
				zap.Int64("catalog_item_id", line.CatalogItemID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog item: %w", err)
		}

		subtotal := item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		view.Lines = append(view.Lines, CartLineView{
			ID:            line.ID,
			CatalogItemID: line.CatalogItemID,
			Name:          item.Name,
			UnitPrice:     item.Price,
			Quantity:      line.Quantity,
			Subtotal:      subtotal,
		})
		view.Total = view.Total.Add(subtotal)
	}
	return view, nil
}
