package service

import (
	"context"
	"strings"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// CartService manages the buyer's pending purchase list. Quantities are not
// checked against stock until checkout.
type CartService struct {
	carts    port.CartRepository
	products port.ProductRepository
	store    storeCall
	now      func() time.Time
}

func NewCartService(db port.DatabaseRepository, storeTimeout time.Duration) *CartService {
	return &CartService{
		carts:    db,
		products: db,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

// Get returns the buyer's cart; a buyer without one has an empty cart.
func (s *CartService) Get(ctx context.Context, buyer domain.Principal) (*domain.Cart, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}
	return s.load(ctx, buyer.ID)
}

func (s *CartService) AddItem(ctx context.Context, buyer domain.Principal, productID string, quantity int) (*domain.Cart, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.NewValidationError("productId", "is required")
	}
	if quantity < 1 {
		return nil, domain.NewValidationError("quantity", "must be a positive integer")
	}

	sctx, cancel := s.store.ctx(ctx)
	product, err := s.products.FindProduct(sctx, productID)
	cancel()
	if err != nil {
		return nil, storeFailure("load product", err)
	}
	if product == nil || !product.Active {
		return nil, domain.ErrProductNotFound
	}

	cart, err := s.load(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	if err := cart.Add(productID, quantity); err != nil {
		return nil, err
	}
	return cart, s.save(ctx, cart)
}

// SetQuantity replaces the quantity of a line already in the cart.
func (s *CartService) SetQuantity(ctx context.Context, buyer domain.Principal, productID string, quantity int) (*domain.Cart, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	cart, err := s.load(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	found, err := cart.SetQuantity(productID, quantity)
	if err != nil {
		return nil, err
	}
	if !found {
		return cart, nil
	}
	return cart, s.save(ctx, cart)
}

// RemoveItem is idempotent.
func (s *CartService) RemoveItem(ctx context.Context, buyer domain.Principal, productID string) (*domain.Cart, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	cart, err := s.load(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	before := len(cart.Items)
	cart.Remove(productID)
	if len(cart.Items) == before {
		return cart, nil
	}
	return cart, s.save(ctx, cart)
}

func (s *CartService) Clear(ctx context.Context, buyer domain.Principal) (*domain.Cart, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	if err := s.carts.ClearCart(sctx, buyer.ID); err != nil {
		return nil, storeFailure("clear cart", err)
	}
	return domain.NewCart(buyer.ID), nil
}

func (s *CartService) load(ctx context.Context, buyerID string) (*domain.Cart, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	cart, err := s.carts.FindCart(sctx, buyerID)
	if err != nil {
		return nil, storeFailure("load cart", err)
	}
	if cart == nil {
		return domain.NewCart(buyerID), nil
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	cart.UpdatedAt = s.now()

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	if err := s.carts.SaveCart(sctx, *cart); err != nil {
		return storeFailure("save cart", err)
	}
	return nil
}
