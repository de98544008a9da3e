package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	checkoutLockTTL     = 30 * time.Second
	maxStatusAttempts   = 3
	adminOrderListLimit = 200

	WarningCartNotCleared = "order placed but the cart could not be cleared"
)

type PlaceOrderResult struct {
	Order    *domain.Order `json:"order"`
	Warnings []string      `json:"warnings,omitempty"`
}

type OrderService struct {
	products port.ProductRepository
	carts    port.CartRepository
	orders   port.OrderRepository
	accounts port.AccountRepository
	cache    *Cache
	notifier port.Notifier
	store    storeCall
	now      func() time.Time
}

func NewOrderService(db port.DatabaseRepository, cache *Cache, notifier port.Notifier, storeTimeout time.Duration) *OrderService {
	return &OrderService{
		products: db,
		carts:    db,
		orders:   db,
		accounts: db,
		cache:    cache,
		notifier: notifier,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

// pricedLine is a cart line joined with the product as read at checkout.
// Its price is the one charged.
type pricedLine struct {
	item    domain.CartItem
	product domain.Product
}

// PlaceOrder turns the buyer's cart into a pending order. On any error no
// stock remains reserved.
func (s *OrderService) PlaceOrder(ctx context.Context, buyer domain.Principal) (*PlaceOrderResult, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	release, ok := s.cache.TryLock(ctx, checkoutLockKey(buyer.ID), checkoutLockTTL)
	if !ok {
		return nil, domain.ErrCheckoutInProgress
	}
	defer release()

	cart, err := s.loadCart(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	lines, err := s.priceLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}
	if err := checkStock(lines); err != nil {
		return nil, err
	}

	address, err := s.shippingAddress(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}

	reserved, err := s.reserve(ctx, lines)
	if err != nil {
		return nil, err
	}

	order := domain.NewOrder(uuid.NewString(), buyer.ID, address, orderItems(lines), s.now())

	sctx, cancel := s.store.ctx(ctx)
	err = s.orders.InsertOrder(sctx, *order)
	cancel()
	if err != nil {
		s.rollback(ctx, reserved)
		return nil, storeFailure("insert order", err)
	}

	result := &PlaceOrderResult{Order: order}

	cctx, cancel := s.store.detached(ctx)
	err = s.carts.ClearCart(cctx, buyer.ID)
	cancel()
	if err != nil {
		log.Printf("order service: order %s placed but cart of buyer %s not cleared: %v", order.ID, buyer.ID, err)
		result.Warnings = append(result.Warnings, WarningCartNotCleared)
	}

	s.cache.InvalidateCatalog("order " + order.ID)
	s.notifySellers(order)

	log.Printf("order service: buyer %s placed order %s (%d lines, total %s)",
		buyer.ID, order.ID, len(order.Items), order.TotalPrice.StringFixed(2))
	return result, nil
}

func (s *OrderService) loadCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	cart, err := s.carts.FindCart(sctx, buyerID)
	if err != nil {
		return nil, storeFailure("load cart", err)
	}
	return cart, nil
}

// priceLines reads every product live from the store, never from the cache.
func (s *OrderService) priceLines(ctx context.Context, items []domain.CartItem) ([]pricedLine, error) {
	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, domain.NewValidationError("quantity", "cart line for "+item.ProductID+" is not positive")
		}

		product, err := s.findProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil || !product.Active {
			return nil, domain.ErrProductNotFound
		}
		lines = append(lines, pricedLine{item: item, product: *product})
	}
	return lines, nil
}

func (s *OrderService) findProduct(ctx context.Context, id string) (*domain.Product, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	product, err := s.products.FindProduct(sctx, id)
	if err != nil {
		return nil, storeFailure("load product", err)
	}
	return product, nil
}

// checkStock rejects the order before anything is mutated if any line
// cannot be covered by the stock read at checkout.
func checkStock(lines []pricedLine) error {
	for _, line := range lines {
		if line.product.Stock < line.item.Quantity {
			return &domain.InsufficientStockError{
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
				Requested:   line.item.Quantity,
				Available:   line.product.Stock,
			}
		}
	}
	return nil
}

func (s *OrderService) shippingAddress(ctx context.Context, buyerID string) (string, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	account, err := s.accounts.FindAccount(sctx, buyerID)
	if err != nil {
		return "", storeFailure("load account", err)
	}
	if account == nil {
		return "", domain.ErrAccountNotFound
	}
	return account.Address, nil
}

// reserve decrements stock line by line with the store's conditional
// update. The first failure undoes every earlier decrement of this call.
func (s *OrderService) reserve(ctx context.Context, lines []pricedLine) (*domain.ReservationLog, error) {
	reserved := &domain.ReservationLog{}
	for _, line := range lines {
		sctx, cancel := s.store.ctx(ctx)
		ok, err := s.products.DecrementStock(sctx, line.product.ID, line.item.Quantity)
		cancel()

		if err != nil {
			s.rollback(ctx, reserved)
			return nil, storeFailure("reserve stock for "+line.product.ID, err)
		}
		if !ok {
			s.rollback(ctx, reserved)
			return nil, s.lostReservation(ctx, line)
		}
		reserved.Record(line.product.ID, line.item.Quantity)
	}
	return reserved, nil
}

// lostReservation builds the error for a line whose stock was taken by a
// concurrent checkout between the check and the decrement.
func (s *OrderService) lostReservation(ctx context.Context, line pricedLine) error {
	available := 0
	if product, err := s.findProduct(ctx, line.product.ID); err == nil && product != nil {
		available = product.Stock
	}
	return &domain.InsufficientStockError{
		ProductID:   line.product.ID,
		ProductName: line.product.Name,
		Requested:   line.item.Quantity,
		Available:   available,
	}
}

func (s *OrderService) rollback(ctx context.Context, reserved *domain.ReservationLog) {
	for _, r := range reserved.Reversed() {
		rctx, cancel := s.store.detached(ctx)
		err := s.products.IncrementStock(rctx, r.ProductID, r.Quantity)
		cancel()

		if err != nil {
			log.Printf("order service: CRITICAL rollback failed for product %s (+%d): %v", r.ProductID, r.Quantity, err)
			continue
		}
		log.Printf("order service: rolled back %d of product %s", r.Quantity, r.ProductID)
	}
}

func orderItems(lines []pricedLine) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ProductID: line.product.ID,
			SellerID:  line.product.SellerID,
			Name:      line.product.Name,
			Quantity:  line.item.Quantity,
			UnitPrice: line.product.Price,
		})
	}
	return items
}

// CancelOrder cancels one of the requester's own orders and restores its stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, requester domain.Principal) (*domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !domain.CanCancel(requester, order) {
		return nil, domain.ErrOrderNotFound
	}
	return s.cancel(ctx, order)
}

// cancel flips the status first so that only one of several racing
// cancellations restores stock.
func (s *OrderService) cancel(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		if order.Status.IsTerminal() {
			return nil, domain.ErrInvalidState
		}

		change := domain.StatusChange{
			OrderID: order.ID,
			From:    order.Status,
			To:      domain.OrderStatusCancelled,
			At:      s.now(),
		}
		swapped, err := s.changeStatus(ctx, change)
		if err != nil {
			return nil, err
		}
		if swapped {
			order.Status = change.To
			order.UpdatedAt = change.At
			s.restoreStock(ctx, order)
			s.cache.InvalidateCatalog("cancel " + order.ID)
			s.notifyBuyer(order)
			log.Printf("order service: order %s cancelled", order.ID)
			return order, nil
		}

		if order, err = s.loadOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrInvalidState
}

// restoreStock gives back every line. A missing product does not stop the
// remaining lines from being restored.
func (s *OrderService) restoreStock(ctx context.Context, order *domain.Order) {
	for _, item := range order.Items {
		rctx, cancel := s.store.detached(ctx)
		err := s.products.IncrementStock(rctx, item.ProductID, item.Quantity)
		cancel()

		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			log.Printf("order service: product %s of order %s no longer exists, stock not restored", item.ProductID, order.ID)
		case err != nil:
			log.Printf("order service: restore %d of product %s for order %s failed: %v", item.Quantity, item.ProductID, order.ID, err)
		}
	}
}

// UpdateOrderStatus moves an order to status on behalf of requester.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID, status string, requester domain.Principal) (*domain.Order, error) {
	next, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !domain.CanUpdateStatus(requester, order, next) {
		return nil, domain.ErrForbidden
	}
	if next == domain.OrderStatusCancelled {
		return s.cancel(ctx, order)
	}

	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		if !domain.CanTransition(order.Status, next) {
			return nil, domain.ErrInvalidState
		}
		if order.Status == next {
			return order, nil
		}

		change := domain.StatusChange{OrderID: order.ID, From: order.Status, To: next, At: s.now()}
		if next == domain.OrderStatusDelivered {
			delivered := change.At
			change.DeliveredAt = &delivered
		}

		swapped, err := s.changeStatus(ctx, change)
		if err != nil {
			return nil, err
		}
		if swapped {
			order.Status = next
			order.UpdatedAt = change.At
			if change.DeliveredAt != nil {
				order.DeliveredAt = change.DeliveredAt
			}
			s.notifyBuyer(order)
			log.Printf("order service: order %s moved %s -> %s by %s %s", order.ID, change.From, next, requester.Role, requester.ID)
			return order, nil
		}

		if order, err = s.loadOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrInvalidState
}

func (s *OrderService) changeStatus(ctx context.Context, change domain.StatusChange) (bool, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	swapped, err := s.orders.UpdateOrderStatus(sctx, change)
	if err != nil {
		return false, storeFailure("update order status", err)
	}
	return swapped, nil
}

func (s *OrderService) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	order, err := s.orders.FindOrder(sctx, id)
	if err != nil {
		return nil, storeFailure("load order", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetOrder returns an order visible to p. Orders p may not see are reported
// as missing.
func (s *OrderService) GetOrder(ctx context.Context, id string, p domain.Principal) (*domain.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanView(p, order) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListBuyerOrders returns the buyer's orders, most recent first.
func (s *OrderService) ListBuyerOrders(ctx context.Context, buyer domain.Principal) ([]domain.Order, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	orders, err := s.orders.ListOrdersByBuyer(sctx, buyer.ID)
	if err != nil {
		return nil, storeFailure("list buyer orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListSellerOrders returns orders containing the seller's products, most recent first.
func (s *OrderService) ListSellerOrders(ctx context.Context, seller domain.Principal) ([]domain.Order, error) {
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	orders, err := s.orders.ListOrdersBySeller(sctx, seller.ID)
	if err != nil {
		return nil, storeFailure("list seller orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListAllOrders returns the most recent orders across every buyer. Admin only.
func (s *OrderService) ListAllOrders(ctx context.Context, admin domain.Principal) ([]domain.Order, error) {
	if admin.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	orders, err := s.orders.ListRecentOrders(sctx, adminOrderListLimit)
	if err != nil {
		return nil, storeFailure("list all orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListOrders returns the orders p may see: their own as a buyer, the ones
// holding their products as a seller, all recent orders as an admin.
func (s *OrderService) ListOrders(ctx context.Context, p domain.Principal) ([]domain.Order, error) {
	switch p.Role {
	case domain.RoleSeller:
		return s.ListSellerOrders(ctx, p)
	case domain.RoleAdmin:
		return s.ListAllOrders(ctx, p)
	default:
		return s.ListBuyerOrders(ctx, p)
	}
}

func (s *OrderService) notifySellers(order *domain.Order) {
	if s.notifier == nil {
		return
	}
	n := domain.Notification{
		Type:    "new_order",
		Payload: map[string]any{"orderId": order.ID, "status": order.Status},
		SentAt:  s.now().UnixMilli(),
	}
	for _, sellerID := range order.SellerIDs() {
		s.notifier.Send(domain.Principal{ID: sellerID, Role: domain.RoleSeller}, n)
	}
}

func (s *OrderService) notifyBuyer(order *domain.Order) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(domain.Principal{ID: order.BuyerID, Role: domain.RoleBuyer}, domain.Notification{
		Type:    "order_status",
		Payload: map[string]any{"orderId": order.ID, "status": order.Status},
		SentAt:  s.now().UnixMilli(),
	})
}
