package handler

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

// memDB is a minimal in-memory primary store for transport tests.
type memDB struct {
	mu       sync.Mutex
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	accounts map[string]domain.Account

	announcements map[string]domain.Announcement
	reads         map[string]bool
	preferences   map[string]domain.NotificationPreferences
}

func newMemDB() *memDB {
	return &memDB{
		products:      make(map[string]domain.Product),
		carts:         make(map[string]domain.Cart),
		orders:        make(map[string]domain.Order),
		accounts:      make(map[string]domain.Account),
		announcements: make(map[string]domain.Announcement),
		reads:         make(map[string]bool),
		preferences:   make(map[string]domain.NotificationPreferences),
	}
}

func (m *memDB) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memDB) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memDB) FindProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memDB) ListProducts(_ context.Context, f domain.ProductFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.SellerID != "" && p.SellerID != f.SellerID {
			continue
		}
		if f.Category != "" && !strings.Contains(strings.ToLower(p.Category), strings.ToLower(f.Category)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memDB) SearchProducts(_ context.Context, term string, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		text := strings.ToLower(p.Name + " " + p.Description + " " + p.Category)
		if p.Active && strings.Contains(text, term) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memDB) InsertProduct(_ context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *memDB) UpdateSellerProducts(_ context.Context, sellerID string, ids []string, patch domain.ProductPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok || p.SellerID != sellerID {
			continue
		}
		patch.Apply(&p)
		m.products[id] = p
		n++
	}
	return n, nil
}

func (m *memDB) DecrementStock(_ context.Context, id string, q int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.Stock < q {
		return false, nil
	}
	p.Stock -= q
	m.products[id] = p
	return true, nil
}

func (m *memDB) IncrementStock(_ context.Context, id string, q int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += q
	m.products[id] = p
	return nil
}

func (m *memDB) FindCart(_ context.Context, buyerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return nil, nil
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return &c, nil
}

func (m *memDB) SaveCart(_ context.Context, c domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Items = append([]domain.CartItem(nil), c.Items...)
	m.carts[c.BuyerID] = c
	return nil
}

func (m *memDB) ClearCart(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[buyerID] = domain.Cart{BuyerID: buyerID, Items: []domain.CartItem{}}
	return nil
}

func (m *memDB) InsertOrder(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memDB) FindOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memDB) listOrders(keep func(domain.Order) bool) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memDB) ListOrdersByBuyer(_ context.Context, buyerID string) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m *memDB) ListOrdersBySeller(_ context.Context, sellerID string) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.HasSeller(sellerID) }), nil
}

func (m *memDB) ListRecentOrders(_ context.Context, limit int) ([]domain.Order, error) {
	out := m.listOrders(func(domain.Order) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDB) UpdateOrderStatus(_ context.Context, c domain.StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[c.OrderID]
	if !ok || o.Status != c.From {
		return false, nil
	}
	o.Status = c.To
	o.UpdatedAt = c.At
	if c.DeliveredAt != nil {
		o.DeliveredAt = c.DeliveredAt
	}
	m.orders[c.OrderID] = o
	return true, nil
}

func (m *memDB) FindAccount(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memDB) FindAccountByLogin(_ context.Context, role domain.Role, login string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Role == role && a.Login == login {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memDB) InsertAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Role == a.Role && existing.Login == a.Login {
			return domain.ErrDuplicateAccount
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func readKey(buyerID, id string) string {
	return buyerID + "/" + id
}

func (m *memDB) InsertAnnouncement(_ context.Context, a domain.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements[a.ID] = a
	return nil
}

func (m *memDB) FindAnnouncement(_ context.Context, id string) (*domain.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.announcements[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memDB) ListAnnouncements(_ context.Context, f domain.AnnouncementFilter) ([]domain.Announcement, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Announcement
	for _, a := range m.announcements {
		if (f.SellerID != "" && a.SellerID != f.SellerID) ||
			slices.Contains(f.ExcludeSellers, a.SellerID) ||
			(len(f.Kinds) > 0 && !slices.Contains(f.Kinds, a.Kind)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if f.Limit > 0 {
		start := min(f.Offset, len(out))
		out = out[start:min(start+f.Limit, len(out))]
	}
	return out, total, nil
}

func (m *memDB) DeleteAnnouncement(_ context.Context, sellerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.announcements[id]; !ok || a.SellerID != sellerID {
		return false, nil
	}
	delete(m.announcements, id)
	return true, nil
}

func (m *memDB) RecordAnnouncementSent(_ context.Context, id string, sent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.announcements[id]; ok {
		a.Sent += sent
		m.announcements[id] = a
	}
	return nil
}

func (m *memDB) MarkAnnouncementRead(_ context.Context, buyerID, id string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reads[readKey(buyerID, id)] {
		return false, nil
	}
	m.reads[readKey(buyerID, id)] = true
	if a, ok := m.announcements[id]; ok {
		a.Reads++
		m.announcements[id] = a
	}
	return true, nil
}

func (m *memDB) ReadAnnouncements(_ context.Context, buyerID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if m.reads[readKey(buyerID, id)] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memDB) FindNotificationPreferences(_ context.Context, buyerID string) (*domain.NotificationPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.preferences[buyerID]
	if !ok {
		return nil, nil
	}
	p.MutedSellers = slices.Clone(p.MutedSellers)
	return &p, nil
}

func (m *memDB) SaveNotificationPreferences(_ context.Context, p domain.NotificationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.MutedSellers = slices.Clone(p.MutedSellers)
	m.preferences[p.BuyerID] = p
	return nil
}
