package service

import (
	"context"
	"errors"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory DatabaseRepository with switchable failures.
type memStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	accounts map[string]domain.Account

	announcements map[string]domain.Announcement
	reads         map[string]map[string]time.Time
	preferences   map[string]domain.NotificationPreferences

	decrementCalls  int
	failDecrementOn map[string]error
	drainOn         map[string]bool
	failInsertOrder error
	failClearCart   error
	failFindProduct error
	failPreferences error
}

func newMemStore() *memStore {
	return &memStore{
		products:        make(map[string]domain.Product),
		carts:           make(map[string]domain.Cart),
		orders:          make(map[string]domain.Order),
		accounts:        make(map[string]domain.Account),
		announcements:   make(map[string]domain.Announcement),
		reads:           make(map[string]map[string]time.Time),
		preferences:     make(map[string]domain.NotificationPreferences),
		failDecrementOn: make(map[string]error),
		drainOn:         make(map[string]bool),
	}
}

func (m *memStore) addProduct(id, sellerID, name, price string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = domain.Product{
		ID:          id,
		SellerID:    sellerID,
		Name:        name,
		Description: name + " description",
		Category:    "general",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		Active:      true,
	}
}

func (m *memStore) addBuyer(id, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = domain.Account{ID: id, Role: domain.RoleBuyer, Name: id, Login: id, Address: address}
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) removeProduct(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
}

func (m *memStore) setPrice(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = decimal.RequireFromString(price)
	m.products[id] = p
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) setCart(buyerID string, items ...domain.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[buyerID] = domain.Cart{BuyerID: buyerID, Items: items}
}

func (m *memStore) cartItems(buyerID string) []domain.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[buyerID].Items
}

func (m *memStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFindProduct != nil {
		return nil, m.failFindProduct
	}
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
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

func (m *memStore) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.SellerID != "" && p.SellerID != filter.SellerID {
			continue
		}
		if filter.Category != "" && !strings.Contains(strings.ToLower(p.Category), strings.ToLower(filter.Category)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if !p.Active {
			continue
		}
		text := strings.ToLower(p.Name + " " + p.Description + " " + p.Category)
		if strings.Contains(text, term) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) InsertProduct(ctx context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	return nil
}

func (m *memStore) UpdateSellerProducts(ctx context.Context, sellerID string, ids []string, patch domain.ProductPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched int64
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok || p.SellerID != sellerID {
			continue
		}
		if err := patch.Apply(&p); err != nil {
			return matched, err
		}
		m.products[id] = p
		matched++
	}
	return matched, nil
}

func (m *memStore) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrementCalls++
	if err := m.failDecrementOn[productID]; err != nil {
		return false, err
	}
	p, ok := m.products[productID]
	if ok && m.drainOn[productID] {
		// another checkout got there first
		p.Stock = 0
		m.products[productID] = p
	}
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	m.products[productID] = p
	return true, nil
}

func (m *memStore) IncrementStock(ctx context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += quantity
	m.products[productID] = p
	return nil
}

func (m *memStore) FindCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return nil, nil
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return &c, nil
}

func (m *memStore) SaveCart(ctx context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[cart.BuyerID] = cart
	return nil
}

func (m *memStore) ClearCart(ctx context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClearCart != nil {
		return m.failClearCart
	}
	c := m.carts[buyerID]
	c.BuyerID = buyerID
	c.Items = []domain.CartItem{}
	m.carts[buyerID] = c
	return nil
}

func (m *memStore) InsertOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertOrder != nil {
		return m.failInsertOrder
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memStore) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) listOrders(keep func(domain.Order) bool) []domain.Order {
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

func (m *memStore) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m *memStore) ListOrdersBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.HasSeller(sellerID) }), nil
}

func (m *memStore) ListRecentOrders(_ context.Context, limit int) ([]domain.Order, error) {
	out := m.listOrders(func(domain.Order) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, change domain.StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[change.OrderID]
	if !ok || o.Status != change.From {
		return false, nil
	}
	o.Status = change.To
	o.UpdatedAt = change.At
	if change.DeliveredAt != nil {
		o.DeliveredAt = change.DeliveredAt
	}
	m.orders[o.ID] = o
	return true, nil
}

func (m *memStore) FindAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) FindAccountByLogin(ctx context.Context, role domain.Role, login string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Role == role && a.Login == login {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertAccount(ctx context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Role == account.Role && a.Login == account.Login {
			return domain.ErrDuplicateAccount
		}
	}
	m.accounts[account.ID] = account
	return nil
}

// memCache is an in-memory CacheRepository. Setting fail makes every call error.
type memCache struct {
	mu    sync.Mutex
	fail  bool
	kv    map[string][]byte
	lists map[string][][]byte
	locks map[string]string
	gets  int
	sets  int
}

func newMemCache() *memCache {
	return &memCache{
		kv:    make(map[string][]byte),
		lists: make(map[string][][]byte),
		locks: make(map[string]string),
	}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.fail {
		return nil, false, errStoreDown
	}
	v, ok := c.kv[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.fail {
		return errStoreDown
	}
	c.kv[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errStoreDown
	}
	for _, k := range keys {
		delete(c.kv, k)
		delete(c.lists, k)
	}
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errStoreDown
	}
	var n int64
	for k := range c.kv {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.kv, k)
			n++
		}
	}
	return n, nil
}

func (c *memCache) PushCapped(ctx context.Context, key string, value []byte, max int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errStoreDown
	}
	list := [][]byte{value}
	for _, v := range c.lists[key] {
		if string(v) != string(value) {
			list = append(list, v)
		}
	}
	if len(list) > max {
		list = list[:max]
	}
	c.lists[key] = list
	return nil
}

func (c *memCache) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errStoreDown
	}
	list := c.lists[key]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (c *memCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", false, errStoreDown
	}
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	c.locks[key] = key + "-token"
	return key + "-token", true, nil
}

func (c *memCache) ReleaseLock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errStoreDown
	}
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.kv[key]
	return ok
}

func (c *memCache) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (m *memStore) InsertAnnouncement(_ context.Context, a domain.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements[a.ID] = a
	return nil
}

func (m *memStore) FindAnnouncement(_ context.Context, id string) (*domain.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.announcements[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) ListAnnouncements(_ context.Context, f domain.AnnouncementFilter) ([]domain.Announcement, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Announcement
	for _, a := range m.announcements {
		if f.SellerID != "" && a.SellerID != f.SellerID {
			continue
		}
		if slices.Contains(f.ExcludeSellers, a.SellerID) {
			continue
		}
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, a.Kind) {
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

func (m *memStore) DeleteAnnouncement(_ context.Context, sellerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.announcements[id]
	if !ok || a.SellerID != sellerID {
		return false, nil
	}
	delete(m.announcements, id)
	for _, read := range m.reads {
		delete(read, id)
	}
	return true, nil
}

func (m *memStore) RecordAnnouncementSent(_ context.Context, id string, sent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.announcements[id]; ok {
		a.Sent += sent
		m.announcements[id] = a
	}
	return nil
}

func (m *memStore) MarkAnnouncementRead(_ context.Context, buyerID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	read := m.reads[buyerID]
	if read == nil {
		read = make(map[string]time.Time)
		m.reads[buyerID] = read
	}
	if _, ok := read[id]; ok {
		return false, nil
	}
	read[id] = at
	if a, ok := m.announcements[id]; ok {
		a.Reads++
		m.announcements[id] = a
	}
	return true, nil
}

func (m *memStore) ReadAnnouncements(_ context.Context, buyerID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.reads[buyerID][id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) FindNotificationPreferences(_ context.Context, buyerID string) (*domain.NotificationPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPreferences != nil {
		return nil, m.failPreferences
	}
	p, ok := m.preferences[buyerID]
	if !ok {
		return nil, nil
	}
	p.MutedSellers = slices.Clone(p.MutedSellers)
	return &p, nil
}

func (m *memStore) SaveNotificationPreferences(_ context.Context, p domain.NotificationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.MutedSellers = slices.Clone(p.MutedSellers)
	m.preferences[p.BuyerID] = p
	return nil
}

// recordingNotifier remembers every notification it was asked to deliver.
// Broadcasts reach the connected principals.
type recordingNotifier struct {
	mu        sync.Mutex
	connected []domain.Principal
	sent      []domain.Principal
	kind      []string
}

func (n *recordingNotifier) Broadcast(role domain.Role, note domain.Notification, accept func(domain.Principal) bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kind = append(n.kind, note.Type)
	reached := 0
	for _, p := range n.connected {
		if p.Role != role || (accept != nil && !accept(p)) {
			continue
		}
		n.sent = append(n.sent, p)
		reached++
	}
	return reached
}

func (n *recordingNotifier) Send(to domain.Principal, note domain.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to)
	n.kind = append(n.kind, note.Type)
	return true
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kind...)
}

var (
	buyerAlice = domain.Principal{ID: "alice", Role: domain.RoleBuyer}
	buyerBob   = domain.Principal{ID: "bob", Role: domain.RoleBuyer}
	sellerSam  = domain.Principal{ID: "sam", Role: domain.RoleSeller}
	sellerTia  = domain.Principal{ID: "tia", Role: domain.RoleSeller}
	adminAda   = domain.Principal{ID: "ada", Role: domain.RoleAdmin}
)

// drain runs the invalidation queue synchronously until it is empty.
func drain(c *Cache) {
	for {
		select {
		case job, ok := <-c.Queue():
			if !ok {
				return
			}
			c.Process(context.Background(), job)
		default:
			return
		}
	}
}
