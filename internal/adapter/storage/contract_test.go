package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// runRepositoryContract exercises behaviour every primary store must share.
func runRepositoryContract(t *testing.T, repo port.DatabaseRepository) {
	t.Run("ConditionalDecrement", func(t *testing.T) { testConditionalDecrement(t, repo) })
	t.Run("ConcurrentDecrement", func(t *testing.T) { testConcurrentDecrement(t, repo) })
	t.Run("IncrementMissing", func(t *testing.T) { testIncrementMissing(t, repo) })
	t.Run("UpdateSellerProducts", func(t *testing.T) { testUpdateSellerProducts(t, repo) })
	t.Run("Cart", func(t *testing.T) { testCartRoundTrip(t, repo) })
	t.Run("OrderStatusSwap", func(t *testing.T) { testOrderStatusSwap(t, repo) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, repo) })
	t.Run("Announcements", func(t *testing.T) { testAnnouncements(t, repo) })
	t.Run("NotificationPreferences", func(t *testing.T) { testNotificationPreferences(t, repo) })
}

func newTestProduct(t *testing.T, repo port.DatabaseRepository, sellerID string, stock int) domain.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := domain.Product{
		ID:          "test-" + uuid.NewString(),
		SellerID:    sellerID,
		Name:        "Test Lamp",
		Description: "integration fixture",
		Category:    "Lighting",
		Price:       decimal.RequireFromString("12.50"),
		Stock:       stock,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.InsertProduct(context.Background(), p); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	return p
}

func testConditionalDecrement(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	p := newTestProduct(t, repo, "seller-"+uuid.NewString(), 5)

	ok, err := repo.DecrementStock(ctx, p.ID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected success")
	}

	ok, err = repo.DecrementStock(ctx, p.ID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected failure due to insufficient stock")
	}

	got, err := repo.FindProduct(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("find product: %v", err)
	}
	if got.Stock != 2 {
		t.Errorf("expected stock 2, got %d", got.Stock)
	}
	if !got.Price.Equal(p.Price) {
		t.Errorf("expected price %s, got %s", p.Price, got.Price)
	}

	ok, _ = repo.DecrementStock(ctx, "missing-"+uuid.NewString(), 1)
	if ok {
		t.Error("expected failure for missing product")
	}
}

func testConcurrentDecrement(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	initialStock := 25
	totalRequests := 60
	p := newTestProduct(t, repo, "seller-"+uuid.NewString(), initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.DecrementStock(ctx, p.ID, 1)
			if err != nil {
				t.Errorf("decrement: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	got, _ := repo.FindProduct(ctx, p.ID)
	if got == nil || got.Stock != 0 {
		t.Errorf("expected stock 0, got %+v", got)
	}
}

func testIncrementMissing(t *testing.T, repo port.DatabaseRepository) {
	err := repo.IncrementStock(context.Background(), "missing-"+uuid.NewString(), 1)
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func testUpdateSellerProducts(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	seller := "seller-" + uuid.NewString()
	a := newTestProduct(t, repo, seller, 1)
	b := newTestProduct(t, repo, seller, 1)
	foreign := newTestProduct(t, repo, "seller-"+uuid.NewString(), 1)

	stock := 40
	n, err := repo.UpdateSellerProducts(ctx, seller, []string{a.ID, b.ID, foreign.ID}, domain.ProductPatch{Stock: &stock})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 matched, got %d", n)
	}

	// unchanged values still count as matched
	n, err = repo.UpdateSellerProducts(ctx, seller, []string{a.ID}, domain.ProductPatch{Stock: &stock})
	if err != nil || n != 1 {
		t.Errorf("expected 1 matched, got %d (%v)", n, err)
	}

	got, _ := repo.FindProduct(ctx, foreign.ID)
	if got == nil || got.Stock != 1 {
		t.Errorf("foreign product was modified: %+v", got)
	}

	found, err := repo.FindProducts(ctx, []string{a.ID, b.ID, "missing"})
	if err != nil {
		t.Fatalf("find products: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 products, got %d", len(found))
	}

	list, err := repo.ListProducts(ctx, domain.ProductFilter{SellerID: seller})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 seller products, got %d", len(list))
	}
}

func testCartRoundTrip(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	buyer := "buyer-" + uuid.NewString()

	cart, err := repo.FindCart(ctx, buyer)
	if err != nil || cart != nil {
		t.Fatalf("expected no cart, got %+v (%v)", cart, err)
	}

	err = repo.SaveCart(ctx, domain.Cart{
		BuyerID:   buyer,
		Items:     []domain.CartItem{{ProductID: "b", Quantity: 2}, {ProductID: "a", Quantity: 1}},
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("save cart: %v", err)
	}

	cart, err = repo.FindCart(ctx, buyer)
	if err != nil || cart == nil {
		t.Fatalf("find cart: %v", err)
	}
	if len(cart.Items) != 2 || cart.Items[0].ProductID != "b" || cart.Items[0].Quantity != 2 {
		t.Errorf("unexpected items: %+v", cart.Items)
	}

	if err := repo.ClearCart(ctx, buyer); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	cart, err = repo.FindCart(ctx, buyer)
	if err != nil || cart == nil {
		t.Fatalf("cleared cart should still exist: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("expected empty cart, got %+v", cart.Items)
	}
}

func testOrderStatusSwap(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	seller := "seller-" + uuid.NewString()
	buyer := "buyer-" + uuid.NewString()

	order := domain.NewOrder("test-"+uuid.NewString(), buyer, "1 Test Rd", []domain.OrderItem{
		{ProductID: "p1", SellerID: seller, Name: "Lamp", Quantity: 2, UnitPrice: decimal.RequireFromString("3.10")},
		{ProductID: "p2", SellerID: "other", Name: "Mug", Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")},
	}, now)
	if err := repo.InsertOrder(ctx, *order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	got, err := repo.FindOrder(ctx, order.ID)
	if err != nil || got == nil {
		t.Fatalf("find order: %v", err)
	}
	if len(got.Items) != 2 || !got.TotalPrice.Equal(decimal.RequireFromString("7.20")) {
		t.Errorf("unexpected order: %+v", got)
	}

	swapped, err := repo.UpdateOrderStatus(ctx, domain.StatusChange{
		OrderID: order.ID, From: domain.OrderStatusPending, To: domain.OrderStatusCancelled, At: now,
	})
	if err != nil || !swapped {
		t.Fatalf("expected swap, got %v (%v)", swapped, err)
	}

	swapped, err = repo.UpdateOrderStatus(ctx, domain.StatusChange{
		OrderID: order.ID, From: domain.OrderStatusPending, To: domain.OrderStatusCancelled, At: now,
	})
	if err != nil || swapped {
		t.Errorf("second swap from stale status must fail, got %v (%v)", swapped, err)
	}

	byBuyer, err := repo.ListOrdersByBuyer(ctx, buyer)
	if err != nil || len(byBuyer) != 1 {
		t.Errorf("expected 1 buyer order, got %d (%v)", len(byBuyer), err)
	}
	bySeller, err := repo.ListOrdersBySeller(ctx, seller)
	if err != nil || len(bySeller) != 1 || len(bySeller[0].Items) != 2 {
		t.Errorf("expected 1 seller order with all lines, got %+v (%v)", bySeller, err)
	}

	recent, err := repo.ListRecentOrders(ctx, 1000)
	if err != nil {
		t.Fatalf("list recent orders: %v", err)
	}
	found := false
	for i, o := range recent {
		if i > 0 && o.CreatedAt.After(recent[i-1].CreatedAt) {
			t.Errorf("recent orders not newest first at %d", i)
		}
		if o.ID == order.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("order %s missing from recent orders", order.ID)
	}
	if one, err := repo.ListRecentOrders(ctx, 1); err != nil || len(one) != 1 {
		t.Errorf("expected limit 1 to return 1 order, got %d (%v)", len(one), err)
	}

	missing, err := repo.FindOrder(ctx, "missing-"+uuid.NewString())
	if err != nil || missing != nil {
		t.Errorf("expected nil order, got %+v (%v)", missing, err)
	}
}

func testAccounts(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	account := domain.Account{
		ID:           "test-" + uuid.NewString(),
		Role:         domain.RoleSeller,
		Name:         "Shop",
		Login:        "shop-" + uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.InsertAccount(ctx, account); err != nil {
		t.Fatalf("insert account: %v", err)
	}

	dup := account
	dup.ID = "test-" + uuid.NewString()
	if err := repo.InsertAccount(ctx, dup); !errors.Is(err, domain.ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got: %v", err)
	}

	got, err := repo.FindAccountByLogin(ctx, domain.RoleSeller, account.Login)
	if err != nil || got == nil || got.ID != account.ID {
		t.Errorf("find by login: %+v (%v)", got, err)
	}
	got, err = repo.FindAccountByLogin(ctx, domain.RoleBuyer, account.Login)
	if err != nil || got != nil {
		t.Errorf("expected no buyer account, got %+v (%v)", got, err)
	}
}

func testAnnouncements(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	seller := "seller-" + uuid.NewString()
	other := "seller-" + uuid.NewString()
	buyer := "buyer-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	insert := func(sellerID string, kind domain.AnnouncementKind, at time.Time) domain.Announcement {
		t.Helper()
		a := domain.Announcement{
			ID:        "test-" + uuid.NewString(),
			SellerID:  sellerID,
			Title:     "Sale",
			Message:   "everything must go",
			Kind:      kind,
			Priority:  domain.PriorityMedium,
			CreatedAt: at,
		}
		if err := repo.InsertAnnouncement(ctx, a); err != nil {
			t.Fatalf("insert announcement: %v", err)
		}
		return a
	}
	older := insert(seller, domain.KindAnnouncement, now.Add(-time.Minute))
	newer := insert(seller, domain.KindPromotion, now)
	foreign := insert(other, domain.KindAnnouncement, now)

	page, total, err := repo.ListAnnouncements(ctx, domain.AnnouncementFilter{SellerID: seller, Limit: 1})
	if err != nil {
		t.Fatalf("list announcements: %v", err)
	}
	if total != 2 || len(page) != 1 || page[0].ID != newer.ID {
		t.Errorf("expected newest of 2, got %d total %+v", total, page)
	}
	page, _, err = repo.ListAnnouncements(ctx, domain.AnnouncementFilter{SellerID: seller, Offset: 1, Limit: 1})
	if err != nil || len(page) != 1 || page[0].ID != older.ID {
		t.Errorf("expected second page to hold %s, got %+v (%v)", older.ID, page, err)
	}

	kinds, total, err := repo.ListAnnouncements(ctx, domain.AnnouncementFilter{
		SellerID: seller,
		Kinds:    []domain.AnnouncementKind{domain.KindAnnouncement},
	})
	if err != nil || total != 1 || len(kinds) != 1 || kinds[0].ID != older.ID {
		t.Errorf("kind filter: %d %+v (%v)", total, kinds, err)
	}

	excluded, _, err := repo.ListAnnouncements(ctx, domain.AnnouncementFilter{ExcludeSellers: []string{seller}, Limit: 1000})
	if err != nil {
		t.Fatalf("list excluding sellers: %v", err)
	}
	for _, a := range excluded {
		if a.SellerID == seller {
			t.Errorf("muted seller %s listed", seller)
		}
	}

	if err := repo.RecordAnnouncementSent(ctx, newer.ID, 3); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	first, err := repo.MarkAnnouncementRead(ctx, buyer, newer.ID, now)
	if err != nil || !first {
		t.Fatalf("expected first read, got %v (%v)", first, err)
	}
	again, err := repo.MarkAnnouncementRead(ctx, buyer, newer.ID, now)
	if err != nil || again {
		t.Errorf("second read must not count, got %v (%v)", again, err)
	}
	got, err := repo.FindAnnouncement(ctx, newer.ID)
	if err != nil || got == nil {
		t.Fatalf("find announcement: %+v (%v)", got, err)
	}
	if got.Sent != 3 || got.Reads != 1 || got.Kind != domain.KindPromotion {
		t.Errorf("unexpected stats: %+v", got)
	}

	read, err := repo.ReadAnnouncements(ctx, buyer, []string{older.ID, newer.ID})
	if err != nil || !read[newer.ID] || read[older.ID] {
		t.Errorf("unexpected read set %v (%v)", read, err)
	}

	deleted, err := repo.DeleteAnnouncement(ctx, other, newer.ID)
	if err != nil || deleted {
		t.Errorf("foreign seller deleted announcement: %v (%v)", deleted, err)
	}
	deleted, err = repo.DeleteAnnouncement(ctx, seller, newer.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v (%v)", deleted, err)
	}
	if got, err := repo.FindAnnouncement(ctx, newer.ID); err != nil || got != nil {
		t.Errorf("expected deleted announcement gone, got %+v (%v)", got, err)
	}
	read, err = repo.ReadAnnouncements(ctx, buyer, []string{newer.ID})
	if err != nil || read[newer.ID] {
		t.Errorf("read marks survived delete: %v (%v)", read, err)
	}

	if _, err := repo.DeleteAnnouncement(ctx, other, foreign.ID); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}

func testNotificationPreferences(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	buyer := "buyer-" + uuid.NewString()

	missing, err := repo.FindNotificationPreferences(ctx, buyer)
	if err != nil || missing != nil {
		t.Fatalf("expected no preferences, got %+v (%v)", missing, err)
	}

	prefs := domain.DefaultNotificationPreferences(buyer)
	prefs.Kinds.Promotions = false
	prefs.SetMuted("seller-a", true)
	prefs.SetMuted("seller-b", true)
	prefs.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := repo.SaveNotificationPreferences(ctx, prefs); err != nil {
		t.Fatalf("save preferences: %v", err)
	}

	got, err := repo.FindNotificationPreferences(ctx, buyer)
	if err != nil || got == nil {
		t.Fatalf("find preferences: %+v (%v)", got, err)
	}
	if !got.Enabled || got.Kinds.Promotions || !got.Kinds.Alerts {
		t.Errorf("unexpected kinds: %+v", got)
	}
	if len(got.MutedSellers) != 2 || got.MutedSellers[0] != "seller-a" || got.MutedSellers[1] != "seller-b" {
		t.Errorf("unexpected muted sellers: %v", got.MutedSellers)
	}

	got.SetMuted("seller-a", false)
	got.Enabled = false
	if err := repo.SaveNotificationPreferences(ctx, *got); err != nil {
		t.Fatalf("save preferences: %v", err)
	}
	got, err = repo.FindNotificationPreferences(ctx, buyer)
	if err != nil || got == nil || got.Enabled || len(got.MutedSellers) != 1 || got.MutedSellers[0] != "seller-b" {
		t.Errorf("update not persisted: %+v (%v)", got, err)
	}
}
