package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Lookups return (nil, nil) when the record does not exist.

type ProductRepository interface {
	FindProduct(ctx context.Context, id string) (*domain.Product, error)

	// FindProducts returns the products with the given ids that exist, in no particular order.
	FindProducts(ctx context.Context, ids []string) ([]domain.Product, error)

	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)

	// SearchProducts matches active products by name, description or category, case-insensitively.
	SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error)

	InsertProduct(ctx context.Context, product domain.Product) error

	// UpdateSellerProducts sets only the patched fields on every listed product owned by
	// sellerID and returns the match count. Stock in a patch is an absolute overwrite.
	UpdateSellerProducts(ctx context.Context, sellerID string, ids []string, patch domain.ProductPatch) (int64, error)

	// DecrementStock atomically subtracts quantity where stock >= quantity, returns false if the guard failed
	DecrementStock(ctx context.Context, productID string, quantity int) (bool, error)

	// IncrementStock restores stock (cancellation, rollback); domain.ErrProductNotFound if the product is gone
	IncrementStock(ctx context.Context, productID string, quantity int) error
}

type CartRepository interface {
	FindCart(ctx context.Context, buyerID string) (*domain.Cart, error)

	// SaveCart upserts the cart keyed by buyer.
	SaveCart(ctx context.Context, cart domain.Cart) error

	// ClearCart empties the buyer's cart without deleting it.
	ClearCart(ctx context.Context, buyerID string) error
}

type OrderRepository interface {
	InsertOrder(ctx context.Context, order domain.Order) error

	FindOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrdersByBuyer returns the buyer's orders, most recent first.
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)

	// ListOrdersBySeller returns orders with at least one line sold by sellerID, most recent first.
	ListOrdersBySeller(ctx context.Context, sellerID string) ([]domain.Order, error)

	// ListRecentOrders returns up to limit orders across all buyers, most recent first.
	ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error)

	// UpdateOrderStatus applies change only if the stored status still equals change.From.
	UpdateOrderStatus(ctx context.Context, change domain.StatusChange) (bool, error)
}

type AccountRepository interface {
	FindAccount(ctx context.Context, id string) (*domain.Account, error)

	FindAccountByLogin(ctx context.Context, role domain.Role, login string) (*domain.Account, error)

	// InsertAccount returns domain.ErrDuplicateAccount when the login is taken.
	InsertAccount(ctx context.Context, account domain.Account) error
}

type AnnouncementRepository interface {
	InsertAnnouncement(ctx context.Context, a domain.Announcement) error

	FindAnnouncement(ctx context.Context, id string) (*domain.Announcement, error)

	// ListAnnouncements returns one page of matches, newest first, with the total match count.
	ListAnnouncements(ctx context.Context, filter domain.AnnouncementFilter) ([]domain.Announcement, int64, error)

	// DeleteAnnouncement removes the announcement and its read marks; false if sellerID does not own id.
	DeleteAnnouncement(ctx context.Context, sellerID, id string) (bool, error)

	RecordAnnouncementSent(ctx context.Context, id string, sent int) error

	// MarkAnnouncementRead records one read per buyer and bumps the read count; false if already read.
	MarkAnnouncementRead(ctx context.Context, buyerID, id string, at time.Time) (bool, error)

	// ReadAnnouncements returns the subset of ids the buyer has read.
	ReadAnnouncements(ctx context.Context, buyerID string, ids []string) (map[string]bool, error)

	FindNotificationPreferences(ctx context.Context, buyerID string) (*domain.NotificationPreferences, error)

	// SaveNotificationPreferences upserts by buyer, muted sellers included.
	SaveNotificationPreferences(ctx context.Context, prefs domain.NotificationPreferences) error
}

// DatabaseRepository is everything the primary store provides.
type DatabaseRepository interface {
	ProductRepository
	CartRepository
	OrderRepository
	AccountRepository
	AnnouncementRepository
}
