package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// CacheTTLs are the read-through lifetimes of catalog responses.
type CacheTTLs struct {
	ProductList   time.Duration
	ProductDetail time.Duration
	Search        time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		ProductList:   5 * time.Minute,
		ProductDetail: 10 * time.Minute,
		Search:        5 * time.Minute,
	}
}

// NewProduct is the seller input for a product listing.
type NewProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// CatalogService owns product records. Sellers overwrite stock directly;
// only the order workflow uses conditional arithmetic on it.
type CatalogService struct {
	products port.ProductRepository
	cache    *Cache
	ttl      CacheTTLs
	store    storeCall
	now      func() time.Time
}

func NewCatalogService(products port.ProductRepository, cache *Cache, ttl CacheTTLs, storeTimeout time.Duration) *CatalogService {
	return &CatalogService{
		products: products,
		cache:    cache,
		ttl:      ttl,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

func (s *CatalogService) CreateProduct(ctx context.Context, seller domain.Principal, in NewProduct) (*domain.Product, error) {
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrForbidden
	}

	now := s.now()
	product := domain.Product{
		ID:          uuid.NewString(),
		SellerID:    seller.ID,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Brand:       strings.TrimSpace(in.Brand),
		Image:       in.Image,
		Price:       in.Price,
		Stock:       in.Stock,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	if err := s.products.InsertProduct(sctx, product); err != nil {
		return nil, storeFailure("insert product", err)
	}

	s.cache.InvalidateCatalog("create product " + product.ID)
	return &product, nil
}

// UpdateProduct applies patch to one of the seller's products.
func (s *CatalogService) UpdateProduct(ctx context.Context, seller domain.Principal, id string, patch domain.ProductPatch) (*domain.Product, error) {
	patch = patch.Normalized()
	if patch.IsEmpty() {
		return nil, domain.NewValidationError("body", "nothing to update")
	}

	product, err := s.ownedProduct(ctx, seller, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(product); err != nil {
		return nil, err
	}
	product.UpdatedAt = s.now()

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	matched, err := s.products.UpdateSellerProducts(sctx, seller.ID, []string{id}, patch)
	if err != nil {
		return nil, storeFailure("update product", err)
	}
	if matched == 0 {
		return nil, domain.ErrProductNotFound
	}

	s.cache.InvalidateCatalog("update product " + id)
	return product, nil
}

// SetStock overwrites the stock counter with an absolute value.
func (s *CatalogService) SetStock(ctx context.Context, seller domain.Principal, id string, stock int) (*domain.Product, error) {
	if stock < 0 {
		return nil, domain.NewValidationError("stock", "must not be negative")
	}
	return s.UpdateProduct(ctx, seller, id, domain.ProductPatch{Stock: &stock})
}

// SetActive lists or delists a product. Delisted products stay referenced
// by historical orders.
func (s *CatalogService) SetActive(ctx context.Context, seller domain.Principal, id string, active bool) (*domain.Product, error) {
	return s.UpdateProduct(ctx, seller, id, domain.ProductPatch{Active: &active})
}

// BulkUpdate overwrites one field on several products, all of which must
// belong to the seller.
func (s *CatalogService) BulkUpdate(ctx context.Context, seller domain.Principal, req domain.BulkUpdate) (int64, error) {
	if seller.Role != domain.RoleSeller {
		return 0, domain.ErrForbidden
	}
	patch, err := req.Patch()
	if err != nil {
		return 0, err
	}

	ids := uniqueIDs(req.ProductIDs)

	sctx, cancel := s.store.ctx(ctx)
	found, err := s.products.FindProducts(sctx, ids)
	cancel()
	if err != nil {
		return 0, storeFailure("load products", err)
	}
	if len(found) != len(ids) {
		return 0, domain.ErrForbidden
	}
	for i := range found {
		if !domain.CanManageProduct(seller, &found[i]) {
			return 0, domain.ErrForbidden
		}
	}

	sctx, cancel = s.store.ctx(ctx)
	defer cancel()

	matched, err := s.products.UpdateSellerProducts(sctx, seller.ID, ids, patch)
	if err != nil {
		return 0, storeFailure("bulk update products", err)
	}

	s.cache.InvalidateCatalog("bulk update by seller " + seller.ID)
	return matched, nil
}

func (s *CatalogService) ownedProduct(ctx context.Context, seller domain.Principal, id string) (*domain.Product, error) {
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	product, err := s.products.FindProduct(sctx, id)
	if err != nil {
		return nil, storeFailure("load product", err)
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}
	if !domain.CanManageProduct(seller, product) {
		return nil, domain.ErrForbidden
	}
	return product, nil
}

// ListProducts returns active products, optionally filtered by category.
// The boolean reports whether the page came from the cache.
func (s *CatalogService) ListProducts(ctx context.Context, category string) ([]domain.Product, bool, error) {
	return GetOrCompute(ctx, s.cache, productListKey(category), s.ttl.ProductList,
		func(ctx context.Context) ([]domain.Product, error) {
			sctx, cancel := s.store.ctx(ctx)
			defer cancel()

			products, err := s.products.ListProducts(sctx, domain.ProductFilter{
				Category:   strings.TrimSpace(category),
				ActiveOnly: true,
			})
			if err != nil {
				return nil, storeFailure("list products", err)
			}
			if products == nil {
				products = []domain.Product{}
			}
			return products, nil
		})
}

// GetProduct returns an active product for browsing and records it in the
// viewer's recently viewed list.
func (s *CatalogService) GetProduct(ctx context.Context, id string, viewer domain.Principal) (*domain.Product, bool, error) {
	product, hit, err := GetOrCompute(ctx, s.cache, productDetailKey(id), s.ttl.ProductDetail,
		func(ctx context.Context) (*domain.Product, error) {
			sctx, cancel := s.store.ctx(ctx)
			defer cancel()

			product, err := s.products.FindProduct(sctx, id)
			if err != nil {
				return nil, storeFailure("load product", err)
			}
			if product == nil || !product.Active {
				return nil, domain.ErrProductNotFound
			}
			return product, nil
		})
	if err != nil {
		return nil, false, err
	}
	if product == nil {
		return nil, false, domain.ErrProductNotFound
	}

	if !viewer.IsZero() {
		s.cache.PushRecent(ctx, recentlyViewedKey(viewer.ID), product.ID, recentlyViewedMax)
	}
	return product, hit, nil
}

// RecentlyViewed returns the viewer's recently viewed products that are
// still listed, newest first, with live data.
func (s *CatalogService) RecentlyViewed(ctx context.Context, viewer domain.Principal, limit int) ([]domain.Product, error) {
	if viewer.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	if limit <= 0 || limit > recentlyViewedMax {
		limit = 10
	}

	ids := Recent[string](ctx, s.cache, recentlyViewedKey(viewer.ID), limit)
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	found, err := s.products.FindProducts(sctx, ids)
	if err != nil {
		return nil, storeFailure("load products", err)
	}

	byID := make(map[string]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListSellerProducts returns every product of the seller, delisted ones included.
func (s *CatalogService) ListSellerProducts(ctx context.Context, seller domain.Principal) ([]domain.Product, error) {
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	products, err := s.products.ListProducts(sctx, domain.ProductFilter{SellerID: seller.ID})
	if err != nil {
		return nil, storeFailure("list seller products", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
