package service

import (
	"context"
	"strings"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const searchResultLimit = 50

type SearchService struct {
	products port.ProductRepository
	cache    *Cache
	ttl      time.Duration
	store    storeCall
	now      func() time.Time
}

func NewSearchService(products port.ProductRepository, cache *Cache, ttl time.Duration, storeTimeout time.Duration) *SearchService {
	return &SearchService{
		products: products,
		cache:    cache,
		ttl:      ttl,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Search looks up active products matching q. Authenticated searches are
// recorded in the caller's recent searches.
func (s *SearchService) Search(ctx context.Context, q string, viewer domain.Principal) (*domain.SearchResult, error) {
	query := normalizeQuery(q)
	if query == "" {
		return nil, domain.NewValidationError("q", "search query is required")
	}

	if !viewer.IsZero() {
		s.cache.PushRecent(ctx, recentSearchesKey(viewer.ID), domain.RecentSearch{
			Query:     query,
			Timestamp: s.now().UnixMilli(),
		}, recentSearchesMax)
	}

	result, hit, err := GetOrCompute(ctx, s.cache, searchKey(query), s.ttl,
		func(ctx context.Context) (*domain.SearchResult, error) {
			sctx, cancel := s.store.ctx(ctx)
			defer cancel()

			products, err := s.products.SearchProducts(sctx, query, searchResultLimit)
			if err != nil {
				return nil, storeFailure("search products", err)
			}
			if products == nil {
				products = []domain.Product{}
			}
			return &domain.SearchResult{
				Query:     query,
				Count:     len(products),
				Products:  products,
				Timestamp: s.now().UnixMilli(),
			}, nil
		})
	if err != nil {
		return nil, err
	}
	result.Cached = hit
	return result, nil
}

func (s *SearchService) RecentSearches(ctx context.Context, viewer domain.Principal) ([]domain.RecentSearch, error) {
	if viewer.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	return Recent[domain.RecentSearch](ctx, s.cache, recentSearchesKey(viewer.ID), recentSearchesMax), nil
}

func (s *SearchService) ClearRecentSearches(ctx context.Context, viewer domain.Principal) error {
	if viewer.IsZero() {
		return domain.ErrUnauthorized
	}
	s.cache.Forget(ctx, recentSearchesKey(viewer.ID))
	return nil
}
