package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/port"
)

const (
	productCachePattern = "cache:products:*"
	searchCachePattern  = "search:*"

	recentSearchesMax   = 10
	recentlyViewedMax   = 20
	recentListTTL       = 30 * 24 * time.Hour
	defaultCacheTimeout = 500 * time.Millisecond
)

func productListKey(category string) string {
	return "cache:products:list:" + strings.ToLower(strings.TrimSpace(category))
}

func productDetailKey(id string) string {
	return "cache:products:detail:" + id
}

func searchKey(normalized string) string {
	return "search:" + normalized
}

func recentSearchesKey(userID string) string {
	return "recent_searches:" + userID
}

func recentlyViewedKey(userID string) string {
	return "recently_viewed:" + userID
}

func checkoutLockKey(buyerID string) string {
	return "checkout:" + buyerID
}

// Invalidation is a batch of key patterns to evict.
type Invalidation struct {
	Patterns []string
	Reason   string
}

// Cache is the best-effort layer in front of the store. Every backend error
// is logged and treated as a miss; a Cache built on a nil repository simply
// computes every time.
type Cache struct {
	repo    port.CacheRepository
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan Invalidation
	closed bool
}

func NewCache(repo port.CacheRepository, timeout time.Duration, queueSize int) *Cache {
	if timeout <= 0 {
		timeout = defaultCacheTimeout
	}
	return &Cache{
		repo:    repo,
		timeout: timeout,
		queue:   make(chan Invalidation, queueSize),
	}
}

func (c *Cache) enabled() bool {
	return c != nil && c.repo != nil
}

// GetOrCompute returns the cached value under key or runs compute and caches
// its result for ttl. The boolean reports a cache hit.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	if c.enabled() {
		if raw, ok := c.get(ctx, key); ok {
			var cached T
			err := json.Unmarshal(raw, &cached)
			if err == nil {
				return cached, true, nil
			}
			log.Printf("cache: discarding undecodable entry %s: %v", key, err)
		}
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	if c.enabled() {
		c.set(ctx, key, value, ttl)
	}
	return value, false, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, ok, err := c.repo.Get(ctx, key)
	if err != nil {
		log.Printf("cache: get %s failed, reading through: %v", key, err)
		return nil, false
	}
	return raw, ok
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: encode %s: %v", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.repo.Set(ctx, key, raw, ttl); err != nil {
		log.Printf("cache: set %s failed: %v", key, err)
	}
}

// Invalidate schedules eviction of patterns without waiting for it. When the
// queue is full the eviction runs on its own goroutine instead of being dropped.
func (c *Cache) Invalidate(reason string, patterns ...string) {
	if !c.enabled() || len(patterns) == 0 {
		return
	}
	job := Invalidation{Patterns: patterns, Reason: reason}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		go c.Process(context.Background(), job)
		return
	}

	select {
	case c.queue <- job:
	default:
		go c.Process(context.Background(), job)
	}
}

// InvalidateCatalog evicts every cached listing, detail page and search result.
func (c *Cache) InvalidateCatalog(reason string) {
	c.Invalidate(reason, productCachePattern, searchCachePattern)
}

// Process performs one invalidation. Workers call it for every queued job.
func (c *Cache) Process(ctx context.Context, job Invalidation) {
	if !c.enabled() {
		return
	}
	for _, pattern := range job.Patterns {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		n, err := c.repo.DeleteByPattern(pctx, pattern)
		cancel()
		if err != nil {
			log.Printf("cache: invalidate %s (%s) failed: %v", pattern, job.Reason, err)
			continue
		}
		log.Printf("cache: invalidated %s (%s), %d keys", pattern, job.Reason, n)
	}
}

func (c *Cache) Queue() <-chan Invalidation {
	return c.queue
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// PushRecent records value at the head of a capped per-user list.
func (c *Cache) PushRecent(ctx context.Context, key string, value any, max int) {
	if !c.enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: encode %s: %v", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.repo.PushCapped(ctx, key, raw, max, recentListTTL); err != nil {
		log.Printf("cache: push %s failed: %v", key, err)
	}
}

// Recent reads up to limit entries of a capped list, newest first.
func Recent[T any](ctx context.Context, c *Cache, key string, limit int) []T {
	out := []T{}
	if !c.enabled() {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raws, err := c.repo.Range(ctx, key, limit)
	if err != nil {
		log.Printf("cache: range %s failed: %v", key, err)
		return out
	}
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *Cache) Forget(ctx context.Context, key string) {
	if !c.enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.repo.Delete(ctx, key); err != nil {
		log.Printf("cache: delete %s failed: %v", key, err)
	}
}

// TryLock takes a short advisory lock. A failing backend grants the lock so
// that the cache never blocks the caller.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool) {
	noop := func() {}
	if !c.enabled() {
		return noop, true
	}

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, ok, err := c.repo.AcquireLock(lctx, key, ttl)
	if err != nil {
		log.Printf("cache: lock %s unavailable, continuing without it: %v", key, err)
		return noop, true
	}
	if !ok {
		return noop, false
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.repo.ReleaseLock(rctx, key, token); err != nil {
			log.Printf("cache: release %s failed: %v", key, err)
		}
	}, true
}
