package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// DeleteByPattern removes every key matching a glob pattern, e.g. "search:*".
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// PushCapped moves value to the head of a list, trims it to max entries and refreshes its expiry.
	PushCapped(ctx context.Context, key string, value []byte, max int, ttl time.Duration) error

	// Range returns up to limit list entries, newest first.
	Range(ctx context.Context, key string, limit int) ([][]byte, error)

	// AcquireLock sets key if absent and returns the token needed to release it.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// ReleaseLock deletes key only if it still holds token.
	ReleaseLock(ctx context.Context, key, token string) error
}
