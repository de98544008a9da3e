package service

import (
	"context"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

const defaultStoreTimeout = 3 * time.Second

// storeCall bounds a single store round trip.
type storeCall struct {
	timeout time.Duration
}

func newStoreCall(timeout time.Duration) storeCall {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return storeCall{timeout: timeout}
}

func (c storeCall) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.timeout)
}

// detached is used for compensating writes that must run even if the
// caller has gone away.
func (c storeCall) detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), c.timeout)
}

func storeFailure(op string, err error) error {
	return &domain.DependencyError{Op: op, Err: err}
}
