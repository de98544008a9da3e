package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderNotFound        = errors.New("order not found")
	ErrForbidden            = errors.New("access denied")
	ErrInvalidState         = errors.New("invalid order state")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrUnauthorized         = errors.New("authentication required")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrDuplicateAccount     = errors.New("account already exists")
	ErrCheckoutInProgress   = errors.New("checkout already in progress")
	ErrDependency           = errors.New("dependency unavailable")
)

// InsufficientStockError names the product that could not be reserved and
// how much of it is left.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, only %d available",
		e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall is how many units are missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int {
	if e.Available >= e.Requested {
		return 0
	}
	return e.Requested - e.Available
}

// ValidationError reports input rejected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DependencyError wraps a failed store call. Callers may retry.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}
