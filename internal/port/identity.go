package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type IdentityProvider interface {
	// ResolvePrincipal validates a bearer credential, domain.ErrUnauthorized if it is not valid.
	ResolvePrincipal(ctx context.Context, credential string) (domain.Principal, error)

	Issue(principal domain.Principal) (string, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type Notifier interface {
	// Broadcast pushes n to every connected client with role that accept admits
	// (nil admits all) and returns how many received it.
	Broadcast(role domain.Role, n domain.Notification, accept func(domain.Principal) bool) int

	Send(to domain.Principal, n domain.Notification) bool
}
