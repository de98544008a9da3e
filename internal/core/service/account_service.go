package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const minPasswordLength = 6

type Registration struct {
	Role     domain.Role `json:"role"`
	Name     string      `json:"name"`
	Login    string      `json:"login"`
	Address  string      `json:"address"`
	Password string      `json:"password"`
}

func (r *Registration) validate() error {
	if r.Role != domain.RoleBuyer && r.Role != domain.RoleSeller {
		return domain.NewValidationError("role", "must be buyer or seller")
	}
	if strings.TrimSpace(r.Name) == "" {
		return domain.NewValidationError("name", "is required")
	}
	if strings.TrimSpace(r.Login) == "" {
		return domain.NewValidationError("login", "is required")
	}
	if r.Role == domain.RoleBuyer && strings.TrimSpace(r.Address) == "" {
		return domain.NewValidationError("address", "is required")
	}
	if len(r.Password) < minPasswordLength {
		return domain.NewValidationError("password", "must be at least 6 characters")
	}
	return nil
}

// Session is returned after a successful register or login.
type Session struct {
	Token   string          `json:"token"`
	Account *domain.Account `json:"account"`
}

type AccountService struct {
	accounts port.AccountRepository
	identity port.IdentityProvider
	hasher   port.PasswordHasher
	store    storeCall
	now      func() time.Time
}

func NewAccountService(accounts port.AccountRepository, identity port.IdentityProvider, hasher port.PasswordHasher, storeTimeout time.Duration) *AccountService {
	return &AccountService{
		accounts: accounts,
		identity: identity,
		hasher:   hasher,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

func (s *AccountService) Register(ctx context.Context, in Registration) (*Session, error) {
	in.Login = strings.ToLower(strings.TrimSpace(in.Login))
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	account := domain.Account{
		ID:           uuid.NewString(),
		Role:         in.Role,
		Name:         strings.TrimSpace(in.Name),
		Login:        in.Login,
		Address:      strings.TrimSpace(in.Address),
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	if err := s.accounts.InsertAccount(sctx, account); err != nil {
		if errors.Is(err, domain.ErrDuplicateAccount) {
			return nil, err
		}
		return nil, storeFailure("insert account", err)
	}
	return s.session(&account)
}

// Login verifies credentials. Unknown logins and wrong passwords fail the same way.
func (s *AccountService) Login(ctx context.Context, role domain.Role, login, password string) (*Session, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	account, err := s.accounts.FindAccountByLogin(sctx, role, strings.ToLower(strings.TrimSpace(login)))
	if err != nil {
		return nil, storeFailure("load account", err)
	}
	if account == nil {
		return nil, domain.ErrUnauthorized
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return nil, domain.ErrUnauthorized
	}
	return s.session(account)
}

// EnsureAdmin creates the configured admin account if it does not exist yet.
func (s *AccountService) EnsureAdmin(ctx context.Context, login, password string) error {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || password == "" {
		return nil
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	existing, err := s.accounts.FindAccountByLogin(sctx, domain.RoleAdmin, login)
	if err != nil {
		return storeFailure("load admin", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	err = s.accounts.InsertAccount(sctx, domain.Account{
		ID:           uuid.NewString(),
		Role:         domain.RoleAdmin,
		Name:         "Administrator",
		Login:        login,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateAccount) {
		return storeFailure("insert admin", err)
	}
	log.Printf("account service: admin %s ready", login)
	return nil
}

func (s *AccountService) session(account *domain.Account) (*Session, error) {
	token, err := s.identity.Issue(account.Principal())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, Account: account}, nil
}
