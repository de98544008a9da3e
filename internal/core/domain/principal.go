package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(s))); role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return role, true
	case "user":
		return RoleBuyer, true
	}
	return "", false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsZero() bool {
	return p.ID == ""
}

// Account is a stored buyer, seller or admin identity.
type Account struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Login        string    `json:"login"`
	Address      string    `json:"address,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (a *Account) Principal() Principal {
	return Principal{ID: a.ID, Role: a.Role}
}
