package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/storefront/internal/core/domain"
)

const issuer = "storefront"

type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTIdentity issues and validates HS256 bearer tokens.
type JWTIdentity struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIdentity(secret string, ttl time.Duration) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JWTIdentity) Issue(principal domain.Principal) (string, error) {
	now := j.now()
	claims := Claims{
		UserID: principal.ID,
		Role:   string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWTIdentity) ResolvePrincipal(_ context.Context, credential string) (domain.Principal, error) {
	if credential == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !token.Valid {
		return domain.Principal{}, errors.Join(domain.ErrUnauthorized, err)
	}

	role, ok := domain.ParseRole(claims.Role)
	if !ok || claims.UserID == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	return domain.Principal{ID: claims.UserID, Role: role}, nil
}
