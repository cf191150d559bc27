package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim
const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

// DefaultTokenTTL is the validity of an issued token
const DefaultTokenTTL = 24 * time.Hour

// TokenIssuer signs bearer tokens for collaborators calling the HTTP surface
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret. A non-positive ttl
// uses DefaultTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs an HS256 token for caller with the given role
func (i *TokenIssuer) Issue(caller, role string) (string, time.Time, error) {
	if caller == "" {
		return "", time.Time{}, errors.New("caller is required")
	}
	if role != RoleService && role != RoleAdmin {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := jwt.MapClaims{
		"sub":  caller,
		"role": role,
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}
