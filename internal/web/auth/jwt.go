// Package auth issues and verifies the bearer tokens identifying API users.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("invalid token")

// Identity is the user a token was issued to.
type Identity struct {
	UserID string
	Roles  []string
}

// Claims are the registered claims plus the user's roles.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens
type TokenService struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewTokenService creates a token service. An empty issuer disables the
// issuer check.
func NewTokenService(secret, issuer string, tokenTTL time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer, tokenTTL: tokenTTL, now: time.Now}
}

// Issue signs a token for identity
func (s *TokenService) Issue(identity Identity) (string, error) {
	now := s.now()
	claims := Claims{
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature, expiry and issuer of token and returns the
// identity it carries.
func (s *TokenService) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Roles: claims.Roles}, nil
}
