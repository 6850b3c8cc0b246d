// Package storage persists the most recent provider ID token so other
// protected actions can attach a fresh-enough token without minting a new
// one. The stored token is a convenience cache; the backend session is the
// source of truth for authentication.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
)

// IDTokenKey is the storage key of the persisted ID token.
const IDTokenKey = "firebaseIdToken"

// ErrTokenNotFound is returned when no token is stored under a key
var ErrTokenNotFound = errors.New("token not found")

// StoredToken is the persisted form of an idp.Token
type StoredToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Token converts back to the provider token type
func (s StoredToken) Token() idp.Token {
	return idp.Token{Value: s.Value, Expiry: s.ExpiresAt}
}

func newStoredToken(tok idp.Token) StoredToken {
	return StoredToken{
		Value:     tok.Value,
		ExpiresAt: tok.Expiry,
		UpdatedAt: time.Now().UTC(),
	}
}

// expired reports whether a stored token is past its expiry. Tokens without
// an expiry never expire on their own.
func (s StoredToken) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenStore is the ephemeral, per-device token storage.
type TokenStore interface {
	SetToken(ctx context.Context, key string, tok idp.Token) error
	GetToken(ctx context.Context, key string) (idp.Token, error)
	DeleteToken(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that can drop expired tokens in bulk
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
