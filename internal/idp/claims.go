package idp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of ID token claims the client cares about.
type Claims struct {
	Subject  string
	Email    string
	IssuedAt time.Time
	Expiry   time.Time
}

type idTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ParseClaims reads the claims of an ID token without verifying its
// signature. The backend verifies tokens; the client only needs the expiry
// to decide whether a stored token is fresh enough to reuse.
func ParseClaims(raw string) (Claims, error) {
	var c idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return Claims{}, fmt.Errorf("parsing id token: %w", err)
	}

	claims := Claims{Subject: c.Subject, Email: c.Email}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.Expiry = c.ExpiresAt.Time
	}
	return claims, nil
}

// tokenFromRaw builds a Token, preferring the expiry carried by the token
// itself over the one reported by the token endpoint.
func tokenFromRaw(raw string, fallbackExpiry time.Time) Token {
	tok := Token{Value: raw, Expiry: fallbackExpiry}
	if claims, err := ParseClaims(raw); err == nil && !claims.Expiry.IsZero() {
		tok.Expiry = claims.Expiry
	}
	return tok
}
