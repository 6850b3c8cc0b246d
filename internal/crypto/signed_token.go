package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token format")
	ErrBadSignature = errors.New("invalid signature")
	ErrExpired      = errors.New("token expired")
)

// TokenSigner produces HMAC-signed JSON tokens with an optional expiry. The
// popup sign-in uses it for the OAuth state parameter.
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

type tokenData struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Sign marshals v, wraps it with the expiry and returns data.signature
func (ts TokenSigner) Sign(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	td := tokenData{Data: payload}
	if ts.ttl > 0 {
		td.ExpiresAt = ts.now().Add(ts.ttl)
	}
	raw, err := json.Marshal(td)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw) + "." + SignData(string(raw), ts.signingKey), nil
}

// Verify checks the signature and expiry, then unmarshals the data into v
func (ts TokenSigner) Verify(token string, v any) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: failed to decode token data: %v", ErrInvalidToken, err)
	}
	if !ValidateSignedData(string(raw), signature, ts.signingKey) {
		return ErrBadSignature
	}

	var td tokenData
	if err := json.Unmarshal(raw, &td); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !td.ExpiresAt.IsZero() && ts.now().After(td.ExpiresAt) {
		return ErrExpired
	}

	if err := json.Unmarshal(td.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	return nil
}
