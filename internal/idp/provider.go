package idp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotInitialized is returned when the provider client has not finished
	// starting up.
	ErrNotInitialized = errors.New("identity provider not initialized")

	// ErrInvalidCredentials is returned when the provider rejects the
	// email/password pair or the account is disabled.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPopupClosed is returned when the federated sign-in window was
	// dismissed, denied or timed out.
	ErrPopupClosed = errors.New("sign-in popup closed")

	// ErrEmailExists is returned when registering an address that already
	// has an account.
	ErrEmailExists = errors.New("email already registered")

	// ErrWeakPassword is returned when the provider's password policy
	// rejects a new account's password.
	ErrWeakPassword = errors.New("password too weak")

	// ErrFederatedUnavailable is returned when no federated sign-in is
	// configured.
	ErrFederatedUnavailable = errors.New("federated sign-in not configured")
)

// Token is a short-lived credential minted from an Identity.
type Token struct {
	Value  string
	Expiry time.Time
}

// Fresh reports whether the token is still usable for at least skew.
func (t Token) Fresh(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.Expiry)
}

// Identity is a signed-in principal owned by the provider client. The bridge
// only borrows it to mint tokens.
type Identity interface {
	UID() string
	Email() string
	// Generation is the provider event counter value that produced this
	// identity.
	Generation() uint64
	// Token returns a valid ID token, refreshing it when it is expired or
	// when forceRefresh is set.
	Token(ctx context.Context, forceRefresh bool) (Token, error)
}

// Event is an identity change. A nil Identity means signed out.
type Event struct {
	Identity   Identity
	Generation uint64
}

// Provider abstracts the identity provider client.
type Provider interface {
	// Ready reports whether the client finished initializing.
	Ready() bool

	// Subscribe returns a channel of identity changes. The current identity
	// is delivered first once the client is ready. Call the returned function
	// to unsubscribe.
	Subscribe() (<-chan Event, func())

	// Current returns the signed-in identity or nil.
	Current() Identity

	SignInWithPassword(ctx context.Context, email, password string) (Identity, error)
	// SignUpWithPassword creates an account and signs it in.
	SignUpWithPassword(ctx context.Context, email, password string) (Identity, error)
	SignInWithPopup(ctx context.Context) (Identity, error)

	// SignOut forgets the current identity and returns the emitted event.
	SignOut(ctx context.Context) (Event, error)
}
