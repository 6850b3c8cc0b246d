// Package signin runs user-initiated sign-in and sign-out. A successful
// provider sign-in is handed to the reconciler like any other identity
// change, so the session is synced exactly as on page load.
package signin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/authbridge/internal/bridge"
	"github.com/dgellow/authbridge/internal/emailutil"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
)

// Method selects how the user signs in
type Method string

const (
	MethodPassword Method = "password"
	MethodGoogle   Method = "google"
	// MethodRegister creates a password account and signs it in
	MethodRegister Method = "register"
)

var (
	// ErrNotReady is returned when the provider client has not finished
	// initializing. No provider call is made.
	ErrNotReady = errors.New("sign-in is not available yet")
	// ErrProviderFailure wraps provider errors such as a closed popup or
	// wrong credentials. The bridge state is left unchanged.
	ErrProviderFailure = errors.New("sign-in failed")
	// ErrSyncFailed is returned when the provider accepted the user but the
	// backend session could not be established.
	ErrSyncFailed = errors.New("session sync failed")
	// ErrUnknownMethod is returned for an unsupported Method
	ErrUnknownMethod = errors.New("unknown sign-in method")
)

// Request is one sign-in attempt. Email and Password are used by
// MethodPassword and MethodRegister.
type Request struct {
	Method   Method
	Email    string
	Password string
}

// Readiness reports whether the provider client is initialized
type Readiness interface {
	IsReady() bool
}

// Observer hands identity changes to the reconciler
type Observer interface {
	Observe(ctx context.Context, ev idp.Event) (bridge.Outcome, error)
}

// Config holds the collaborators of a Flow
type Config struct {
	Readiness Readiness
	Provider  idp.Provider
	Observer  Observer
	Status    *bridge.Status
}

// Flow performs interactive sign-in
type Flow struct {
	readiness Readiness
	provider  idp.Provider
	observer  Observer
	status    *bridge.Status
}

// New creates a Flow
func New(cfg Config) (*Flow, error) {
	switch {
	case cfg.Readiness == nil:
		return nil, fmt.Errorf("readiness is required")
	case cfg.Provider == nil:
		return nil, fmt.Errorf("provider is required")
	case cfg.Observer == nil:
		return nil, fmt.Errorf("observer is required")
	case cfg.Status == nil:
		return nil, fmt.Errorf("status is required")
	}
	return &Flow{
		readiness: cfg.Readiness,
		provider:  cfg.Provider,
		observer:  cfg.Observer,
		status:    cfg.Status,
	}, nil
}

// SignIn signs the user in with the provider and waits for the session sync
// that follows.
func (f *Flow) SignIn(ctx context.Context, req Request) (bridge.Outcome, error) {
	if !f.readiness.IsReady() {
		f.status.ReportFailure(bridge.Failure{
			Kind:    bridge.FailureProviderUnready,
			Message: "sign-in is not available yet, try again shortly",
		})
		log.LogWarnWithFields("signin", "Sign-in attempted before provider was ready", map[string]any{
			"method": req.Method,
		})
		return bridge.Outcome{}, ErrNotReady
	}

	id, err := f.authenticate(ctx, req)
	if err != nil {
		if errors.Is(err, ErrUnknownMethod) {
			return bridge.Outcome{}, err
		}
		f.status.ReportFailure(bridge.Failure{Kind: bridge.FailureSignIn, Message: userMessage(err)})
		log.LogWarnWithFields("signin", "Provider sign-in failed", map[string]any{
			"method": req.Method,
			"error":  err.Error(),
		})
		return bridge.Outcome{}, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	log.LogInfoWithFields("signin", "Provider sign-in succeeded", map[string]any{
		"method":     req.Method,
		"uid":        id.UID(),
		"generation": id.Generation(),
	})

	outcome, err := f.observer.Observe(ctx, idp.Event{Identity: id, Generation: id.Generation()})
	if err != nil {
		return outcome, fmt.Errorf("waiting for session sync: %w", err)
	}
	if outcome.State == bridge.StateFailed && !outcome.Superseded {
		return outcome, ErrSyncFailed
	}
	return outcome, nil
}

func (f *Flow) authenticate(ctx context.Context, req Request) (idp.Identity, error) {
	switch req.Method {
	case MethodPassword:
		email := emailutil.Normalize(req.Email)
		if email == "" || req.Password == "" {
			return nil, fmt.Errorf("%w: email and password are required", idp.ErrInvalidCredentials)
		}
		return f.provider.SignInWithPassword(ctx, email, req.Password)
	case MethodRegister:
		email, err := emailutil.Parse(req.Email)
		if err != nil {
			return nil, err
		}
		if req.Password == "" {
			return nil, fmt.Errorf("%w: password is required", idp.ErrWeakPassword)
		}
		return f.provider.SignUpWithPassword(ctx, email, req.Password)
	case MethodGoogle:
		return f.provider.SignInWithPopup(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

// SignOut signs the user out of the provider and waits for the reconciler
// to clear the session.
func (f *Flow) SignOut(ctx context.Context) (bridge.Outcome, error) {
	ev, err := f.provider.SignOut(ctx)
	if err != nil {
		return bridge.Outcome{}, fmt.Errorf("signing out: %w", err)
	}
	outcome, err := f.observer.Observe(ctx, ev)
	if err != nil {
		return outcome, fmt.Errorf("waiting for sign-out: %w", err)
	}
	log.LogInfoWithFields("signin", "Signed out", map[string]any{
		"state": outcome.State.String(),
	})
	return outcome, nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, idp.ErrInvalidCredentials):
		return "incorrect email or password"
	case errors.Is(err, idp.ErrEmailExists):
		return "an account with this email already exists"
	case errors.Is(err, idp.ErrWeakPassword):
		return "choose a stronger password"
	case errors.Is(err, emailutil.ErrInvalidEmail):
		return "enter a valid email address"
	case errors.Is(err, idp.ErrPopupClosed):
		return "the sign-in window was closed before finishing"
	case errors.Is(err, idp.ErrFederatedUnavailable):
		return "Google sign-in is not configured"
	case errors.Is(err, idp.ErrNotInitialized):
		return "sign-in is not available yet, try again shortly"
	default:
		return "sign-in failed, please try again"
	}
}
