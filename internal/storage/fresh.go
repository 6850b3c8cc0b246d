package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"golang.org/x/sync/singleflight"
)

// ErrNoIdentity is returned when a token is needed but nobody is signed in
var ErrNoIdentity = errors.New("no signed-in identity")

// IdentitySource yields the provider's current identity
type IdentitySource interface {
	Current() idp.Identity
}

// FreshTokens hands out tokens for protected actions. The persisted token is
// reused while it has at least freshness left; otherwise a token is minted
// from the current identity. Minted tokens are not written back: only the
// reconciler writes the store.
type FreshTokens struct {
	store      TokenStore
	identities IdentitySource
	freshness  time.Duration
	now        func() time.Time
	group      singleflight.Group
}

// NewFreshTokens creates a FreshTokens over store and identities
func NewFreshTokens(store TokenStore, identities IdentitySource, freshness time.Duration) *FreshTokens {
	return &FreshTokens{
		store:      store,
		identities: identities,
		freshness:  freshness,
		now:        time.Now,
	}
}

// Token returns a token value good for at least the freshness window
func (f *FreshTokens) Token(ctx context.Context) (string, error) {
	tok, err := f.store.GetToken(ctx, IDTokenKey)
	switch {
	case err == nil && tok.Fresh(f.now(), f.freshness):
		return tok.Value, nil
	case err != nil && !errors.Is(err, ErrTokenNotFound):
		log.LogWarnWithFields("storage", "Reading persisted token failed, minting instead", map[string]any{
			"error": err.Error(),
		})
	}

	id := f.identities.Current()
	if id == nil {
		return "", ErrNoIdentity
	}

	// Concurrent callers for the same identity share one mint. The mint
	// outlives any single caller's cancellation; each caller stops waiting on
	// its own ctx.
	mintCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(id.UID(), func() (any, error) {
		minted, err := id.Token(mintCtx, false)
		if err != nil {
			return idp.Token{}, err
		}
		if !minted.Fresh(f.now(), f.freshness) {
			minted, err = id.Token(mintCtx, true)
			if err != nil {
				return idp.Token{}, err
			}
		}
		return minted, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		return "", fmt.Errorf("minting token: %w", res.Err)
	}
	tok = res.Val.(idp.Token)
	log.LogDebugWithFields("storage", "Minted token for protected action", log.TokenFields(tok.Value, tok.Expiry))
	return tok.Value, nil
}
