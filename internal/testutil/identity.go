package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
)

// FakeIdentity is an idp.Identity minting predictable tokens
type FakeIdentity struct {
	uid   string
	email string
	gen   uint64

	mu      sync.Mutex
	ttl     time.Duration
	err     error
	mints   atomic.Int64
	forced  atomic.Int64
	counter int
}

// NewFakeIdentity creates an identity whose tokens live for an hour
func NewFakeIdentity(uid string, gen uint64) *FakeIdentity {
	return &FakeIdentity{
		uid:   uid,
		email: uid + "@example.com",
		gen:   gen,
		ttl:   time.Hour,
	}
}

func (f *FakeIdentity) UID() string        { return f.uid }
func (f *FakeIdentity) Email() string      { return f.email }
func (f *FakeIdentity) Generation() uint64 { return f.gen }

// SetTokenTTL changes the lifetime of minted tokens; a negative TTL mints
// already-expired tokens.
func (f *FakeIdentity) SetTokenTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
}

// FailMinting makes Token return err
func (f *FakeIdentity) FailMinting(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeIdentity) Token(_ context.Context, forceRefresh bool) (idp.Token, error) {
	f.mints.Add(1)
	if forceRefresh {
		f.forced.Add(1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return idp.Token{}, f.err
	}
	f.counter++
	return idp.Token{
		Value:  fmt.Sprintf("token-%s-%d", f.uid, f.counter),
		Expiry: time.Now().Add(f.ttl),
	}, nil
}

// Mints reports how many times Token was called
func (f *FakeIdentity) Mints() int { return int(f.mints.Load()) }

// ForcedMints reports how many Token calls forced a refresh
func (f *FakeIdentity) ForcedMints() int { return int(f.forced.Load()) }
