package testutil

import (
	"context"
	"sync"

	"github.com/dgellow/authbridge/internal/idp"
)

var _ idp.Provider = (*FakeProvider)(nil)

// FakeProvider is an in-memory identity provider. Passwords are checked
// against a fixed table; the popup returns whatever PopupResult is set to.
type FakeProvider struct {
	mu          sync.Mutex
	ready       bool
	current     idp.Identity
	generation  uint64
	passwords   map[string]string
	popupUID    string
	popupErr    error
	subscribers []chan idp.Event
	signIns     int
}

// NewFakeProvider creates a provider that is not ready yet
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{passwords: make(map[string]string)}
}

// AddUser registers an email/password pair
func (p *FakeProvider) AddUser(email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[email] = password
}

// SetPopupResult configures the outcome of SignInWithPopup
func (p *FakeProvider) SetPopupResult(uid string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popupUID = uid
	p.popupErr = err
}

// MarkReady finishes initialization and announces the current identity
func (p *FakeProvider) MarkReady() {
	p.mu.Lock()
	p.ready = true
	ev := idp.Event{Identity: p.current, Generation: p.generation}
	subs := append([]chan idp.Event(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

// Start finishes initialization, like MarkReady
func (p *FakeProvider) Start(context.Context) error {
	p.MarkReady()
	return nil
}

func (p *FakeProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *FakeProvider) Subscribe() (<-chan idp.Event, func()) {
	ch := make(chan idp.Event, 16)

	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	if p.ready {
		ch <- idp.Event{Identity: p.current, Generation: p.generation}
	}
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, sub := range p.subscribers {
			if sub == ch {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (p *FakeProvider) Current() idp.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SignIns reports how many interactive sign-ins reached the provider
func (p *FakeProvider) SignIns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signIns
}

func (p *FakeProvider) SignInWithPassword(_ context.Context, email, password string) (idp.Identity, error) {
	p.mu.Lock()
	p.signIns++
	want, ok := p.passwords[email]
	p.mu.Unlock()

	if !ok || want != password {
		return nil, idp.ErrInvalidCredentials
	}
	return p.emit(email), nil
}

// SignUpWithPassword rejects known emails and passwords shorter than six
// characters, otherwise registers the user and signs them in
func (p *FakeProvider) SignUpWithPassword(_ context.Context, email, password string) (idp.Identity, error) {
	p.mu.Lock()
	p.signIns++
	_, exists := p.passwords[email]
	weak := len(password) < 6
	if !exists && !weak {
		p.passwords[email] = password
	}
	p.mu.Unlock()

	switch {
	case exists:
		return nil, idp.ErrEmailExists
	case weak:
		return nil, idp.ErrWeakPassword
	}
	return p.emit(email), nil
}

func (p *FakeProvider) SignInWithPopup(_ context.Context) (idp.Identity, error) {
	p.mu.Lock()
	p.signIns++
	uid, err := p.popupUID, p.popupErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return p.emit(uid), nil
}

func (p *FakeProvider) SignOut(_ context.Context) (idp.Event, error) {
	p.mu.Lock()
	p.generation++
	p.current = nil
	ev := idp.Event{Generation: p.generation}
	subs := append([]chan idp.Event(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
	return ev, nil
}

func (p *FakeProvider) emit(uid string) idp.Identity {
	p.mu.Lock()
	p.generation++
	id := NewFakeIdentity(uid, p.generation)
	p.current = id
	ev := idp.Event{Identity: id, Generation: p.generation}
	subs := append([]chan idp.Event(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
	return id
}
