package bridge

import (
	"net/url"
	"sync"
)

// Status is the injectable context object holding the bridge state and the
// provider readiness. One instance lives for the lifetime of a page; it is
// never persisted.
//
// Only the Reconciler changes the bridge state. Readiness and failures may be
// reported by other components.
type Status struct {
	mu             sync.RWMutex
	state          State
	ready          bool
	actionsEnabled bool
	failure        *Failure
	lastLocation   string
	pendingNext    string
}

// NewStatus returns a Status in the Unknown state with sign-in actions
// disabled until readiness settles.
func NewStatus() *Status {
	return &Status{state: StateUnknown}
}

func (s *Status) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Status) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	if st == StateSynced || st == StateSyncing {
		s.failure = nil
	}
}

// Ready reports whether the identity provider client finished initializing.
func (s *Status) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// SetReady records the provider readiness. Sign-in actions are enabled once
// readiness has settled either way: an unready provider makes the action fail
// fast with a visible message rather than stay disabled forever.
func (s *Status) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
	s.actionsEnabled = true
	if !ready {
		s.failure = &Failure{Kind: FailureProviderUnready, Message: "sign-in is not available yet, try again shortly"}
	} else if s.failure != nil && s.failure.Kind == FailureProviderUnready {
		s.failure = nil
	}
}

// ActionsEnabled reports whether sign-in controls should be enabled.
func (s *Status) ActionsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionsEnabled
}

// ReportFailure records a user-visible failure without touching the state.
func (s *Status) ReportFailure(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = &f
}

// LastFailure returns the most recent user-visible failure, if any.
func (s *Status) LastFailure() (Failure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure == nil {
		return Failure{}, false
	}
	return *s.failure, true
}

// PendingNext returns the return target carried by the current location
// that has not been consumed yet.
func (s *Status) PendingNext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingNext
}

// observeLocation picks up the next parameter the first time a location is
// seen. Seeing the same location again does not resurrect a consumed value.
func (s *Status) observeLocation(u *url.URL) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		return s.pendingNext
	}
	if loc := u.String(); loc != s.lastLocation {
		s.lastLocation = loc
		s.pendingNext = u.Query().Get("next")
	}
	return s.pendingNext
}

func (s *Status) consumeNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNext = ""
}
