// Package bridge reconciles the identity provider's client-side auth state
// with the backend session.
//
// The reconciler is split in two halves: Step is a pure transition function
// over a Snapshot, and Reconciler executes the effects Step asks for
// (minting tokens, talking to the session endpoint, guarding navigation).
package bridge

import "fmt"

// State is the bridge state shared by everything that needs to know whether
// the backend session matches the provider identity.
type State int

const (
	StateUnknown State = iota
	StateSyncing
	StateSynced
	StateFailed
	StateSignedOut
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	case StateFailed:
		return "failed"
	case StateSignedOut:
		return "signed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the edges of the state machine. Syncing -> Syncing and
// Syncing -> SignedOut happen when a newer identity event supersedes an
// in-flight sync; SignedOut -> SignedOut is a repeated sign-out.
var transitions = map[State][]State{
	StateUnknown:   {StateSyncing, StateSignedOut},
	StateSyncing:   {StateSynced, StateFailed, StateSyncing, StateSignedOut},
	StateSynced:    {StateSyncing, StateSignedOut},
	StateFailed:    {StateSyncing, StateSignedOut},
	StateSignedOut: {StateSyncing, StateSignedOut},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FailureKind classifies user-visible failures.
type FailureKind string

const (
	FailureProviderUnready FailureKind = "provider_unready"
	FailureSync            FailureKind = "sync_failure"
	FailureSignIn          FailureKind = "sign_in_failure"
)

// Failure is the last user-visible failure, kept for the UI collaborator.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Decision is the outcome of a navigation check.
type Decision struct {
	// RedirectTo is empty when the page should stay where it is.
	RedirectTo string
	// ConsumedNext is set when the pending next target was used and must not
	// be replayed.
	ConsumedNext bool
}
