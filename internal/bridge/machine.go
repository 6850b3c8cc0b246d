package bridge

// Snapshot is the reconciler's view of the world. Seq increases with every
// accepted identity event; Generation is the provider's own counter for the
// last accepted event (zero when the provider does not number its events).
type Snapshot struct {
	State      State
	Seq        uint64
	Generation uint64
}

// Input is something that drives the machine.
type Input interface {
	isInput()
}

// IdentityObserved is an identity-change event from the provider.
type IdentityObserved struct {
	Present    bool
	Generation uint64
}

// SyncResolved is the completion of the session sync started for Seq.
type SyncResolved struct {
	Seq uint64
	OK  bool
}

func (IdentityObserved) isInput() {}
func (SyncResolved) isInput()     {}

// EffectKind names a side effect requested by Step.
type EffectKind int

const (
	// EffectMintAndSync mints a token from the identity, persists it and
	// sends it to the session endpoint.
	EffectMintAndSync EffectKind = iota
	// EffectClearSession asks the backend to drop the session.
	EffectClearSession
	// EffectDropToken removes the locally persisted token.
	EffectDropToken
	// EffectGuard runs the navigation guard against State.
	EffectGuard
)

func (k EffectKind) String() string {
	switch k {
	case EffectMintAndSync:
		return "mint_and_sync"
	case EffectClearSession:
		return "clear_session"
	case EffectDropToken:
		return "drop_token"
	case EffectGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// Effect is a side effect for the executor, tagged with the sequence and the
// state it belongs to.
type Effect struct {
	Kind  EffectKind
	Seq   uint64
	State State
}

// Step is the pure transition function. It returns the next snapshot and the
// effects to execute in order. A nil effect list means the input was ignored:
// either a provider event older than one already accepted, or a sync result
// for a sequence that has been superseded.
func Step(cur Snapshot, in Input) (Snapshot, []Effect) {
	switch in := in.(type) {
	case IdentityObserved:
		if in.Generation != 0 && in.Generation <= cur.Generation {
			return cur, nil
		}
		next := cur
		next.Seq++
		if in.Generation != 0 {
			next.Generation = in.Generation
		}
		if in.Present {
			next.State = StateSyncing
			return next, []Effect{
				{Kind: EffectGuard, Seq: next.Seq, State: next.State},
				{Kind: EffectMintAndSync, Seq: next.Seq, State: next.State},
			}
		}
		next.State = StateSignedOut
		return next, []Effect{
			{Kind: EffectClearSession, Seq: next.Seq, State: next.State},
			{Kind: EffectDropToken, Seq: next.Seq, State: next.State},
			{Kind: EffectGuard, Seq: next.Seq, State: next.State},
		}

	case SyncResolved:
		if in.Seq != cur.Seq || cur.State != StateSyncing {
			return cur, nil
		}
		next := cur
		if in.OK {
			next.State = StateSynced
		} else {
			next.State = StateFailed
		}
		return next, []Effect{{Kind: EffectGuard, Seq: next.Seq, State: next.State}}
	}

	return cur, nil
}
