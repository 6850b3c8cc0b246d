package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/servicecontext"
	"github.com/dgellow/authbridge/internal/sessionbridge"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/dgellow/authbridge/internal/urlutil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrIllegalTransition is logged when Step would move along an edge the
// machine does not allow.
var ErrIllegalTransition = errors.New("illegal state transition")

// SessionSyncer exchanges tokens for a backend session
type SessionSyncer interface {
	Sync(ctx context.Context, token idp.Token) sessionbridge.Result
	Clear(ctx context.Context)
}

// Guard decides navigation for a state
type Guard interface {
	Decide(state State, target, next string) Decision
}

// Location reports where the page currently is
type Location interface {
	Current() *url.URL
}

// Navigator moves the page
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// Notifier is told about state changes and failures, typically a UI
type Notifier interface {
	StateChanged(State)
	Failed(Failure)
}

// Outcome is the result of handling one identity event
type Outcome struct {
	Seq   uint64
	State State
	// Superseded is set when a newer event took over before this one
	// finished. State is then the state at the time of superseding.
	Superseded bool
	// RedirectTo is the last navigation the guard performed, if any.
	RedirectTo string
}

type attempt struct {
	seq      uint64
	eventID  string
	identity idp.Identity
	effects  []Effect

	done    chan struct{}
	once    sync.Once
	outcome Outcome

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	aborted  bool
}

func newAttempt(seq uint64, identity idp.Identity, effects []Effect) *attempt {
	return &attempt{
		seq:      seq,
		eventID:  uuid.NewString(),
		identity: identity,
		effects:  effects,
		done:     make(chan struct{}),
	}
}

// bind attaches the cancel func of the attempt's context. It reports false
// when the attempt was already aborted, in which case cancel has been called.
func (a *attempt) bind(cancel context.CancelFunc) bool {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	if a.aborted {
		cancel()
		return false
	}
	a.cancel = cancel
	return true
}

// abort cancels the in-flight requests of a superseded attempt
func (a *attempt) abort() {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	a.aborted = true
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *attempt) finish(o Outcome) {
	a.once.Do(func() {
		a.outcome = o
		close(a.done)
	})
}

// Config holds the collaborators of a Reconciler
type Config struct {
	Status    *Status
	Sessions  SessionSyncer
	Tokens    storage.TokenStore
	Guard     Guard
	Location  Location
	Navigator Navigator
	Notifier  Notifier
}

// Reconciler executes the effects of Step. It is the only writer of the
// bridge state and of the persisted token.
type Reconciler struct {
	status    *Status
	sessions  SessionSyncer
	tokens    storage.TokenStore
	guard     Guard
	location  Location
	navigator Navigator
	notifier  Notifier
	tracer    trace.Tracer

	mu      sync.Mutex
	snap    Snapshot
	current *attempt

	// session holds one backend session request at a time, so a newer
	// attempt's request always reaches the cookie jar after an older one's
	session chan struct{}

	// persistMu orders token writes so the latest accepted event writes last
	persistMu sync.Mutex
	// navMu serializes guard decisions with the navigation they trigger
	navMu sync.Mutex
}

// NewReconciler creates a Reconciler starting in StateUnknown
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("status is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session syncer is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Guard == nil || cfg.Location == nil || cfg.Navigator == nil {
		return nil, fmt.Errorf("guard, location and navigator are required")
	}

	return &Reconciler{
		status:    cfg.Status,
		sessions:  cfg.Sessions,
		tokens:    cfg.Tokens,
		guard:     cfg.Guard,
		location:  cfg.Location,
		navigator: cfg.Navigator,
		notifier:  cfg.Notifier,
		tracer:    otel.Tracer("github.com/dgellow/authbridge/internal/bridge"),
		snap:      Snapshot{State: StateUnknown},
		session:   make(chan struct{}, 1),
	}, nil
}

// Snapshot returns the current machine snapshot
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Status returns the shared status object
func (r *Reconciler) Status() *Status {
	return r.status
}

// Observe handles ev and waits until it settles or is superseded. An event
// the provider already delivered is not handled twice: the caller waits on
// the original handling instead.
func (r *Reconciler) Observe(ctx context.Context, ev idp.Event) (Outcome, error) {
	a, fresh := r.begin(ev)
	if fresh {
		r.execute(ctx, a)
	}

	select {
	case <-a.done:
		return a.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Run consumes provider events until ctx is done or events is closed. Each
// event is accepted in arrival order and its effects run concurrently with
// later events; staleness is settled by the sequence number.
func (r *Reconciler) Run(ctx context.Context, events <-chan idp.Event) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if a, fresh := r.begin(ev); fresh {
				wg.Go(func() {
					r.execute(ctx, a)
				})
			}
		}
	}
}

// CheckNavigation runs the guard for the current state at the current
// location, as happens on every page load. It returns the redirect target,
// if any.
func (r *Reconciler) CheckNavigation(ctx context.Context) (string, error) {
	r.navMu.Lock()
	defer r.navMu.Unlock()

	return r.decideAndNavigate(ctx, r.Snapshot().State)
}

// begin applies ev to the snapshot. It returns the attempt to wait on and
// whether the caller must execute it.
func (r *Reconciler) begin(ev idp.Event) (*attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in := IdentityObserved{Present: ev.Identity != nil, Generation: ev.Generation}
	next, effects := Step(r.snap, in)
	if effects == nil {
		log.LogTraceWithFields("reconciler", "Duplicate identity event ignored", map[string]any{
			"generation": ev.Generation,
			"seq":        r.snap.Seq,
		})
		if r.current != nil {
			return r.current, false
		}
		a := newAttempt(r.snap.Seq, nil, nil)
		a.finish(Outcome{Seq: r.snap.Seq, State: r.snap.State})
		return a, false
	}

	r.checkTransition(r.snap.State, next.State)
	prev := r.current
	r.snap = next
	a := newAttempt(next.Seq, ev.Identity, effects)
	r.current = a
	r.status.setState(next.State)

	if prev != nil {
		prev.abort()
		prev.finish(Outcome{Seq: prev.seq, State: next.State, Superseded: true})
	}

	log.LogInfoWithFields("reconciler", "Identity change accepted", map[string]any{
		"event":      a.eventID,
		"seq":        next.Seq,
		"generation": ev.Generation,
		"state":      next.State.String(),
	})
	return a, true
}

func (r *Reconciler) isCurrent(a *attempt) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current == a
}

func (r *Reconciler) checkTransition(from, to State) {
	if !CanTransition(from, to) {
		log.LogErrorWithFields("reconciler", "Unexpected transition", map[string]any{
			"error": fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to).Error(),
		})
	}
}

// execute runs the effects of a. It stops as soon as a is superseded; the
// newer attempt owns the remaining work.
func (r *Reconciler) execute(ctx context.Context, a *attempt) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !a.bind(cancel) {
		return
	}
	ctx = servicecontext.WithEvent(ctx, a.eventID, a.seq)
	ctx, span := r.tracer.Start(ctx, "bridge.Reconcile", trace.WithAttributes(
		attribute.String("event.id", a.eventID),
		attribute.Int64("event.seq", int64(a.seq)),
	))
	defer span.End()

	queue := append([]Effect(nil), a.effects...)
	state := queue[0].State
	r.notifyState(state)

	var redirect string
	for len(queue) > 0 {
		eff := queue[0]
		queue = queue[1:]

		if !r.isCurrent(a) {
			span.SetAttributes(attribute.Bool("event.superseded", true))
			return
		}
		state = eff.State

		switch eff.Kind {
		case EffectMintAndSync:
			more, applied := r.mintAndSync(ctx, a)
			if !applied {
				span.SetAttributes(attribute.Bool("event.superseded", true))
				return
			}
			queue = append(queue, more...)
		case EffectClearSession:
			r.clearSession(ctx, a)
		case EffectDropToken:
			r.dropToken(ctx, a)
		case EffectGuard:
			if to := r.guardFor(ctx, a, eff.State); to != "" {
				redirect = to
			}
		}
	}

	span.SetAttributes(attribute.String("bridge.state", state.String()))
	a.finish(Outcome{Seq: a.seq, State: state, RedirectTo: redirect})
}

// mintAndSync mints and persists a token then syncs it. It returns the
// effects of the resolved sync, or false when the result was stale.
func (r *Reconciler) mintAndSync(ctx context.Context, a *attempt) ([]Effect, bool) {
	tok, err := a.identity.Token(ctx, false)
	if err != nil {
		log.LogWarnWithFields("reconciler", "Minting token failed", map[string]any{
			"event": a.eventID,
			"error": err.Error(),
		})
		return r.resolve(a, false, "could not obtain a sign-in token")
	}

	if !r.persist(ctx, a, tok) {
		return nil, false
	}

	res, sent := r.syncSession(ctx, a, tok)
	if !sent {
		return nil, false
	}
	return r.resolve(a, res.OK, "could not establish a session with the server")
}

// acquireSession waits for the session slot. It fails when ctx is done or a
// was superseded while waiting.
func (r *Reconciler) acquireSession(ctx context.Context, a *attempt) bool {
	select {
	case r.session <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if !r.isCurrent(a) {
		<-r.session
		return false
	}
	return true
}

func (r *Reconciler) syncSession(ctx context.Context, a *attempt, tok idp.Token) (sessionbridge.Result, bool) {
	if !r.acquireSession(ctx, a) {
		return sessionbridge.Result{}, false
	}
	defer func() { <-r.session }()
	return r.sessions.Sync(ctx, tok), true
}

func (r *Reconciler) clearSession(ctx context.Context, a *attempt) {
	if !r.acquireSession(ctx, a) {
		return
	}
	defer func() { <-r.session }()
	r.sessions.Clear(ctx)
}

func (r *Reconciler) persist(ctx context.Context, a *attempt, tok idp.Token) bool {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if !r.isCurrent(a) {
		return false
	}
	if err := r.tokens.SetToken(ctx, storage.IDTokenKey, tok); err != nil {
		log.LogWarnWithFields("reconciler", "Persisting token failed", map[string]any{
			"event": a.eventID,
			"error": err.Error(),
		})
		return true
	}
	fields := log.TokenFields(tok.Value, tok.Expiry)
	fields["event"] = a.eventID
	log.LogDebugWithFields("reconciler", "Token persisted", fields)
	return true
}

func (r *Reconciler) dropToken(ctx context.Context, a *attempt) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if !r.isCurrent(a) {
		return
	}
	if err := r.tokens.DeleteToken(ctx, storage.IDTokenKey); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		log.LogWarnWithFields("reconciler", "Dropping token failed", map[string]any{
			"event": a.eventID,
			"error": err.Error(),
		})
	}
}

func (r *Reconciler) resolve(a *attempt, ok bool, message string) ([]Effect, bool) {
	r.mu.Lock()
	next, effects := Step(r.snap, SyncResolved{Seq: a.seq, OK: ok})
	if effects == nil {
		r.mu.Unlock()
		log.LogDebugWithFields("reconciler", "Stale sync result discarded", map[string]any{
			"event": a.eventID,
			"seq":   a.seq,
			"ok":    ok,
		})
		return nil, false
	}
	r.checkTransition(r.snap.State, next.State)
	r.snap = next
	r.status.setState(next.State)
	var failure *Failure
	if !ok {
		failure = &Failure{Kind: FailureSync, Message: message}
		r.status.ReportFailure(*failure)
	}
	r.mu.Unlock()

	log.LogInfoWithFields("reconciler", "Session sync resolved", map[string]any{
		"event": a.eventID,
		"seq":   a.seq,
		"state": next.State.String(),
	})
	r.notifyState(next.State)
	if failure != nil && r.notifier != nil {
		r.notifier.Failed(*failure)
	}
	return effects, true
}

func (r *Reconciler) guardFor(ctx context.Context, a *attempt, state State) string {
	r.navMu.Lock()
	defer r.navMu.Unlock()

	if !r.isCurrent(a) {
		return ""
	}
	to, err := r.decideAndNavigate(ctx, state)
	if err != nil {
		log.LogWarnWithFields("reconciler", "Navigation failed", map[string]any{
			"event": a.eventID,
			"to":    to,
			"error": err.Error(),
		})
	}
	return to
}

// decideAndNavigate must be called with navMu held
func (r *Reconciler) decideAndNavigate(ctx context.Context, state State) (string, error) {
	loc := r.location.Current()
	next := r.status.observeLocation(loc)
	d := r.guard.Decide(state, urlutil.RequestURI(loc), next)
	if d.ConsumedNext {
		r.status.consumeNext()
	}
	if d.RedirectTo == "" {
		return "", nil
	}

	log.LogDebugWithFields("guard", "Redirecting", map[string]any{
		"state": state.String(),
		"from":  urlutil.RequestURI(loc),
		"to":    d.RedirectTo,
	})
	if err := r.navigator.Navigate(ctx, d.RedirectTo); err != nil {
		return d.RedirectTo, fmt.Errorf("navigating to %s: %w", d.RedirectTo, err)
	}
	return d.RedirectTo, nil
}

func (r *Reconciler) notifyState(s State) {
	if r.notifier != nil {
		r.notifier.StateChanged(s)
	}
}
