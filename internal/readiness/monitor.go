// Package readiness polls the identity provider client until it has
// finished initializing.
package readiness

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgellow/authbridge/internal/log"
)

const (
	DefaultMaxAttempts = 20
	DefaultInterval    = 250 * time.Millisecond
)

// Checker reports whether the provider is ready. It must not block.
type Checker func() bool

// Clock sleeps between checks. Tests substitute a fake to avoid real time.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the settled readiness
type Result struct {
	Ready    bool
	Attempts int
}

// Monitor polls a Checker
type Monitor struct {
	check     Checker
	clock     Clock
	policy    func(interval time.Duration) backoff.BackOff
	onSettled func(Result)
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock sets the clock used between checks
func WithClock(c Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithBackOff replaces the constant delay policy. Returning backoff.Stop
// from the policy ends polling early.
func WithBackOff(policy func(interval time.Duration) backoff.BackOff) Option {
	return func(m *Monitor) {
		m.policy = policy
	}
}

// WithOnSettled registers a callback invoked once per AwaitReady call
func WithOnSettled(fn func(Result)) Option {
	return func(m *Monitor) {
		m.onSettled = fn
	}
}

// New creates a Monitor for check
func New(check Checker, opts ...Option) *Monitor {
	m := &Monitor{
		check: check,
		clock: realClock{},
		policy: func(interval time.Duration) backoff.BackOff {
			return backoff.NewConstantBackOff(interval)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsReady checks once
func (m *Monitor) IsReady() bool {
	return m.check()
}

// AwaitReady checks up to maxAttempts times, sleeping interval between
// checks and not after the last one. It returns as soon as a check passes.
// A cancelled context settles as not ready.
func (m *Monitor) AwaitReady(ctx context.Context, maxAttempts int, interval time.Duration) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := m.policy(interval)
	b.Reset()

	res := m.poll(ctx, b, maxAttempts)

	fields := map[string]any{"ready": res.Ready, "attempts": res.Attempts}
	if res.Ready {
		log.LogDebugWithFields("readiness", "Identity provider ready", fields)
	} else {
		log.LogWarnWithFields("readiness", "Identity provider not ready, sign-in attempts will fail fast", fields)
	}
	if m.onSettled != nil {
		m.onSettled(res)
	}
	return res
}

func (m *Monitor) poll(ctx context.Context, b backoff.BackOff, maxAttempts int) Result {
	for attempt := 1; ; attempt++ {
		if m.check() {
			return Result{Ready: true, Attempts: attempt}
		}
		if attempt >= maxAttempts {
			return Result{Attempts: attempt}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return Result{Attempts: attempt}
		}
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return Result{Attempts: attempt}
		}
	}
}
