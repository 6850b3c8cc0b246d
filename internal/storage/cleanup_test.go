package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestCleanupManagerSweepsPeriodically(t *testing.T) {
	sweeper := &countingSweeper{}
	cm := NewCleanupManager(sweeper, 5*time.Millisecond)
	cm.Start(context.Background())

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cm.Stop()

	n := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sweeper.calls.Load())
}

func TestCleanupManagerStopsOnContext(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("unavailable")}
	ctx, cancel := context.WithCancel(context.Background())
	cm := NewCleanupManager(sweeper, time.Millisecond)
	cm.Start(ctx)

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-cm.Done():
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not exit")
	}
}
