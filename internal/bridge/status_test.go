package bridge

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatus(t *testing.T) {
	s := NewStatus()
	assert.Equal(t, StateUnknown, s.State())
	assert.False(t, s.Ready())
	assert.False(t, s.ActionsEnabled())
	_, ok := s.LastFailure()
	assert.False(t, ok)
}

func TestSetReady(t *testing.T) {
	s := NewStatus()

	s.SetReady(false)
	assert.True(t, s.ActionsEnabled(), "actions stay usable so they can fail fast")
	f, ok := s.LastFailure()
	require.True(t, ok)
	assert.Equal(t, FailureProviderUnready, f.Kind)

	s.SetReady(true)
	assert.True(t, s.Ready())
	_, ok = s.LastFailure()
	assert.False(t, ok)
}

func TestSetReadyKeepsOtherFailures(t *testing.T) {
	s := NewStatus()
	s.ReportFailure(Failure{Kind: FailureSignIn, Message: "bad password"})
	s.SetReady(true)

	f, ok := s.LastFailure()
	require.True(t, ok)
	assert.Equal(t, FailureSignIn, f.Kind)
}

func TestSetStateClearsFailureOnProgress(t *testing.T) {
	s := NewStatus()
	s.setState(StateFailed)
	s.ReportFailure(Failure{Kind: FailureSync, Message: "down"})

	s.setState(StateSignedOut)
	_, ok := s.LastFailure()
	assert.True(t, ok)

	s.setState(StateSyncing)
	_, ok = s.LastFailure()
	assert.False(t, ok)
}

func TestPendingNextConsumedOnce(t *testing.T) {
	s := NewStatus()
	loc, _ := url.Parse("http://example.com/login?next=%2Fpost%2Fnew")

	assert.Equal(t, "/post/new", s.observeLocation(loc))
	assert.Equal(t, "/post/new", s.PendingNext())

	s.consumeNext()
	assert.Empty(t, s.observeLocation(loc), "same location must not replay next")

	other, _ := url.Parse("http://example.com/login?next=%2Fme")
	assert.Equal(t, "/me", s.observeLocation(other))

	assert.Equal(t, "/me", s.observeLocation(nil))
}
