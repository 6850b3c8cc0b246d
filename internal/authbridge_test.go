package internal

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/authbridge/internal/bridge"
	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/signin"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/dgellow/authbridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	states []bridge.State
}

func (n *recordingNotifier) StateChanged(s bridge.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, s)
}

func (n *recordingNotifier) Failed(bridge.Failure) {}

func (n *recordingNotifier) States() []bridge.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bridge.State(nil), n.states...)
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Site: config.SiteConfig{
			BaseURL:     baseURL,
			SignInPath:  "/login",
			LandingPath: "/",
			AuthPrefix:  "/auth/",
		},
		Session: config.SessionConfig{
			Endpoint:       "/auth/session",
			LogoutEndpoint: "/auth/logout",
			Timeout:        2 * time.Second,
		},
		Readiness:  config.ReadinessConfig{MaxAttempts: 5, Interval: 10 * time.Millisecond},
		Provider:   config.ProviderConfig{Kind: config.ProviderFirebase, APIKey: "unused"},
		TokenStore: config.TokenStoreConfig{Kind: config.TokenStoreMemory, Freshness: time.Minute, CleanupInterval: time.Minute},
	}
}

func TestAuthBridge_EndToEnd(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	provider := testutil.NewFakeProvider()
	provider.AddUser("alice@example.com", "hunter2")
	notifier := &recordingNotifier{}

	ab, err := NewAuthBridge(context.Background(), testConfig(backend.URL), Options{
		Provider: provider,
		Notifier: notifier,
	})
	require.NoError(t, err)
	require.NotNil(t, ab.cleanup)

	err = ab.Run(context.Background(), func(ctx context.Context) error {
		assert.True(t, ab.Status().Ready())
		assert.True(t, ab.Status().ActionsEnabled())
		assert.Equal(t, bridge.StateSignedOut, ab.Status().State())

		// The backend bounces anonymous visitors off protected pages
		require.NoError(t, ab.Page().Navigate(ctx, "/me"))
		assert.Equal(t, "/login?next=%2Fme", ab.Page().Path())

		out, err := ab.SignIn().SignIn(ctx, signin.Request{
			Method:   signin.MethodPassword,
			Email:    "alice@example.com",
			Password: "hunter2",
		})
		require.NoError(t, err)
		assert.Equal(t, bridge.StateSynced, out.State)
		assert.Equal(t, "/me", ab.Page().Path())

		require.NoError(t, ab.Page().Submit(ctx, "/post/new", url.Values{"title": {"Hello"}}))
		assert.Equal(t, "Bearer token-alice@example.com-1", backend.LastAuthorization())

		tok, err := ab.store.GetToken(ctx, storage.IDTokenKey)
		require.NoError(t, err)
		assert.Equal(t, "token-alice@example.com-1", tok.Value)

		out, err = ab.SignIn().SignOut(ctx)
		require.NoError(t, err)
		assert.Equal(t, bridge.StateSignedOut, out.State)
		assert.Equal(t, "/login?next=%2Fme", ab.Page().Path())

		_, err = ab.store.GetToken(ctx, storage.IDTokenKey)
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, backend.Received(), 1)
	assert.Contains(t, notifier.States(), bridge.StateSynced)
}

func TestAuthBridge_SessionErrorIsReturned(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	ab, err := NewAuthBridge(context.Background(), testConfig(backend.URL), Options{Provider: testutil.NewFakeProvider()})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = ab.Run(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAuthBridge_ProviderNeverReady(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	cfg := testConfig(backend.URL)
	cfg.Readiness.MaxAttempts = 2

	ab, err := NewAuthBridge(context.Background(), cfg, Options{Provider: &stalledProvider{FakeProvider: testutil.NewFakeProvider()}})
	require.NoError(t, err)

	err = ab.Run(context.Background(), func(ctx context.Context) error {
		assert.False(t, ab.Status().Ready())
		assert.True(t, ab.Status().ActionsEnabled())
		assert.Equal(t, bridge.StateUnknown, ab.Status().State())

		_, err := ab.SignIn().SignIn(ctx, signin.Request{Method: signin.MethodGoogle})
		assert.ErrorIs(t, err, signin.ErrNotReady)
		return nil
	})
	require.NoError(t, err)
}

// stalledProvider starts without ever becoming ready
type stalledProvider struct {
	*testutil.FakeProvider
}

func (p *stalledProvider) Start(context.Context) error { return nil }

func TestNewAuthBridge_Errors(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		errContains string
	}{
		{
			name:        "missing_base_url",
			mutate:      func(c *config.Config) { c.Site.BaseURL = "" },
			errContains: "session bridge",
		},
		{
			name:        "missing_api_key",
			mutate:      func(c *config.Config) { c.Provider.APIKey = "" },
			errContains: "identity provider",
		},
		{
			name:        "bad_redis_url",
			mutate:      func(c *config.Config) { c.TokenStore = config.TokenStoreConfig{Kind: config.TokenStoreRedis, RedisURL: "not a url"} },
			errContains: "storage",
		},
		{
			name:        "unknown_store",
			mutate:      func(c *config.Config) { c.TokenStore.Kind = "sqlite" },
			errContains: "unsupported token store: sqlite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://blog.example.com")
			tt.mutate(&cfg)
			_, err := NewAuthBridge(context.Background(), cfg, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
