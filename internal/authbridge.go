package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgellow/authbridge/internal/bridge"
	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/cookie"
	"github.com/dgellow/authbridge/internal/guard"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/page"
	"github.com/dgellow/authbridge/internal/readiness"
	"github.com/dgellow/authbridge/internal/routes"
	"github.com/dgellow/authbridge/internal/sessionbridge"
	"github.com/dgellow/authbridge/internal/signin"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/dgellow/authbridge/internal/telemetry"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/sync/errgroup"
)

// Provider is an identity provider that initializes in the background
type Provider interface {
	idp.Provider
	Start(ctx context.Context) error
}

// Options customize how the bridge is built
type Options struct {
	// Provider replaces the provider built from config
	Provider Provider
	// Opener shows the Google sign-in URL; defaults to printing it on stderr
	Opener idp.Opener
	// Notifier is told about state changes and failures
	Notifier bridge.Notifier
	// Version is reported as the service version on exported spans
	Version string
}

// AuthBridge is one page session on the site: the provider client, the
// reconciler keeping the backend session in step with it, and the page.
type AuthBridge struct {
	config     config.Config
	deviceID   string
	status     *bridge.Status
	provider   Provider
	store      storage.TokenStore
	cleanup    *storage.CleanupManager
	monitor    *readiness.Monitor
	page       *page.Page
	reconciler *bridge.Reconciler
	flow       *signin.Flow
	tracing    telemetry.ShutdownFunc
}

// tracingFlushTimeout bounds span export on shutdown
const tracingFlushTimeout = 5 * time.Second

// NewAuthBridge builds every component from cfg
func NewAuthBridge(ctx context.Context, cfg config.Config, opts Options) (_ *AuthBridge, err error) {
	tracing, err := telemetry.Setup(ctx, cfg.Telemetry, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tracing(context.WithoutCancel(ctx))
		}
	}()

	deviceID := uuid.NewString()
	log.LogInfoWithFields("authbridge", "Building auth bridge", map[string]any{
		"baseURL":    cfg.Site.BaseURL,
		"tokenStore": cfg.TokenStore.Kind,
		"device":     deviceID,
	})

	jar, err := cookie.NewJar()
	if err != nil {
		return nil, err
	}
	client := cookie.NewClient(jar)

	sessions, err := sessionbridge.New(cfg.Site.BaseURL,
		sessionbridge.WithHTTPClient(client),
		sessionbridge.WithPaths(cfg.Session.Endpoint, cfg.Session.LogoutEndpoint),
		sessionbridge.WithTimeout(cfg.Session.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to setup session bridge: %w", err)
	}

	provider := opts.Provider
	if provider == nil {
		opener := opts.Opener
		if opener == nil {
			opener = idp.PrintOpener(os.Stderr)
		}
		provider, err = idp.NewProvider(cfg.Provider, cleanhttp.DefaultPooledClient(), opener)
		if err != nil {
			return nil, fmt.Errorf("failed to setup identity provider: %w", err)
		}
	}

	store, err := setupStorage(ctx, cfg.TokenStore, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	var cleanup *storage.CleanupManager
	if sweeper, ok := store.(storage.Sweeper); ok && cfg.TokenStore.CleanupInterval > 0 {
		cleanup = storage.NewCleanupManager(sweeper, cfg.TokenStore.CleanupInterval)
	}

	status := bridge.NewStatus()
	monitor := readiness.New(provider.Ready, readiness.WithOnSettled(func(res readiness.Result) {
		status.SetReady(res.Ready)
	}))

	pg, err := page.New(cfg.Site.BaseURL, client, storage.NewFreshTokens(store, provider, cfg.TokenStore.Freshness))
	if err != nil {
		return nil, fmt.Errorf("failed to setup page: %w", err)
	}

	reconciler, err := bridge.NewReconciler(bridge.Config{
		Status:   status,
		Sessions: sessions,
		Tokens:   store,
		Guard: guard.New(guard.Config{
			SignInPath:  cfg.Site.SignInPath,
			LandingPath: cfg.Site.LandingPath,
			AuthPrefix:  cfg.Site.AuthPrefix,
			Classifier:  routes.Default(),
		}),
		Location:  pg,
		Navigator: pg,
		Notifier:  opts.Notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup reconciler: %w", err)
	}

	flow, err := signin.New(signin.Config{
		Readiness: monitor,
		Provider:  provider,
		Observer:  reconciler,
		Status:    status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup sign-in flow: %w", err)
	}

	return &AuthBridge{
		config:     cfg,
		deviceID:   deviceID,
		status:     status,
		provider:   provider,
		store:      store,
		cleanup:    cleanup,
		monitor:    monitor,
		page:       pg,
		reconciler: reconciler,
		flow:       flow,
		tracing:    tracing,
	}, nil
}

// Status returns the shared bridge status
func (a *AuthBridge) Status() *bridge.Status { return a.status }

// Page returns the page the bridge navigates
func (a *AuthBridge) Page() *page.Page { return a.page }

// SignIn returns the interactive sign-in flow
func (a *AuthBridge) SignIn() *signin.Flow { return a.flow }

// Reconciler returns the reconciler
func (a *AuthBridge) Reconciler() *bridge.Reconciler { return a.reconciler }

// Run starts the provider, waits for it to become ready, settles the
// initial auth state and then calls session while identity changes keep
// being reconciled in the background. It returns when session does.
func (a *AuthBridge) Run(ctx context.Context, session func(ctx context.Context) error) error {
	defer a.flushTracing(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.closeStore()

	events, unsubscribe := a.provider.Subscribe()
	defer unsubscribe()

	if a.cleanup != nil {
		a.cleanup.Start(ctx)
		defer a.cleanup.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.provider.Start(gctx); err != nil {
			return fmt.Errorf("starting identity provider: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()

		res := a.monitor.AwaitReady(gctx, a.config.Readiness.MaxAttempts, a.config.Readiness.Interval)
		if res.Ready {
			if err := a.settleInitial(gctx, events); err != nil {
				return err
			}
		}

		g.Go(func() error {
			err := a.reconciler.Run(gctx, events)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		return session(gctx)
	})

	return g.Wait()
}

// settleInitial handles the provider's first auth state report before the
// session starts, as a page load does.
func (a *AuthBridge) settleInitial(ctx context.Context, events <-chan idp.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev, ok := <-events:
		if !ok {
			return fmt.Errorf("identity provider closed its event stream")
		}
		out, err := a.reconciler.Observe(ctx, ev)
		if err != nil {
			return err
		}
		log.LogInfoWithFields("authbridge", "Initial auth state settled", map[string]any{
			"state": out.State.String(),
		})
		return nil
	}
}

func (a *AuthBridge) flushTracing(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingFlushTimeout)
	defer cancel()
	if err := a.tracing(ctx); err != nil {
		log.LogWarnWithFields("authbridge", "Failed to flush traces", map[string]any{
			"error": err.Error(),
		})
	}
}

func (a *AuthBridge) closeStore() {
	c, ok := a.store.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.LogWarnWithFields("authbridge", "Failed to close token store", map[string]any{
			"error": err.Error(),
		})
	}
}

func setupStorage(ctx context.Context, cfg config.TokenStoreConfig, deviceID string) (storage.TokenStore, error) {
	switch cfg.Kind {
	case config.TokenStoreRedis:
		log.LogInfoWithFields("authbridge", "Using Redis token storage", map[string]any{"device": deviceID})
		return storage.NewRedisStorageFromURL(string(cfg.RedisURL), deviceID)
	case config.TokenStoreFirestore:
		log.LogInfoWithFields("authbridge", "Using Firestore token storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		return storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, deviceID)
	case config.TokenStoreMemory, "":
		log.LogInfoWithFields("authbridge", "Using in-memory token storage", nil)
		return storage.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported token store: %s", cfg.Kind)
	}
}
