package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/authbridge/internal/emailutil"
	"github.com/dgellow/authbridge/internal/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// DefaultSecureTokenURL is the token refresh endpoint of the provider
const DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1/token"

// subscriberBuffer bounds how many events a slow subscriber may lag behind
const subscriberBuffer = 8

// credentialErrors are Identity Toolkit error codes meaning the user got
// their credentials wrong or cannot sign in
var credentialErrors = []string{
	"EMAIL_NOT_FOUND",
	"INVALID_PASSWORD",
	"INVALID_LOGIN_CREDENTIALS",
	"INVALID_EMAIL",
	"USER_DISABLED",
}

// FirebaseConfig configures the Firebase provider adapter
type FirebaseConfig struct {
	APIKey string
	// IdentityToolkitURL overrides the Identity Toolkit endpoint
	IdentityToolkitURL string
	SecureTokenURL     string
	// HTTPClient is used for token refreshes
	HTTPClient *http.Client
	// Popup enables the federated Google sign-in; nil disables it
	Popup *Popup
}

// FirebaseProvider adapts Firebase Authentication to Provider
type FirebaseProvider struct {
	cfg      FirebaseConfig
	tokenCfg *oauth2.Config
	tracer   trace.Tracer

	mu         sync.Mutex
	svc        *identitytoolkit.Service
	ready      bool
	current    *firebaseIdentity
	generation uint64
	subs       map[int]chan Event
	nextSub    int
}

var _ Provider = (*FirebaseProvider)(nil)

// NewFirebaseProvider creates the adapter. It is not ready until Start.
func NewFirebaseProvider(cfg FirebaseConfig) (*FirebaseProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firebase API key is required")
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}

	tokenURL, err := url.Parse(cfg.SecureTokenURL)
	if err != nil {
		return nil, fmt.Errorf("parsing secure token URL: %w", err)
	}
	q := tokenURL.Query()
	q.Set("key", cfg.APIKey)
	tokenURL.RawQuery = q.Encode()

	return &FirebaseProvider{
		cfg: cfg,
		tokenCfg: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL.String(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tracer: otel.Tracer("github.com/dgellow/authbridge/internal/idp"),
		subs:   make(map[int]chan Event),
	}, nil
}

// Start initializes the Identity Toolkit client, marks the provider ready and
// announces the initial, signed-out, auth state.
func (p *FirebaseProvider) Start(ctx context.Context) error {
	opts := []option.ClientOption{option.WithAPIKey(p.cfg.APIKey)}
	if p.cfg.IdentityToolkitURL != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.IdentityToolkitURL))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating identity toolkit client: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.svc = svc
	p.ready = true
	p.emitLocked()

	log.LogInfoWithFields("idp", "Identity provider ready", map[string]any{
		"federated": p.cfg.Popup != nil,
	})
	return nil
}

func (p *FirebaseProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *FirebaseProvider) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

// Subscribe delivers identity changes. A subscriber that falls behind loses
// the oldest pending events, never the latest one.
func (p *FirebaseProvider) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Event, subscriberBuffer)
	p.subs[id] = ch
	if p.ready {
		ch <- p.eventLocked()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

func (p *FirebaseProvider) eventLocked() Event {
	ev := Event{Generation: p.generation}
	if p.current != nil {
		ev.Identity = p.current
	}
	return ev
}

// emitLocked advances the generation and fans the new state out
func (p *FirebaseProvider) emitLocked() Event {
	p.generation++
	if p.current != nil {
		p.current.gen = p.generation
	}
	ev := p.eventLocked()

	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
	return ev
}

func (p *FirebaseProvider) service() (*identitytoolkit.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, ErrNotInitialized
	}
	return p.svc, nil
}

func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (Identity, error) {
	svc, err := p.service()
	if err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(ctx, "idp.SignInWithPassword")
	defer span.End()

	resp, err := svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}

	return p.signedIn(resp.LocalId, resp.Email, resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

func (p *FirebaseProvider) SignUpWithPassword(ctx context.Context, email, password string) (Identity, error) {
	svc, err := p.service()
	if err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(ctx, "idp.SignUpWithPassword")
	defer span.End()

	resp, err := svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}

	log.LogInfoWithFields("idp", "Account registered", map[string]any{
		"uid":    resp.LocalId,
		"domain": emailutil.Domain(resp.Email),
	})
	return p.signedIn(resp.LocalId, resp.Email, resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

func (p *FirebaseProvider) SignInWithPopup(ctx context.Context) (Identity, error) {
	svc, err := p.service()
	if err != nil {
		return nil, err
	}
	if p.cfg.Popup == nil {
		return nil, ErrFederatedUnavailable
	}
	ctx, span := p.tracer.Start(ctx, "idp.SignInWithPopup")
	defer span.End()

	result, err := p.cfg.Popup.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body := url.Values{}
	body.Set("id_token", result.IDToken)
	body.Set("providerId", "google.com")
	resp, err := svc.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          body.Encode(),
		RequestUri:        result.RedirectURL,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}

	return p.signedIn(resp.LocalId, resp.Email, resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// SignOut forgets the current identity. It works before readiness too.
func (p *FirebaseProvider) SignOut(_ context.Context) (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	ev := p.emitLocked()

	log.LogInfoWithFields("idp", "Signed out", map[string]any{"generation": ev.Generation})
	return ev, nil
}

func (p *FirebaseProvider) signedIn(uid, email, idToken, refreshToken string, expiresIn int64) Identity {
	seed := (&oauth2.Token{
		AccessToken:  idToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(time.Duration(expiresIn) * time.Second),
	}).WithExtra(map[string]any{"id_token": idToken})

	id := &firebaseIdentity{
		uid:      uid,
		email:    email,
		tokenCfg: p.tokenCfg,
		client:   p.cfg.HTTPClient,
		last:     seed,
		tracer:   p.tracer,
	}
	id.src = oauth2.ReuseTokenSource(seed, p.tokenCfg.TokenSource(id.httpContext(), seed))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = id
	ev := p.emitLocked()

	log.LogInfoWithFields("idp", "Signed in", map[string]any{
		"uid":        uid,
		"domain":     emailutil.Domain(email),
		"generation": ev.Generation,
	})
	return id
}

// classifyError maps Identity Toolkit errors onto the package errors
func classifyError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	code := gerr.Message
	if i := strings.IndexAny(code, " :"); i >= 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_EXISTS":
		return fmt.Errorf("%w: %s", ErrEmailExists, code)
	case "WEAK_PASSWORD":
		return fmt.Errorf("%w: %s", ErrWeakPassword, gerr.Message)
	}
	for _, c := range credentialErrors {
		if code == c {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, c)
		}
	}
	return fmt.Errorf("identity provider rejected sign-in: %w", err)
}

// firebaseIdentity mints ID tokens through the Secure Token endpoint
type firebaseIdentity struct {
	uid      string
	email    string
	gen      uint64
	tokenCfg *oauth2.Config
	client   *http.Client
	tracer   trace.Tracer
	group    singleflight.Group

	mu   sync.Mutex
	src  oauth2.TokenSource
	last *oauth2.Token
}

func (i *firebaseIdentity) UID() string        { return i.uid }
func (i *firebaseIdentity) Email() string      { return i.email }
func (i *firebaseIdentity) Generation() uint64 { return i.gen }

func (i *firebaseIdentity) httpContext() context.Context {
	ctx := context.Background()
	if i.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, i.client)
	}
	return ctx
}

// Token returns the cached ID token while it is valid and refreshes it
// otherwise. Concurrent callers share one refresh.
func (i *firebaseIdentity) Token(ctx context.Context, forceRefresh bool) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	key := "reuse"
	if forceRefresh {
		key = "force"
	}

	v, err, _ := i.group.Do(key, func() (any, error) {
		_, span := i.tracer.Start(ctx, "idp.MintToken")
		defer span.End()
		return i.mint(forceRefresh)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (i *firebaseIdentity) mint(force bool) (Token, error) {
	i.mu.Lock()
	src, last := i.src, i.last
	i.mu.Unlock()

	if force {
		src = i.tokenCfg.TokenSource(i.httpContext(), &oauth2.Token{RefreshToken: last.RefreshToken})
	}
	t, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refreshing id token: %w", err)
	}

	i.mu.Lock()
	i.last = t
	if force {
		i.src = oauth2.ReuseTokenSource(t, i.tokenCfg.TokenSource(i.httpContext(), t))
	}
	i.mu.Unlock()

	raw, _ := t.Extra("id_token").(string)
	if raw == "" {
		raw = t.AccessToken
	}
	return tokenFromRaw(raw, t.Expiry), nil
}
