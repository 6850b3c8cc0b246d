package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

const (
	DefaultIssuer       = "https://accounts.google.com"
	DefaultRedirectAddr = "127.0.0.1:0"
	DefaultPopupTimeout = 2 * time.Minute
)

// Opener shows the authorization URL to the user, typically in a browser
type Opener interface {
	Open(ctx context.Context, authURL string) error
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, authURL string) error

func (f OpenerFunc) Open(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// PrintOpener asks the user to open the URL themselves
func PrintOpener(w io.Writer) Opener {
	return OpenerFunc(func(_ context.Context, authURL string) error {
		_, err := fmt.Fprintf(w, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
		return err
	})
}

// IDTokenVerifier is satisfied by *oidc.IDTokenVerifier
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// PopupConfig configures the federated sign-in window
type PopupConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectAddr is the loopback address the callback listens on
	RedirectAddr string
	Issuer       string
	Timeout      time.Duration
	Opener       Opener
	HTTPClient   *http.Client

	// Endpoint and Verifier skip OIDC discovery when both are set
	Endpoint oauth2.Endpoint
	Verifier IDTokenVerifier
}

// PopupResult is a verified Google ID token and the redirect it came back on
type PopupResult struct {
	IDToken     string
	RedirectURL string
}

// popupState travels through the authorization server in the state
// parameter
type popupState struct {
	Nonce       string `json:"nonce"`
	RedirectURL string `json:"redirect_url"`
}

type callbackResult struct {
	code string
	err  error
}

// Popup runs the Google authorization code flow with PKCE over a loopback
// redirect, the way installed applications sign users in.
type Popup struct {
	cfg    PopupConfig
	signer crypto.TokenSigner

	mu       sync.Mutex
	endpoint oauth2.Endpoint
	verifier IDTokenVerifier
}

// NewPopup validates cfg and creates a Popup
func NewPopup(cfg PopupConfig) (*Popup, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google client ID is required")
	}
	if cfg.Opener == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if cfg.RedirectAddr == "" {
		cfg.RedirectAddr = DefaultRedirectAddr
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPopupTimeout
	}

	key, err := crypto.GenerateKey(32)
	if err != nil {
		return nil, err
	}

	return &Popup{
		cfg:      cfg,
		signer:   crypto.NewTokenSigner(key, cfg.Timeout),
		endpoint: cfg.Endpoint,
		verifier: cfg.Verifier,
	}, nil
}

func (p *Popup) httpContext(ctx context.Context) context.Context {
	if p.cfg.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}
	return ctx
}

// discover resolves the endpoint and verifier once
func (p *Popup) discover(ctx context.Context) (oauth2.Endpoint, IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verifier != nil && p.endpoint.TokenURL != "" {
		return p.endpoint, p.verifier, nil
	}

	op, err := oidc.NewProvider(p.httpContext(ctx), p.cfg.Issuer)
	if err != nil {
		return oauth2.Endpoint{}, nil, fmt.Errorf("oidc discovery: %w", err)
	}
	p.endpoint = op.Endpoint()
	p.verifier = op.Verifier(&oidc.Config{ClientID: p.cfg.ClientID})
	return p.endpoint, p.verifier, nil
}

// Authenticate opens the sign-in window and waits for the callback. Closing
// the window, denying consent or running out of time yields ErrPopupClosed.
func (p *Popup) Authenticate(ctx context.Context) (PopupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	endpoint, verifier, err := p.discover(ctx)
	if err != nil {
		return PopupResult{}, err
	}

	ln, err := net.Listen("tcp", p.cfg.RedirectAddr)
	if err != nil {
		return PopupResult{}, fmt.Errorf("listening for callback: %w", err)
	}
	redirectURL := "http://" + ln.Addr().String() + "/callback"

	oauthCfg := oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		ln.Close()
		return PopupResult{}, err
	}
	state, err := p.signer.Sign(popupState{Nonce: nonce, RedirectURL: redirectURL})
	if err != nil {
		ln.Close()
		return PopupResult{}, fmt.Errorf("signing state: %w", err)
	}
	pkce := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           p.callbackRouter(redirectURL, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogWarnWithFields("idp", "Callback listener stopped", map[string]any{"error": err.Error()})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pkce),
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	if err := p.cfg.Opener.Open(ctx, authURL); err != nil {
		return PopupResult{}, fmt.Errorf("opening sign-in window: %w", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return PopupResult{}, fmt.Errorf("%w: %v", ErrPopupClosed, ctx.Err())
	}
	if res.err != nil {
		return PopupResult{}, res.err
	}

	tok, err := oauthCfg.Exchange(p.httpContext(ctx), res.code, oauth2.VerifierOption(pkce))
	if err != nil {
		return PopupResult{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return PopupResult{}, fmt.Errorf("token response has no id_token")
	}

	idTok, err := verifier.Verify(ctx, raw)
	if err != nil {
		return PopupResult{}, fmt.Errorf("verifying id token: %w", err)
	}
	if idTok.Nonce != nonce {
		return PopupResult{}, fmt.Errorf("id token nonce mismatch")
	}

	return PopupResult{IDToken: raw, RedirectURL: redirectURL}, nil
}

func (p *Popup) callbackRouter(redirectURL string, results chan<- callbackResult) http.Handler {
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()

		if e := q.Get("error"); e != "" {
			if e == "access_denied" {
				deliver(callbackResult{err: ErrPopupClosed})
			} else {
				deliver(callbackResult{err: fmt.Errorf("authorization failed: %s", e)})
			}
			http.Error(w, "Sign-in was not completed. You can close this window.", http.StatusBadRequest)
			return
		}

		var st popupState
		if err := p.signer.Verify(q.Get("state"), &st); err != nil || st.RedirectURL != redirectURL {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing code", http.StatusBadRequest)
			return
		}

		deliver(callbackResult{code: code})
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Signed in. You can close this window.")
	}).Methods(http.MethodGet)
	return r
}
