// Package page is a headless stand-in for the browser tab. It tracks the
// current location, loads pages through the client that holds the session
// cookie and posts protected forms with a bearer token.
package page

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dgellow/authbridge/internal/ioutil"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/urlutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const excerptLimit = 256

var (
	// ErrOffSite is returned for targets outside the site
	ErrOffSite = errors.New("navigation leaves the site")
	// ErrStatus is returned when the loaded page answered with an error
	// status. The location still moves, as a browser would show the error
	// page.
	ErrStatus = errors.New("page returned error status")
)

// TokenSource hands out ID tokens for protected actions
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Page is one tab on the site
type Page struct {
	client *http.Client
	base   *url.URL
	tokens TokenSource
	tracer trace.Tracer

	mu      sync.Mutex
	current *url.URL
}

// New creates a page positioned at the site root. client should carry the
// cookie jar the session bridge writes to.
func New(baseURL string, client *http.Client, tokens TokenSource) (*Page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute, got %q", baseURL)
	}
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}

	start := *base
	start.Path = "/"
	start.RawQuery = ""
	start.Fragment = ""

	return &Page{
		client:  client,
		base:    base,
		tokens:  tokens,
		tracer:  otel.Tracer("github.com/dgellow/authbridge/internal/page"),
		current: &start,
	}, nil
}

// Current returns a copy of the current location
func (p *Page) Current() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := *p.current
	return &u
}

// Path returns the current path, query and fragment
func (p *Page) Path() string {
	return urlutil.RequestURI(p.Current())
}

func (p *Page) resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing target %q: %w", target, err)
	}
	u := p.base.ResolveReference(ref)
	if u.Scheme != p.base.Scheme || u.Host != p.base.Host {
		return nil, fmt.Errorf("%w: %s", ErrOffSite, u.Redacted())
	}
	return u, nil
}

// Navigate loads target, following redirects, and moves to wherever the
// site ended up.
func (p *Page) Navigate(ctx context.Context, target string) error {
	u, err := p.resolve(target)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "page.Navigate")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	return p.load(req, u.Fragment, span)
}

// Submit posts form to path with the caller's ID token, the way protected
// actions such as creating a post are performed.
func (p *Page) Submit(ctx context.Context, path string, form url.Values) error {
	if p.tokens == nil {
		return fmt.Errorf("no token source configured")
	}
	u, err := p.resolve(path)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "page.Submit")
	defer span.End()

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting token for %s: %w", u.Path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	return p.load(req, "", span)
}

func (p *Page) load(req *http.Request, fragment string, span trace.Span) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("loading %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	final := *resp.Request.URL
	if final.Path == req.URL.Path && final.RawQuery == req.URL.RawQuery {
		final.Fragment = fragment
	}

	p.mu.Lock()
	p.current = &final
	p.mu.Unlock()

	span.SetAttributes(
		attribute.String("page.path", final.Path),
		attribute.Int("http.status_code", resp.StatusCode),
	)
	log.LogDebugWithFields("page", "Page loaded", map[string]any{
		"method":     req.Method,
		"requested":  req.URL.Path,
		"location":   urlutil.RequestURI(&final),
		"status":     resp.StatusCode,
		"redirected": final.Path != req.URL.Path,
	})

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %d at %s: %s", ErrStatus, resp.StatusCode, final.Path, ioutil.Excerpt(resp.Body, excerptLimit))
	}
	return nil
}
