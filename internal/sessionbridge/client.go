// Package sessionbridge exchanges provider ID tokens for a backend session.
//
// The contract is deliberately forgiving: Sync never returns an error, it
// reports {OK: false} for transport errors, non-2xx statuses and bodies that
// are not the expected JSON. Clear is best-effort.
package sessionbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/servicecontext"
	"github.com/dgellow/authbridge/internal/urlutil"
	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSessionPath = "/auth/session"
	DefaultLogoutPath  = "/auth/logout"
	DefaultTimeout     = 10 * time.Second

	// maxBodySize bounds how much of a session response is read
	maxBodySize = 64 << 10

	tracerName = "github.com/dgellow/authbridge/internal/sessionbridge"
)

var (
	ErrTransport = errors.New("session request failed")
	ErrStatus    = errors.New("session rejected")
	ErrBody      = errors.New("invalid session response")
	ErrNoToken   = errors.New("empty token")
)

// Result is the outcome of one Sync call. Cause explains a failure for logs;
// callers should only branch on OK.
type Result struct {
	OK         bool
	StatusCode int
	Cause      error
}

type sessionRequest struct {
	IDToken string `json:"idToken"`
}

type sessionResponse struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client talks to the backend session endpoints.
type Client struct {
	sessionURL string
	logoutURL  string
	httpClient *http.Client
	timeout    time.Duration
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Pass the client that carries the
// page's cookie jar so the session cookie lands where pages are loaded.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout bounds each call. Expiry counts as a failure.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithTracerProvider records spans on tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		if tp != nil {
			cl.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPaths overrides the session and logout endpoint paths.
func WithPaths(sessionPath, logoutPath string) Option {
	return func(cl *Client) {
		if sessionPath != "" {
			cl.sessionURL = sessionPath
		}
		if logoutPath != "" {
			cl.logoutURL = logoutPath
		}
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		sessionURL: DefaultSessionPath,
		logoutURL:  DefaultLogoutPath,
		httpClient: cleanhttp.DefaultPooledClient(),
		timeout:    DefaultTimeout,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.sessionURL, err = urlutil.JoinPath(baseURL, c.sessionURL); err != nil {
		return nil, fmt.Errorf("building session URL: %w", err)
	}
	if c.logoutURL, err = urlutil.JoinPath(baseURL, c.logoutURL); err != nil {
		return nil, fmt.Errorf("building logout URL: %w", err)
	}
	return c, nil
}

// Sync sends token to the session endpoint. Every call is independent; there
// is no queuing and no retry.
func (c *Client) Sync(ctx context.Context, token idp.Token) Result {
	ctx, span := c.tracer.Start(ctx, "sessionbridge.Sync")
	defer span.End()

	res := c.sync(ctx, token)

	span.SetAttributes(attribute.Bool("session.ok", res.OK), attribute.Int("http.status_code", res.StatusCode))
	fields := map[string]any{
		"ok":     res.OK,
		"status": res.StatusCode,
	}
	if id, ok := servicecontext.GetEventID(ctx); ok {
		fields["event"] = id
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if res.OK {
		log.LogDebugWithFields("sessionbridge", "Session synchronized", fields)
	} else {
		span.SetStatus(codes.Error, res.Cause.Error())
		fields["error"] = res.Cause.Error()
		log.LogWarnWithFields("sessionbridge", "Session sync failed", fields)
	}
	return res
}

func (c *Client) sync(ctx context.Context, token idp.Token) Result {
	if token.Value == "" {
		return Result{Cause: ErrNoToken}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(sessionRequest{IDToken: token.Value})
	if err != nil {
		return Result{Cause: fmt.Errorf("%w: encoding request: %v", ErrTransport, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, bytes.NewReader(body))
	if err != nil {
		return Result{Cause: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	setRequestHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Cause: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Cause: fmt.Errorf("%w: reading body: %v", ErrTransport, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause := fmt.Errorf("%w: status %d", ErrStatus, resp.StatusCode)
		var decoded sessionResponse
		if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
			cause = fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, decoded.Error)
		}
		return Result{StatusCode: resp.StatusCode, Cause: cause}
	}

	var decoded sessionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{StatusCode: resp.StatusCode, Cause: fmt.Errorf("%w: %v", ErrBody, err)}
	}
	if decoded.OK == nil {
		return Result{StatusCode: resp.StatusCode, Cause: fmt.Errorf("%w: missing ok field", ErrBody)}
	}
	if !*decoded.OK {
		return Result{StatusCode: resp.StatusCode, Cause: fmt.Errorf("%w: ok=false %s", ErrStatus, decoded.Error)}
	}

	return Result{OK: true, StatusCode: resp.StatusCode}
}

// Clear asks the backend to drop the session. Failures are logged and
// swallowed: the client shows the signed-out UI regardless.
func (c *Client) Clear(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "sessionbridge.Clear")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, http.NoBody)
	if err != nil {
		log.LogWarnWithFields("sessionbridge", "Building logout request failed", map[string]any{"error": err.Error()})
		return
	}
	setRequestHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.LogWarnWithFields("sessionbridge", "Logout notification failed", map[string]any{"error": err.Error()})
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()

	log.LogDebugWithFields("sessionbridge", "Logout notified", map[string]any{"status": resp.StatusCode})
}

// setRequestHeaders tags req with the event id and the trace context, so the
// backend can join its session handling to the client-side span
func setRequestHeaders(ctx context.Context, req *http.Request) {
	if id, ok := servicecontext.GetEventID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}
