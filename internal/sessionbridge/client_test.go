package sessionbridge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/authbridge/internal/cookie"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/servicecontext"
	"github.com/dgellow/authbridge/internal/sessionbridge"
	"github.com/dgellow/authbridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var tok = idp.Token{Value: "id-token-1", Expiry: time.Now().Add(time.Hour)}

func newClient(t *testing.T, baseURL string, opts ...sessionbridge.Option) (*sessionbridge.Client, http.CookieJar) {
	jar, err := cookie.NewJar()
	require.NoError(t, err)
	opts = append([]sessionbridge.Option{sessionbridge.WithHTTPClient(cookie.NewClient(jar))}, opts...)
	c, err := sessionbridge.New(baseURL, opts...)
	require.NoError(t, err)
	return c, jar
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := sessionbridge.New("")
	assert.Error(t, err)
}

func TestSync(t *testing.T) {
	tests := []struct {
		name        string
		mode        testutil.SessionMode
		wantOK      bool
		wantStatus  int
		wantErr     error
		wantSession bool
	}{
		{name: "success", mode: testutil.SessionOK, wantOK: true, wantStatus: 200, wantSession: true},
		{name: "server error", mode: testutil.SessionServerError, wantStatus: 500, wantErr: sessionbridge.ErrStatus},
		{name: "invalid body", mode: testutil.SessionInvalidBody, wantStatus: 200, wantErr: sessionbridge.ErrBody},
		{name: "ok false", mode: testutil.SessionRejected, wantStatus: 200, wantErr: sessionbridge.ErrStatus},
		{name: "missing ok", mode: testutil.SessionMissingOK, wantStatus: 200, wantErr: sessionbridge.ErrBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testutil.NewFakeBackend(t)
			backend.SetMode(tt.mode)
			c, jar := newClient(t, backend.URL)

			res := c.Sync(context.Background(), tok)

			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Cause, tt.wantErr)
			} else {
				assert.NoError(t, res.Cause)
			}
			assert.Equal(t, []string{"id-token-1"}, backend.Received())
			assert.Equal(t, tt.wantSession, cookie.HasSession(jar, backend.URLFor("/me")))
		})
	}
}

func TestSyncTransportError(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	url := backend.URL
	backend.Close()

	c, _ := newClient(t, url)
	res := c.Sync(context.Background(), tok)

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Cause, sessionbridge.ErrTransport)
}

func TestSyncTimeout(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	release := make(chan struct{})
	defer close(release)
	backend.SetGate(func(string) { <-release })

	c, _ := newClient(t, backend.URL, sessionbridge.WithTimeout(20*time.Millisecond))
	res := c.Sync(context.Background(), tok)

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Cause, sessionbridge.ErrTransport)
}

func TestSyncEmptyToken(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	c, _ := newClient(t, backend.URL)

	res := c.Sync(context.Background(), idp.Token{})

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Cause, sessionbridge.ErrNoToken)
	assert.Empty(t, backend.Received())
}

func TestSyncRequest(t *testing.T) {
	var gotPath, gotType, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/app", sessionbridge.WithPaths("/api/session", ""))
	ctx := servicecontext.WithEvent(context.Background(), "evt-1", 4)
	res := c.Sync(ctx, tok)

	require.True(t, res.OK)
	assert.Equal(t, "/app/api/session", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "evt-1", gotRequestID)
}

func TestSyncIndependentCalls(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	c, _ := newClient(t, backend.URL)

	for _, v := range []string{"a", "b", "c"} {
		res := c.Sync(context.Background(), idp.Token{Value: v})
		require.True(t, res.OK)
	}
	assert.Equal(t, []string{"a", "b", "c"}, backend.Received())
}

func TestClear(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	c, jar := newClient(t, backend.URL)

	require.True(t, c.Sync(context.Background(), tok).OK)
	require.True(t, cookie.HasSession(jar, backend.URLFor("/")))

	c.Clear(context.Background())

	assert.Equal(t, 1, backend.Logouts())
	assert.False(t, cookie.HasSession(jar, backend.URLFor("/")))
}

func TestClearSwallowsErrors(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	url := backend.URL
	backend.Close()

	c, _ := newClient(t, url)
	assert.NotPanics(t, func() { c.Clear(context.Background()) })
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSyncRecordsSpan(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tests := []struct {
		name   string
		mode   testutil.SessionMode
		wantOK bool
	}{
		{name: "accepted", mode: testutil.SessionOK, wantOK: true},
		{name: "rejected", mode: testutil.SessionServerError, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traceparents := make(chan string, 1)
			backend := testutil.NewFakeBackend(t)
			backend.SetMode(tt.mode)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				traceparents <- r.Header.Get("traceparent")
				backend.Config.Handler.ServeHTTP(w, r)
			}))
			defer server.Close()

			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			c, _ := newClient(t, server.URL, sessionbridge.WithTracerProvider(tp))

			res := c.Sync(context.Background(), tok)
			require.Equal(t, tt.wantOK, res.OK)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "sessionbridge.Sync", spans[0].Name())
			ok, found := spanAttr(spans[0], "session.ok")
			require.True(t, found)
			assert.Equal(t, tt.wantOK, ok.AsBool())

			// the backend sees the same trace the span belongs to
			traceparent := <-traceparents
			require.NotEmpty(t, traceparent)
			assert.Contains(t, traceparent, spans[0].SpanContext().TraceID().String())
		})
	}
}
