package cookie

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSession(t *testing.T) {
	tests := []struct {
		name       string
		tls        bool
		forwarded  string
		dev        bool
		wantSecure bool
	}{
		{name: "plain http", wantSecure: false},
		{name: "tls", tls: true, wantSecure: true},
		{name: "behind https proxy", forwarded: "https", wantSecure: true},
		{name: "dev ignores forwarded proto", forwarded: "https", dev: true, wantSecure: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.dev {
				t.Setenv("AUTHBRIDGE_ENV", "dev")
			} else {
				t.Setenv("AUTHBRIDGE_ENV", "production")
			}
			r := httptest.NewRequest(http.MethodPost, "/auth/session", nil)
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}
			w := httptest.NewRecorder()

			SetSession(w, r, "abc", time.Hour)

			cookies := w.Result().Cookies()
			require.Len(t, cookies, 1)
			c := cookies[0]
			assert.Equal(t, SessionCookie, c.Name)
			assert.Equal(t, "abc", c.Value)
			assert.True(t, c.HttpOnly)
			assert.Equal(t, 3600, c.MaxAge)
			assert.Equal(t, tt.wantSecure, c.Secure)
		})
	}
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSession(w)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestGetSession(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetSession(r)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "xyz"})
	v, err := GetSession(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", v)
}

func TestJarHasSession(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)
	u, _ := url.Parse("http://blog.example.com/me")

	assert.False(t, HasSession(jar, u))
	assert.False(t, HasSession(nil, u))

	jar.SetCookies(u, []*http.Cookie{{Name: SessionCookie, Value: "s1", Path: "/"}})
	assert.True(t, HasSession(jar, u))

	other, _ := url.Parse("http://other.example.org/")
	assert.False(t, HasSession(jar, other))

	client := NewClient(jar)
	assert.Same(t, jar, client.Jar)
}
