package cookie

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/dgellow/authbridge/internal/envutil"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/publicsuffix"
)

// SessionCookie is the name of the backend session cookie.
const SessionCookie = "session"

// NewJar returns a cookie jar that follows public suffix rules, so a session
// cookie set by the backend is only replayed to the backend's site.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return jar, nil
}

// NewClient returns a pooled HTTP client carrying jar. The session endpoint
// calls and page loads share one client so they share the session cookie.
func NewClient(jar http.CookieJar) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Jar = jar
	return client
}

// HasSession reports whether jar holds a session cookie for u.
func HasSession(jar http.CookieJar, u *url.URL) bool {
	if jar == nil || u == nil {
		return false
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == SessionCookie && c.Value != "" {
			return true
		}
	}
	return false
}

// SetSession sets the session cookie on the response to r. Used by backends
// implementing the session endpoint, including the test backend. The cookie
// is Secure when r arrived over TLS, directly or through a proxy. Dev mode
// ignores X-Forwarded-Proto.
func SetSession(w http.ResponseWriter, r *http.Request, value string, maxAge time.Duration) {
	secure := r.TLS != nil || (!envutil.IsDev() && r.Header.Get("X-Forwarded-Proto") == "https")
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// ClearSession removes the session cookie by setting MaxAge to -1
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// GetSession retrieves the session cookie value from a request
func GetSession(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
