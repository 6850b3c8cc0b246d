package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/dgellow/authbridge/internal/cookie"
	jsonwriter "github.com/dgellow/authbridge/internal/json"
	"github.com/dgellow/authbridge/internal/routes"
	"github.com/gorilla/mux"
)

// SessionMode selects how the fake backend answers POST /auth/session
type SessionMode int

const (
	SessionOK SessionMode = iota
	SessionServerError
	SessionInvalidBody
	SessionRejected
	SessionMissingOK
)

// FakeBackend is a first-party backend implementing the session contract.
// Protected pages redirect to /login without a session cookie, the way the
// real server enforces the route policy.
type FakeBackend struct {
	*httptest.Server

	mu        sync.Mutex
	mode      SessionMode
	gate      func(token string)
	outGate   func()
	sessions  map[string]string
	received  []string
	logouts   int
	lastAuth  string
	submitted url.Values
}

// NewFakeBackend starts a fake backend. It is closed when the test ends.
func NewFakeBackend(t interface{ Cleanup(func()) }) *FakeBackend {
	b := &FakeBackend{sessions: make(map[string]string)}

	r := mux.NewRouter()
	r.HandleFunc("/auth/session", b.handleSession).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", b.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/login", b.handlePage).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(b.handleSite)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// SetMode changes how session requests are answered
func (b *FakeBackend) SetMode(m SessionMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
}

// SetGate installs a hook run before each session response. It may block to
// hold a response back.
func (b *FakeBackend) SetGate(gate func(token string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = gate
}

// SetLogoutGate installs a hook run before each logout response
func (b *FakeBackend) SetLogoutGate(gate func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outGate = gate
}

// Received returns the tokens posted to /auth/session, in arrival order
func (b *FakeBackend) Received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

// Logouts reports how many times /auth/logout was called
func (b *FakeBackend) Logouts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logouts
}

// LastAuthorization returns the Authorization header of the last form post
func (b *FakeBackend) LastAuthorization() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuth
}

// Submitted returns the last posted form
func (b *FakeBackend) Submitted() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted
}

// URLFor resolves path against the server
func (b *FakeBackend) URLFor(path string) *url.URL {
	u, err := url.Parse(b.URL + path)
	if err != nil {
		panic(err)
	}
	return u
}

func (b *FakeBackend) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		jsonwriter.WriteSessionError(w, http.StatusBadRequest, "missing idToken")
		return
	}

	b.mu.Lock()
	b.received = append(b.received, req.IDToken)
	gate, mode := b.gate, b.mode
	b.mu.Unlock()

	if gate != nil {
		gate(req.IDToken)
	}

	switch mode {
	case SessionServerError:
		jsonwriter.WriteSessionError(w, http.StatusInternalServerError, "session store unavailable")
	case SessionInvalidBody:
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not json</html>")
	case SessionRejected:
		jsonwriter.WriteSessionError(w, http.StatusOK, "token rejected")
	case SessionMissingOK:
		_ = jsonwriter.WriteResponse(w, http.StatusOK, map[string]string{"status": "fine"})
	default:
		sid := fmt.Sprintf("sess-%d", time.Now().UnixNano())
		b.mu.Lock()
		b.sessions[sid] = req.IDToken
		b.mu.Unlock()
		cookie.SetSession(w, r, sid, time.Hour)
		jsonwriter.WriteSessionOK(w)
	}
}

func (b *FakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.outGate
	b.mu.Unlock()
	if gate != nil {
		gate()
	}

	b.mu.Lock()
	b.logouts++
	if sid, err := cookie.GetSession(r); err == nil {
		delete(b.sessions, sid)
	}
	b.mu.Unlock()

	cookie.ClearSession(w)
	jsonwriter.WriteSessionOK(w)
}

func (b *FakeBackend) handleSite(w http.ResponseWriter, r *http.Request) {
	if routes.IsProtected(r.URL.Path) && !b.hasSession(r) {
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		b.mu.Lock()
		b.lastAuth = r.Header.Get("Authorization")
		b.submitted = r.PostForm
		b.mu.Unlock()
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	b.handlePage(w, r)
}

func (b *FakeBackend) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Path)
}

func (b *FakeBackend) hasSession(r *http.Request) bool {
	sid, err := cookie.GetSession(r)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sid]
	return ok
}
