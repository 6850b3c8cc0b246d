// Package guard decides where the page should go given the bridge state.
package guard

import (
	"net/url"
	"strings"

	"github.com/dgellow/authbridge/internal/bridge"
	"github.com/dgellow/authbridge/internal/routes"
	"github.com/dgellow/authbridge/internal/urlutil"
)

const (
	DefaultSignInPath  = "/login"
	DefaultLandingPath = "/"
	DefaultAuthPrefix  = "/auth/"
)

// Config holds the site paths the guard needs
type Config struct {
	SignInPath  string
	LandingPath string
	AuthPrefix  string
	Classifier  *routes.Classifier
}

// Guard is the navigation guard. It never redirects while a sync is in
// flight and never sends the user to the page they are already on.
type Guard struct {
	signInPath  string
	landingPath string
	authPrefix  string
	classifier  *routes.Classifier
}

// New creates a Guard, filling unset fields with defaults
func New(cfg Config) *Guard {
	g := &Guard{
		signInPath:  cfg.SignInPath,
		landingPath: cfg.LandingPath,
		authPrefix:  cfg.AuthPrefix,
		classifier:  cfg.Classifier,
	}
	if g.signInPath == "" {
		g.signInPath = DefaultSignInPath
	}
	if g.landingPath == "" {
		g.landingPath = DefaultLandingPath
	}
	if g.authPrefix == "" {
		g.authPrefix = DefaultAuthPrefix
	}
	if g.classifier == nil {
		g.classifier = routes.Default()
	}
	return g
}

// SignInPath returns the path of the sign-in page
func (g *Guard) SignInPath() string {
	return g.signInPath
}

// Decide returns the redirect for a page at target (path plus query) when
// the bridge is in state. next is the unconsumed return target, if any.
func (g *Guard) Decide(state bridge.State, target, next string) bridge.Decision {
	p := pathOf(target)
	onSignIn := p == g.signInPath

	switch state {
	case bridge.StateSynced:
		if !onSignIn {
			return bridge.Decision{}
		}
		dest := g.landingPath
		if g.validNext(next) {
			dest = next
		}
		return bridge.Decision{RedirectTo: dest, ConsumedNext: next != ""}

	case bridge.StateSyncing:
		return bridge.Decision{}

	default:
		if onSignIn || strings.HasPrefix(p, g.authPrefix) || !g.classifier.IsProtected(p) {
			return bridge.Decision{}
		}
		return bridge.Decision{RedirectTo: g.signInPath + "?next=" + url.QueryEscape(target)}
	}
}

// validNext accepts same-site targets other than the sign-in page itself
func (g *Guard) validNext(next string) bool {
	if !urlutil.IsLocalPath(next) {
		return false
	}
	return pathOf(next) != g.signInPath
}

func pathOf(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}
