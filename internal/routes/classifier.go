// Package routes decides which site paths need an authenticated session.
//
// The policy is a fixed contract shared with the backend, which enforces it
// server-side as well. The client check only saves a round trip.
package routes

import (
	"strings"
)

// idSegment is the placeholder for a nonnegative integer path segment
const idSegment = "{id}"

// DefaultPatterns is the protected-route policy
var DefaultPatterns = []string{
	"/me",
	"/post/new",
	"/post/{id}/edit",
	"/post/{id}/delete",
	"/post/{id}/comment",
	"/comment/{id}/delete",
}

// RouteDescriptor is the classification of one path
type RouteDescriptor struct {
	Path      string
	Protected bool
}

// Classifier matches paths against protected patterns
type Classifier struct {
	patterns [][]string
}

// NewClassifier creates a classifier for the given patterns. Patterns are
// literal paths where a whole segment may be {id}.
func NewClassifier(patterns []string) *Classifier {
	c := &Classifier{patterns: make([][]string, 0, len(patterns))}
	for _, p := range patterns {
		c.patterns = append(c.patterns, strings.Split(p, "/"))
	}
	return c
}

var defaultClassifier = NewClassifier(DefaultPatterns)

// Default returns the classifier for DefaultPatterns
func Default() *Classifier {
	return defaultClassifier
}

// Classify describes requestPath. A query string or fragment is ignored.
func (c *Classifier) Classify(requestPath string) RouteDescriptor {
	p := stripQuery(requestPath)
	return RouteDescriptor{Path: p, Protected: c.match(p)}
}

// IsProtected reports whether requestPath requires a session
func (c *Classifier) IsProtected(requestPath string) bool {
	return c.match(stripQuery(requestPath))
}

// IsProtected classifies requestPath with the default policy
func IsProtected(requestPath string) bool {
	return defaultClassifier.IsProtected(requestPath)
}

// match compares segment by segment. Unlike glob matching there is no
// normalization: "/me/" and "/post//edit" are different paths.
func (c *Classifier) match(p string) bool {
	parts := strings.Split(p, "/")
	for _, pattern := range c.patterns {
		if matchSegments(pattern, parts) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) != len(parts) {
		return false
	}
	for i, seg := range pattern {
		if seg == idSegment {
			if !isDigits(parts[i]) {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}
