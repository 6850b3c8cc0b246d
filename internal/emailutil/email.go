// Package emailutil applies the identity provider's email rules on the
// client, so malformed addresses are rejected before any provider call.
package emailutil

import (
	"errors"
	"strings"
	"unicode"
)

// maxLength is the longest address the provider stores
const maxLength = 254

// ErrInvalidEmail is returned for addresses the provider would refuse
var ErrInvalidEmail = errors.New("invalid email address")

// Normalize lowercases and trims an address. Provider accounts are keyed by
// the normalized form.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Parse normalizes email and checks its shape: one @, a non-empty local
// part, a dotted domain and no whitespace.
func Parse(email string) (string, error) {
	e := Normalize(email)
	if e == "" {
		return "", ErrInvalidEmail
	}
	if len(e) > maxLength || strings.IndexFunc(e, unicode.IsSpace) >= 0 {
		return "", ErrInvalidEmail
	}
	local, domain, ok := strings.Cut(e, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") ||
		strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return "", ErrInvalidEmail
	}
	return e, nil
}

// Domain returns the part after the @, or "" for a malformed address. Logs
// carry the domain instead of the full address.
func Domain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}
