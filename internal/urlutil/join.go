package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// MustJoinPath is like JoinPath but panics on error (for use with known-good URLs)
func MustJoinPath(base string, paths ...string) string {
	result, err := JoinPath(base, paths...)
	if err != nil {
		panic(err)
	}
	return result
}

// IsLocalPath reports whether target is a same-site path reference such as
// "/post/3/edit?x=1". Absolute URLs, scheme-relative references ("//host")
// and backslash tricks are rejected so they cannot be used as open
// redirects.
func IsLocalPath(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	if strings.ContainsAny(target, "\r\n\t") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}

// RequestURI returns the path, query and fragment of u, the part of a URL
// that identifies a page within a site.
func RequestURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	ref := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery, Fragment: u.Fragment}
	s := ref.String()
	if s == "" || !strings.HasPrefix(s, "/") {
		s = "/" + strings.TrimPrefix(s, "/")
	}
	return s
}
