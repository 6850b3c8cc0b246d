package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// Excerpt reads up to limit bytes from r for inclusion in errors and logs.
// Whitespace runs collapse to one space and a cut-off body ends in "...". A
// failed read is described instead of silenced.
func Excerpt(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}

	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	s := strings.Join(strings.Fields(string(body)), " ")
	if truncated {
		s += "..."
	}
	return s
}
