package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode, where plain-http
// backends and insecure cookies are accepted
func IsDev() bool {
	env := strings.ToLower(os.Getenv("AUTHBRIDGE_ENV"))
	return env == "development" || env == "dev"
}
