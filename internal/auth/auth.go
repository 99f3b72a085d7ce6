// Package auth provides bearer token access for the dashboard APIs.
//
// Tokens are injected as accessor functions rather than read from ambient
// global state, so rotation works without a restart: both the REST client
// and the WebSocket manager call the accessor at the moment they need a
// credential.
package auth

import (
	"os"
	"strings"
)

// TokenFunc returns the current bearer token, or "" when unavailable.
type TokenFunc func() string

// Static returns a TokenFunc that always yields tok.
func Static(tok string) TokenFunc {
	return func() string { return tok }
}

// FromEnv returns a TokenFunc that reads the named environment variable on
// every call.
func FromEnv(name string) TokenFunc {
	return func() string {
		return strings.TrimSpace(os.Getenv(name))
	}
}

// FromFile returns a TokenFunc that re-reads path on every call, trimming
// surrounding whitespace. A missing or unreadable file yields "".
func FromFile(path string) TokenFunc {
	return func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
}
