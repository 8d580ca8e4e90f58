package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/tsarna/callsec/pkg/realtime"
)

// Static returns a provider that always yields token.
func Static(token string) realtime.TokenProvider {
	return realtime.StaticToken(token)
}

// File returns a provider that reads the token from path on every call, so
// the file can be rotated while the client runs. Surrounding whitespace is
// trimmed.
func File(path string) realtime.TokenProvider {
	return realtime.TokenProviderFunc(func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	})
}

// Users maps user names to passwords for the development server's token
// endpoint.
type Users map[string]string

// ParseUser splits a "name:password" pair.
func ParseUser(spec string) (string, string, error) {
	name, password, ok := strings.Cut(spec, ":")
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid user %q, expected name:password", spec)
	}
	return name, password, nil
}

// Check reports whether password belongs to name.
func (u Users) Check(name, password string) bool {
	expected, ok := u[name]
	if !ok {
		// Compare anyway so unknown names take as long as known ones.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
}
