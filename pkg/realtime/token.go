package realtime

import "context"

// TokenProvider supplies the current bearer credential. An empty string
// with a nil error means no credential is available. The client asks for a
// token every time it authenticates and never keeps it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken returns a provider that always yields token.
func StaticToken(token string) TokenProvider {
	return TokenProviderFunc(func(ctx context.Context) (string, error) {
		return token, nil
	})
}
