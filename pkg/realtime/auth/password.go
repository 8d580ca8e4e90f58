package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenPath is the login endpoint relative to the API base URL.
const TokenPath = "/token"

// DefaultRefreshMargin is how long before expiry a cached token is
// replaced.
const DefaultRefreshMargin = 30 * time.Second

// ErrInvalidCredentials is returned when the API rejects the username or
// password.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// TokenResponse is the body returned by the login endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// PasswordGrant logs in with a username and password and caches the
// returned token until shortly before it expires. Tokens without an
// expiry are kept until Invalidate is called.
type PasswordGrant struct {
	apiBase       string
	username      string
	password      string
	client        *http.Client
	logger        *zap.Logger
	refreshMargin time.Duration
	now           func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// PasswordGrantBuilder provides a fluent interface for building a
// PasswordGrant.
type PasswordGrantBuilder struct {
	apiBase       string
	username      string
	password      string
	client        *http.Client
	logger        *zap.Logger
	refreshMargin time.Duration
	now           func() time.Time
}

// NewPasswordGrant creates a new PasswordGrant builder.
func NewPasswordGrant() *PasswordGrantBuilder {
	return &PasswordGrantBuilder{
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        zap.NewNop(),
		refreshMargin: DefaultRefreshMargin,
		now:           time.Now,
	}
}

// WithAPIBase sets the base URL the token path is appended to.
func (b *PasswordGrantBuilder) WithAPIBase(apiBase string) *PasswordGrantBuilder {
	b.apiBase = apiBase
	return b
}

// WithCredentials sets the username and password.
func (b *PasswordGrantBuilder) WithCredentials(username, password string) *PasswordGrantBuilder {
	b.username = username
	b.password = password
	return b
}

// WithHTTPClient replaces the HTTP client used to log in.
func (b *PasswordGrantBuilder) WithHTTPClient(client *http.Client) *PasswordGrantBuilder {
	if client != nil {
		b.client = client
	}
	return b
}

// WithLogger sets the logger.
func (b *PasswordGrantBuilder) WithLogger(logger *zap.Logger) *PasswordGrantBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithRefreshMargin sets how long before expiry a token is replaced.
func (b *PasswordGrantBuilder) WithRefreshMargin(margin time.Duration) *PasswordGrantBuilder {
	if margin >= 0 {
		b.refreshMargin = margin
	}
	return b
}

// WithClock replaces time.Now.
func (b *PasswordGrantBuilder) WithClock(now func() time.Time) *PasswordGrantBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// IsValid checks that all required configuration is present.
func (b *PasswordGrantBuilder) IsValid() error {
	if b.apiBase == "" {
		return fmt.Errorf("API base URL is required")
	}
	if _, err := url.Parse(b.apiBase); err != nil {
		return fmt.Errorf("invalid API base URL: %w", err)
	}
	if b.username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// Build creates the PasswordGrant.
func (b *PasswordGrantBuilder) Build() (*PasswordGrant, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &PasswordGrant{
		apiBase:       strings.TrimRight(b.apiBase, "/"),
		username:      b.username,
		password:      b.password,
		client:        b.client,
		logger:        b.logger,
		refreshMargin: b.refreshMargin,
		now:           b.now,
	}, nil
}

// Token returns the cached token or logs in for a new one.
func (p *PasswordGrant) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && (p.expires.IsZero() || p.now().Before(p.expires.Add(-p.refreshMargin))) {
		return p.token, nil
	}

	resp, err := p.Login(ctx)
	if err != nil {
		return "", err
	}

	p.token = resp.AccessToken
	p.expires = ExpiresAt(resp.AccessToken)

	p.logger.Debug("Obtained access token",
		zap.String("username", p.username),
		zap.Time("expires", p.expires),
	)

	return p.token, nil
}

// Invalidate drops the cached token so the next Token call logs in again.
func (p *PasswordGrant) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expires = time.Time{}
}

// Login posts the credentials to the token endpoint. It does not touch the
// cache.
func (p *PasswordGrant) Login(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("username", p.username)
	form.Set("password", p.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+TokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("login failed: %s", resp.Status)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("login response has no access_token")
	}

	return &token, nil
}
