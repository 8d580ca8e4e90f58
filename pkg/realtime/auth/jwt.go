// Package auth supplies credentials to the realtime client and issues and
// verifies the bearer tokens the development server accepts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens issued by an Issuer.
const DefaultTokenTTL = time.Hour

// ErrNoSecret is returned when an Issuer is built without a signing key.
var ErrNoSecret = errors.New("signing secret is required")

// Issuer signs and verifies HS256 tokens whose subject names a user.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerBuilder provides a fluent interface for building an Issuer.
type IssuerBuilder struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates a new Issuer builder.
func NewIssuer() *IssuerBuilder {
	return &IssuerBuilder{
		issuer: "callsec",
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
}

// WithSecret sets the HMAC key.
func (b *IssuerBuilder) WithSecret(secret []byte) *IssuerBuilder {
	b.secret = secret
	return b
}

// WithIssuer sets the iss claim written and required.
func (b *IssuerBuilder) WithIssuer(issuer string) *IssuerBuilder {
	b.issuer = issuer
	return b
}

// WithTTL sets how long issued tokens are valid.
func (b *IssuerBuilder) WithTTL(ttl time.Duration) *IssuerBuilder {
	if ttl > 0 {
		b.ttl = ttl
	}
	return b
}

// WithClock replaces time.Now.
func (b *IssuerBuilder) WithClock(now func() time.Time) *IssuerBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build creates the Issuer.
func (b *IssuerBuilder) Build() (*Issuer, error) {
	if len(b.secret) == 0 {
		return nil, ErrNoSecret
	}

	return &Issuer{
		secret: append([]byte(nil), b.secret...),
		issuer: b.issuer,
		ttl:    b.ttl,
		now:    b.now,
	}, nil
}

// Issue returns a signed token for subject and its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}

	now := i.now()
	expires := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expires, nil
}

// Verify checks the signature, issuer and validity window of token.
func (i *Issuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token: missing subject")
	}

	return claims, nil
}

// VerifySubject verifies token and returns its subject.
func (i *Issuer) VerifySubject(token string) (string, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExpiresAt reads the exp claim of token without verifying it. It returns
// the zero time when the token is not a JWT or has no expiry.
func ExpiresAt(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
