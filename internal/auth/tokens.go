package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token used for upstream calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token. An empty token means
// requests go out unauthenticated.
type StaticToken string

// Token returns the static token
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// CachingSource reuses a token from an underlying source until shortly
// before the JWT exp claim. Tokens that are not JWTs or carry no exp are
// kept until Invalidate is called.
type CachingSource struct {
	src    TokenSource
	leeway time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachingSource wraps src. leeway is how long before expiry a new
// token is fetched.
func NewCachingSource(src TokenSource, leeway time.Duration) *CachingSource {
	return &CachingSource{src: src, leeway: leeway, now: time.Now}
}

// Token returns the cached token or fetches a fresh one
func (c *CachingSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Add(c.leeway).Before(c.expires)) {
		return c.token, nil
	}

	token, err := c.src.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}

	c.token = token
	c.expires = tokenExpiry(token)
	return token, nil
}

// Invalidate drops the cached token
func (c *CachingSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
