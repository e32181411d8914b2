package connector

import (
	"context"
	"sync"
	"time"
)

// tokenFetcher obtains a new access token. A zero expiresAt means the
// vendor did not say.
type tokenFetcher func(ctx context.Context) (token string, expiresAt time.Time, err error)

// tokenCache holds an access token and refreshes it shortly before expiry.
// fetch runs under the cache lock, so it may update state it shares with
// nothing else.
type tokenCache struct {
	mu        sync.Mutex
	fetch     tokenFetcher
	buffer    time.Duration
	now       func() time.Time
	token     string
	expiresAt time.Time
}

func newTokenCache(fetch tokenFetcher, buffer time.Duration, now func() time.Time) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{fetch: fetch, buffer: buffer, now: now}
}

// Seed installs a token obtained out of band, e.g. from configuration.
func (c *tokenCache) Seed(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// Token returns a usable token, refreshing when it is missing or within the
// refresh buffer of its expiry.
func (c *tokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && (c.expiresAt.IsZero() || c.now().Add(c.buffer).Before(c.expiresAt)) {
		return c.token, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh forces a new token after stale was rejected. If another caller
// already replaced stale, the newer token is returned without a fetch.
func (c *tokenCache) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return c.token, nil
	}
	return c.refreshLocked(ctx)
}

// ExpiresAt returns the current token expiry, zero when unknown.
func (c *tokenCache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

func (c *tokenCache) refreshLocked(ctx context.Context) (string, error) {
	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}
