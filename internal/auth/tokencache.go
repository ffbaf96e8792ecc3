// Package auth caches short-lived provider credentials and serializes
// their refresh.
package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc obtains a fresh credential from the provider, returning the
// credential and its expiry.
type FetchFunc func(ctx context.Context) (value string, expiry time.Time, err error)

// TokenCache hands out a cached credential until it enters the refresh
// margin before expiry, then refreshes it exactly once no matter how many
// callers arrive concurrently. A failed refresh surfaces the same error
// to every waiter and leaves the cache empty, so the next call retries
// fresh. Cancellation of the refreshing caller's context propagates to
// waiters the same way; no in-progress flag can be left behind.
type TokenCache struct {
	fetch  FetchFunc
	margin time.Duration
	now    func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	value  string
	expiry time.Time
}

// NewTokenCache creates a cache that refreshes margin ahead of expiry.
func NewTokenCache(fetch FetchFunc, margin time.Duration) *TokenCache {
	return &TokenCache{
		fetch:  fetch,
		margin: margin,
		now:    time.Now,
	}
}

// Token returns a credential valid for at least the refresh margin,
// refreshing it first if needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if value, ok := c.cached(); ok {
		return value, nil
	}

	value, err, _ := c.group.Do("token", func() (any, error) {
		// A waiter queued behind a successful refresh may land here
		// after the flight completes; re-check before fetching again.
		if value, ok := c.cached(); ok {
			return value, nil
		}

		value, expiry, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.value = value
		c.expiry = expiry
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached credential if it still equals stale. Used
// when a provider reports the credential expired ahead of its declared
// lifetime; a concurrent refresh that already replaced it is left alone.
func (c *TokenCache) Invalidate(stale string) {
	c.mu.Lock()
	if c.value == stale {
		c.value = ""
		c.expiry = time.Time{}
	}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == "" {
		return "", false
	}
	if !c.now().Add(c.margin).Before(c.expiry) {
		return "", false
	}
	return c.value, true
}
