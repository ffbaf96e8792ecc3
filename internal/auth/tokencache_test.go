package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_CachesUntilMargin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var fetches atomic.Int32

	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		fetches.Add(1)
		return "token-1", now.Add(time.Hour), nil
	}, time.Minute)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tok, err := cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "token-1", tok)
	}
	assert.Equal(t, int32(1), fetches.Load(), "valid token must not refetch")

	// Step inside the refresh margin; the next call refetches.
	now = now.Add(time.Hour - 30*time.Second)
	_, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_SingleFlightUnderContention(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})

	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		fetches.Add(1)
		<-release
		return "token-1", time.Now().Add(time.Hour), nil
	}, time.Minute)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// Give the goroutines a moment to pile onto the flight, then let the
	// single fetch finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent callers must share one fetch")
	for _, tok := range results {
		assert.Equal(t, "token-1", tok)
	}
}

func TestTokenCache_FailedRefreshRetriesFresh(t *testing.T) {
	var fetches atomic.Int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		if fetches.Add(1) == 1 {
			return "", time.Time{}, errors.New("provider unavailable")
		}
		return "token-2", time.Now().Add(time.Hour), nil
	}, time.Minute)

	ctx := context.Background()
	_, err := cache.Token(ctx)
	require.Error(t, err)

	tok, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_Invalidate(t *testing.T) {
	var fetches atomic.Int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		n := fetches.Add(1)
		if n == 1 {
			return "stale", time.Now().Add(time.Hour), nil
		}
		return "fresh", time.Now().Add(time.Hour), nil
	}, time.Minute)

	ctx := context.Background()
	tok, err := cache.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "stale", tok)

	// Invalidating with a value that no longer matches is a no-op.
	cache.Invalidate("something-else")
	tok, err = cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stale", tok)

	cache.Invalidate("stale")
	tok, err = cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}
