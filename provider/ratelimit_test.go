package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounterStore()
	now := time.Date(2024, 5, 1, 12, 30, 10, 0, time.UTC)
	store.now = func() time.Time { return now }

	rl := NewRateLimiter(store, "reddit", time.Minute, 3)
	rl.now = func() time.Time { return now }

	// 3 calls succeed and drive the counter to 3.
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.CheckAndIncrement(ctx))
	}
	assert.Equal(t, int64(3), store.Count("reddit:202405011230"))

	// The 4th call in the same window fails with a positive reset time.
	err := rl.CheckAndIncrement(ctx)
	require.Error(t, err)
	rle, ok := err.(*RateLimitError)
	require.True(t, ok)
	assert.Equal(t, "reddit", rle.Provider)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rle.RetryAfter, time.Minute)
	assert.True(t, IsRateLimited(err))

	// A call in the next window succeeds again.
	now = now.Add(time.Minute)
	require.NoError(t, rl.CheckAndIncrement(ctx))
	assert.Equal(t, int64(1), store.Count("reddit:202405011231"))
}

func TestRateLimiterDailyWindowKey(t *testing.T) {
	store := NewMemoryCounterStore()
	rl := NewRateLimiter(store, "youtube", 24*time.Hour, 10000)
	now := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.CheckAndIncrement(context.Background()))
	assert.Equal(t, int64(1), store.Count("youtube:20240501"))
}

func TestRateLimiterResetAtDayBoundary(t *testing.T) {
	store := NewMemoryCounterStore()
	now := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	rl := NewRateLimiter(store, "youtube", 24*time.Hour, 1)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, rl.CheckAndIncrement(ctx))

	err := rl.CheckAndIncrement(ctx)
	require.Error(t, err)
	rle := err.(*RateLimitError)
	// One hour to midnight.
	assert.Equal(t, time.Hour, rle.RetryAfter)
}
