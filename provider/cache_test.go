package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("reddit", "/r/golang/hot.json", map[string]string{"limit": "25", "t": "day"})
	b := CacheKey("reddit", "/r/golang/hot.json", map[string]string{"t": "day", "limit": "25"})
	// Parameter order must not change the key.
	assert.Equal(t, a, b)

	c := CacheKey("reddit", "/r/golang/hot.json", map[string]string{"limit": "50", "t": "day"})
	assert.NotEqual(t, a, c)

	d := CacheKey("youtube", "/r/golang/hot.json", map[string]string{"limit": "25", "t": "day"})
	assert.NotEqual(t, a, d)
}

func TestResponseCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewResponseCache(NewMemoryCacheStore(), time.Minute)
	key := CacheKey("reddit", "/r/popular.json", nil)

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, key, `{"data":{}}`))
	body, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"data":{}}`, body)
}

func TestResponseCacheExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCacheStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	cache := NewResponseCache(store, time.Minute)
	require.NoError(t, cache.Put(ctx, "k", "v"))

	now = now.Add(2 * time.Minute)
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilResponseCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var cache *ResponseCache

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, cache.Put(ctx, "k", "v"))
}
