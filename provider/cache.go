package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CacheStore is the key-value store behind ResponseCache. Redis-backed in
// production (utils.RedisCacheStore), in-memory in tests.
type CacheStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// CacheKey is the single place cache keys are computed: a sha1 over the
// endpoint and its normalized (sorted) parameters. Writers that need to
// invalidate can recompute the exact key from the same inputs instead of
// guessing at ad hoc key strings.
func CacheKey(provider string, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha1.Sum([]byte(b.String()))
	return provider + ":cache:" + hex.EncodeToString(sum[:])
}

// ResponseCache is a read-through cache for raw provider response bodies.
// A cache hit must not consume rate-limit budget, so clients consult it
// before calling RateLimiter.CheckAndIncrement.
type ResponseCache struct {
	store CacheStore
	ttl   time.Duration
}

func NewResponseCache(store CacheStore, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl}
}

// Get returns the cached body for key, or ok=false on a miss. A nil cache is
// a valid always-miss cache so callers need no nil checks.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	if c == nil || c.store == nil {
		return "", false, nil
	}
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "cache get %s", key)
	}
	return val, ok, nil
}

func (c *ResponseCache) Put(ctx context.Context, key string, body string) error {
	if c == nil || c.store == nil {
		return nil
	}
	return errors.Wrapf(c.store.Set(ctx, key, body, c.ttl), "cache set %s", key)
}
