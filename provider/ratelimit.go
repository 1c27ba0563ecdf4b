package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// CounterStore is the shared atomic counter behind the rate limiter. The
// production implementation is redis-backed (utils.RedisCounterStore); tests
// inject MemoryCounterStore. Incr must be atomic across processes since
// multiple workers share one provider quota.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ttlSkewPad is added on top of the window length when setting counter TTLs
// so a counter never expires mid-window on a skewed clock.
const ttlSkewPad = 10 * time.Second

const (
	minuteKeyLayout = "200601021504"
	dayKeyLayout    = "20060102"
)

// RateLimiter enforces a provider quota over fixed time windows keyed by
// wall-clock: "reddit:YYYYMMDDHHmm" for minute windows, "youtube:YYYYMMDD"
// for daily quotas.
type RateLimiter struct {
	store    CounterStore
	provider string
	window   time.Duration
	max      int64

	now func() time.Time
}

func NewRateLimiter(store CounterStore, provider string, window time.Duration, max int64) *RateLimiter {
	return &RateLimiter{
		store:    store,
		provider: provider,
		window:   window,
		max:      max,
		now:      time.Now,
	}
}

// CheckAndIncrement consumes one unit of the current window's budget. It
// returns *RateLimitError when the budget is already spent; any other error
// is a store failure.
//
// The increment-then-compare order keeps the operation a single atomic INCR:
// a rejected call leaves the counter above max, which is harmless since the
// comparison is ">".
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context) error {
	now := rl.now().UTC()
	key := rl.windowKey(now)

	n, err := rl.store.Incr(ctx, key, rl.window+ttlSkewPad)
	if err != nil {
		return errors.Wrapf(err, "rate limit counter incr %s", key)
	}
	if n > rl.max {
		return &RateLimitError{Provider: rl.provider, RetryAfter: rl.untilReset(now)}
	}
	return nil
}

func (rl *RateLimiter) windowKey(now time.Time) string {
	layout := dayKeyLayout
	if rl.window < 24*time.Hour {
		layout = minuteKeyLayout
	}
	return fmt.Sprintf("%s:%s", rl.provider, now.Format(layout))
}

func (rl *RateLimiter) untilReset(now time.Time) time.Duration {
	var next time.Time
	if rl.window < 24*time.Hour {
		next = now.Truncate(rl.window).Add(rl.window)
	} else {
		y, m, d := now.Date()
		next = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	d := next.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
