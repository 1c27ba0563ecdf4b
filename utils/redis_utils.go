package utils

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// GetRedisClient connects to the Redis instance specified by env and pings it
// once so that a misconfigured address fails at startup, not mid-job.
func GetRedisClient() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return client, nil
}

// RedisCounterStore backs provider.RateLimiter with shared atomic counters.
// Multiple workers increment the same window key, so the increment must be a
// single INCR, never a read-then-write.
type RedisCounterStore struct {
	inner *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{inner: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.inner.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Only the first increment of a window sets the TTL, refreshing it on every
	// call would let a hot key live forever.
	if n == 1 {
		if err := s.inner.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.inner.TTL(ctx, key).Result()
}

// RedisCacheStore backs provider.ResponseCache.
type RedisCacheStore struct {
	inner *redis.Client
}

func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{inner: client}
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.inner.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.inner.Set(ctx, key, value, ttl).Err()
}

// JobLock is a coarse mutual exclusion lock for scheduled jobs. Overlapping
// aggregation runs would re-fetch identical provider listings and burn
// rate-limit budget, so the scheduler entrypoint takes this lock for the
// job's duration.
type JobLock struct {
	inner *redis.Client
}

func NewJobLock(client *redis.Client) *JobLock {
	return &JobLock{inner: client}
}

// Acquire returns true iff the named lock was obtained. The TTL is a safety
// net against a crashed holder; a clean exit should still call Release.
func (l *JobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.inner.SetNX(ctx, lockKey(name), "1", ttl).Result()
}

func (l *JobLock) Release(ctx context.Context, name string) error {
	return l.inner.Del(ctx, lockKey(name)).Err()
}

func lockKey(name string) string {
	return "joblock:" + name
}
