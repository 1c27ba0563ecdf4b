package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound marks an expected empty result (missing post, channel or
	// video). It must never be conflated with a transient provider failure.
	ErrNotFound = errors.New("provider: not found")

	// ErrAuthRequired is returned by operations that need a user-level OAuth
	// credential when none was supplied.
	ErrAuthRequired = errors.New("provider: authentication required")
)

// APIError is a transport failure or a non-2xx provider response. Clients
// convert every failed call into one of these instead of letting raw errors
// escape, so the aggregation loop can record it and move on.
type APIError struct {
	Provider   string
	Endpoint   string
	StatusCode int // 0 for transport-level failures
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s: %s: status %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying. Timeouts, 5xx and
// 429 are retryable; a definitive 4xx is not.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests
}

// RateLimitError is raised before a request would exceed the provider quota.
// RetryAfter is the time until the current window resets.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded, retry in %s", e.Provider, e.RetryAfter)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
