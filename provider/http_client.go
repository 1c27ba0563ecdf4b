package provider

import (
	"context"
	"net/http"
	"time"
)

const defaultTimeoutSeconds = 15

// HttpClient is a thin wrapper over net/http that applies a per-request
// timeout and a User-Agent. Reddit rejects requests without a descriptive
// User-Agent, so every outbound call goes through here.
type HttpClient struct {
	UserAgent string
	Timeout   time.Duration
}

func (c HttpClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeoutSeconds * time.Second
}

func (c HttpClient) Get(ctx context.Context, uri string) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c HttpClient) Do(req *http.Request) (resp *http.Response, err error) {
	return c.do(req)
}

func (c HttpClient) do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	client := &http.Client{Timeout: c.timeout()}
	return client.Do(req)
}
