// Package httpclient provides the retrying HTTP client shared by every
// provider call (embedders, VLM, reranker). Transient upstream failures are
// retried with a fixed backoff schedule; everything else surfaces
// immediately.
package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// backoffSchedule is the delay before each retry attempt.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	4 * time.Second,
	15 * time.Second,
}

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	Retry
)

// RetryStrategyFunc decides whether a status code is worth retrying.
type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	strategyFunc RetryStrategyFunc
	sleep        func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// withSleep replaces the delay function, used by tests.
func withSleep(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   len(backoffSchedule),
		strategyFunc: DefaultRetryStrategy,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DefaultRetryStrategy retries rate limits, timeouts, and 5xx responses.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode >= 500:
		return Retry
	default:
		return NoRetry
	}
}

// Do executes req, retrying transient failures per the backoff schedule.
// Retry-After headers override the scheduled delay when longer.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}
			c.sleep(c.delayFor(attempt-1, lastResp))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Network-level failure, retry on the schedule.
			lastErr = err
			lastResp = nil
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if c.strategyFunc(resp.StatusCode) == NoRetry {
			return resp, nil
		}
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		lastResp = resp
		if attempt < c.maxRetries {
			resp.Body.Close()
		}
	}

	if lastResp != nil {
		return lastResp, &RetryableError{
			StatusCode: lastResp.StatusCode,
			Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
			Err:        lastErr,
		}
	}
	return nil, &RetryableError{
		Message: fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
		Err:     lastErr,
	}
}

func (c *Client) delayFor(retry int, resp *http.Response) time.Duration {
	delay := backoffSchedule[len(backoffSchedule)-1]
	if retry < len(backoffSchedule) {
		delay = backoffSchedule[retry]
	}
	if resp != nil {
		if after := parseRetryAfter(resp.Header); after > delay {
			return after
		}
	}
	return delay
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
