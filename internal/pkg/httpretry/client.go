// Package httpretry retries idempotent-enough HTTP calls, such as metric
// pushes, with capped exponential backoff and full jitter.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
)

// HTTPDoer executes HTTP requests. *http.Client and *Client satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps an HTTPDoer with retries on 429, 5xx gateway errors and
// transport failures.
type Client struct {
	next       HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// New wraps next, or a 30s-timeout http.Client when next is nil.
// maxRetries counts attempts after the first one; zero or less sends each
// request exactly once.
func New(next HTTPDoer, maxRetries int, log *logger.Logger) *Client {
	if next == nil {
		next = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		log:        log,
	}
}

// Do sends req, retrying while the result is retryable and the request
// context is alive. The last response is returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	ctx := req.Context()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.backoff(attempt)
			c.log.Warn("retrying request",
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path,
				"attempt", attempt, "max_retries", c.maxRetries, "delay", delay.String(), "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		resp, err := c.next.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is random(0, min(maxDelay, baseDelay*2^(attempt-1))), at least 10ms.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d <= 0 || d > c.maxDelay {
		d = c.maxDelay
	}
	j := time.Duration(rand.Int63n(int64(d) + 1))
	if j < 10*time.Millisecond {
		j = 10 * time.Millisecond
	}
	return j
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
