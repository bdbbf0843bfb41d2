package genesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MimeLyc/regional-stats-etl/internal/metrics"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// statusError is a non-2xx HTTP response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, snippet(e.Body))
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func defaultBackOff(base time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.MaxInterval = 30 * base
		b.MaxElapsedTime = 0
		return b
	}
}

// post sends a form-encoded POST and returns the body of a 2xx response.
// Throttling, server errors and network failures are retried up to MaxRetries
// times. Every attempt, retries included, waits for a rate limit slot.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	var body []byte
	encoded := form.Encode()

	operation := func() error {
		if waited := c.limiter.Wait(); waited > 0 {
			metrics.AddRateLimitWait(c.cfg.Name, waited)
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, value := range c.cfg.GetHeaders() {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &statusError{StatusCode: resp.StatusCode, Body: string(data)}
			if retryableStatus(resp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}
		body = data
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn("GENESIS %s call to %s failed, retrying in %s: %v", c.cfg.Name, endpoint, wait, err)
	}
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		var serr *statusError
		if errors.As(err, &serr) && !retryableStatus(serr.StatusCode) {
			return nil, err
		}
		return nil, fmt.Errorf("giving up after %d retries: %w", c.cfg.MaxRetries, err)
	}
	return body, nil
}

// snippet shortens a response body for log lines.
func snippet(body string) string {
	const max = 300
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}
