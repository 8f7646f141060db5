package spotify

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// RetryTransport retries a request once when the server answers 429,
// after waiting for the server's Retry-After delay.
type RetryTransport struct {
	Base          http.RoundTripper
	MaxRetryAfter time.Duration // Upper bound for a server-provided delay
	DefaultDelay  time.Duration // Used when Retry-After is missing or unparsable

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRetryTransport creates a RetryTransport over base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, maxRetryAfter time.Duration) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxRetryAfter <= 0 {
		maxRetryAfter = 30 * time.Second
	}
	return &RetryTransport{
		Base:          base,
		MaxRetryAfter: maxRetryAfter,
		DefaultDelay:  time.Second,
		sleep:         sleepWithContext,
		now:           time.Now,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}

	// A request body can only be replayed when it can be recreated.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	delay := t.retryAfter(resp.Header.Get("Retry-After"))
	_ = resp.Body.Close()
	zlog.Warn().Msgf("spotify rate limited, retrying once: url=%s delay=%s", req.URL.Path, delay)

	if err := t.sleep(req.Context(), delay); err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "failed to reset request body")
		}
		retry.Body = body
	}
	return t.Base.RoundTrip(retry)
}

func (t *RetryTransport) retryAfter(header string) time.Duration {
	delay := t.DefaultDelay
	if header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			delay = time.Duration(seconds) * time.Second
		} else if when, err := http.ParseTime(header); err == nil {
			delay = when.Sub(t.now())
		}
	}
	if delay < 0 {
		delay = 0
	}
	if delay > t.MaxRetryAfter {
		delay = t.MaxRetryAfter
	}
	return delay
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "request canceled while rate limited")
	case <-timer.C:
		return nil
	}
}
