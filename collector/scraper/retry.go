package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrUnexpectedStatus matches any *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// StatusError reports a non-200 response from a feed page.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d (%s)", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryPolicy holds the retry configuration for feed fetches.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// BackoffBase is the wait before the second attempt.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait after each failed attempt.
	BackoffMultiplier float64

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the retry defaults for feed fetches.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffBase
	if p.BackoffMultiplier >= 1 {
		b.Multiplier = p.BackoffMultiplier
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, or the attempts are
// used up. notify is called before each wait and may be nil.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error, notify func(attempt int, err error, wait time.Duration)) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) { notify(attempt, err, wait) }
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), onRetry)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && isTransient(err) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return err
}

// isTransient: retry on 429/5xx gateway statuses and on transport errors.
// Any other status, parse failures and cancellation are final.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	var parseErr *parseError
	if errors.As(err, &parseErr) {
		return false
	}
	return true
}

// parseError marks a response body that could not be parsed as HTML.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return "failed to parse HTML: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }
