package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrSchema marks a reply that violates the structured-output contract
// (not JSON, wrong shape, or a refusal). Treated as retryable: the
// endpoint was asked for the bare JSON body, so a malformed reply is a
// transient contract violation, not a format choice.
var ErrSchema = errors.New("ai reply violates the response contract")

// ErrExhausted marks an article's AI path as terminally failed after
// all retry attempts.
var ErrExhausted = errors.New("ai attempts exhausted")

// StatusError carries the HTTP status of a failed provider call so the
// retry predicate can distinguish transient from terminal failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai endpoint returned %d: %s", e.Code, e.Body)
}

// RetryPolicy formalizes the retry behavior shared by the pre-filter,
// enrichment, and post-filter call sites: bounded attempts with
// exponential backoff over a retryable-error predicate.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the pipeline defaults: three attempts,
// 1s/2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Retryable reports whether the error is worth another attempt.
// Transport errors and call timeouts are transient; schema violations
// are retried because the model may comply on a second ask; HTTP 4xx
// other than 408/429 is terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrSchema) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	return true
}

// Do runs fn up to MaxAttempts times, sleeping with exponential
// backoff between attempts. A non-retryable error is returned as-is;
// exhaustion wraps the last error in ErrExhausted. Cancellation of ctx
// stops retrying immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
