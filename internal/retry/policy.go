// Package retry implements a single parametric retry policy shared by the
// network client and the database gateway.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Decision is a classifier verdict for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Stop ends the retry loop with the current error.
func Stop() Decision {
	return Decision{}
}

// After retries once delay has elapsed.
func After(delay time.Duration) Decision {
	return Decision{Retry: true, Delay: delay}
}

// Classifier maps a failed attempt (0-based) to a Decision.
type Classifier func(attempt int, err error) Decision

// Policy bundles attempt limits and failure classification.
type Policy struct {
	MaxAttempts int
	Classify    Classifier
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes every scheduled retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExhaustedError is returned once every permitted attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, the classifier stops it, attempts run out, or
// ctx ends. No delay is spent after the final attempt.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry canceled: %w", err)
		}
		out, err := op(ctx, attempt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}

		decision := Decision{Retry: true}
		if p.Classify != nil {
			decision = p.Classify(attempt, err)
		}
		if !decision.Retry {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, decision.Delay)
		}
		if err := sleep(ctx, decision.Delay); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// Sleep blocks for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Backoff computes min(Max, Base*2^attempt + U[0, Jitter)).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
	// Rand returns a value in [0, limit). Defaults to crypto/rand.
	Rand func(limit time.Duration) time.Duration
}

// Delay returns the wait before the retry following attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	delay += float64(b.jitter())
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

func (b Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	if b.Rand != nil {
		return b.Rand(b.Jitter)
	}
	return RandomDuration(b.Jitter)
}

// RandomDuration returns a uniformly random duration in [0, limit).
func RandomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Between returns a uniformly random duration in [lo, hi].
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + RandomDuration(hi-lo+1)
}
