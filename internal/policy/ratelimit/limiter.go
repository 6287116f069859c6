// Package ratelimit spaces outbound requests by a randomized minimum interval
// shared by every caller in the process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

// Config holds rate limiter configuration.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

const (
	defaultMinInterval = time.Second
	defaultMaxInterval = 2 * time.Second
)

// Limiter grants one request slot at a time. Each grant is separated from the
// previous one by a fresh random interval in [MinInterval, MaxInterval].
type Limiter struct {
	turn     *semaphore.Weighted
	bucket   *rate.Limiter
	cfg      Config
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	interval func() time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.MinInterval == 0 && cfg.MaxInterval == 0 {
		cfg.MinInterval = defaultMinInterval
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	l := &Limiter{
		turn:   semaphore.NewWeighted(1),
		bucket: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cfg:    cfg,
		now:    time.Now,
		sleep:  retry.Sleep,
	}
	l.interval = func() time.Duration {
		return retry.Between(l.cfg.MinInterval, l.cfg.MaxInterval)
	}
	return l
}

// Acquire blocks until the caller's slot arrives or ctx ends.
//
// Callers take turns. Within a turn the bucket is re-rated to a freshly drawn
// interval and a single token is reserved, so the bucket never carries debt
// from one interval into the next.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.turn.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	defer l.turn.Release(1)

	now := l.now()
	l.bucket.SetLimitAt(now, rate.Every(l.interval()))
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limit wait: reservation exceeds burst")
	}
	wait := r.DelayFrom(now)
	if wait <= 0 {
		return nil
	}
	metrics.ObserveRateLimitDelay(wait)
	if err := l.sleep(ctx, wait); err != nil {
		r.CancelAt(l.now())
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
