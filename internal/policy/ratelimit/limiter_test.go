package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func newFrozenLimiter(interval time.Duration) (*Limiter, *recordingSleeper) {
	frozen := time.Unix(1700000000, 0)
	rec := &recordingSleeper{}
	l := New(Config{MinInterval: interval, MaxInterval: interval})
	l.now = func() time.Time { return frozen }
	l.sleep = rec.sleep
	return l, rec
}

func TestLimiter_FirstGrantIsImmediate(t *testing.T) {
	t.Parallel()

	l, rec := newFrozenLimiter(time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	require.Empty(t, rec.waits)
}

func TestLimiter_ConcurrentCallersNeverUnderWait(t *testing.T) {
	t.Parallel()

	l, rec := newFrozenLimiter(time.Second)
	const callers = 8

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	// One caller is granted immediately; the others queue at distinct
	// one-second slots.
	waits := append([]time.Duration(nil), rec.waits...)
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
	require.Len(t, waits, callers-1)
	for i, w := range waits {
		require.Equal(t, time.Duration(i+1)*time.Second, w)
	}
}

// steppedClock advances only when the limiter sleeps.
type steppedClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

func (c *steppedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *steppedClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.current = c.current.Add(d)
	return nil
}

func TestLimiter_RandomIntervalWithinRange(t *testing.T) {
	t.Parallel()

	clock := &steppedClock{current: time.Unix(1700000000, 0)}
	l := New(Config{MinInterval: time.Second, MaxInterval: 2 * time.Second})
	l.now = clock.now
	l.sleep = clock.sleep

	for i := 0; i < 20; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Len(t, clock.waits, 19)
	for _, gap := range clock.waits {
		require.GreaterOrEqual(t, gap, time.Second)
		require.LessOrEqual(t, gap, 2*time.Second)
	}
}

func TestLimiter_ShorterIntervalAfterLongerOne(t *testing.T) {
	t.Parallel()

	clock := &steppedClock{current: time.Unix(1700000000, 0)}
	l := New(Config{MinInterval: time.Second, MaxInterval: 2 * time.Second})
	l.now = clock.now
	l.sleep = clock.sleep
	drawn := []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second, time.Second}
	next := 0
	l.interval = func() time.Duration {
		d := drawn[next]
		next++
		return d
	}

	var wg sync.WaitGroup
	for i := 0; i < len(drawn); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	// The first grant is immediate; each later one waits exactly the interval
	// drawn for it, never less.
	require.Equal(t, drawn[1:], clock.waits)
}

func TestLimiter_ElapsedTimeCountsTowardInterval(t *testing.T) {
	t.Parallel()

	current := time.Unix(1700000000, 0)
	rec := &recordingSleeper{}
	l := New(Config{MinInterval: time.Second, MaxInterval: time.Second})
	l.now = func() time.Time { return current }
	l.sleep = rec.sleep

	require.NoError(t, l.Acquire(context.Background()))
	current = current.Add(400 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	current = current.Add(5 * time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	require.Equal(t, []time.Duration{600 * time.Millisecond}, rec.waits)
}

func TestLimiter_RealClockSpacing(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 20 * time.Millisecond, MaxInterval: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestLimiter_CanceledWait(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour, MaxInterval: time.Hour})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestLimiter_CanceledWaitReturnsSlot(t *testing.T) {
	t.Parallel()

	l, rec := newFrozenLimiter(time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	l.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	require.ErrorIs(t, l.Acquire(ctx), context.Canceled)

	l.sleep = rec.sleep
	require.NoError(t, l.Acquire(context.Background()))
	require.Equal(t, []time.Duration{time.Second}, rec.waits)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Equal(t, time.Second, l.cfg.MinInterval)
	require.Equal(t, 2*time.Second, l.cfg.MaxInterval)

	l = New(Config{MinInterval: 3 * time.Second, MaxInterval: time.Second})
	require.Equal(t, 3*time.Second, l.cfg.MaxInterval)
}
