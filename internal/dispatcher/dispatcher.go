// Package dispatcher fans the entity list out to a bounded pool of workers and
// keeps the checkpoint flushed while they run.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/review-harvester/internal/progress"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

const (
	defaultConcurrency = 3
	defaultFlushEvery  = 5
	defaultHeapWarnMiB = 500
	bytesPerMiB        = 1 << 20
)

// Processor runs the pipeline for one entity.
type Processor interface {
	Process(ctx context.Context, url string) worker.Result
}

// Checkpoint is the slice of the progress store the dispatcher needs.
type Checkpoint interface {
	Pending(keys []string) []string
	Flush() error
	Snapshot() progress.Snapshot
}

// Config controls the pool.
type Config struct {
	Concurrency int
	// FlushEvery is the number of completions between checkpoint flushes.
	FlushEvery int
	// Limit caps how many pending entities this run schedules; 0 means all.
	Limit       int
	HeapWarnMiB uint64
}

// Summary reports one run.
type Summary struct {
	Listed    int
	Pending   int
	Scheduled int
	Completed int
	Succeeded int
	Failed    int
	Skipped   int
	Abandoned int
	Remaining int
	Duration  time.Duration
	Progress  progress.Snapshot
}

// Dispatcher coordinates a harvest run.
type Dispatcher struct {
	processor  Processor
	checkpoint Checkpoint
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	summary Summary
}

// New creates a Dispatcher.
func New(processor Processor, checkpoint Checkpoint, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.HeapWarnMiB == 0 {
		cfg.HeapWarnMiB = defaultHeapWarnMiB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor:  processor,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run processes every url not yet in the checkpoint. On cancellation it stops
// scheduling, waits for in-flight workers, flushes, and returns an error
// wrapping the context's error.
func (d *Dispatcher) Run(ctx context.Context, urls []string) (Summary, error) {
	start := d.now()
	pending := d.checkpoint.Pending(urls)
	scheduled := pending
	if d.cfg.Limit > 0 && len(scheduled) > d.cfg.Limit {
		scheduled = scheduled[:d.cfg.Limit]
	}

	d.mu.Lock()
	d.summary = Summary{Listed: len(urls), Pending: len(pending), Scheduled: len(scheduled)}
	d.mu.Unlock()

	d.logger.Info("harvest starting",
		zap.Int("listed", len(urls)),
		zap.Int("pending", len(pending)),
		zap.Int("scheduled", len(scheduled)),
		zap.Int("concurrency", d.cfg.Concurrency),
	)

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, url := range scheduled {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d.complete(d.processor.Process(ctx, url), len(urls))
			return nil
		})
	}
	_ = g.Wait()

	flushErr := d.checkpoint.Flush()
	if flushErr != nil {
		d.logger.Error("final checkpoint flush failed", zap.Error(flushErr))
	}

	d.mu.Lock()
	summary := d.summary
	d.mu.Unlock()
	summary.Duration = d.now().Sub(start)
	summary.Progress = d.checkpoint.Snapshot()
	summary.Remaining = len(d.checkpoint.Pending(urls))
	d.logSummary(summary, ctx.Err() != nil)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("harvest interrupted: %w", err)
	}
	if flushErr != nil {
		return summary, fmt.Errorf("flush checkpoint: %w", flushErr)
	}
	return summary, nil
}

func (d *Dispatcher) complete(res worker.Result, listed int) {
	d.mu.Lock()
	switch {
	case res.Skipped:
		d.summary.Skipped++
	case res.Abandoned:
		d.summary.Abandoned++
	default:
		d.summary.Completed++
		if res.Outcome.Succeeded() {
			d.summary.Succeeded++
		} else {
			d.summary.Failed++
		}
	}
	completed := d.summary.Completed
	counted := !res.Skipped && !res.Abandoned
	d.mu.Unlock()

	if !counted || completed%d.cfg.FlushEvery != 0 {
		return
	}
	if err := d.checkpoint.Flush(); err != nil {
		d.logger.Error("checkpoint flush failed", zap.Error(err))
	}
	d.logProgress(completed, listed)
}

func (d *Dispatcher) logProgress(completed, listed int) {
	snap := d.checkpoint.Snapshot()
	pct := 0.0
	if listed > 0 {
		pct = float64(snap.Processed) / float64(listed) * 100
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	heapMiB := mem.HeapAlloc / bytesPerMiB

	fields := []zap.Field{
		zap.Int("completed_this_run", completed),
		zap.Int("processed", snap.Processed),
		zap.Int("listed", listed),
		zap.Float64("percent", pct),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Uint64("heap_mib", heapMiB),
	}
	d.logger.Info("harvest progress", fields...)
	if heapMiB > d.cfg.HeapWarnMiB {
		d.logger.Warn("high memory usage", zap.Uint64("heap_mib", heapMiB), zap.Uint64("threshold_mib", d.cfg.HeapWarnMiB))
	}
}

func (d *Dispatcher) logSummary(s Summary, interrupted bool) {
	msg := "harvest finished"
	if interrupted {
		msg = "harvest interrupted, checkpoint saved"
	}
	d.logger.Info(msg,
		zap.Int("completed_this_run", s.Completed),
		zap.Int("succeeded_this_run", s.Succeeded),
		zap.Int("failed_this_run", s.Failed),
		zap.Int("abandoned", s.Abandoned),
		zap.Int("processed_total", s.Progress.Processed),
		zap.Int("listed", s.Listed),
		zap.Int("succeeded_total", s.Progress.Succeeded),
		zap.Int("failed_total", s.Progress.Failed),
		zap.Int("remaining", s.Remaining),
		zap.Duration("duration", s.Duration),
	)
}
