// Package worker runs the per-entity pipeline: claim, identify, collect,
// persist, record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/input"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const defaultCoverageWarnRatio = 0.9

// Collector harvests one entity.
type Collector interface {
	Collect(ctx context.Context, url string, id harvest.EntityID, languages []string) (harvest.HarvestResult, error)
}

// Persister commits a harvested entity to the sinks.
type Persister interface {
	Persist(ctx context.Context, res harvest.HarvestResult) harvest.Outcome
}

// Checkpoint is the slice of the progress store a worker needs.
type Checkpoint interface {
	Claim(key string) bool
	Release(key string)
	MarkDone(key string, outcome harvest.Outcome) bool
}

// Config controls Worker behavior.
type Config struct {
	// Languages pins the language partitions; empty or ["all"] discovers them.
	Languages []string
	// CoverageWarnRatio is the collected/declared ratio below which a warning is logged.
	CoverageWarnRatio float64
}

// Result describes what happened to one entity.
type Result struct {
	URL     string
	Outcome harvest.Outcome
	// Skipped is set when the entity was already processed or claimed.
	Skipped bool
	// Abandoned is set when cancellation interrupted the entity before
	// anything was recorded; it will be retried on the next run.
	Abandoned bool
	// Recorded reports whether the entity entered the processed set.
	Recorded bool
	Reviews  int
	Duration time.Duration
}

// Worker executes the pipeline for one entity at a time. A single Worker may
// be shared by many goroutines.
type Worker struct {
	collector  Collector
	persister  Persister
	checkpoint Checkpoint
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(collector Collector, persister Persister, checkpoint Checkpoint, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CoverageWarnRatio <= 0 {
		cfg.CoverageWarnRatio = defaultCoverageWarnRatio
	}
	return &Worker{
		collector:  collector,
		persister:  persister,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process handles url end to end. It never panics; every failure becomes a
// recorded failed outcome unless cancellation interrupted the entity first.
func (w *Worker) Process(ctx context.Context, url string) (res Result) {
	res.URL = url
	if !w.checkpoint.Claim(url) {
		res.Skipped = true
		w.logger.Debug("entity already processed or in flight", zap.String("url", url))
		return res
	}

	start := time.Now()
	metrics.IncActiveWorkers()
	defer func() {
		metrics.DecActiveWorkers()
		if r := recover(); r != nil {
			w.logger.Error("entity pipeline panicked",
				zap.String("url", url),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res.Outcome = harvest.OutcomeFailed
			res.Recorded = w.checkpoint.MarkDone(url, harvest.OutcomeFailed)
		}
		res.Duration = time.Since(start)
		if !res.Abandoned {
			metrics.ObserveEntity(string(res.Outcome), res.Duration)
		}
	}()

	outcome, reviews, err := w.run(ctx, url)
	res.Reviews = reviews
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		w.checkpoint.Release(url)
		res.Abandoned = true
		w.logger.Info("entity abandoned on shutdown", zap.String("url", url))
		return res
	}
	res.Outcome = outcome
	res.Recorded = w.checkpoint.MarkDone(url, outcome)
	if !res.Recorded && !outcome.Succeeded() {
		w.logger.Info("entity failed, will retry on a later run",
			zap.String("url", url),
			zap.String("outcome", string(outcome)),
		)
	}
	return res
}

// run returns the outcome, the number of collected reviews, and the error that
// caused a failed outcome.
func (w *Worker) run(ctx context.Context, url string) (harvest.Outcome, int, error) {
	id, err := input.ExtractID(url)
	if err != nil {
		w.logger.Error("cannot extract entity id", zap.String("url", url), zap.Error(err))
		return harvest.OutcomeFailed, 0, err
	}
	logger := w.logger.With(zap.String("url", url), zap.String("entity", id.String()))
	logger.Info("processing entity")

	result, err := w.collector.Collect(ctx, url, id, w.cfg.Languages)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("collection failed", zap.Error(err))
		}
		return harvest.OutcomeFailed, 0, fmt.Errorf("collect: %w", err)
	}
	reviews := len(result.Reviews)
	w.logCoverage(logger, result)

	outcome := w.persister.Persist(ctx, result)
	return outcome, reviews, nil
}

func (w *Worker) logCoverage(logger *zap.Logger, result harvest.HarvestResult) {
	coverage, ok := result.Coverage()
	if !ok {
		logger.Info("entity collected", zap.Int("reviews", len(result.Reviews)))
		return
	}
	declared, _ := result.DeclaredCount()
	fields := []zap.Field{
		zap.Int("reviews", len(result.Reviews)),
		zap.Int("declared", declared),
		zap.Float64("coverage_pct", coverage*100),
	}
	if coverage < w.cfg.CoverageWarnRatio {
		logger.Warn("low review coverage", fields...)
		return
	}
	logger.Info("entity collected", fields...)
}
