package rebalance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rangepilot/internal/model"
	"rangepilot/internal/storage"
)

// RunConfig holds runtime settings for the scheduler loop.
type RunConfig struct {
	PoolAddress string
	Interval    time.Duration
}

// Runner drives the orchestrator on a fixed interval, one cycle at a time,
// and fans each outcome out to the configured history sinks.
type Runner struct {
	cfg    RunConfig
	orch   *Orchestrator
	sinks  []storage.Storage
	logger *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, orch *Orchestrator, sinks []storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, orch: orch, sinks: sinks, logger: logger}
}

// Run executes rebalance cycles until the context is cancelled. Cycles
// never overlap: a cycle runs to completion before the next tick is taken.
func (r *Runner) Run(ctx context.Context) error {
	if r.orch == nil {
		return fmt.Errorf("orchestrator is nil")
	}
	if r.cfg.PoolAddress == "" {
		return fmt.Errorf("pool address is required")
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	r.logger.Info("rebalancer start",
		zap.String("pool", r.cfg.PoolAddress),
		zap.Duration("interval", r.cfg.Interval),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("rebalancer stop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle and records its outcome. A panicking
// cycle is contained and reported as a failure so the scheduler survives.
func (r *Runner) RunOnce(ctx context.Context) *model.RebalanceResult {
	startedAt := time.Now()
	res := r.guardedCycle(ctx)
	finishedAt := time.Now()

	switch {
	case res == nil:
		r.logger.Debug("cycle no-op", zap.String("pool", r.cfg.PoolAddress))
	case res.Success:
		r.logger.Info("cycle complete",
			zap.String("pool", r.cfg.PoolAddress),
			zap.String("digest", res.Digest),
			zap.String("message", res.Message),
		)
	default:
		r.logger.Warn("cycle failed",
			zap.String("pool", r.cfg.PoolAddress),
			zap.String("message", res.Message),
		)
	}

	rec := model.NewCycleRecord(r.cfg.PoolAddress, startedAt, finishedAt, res)
	for _, sink := range r.sinks {
		if err := sink.PutCycleRecords(ctx, []model.CycleRecord{rec}); err != nil {
			r.logger.Warn("history write failed", zap.Error(err))
		}
	}
	return res
}

func (r *Runner) guardedCycle(ctx context.Context) (res *model.RebalanceResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("cycle panicked", zap.Any("panic", rec))
			res = &model.RebalanceResult{Success: false, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return r.orch.CheckAndRebalance(ctx, r.cfg.PoolAddress)
}
