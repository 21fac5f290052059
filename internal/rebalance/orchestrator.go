package rebalance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rangepilot/internal/chain"
	"rangepilot/internal/executor"
	"rangepilot/internal/model"
	"rangepilot/internal/monitor"
)

// Config holds the orchestrator's policy inputs.
type Config struct {
	// DryRun computes and reports intended ranges without submitting
	// transactions.
	DryRun bool
	// PositionID pins tracking to an explicit position instead of
	// auto-selecting the largest one.
	PositionID string
	// TickOverride forces an exact target range and wins over everything.
	TickOverride *model.TickRange
	// RangeWidth forces the target width; zero preserves the tracked
	// position's width, falling back to the tightest single bin.
	RangeWidth int32
	// Policy supplies the rebalance triggers.
	Policy monitor.Policy
}

// Orchestrator is the top-level per-pool state machine. It owns the tracked
// position identifier exclusively; the three mutation sites are
// init-from-config, clear-before-risk, and set-after-confirm.
type Orchestrator struct {
	chain    chain.Client
	remover  *executor.Remover
	deployer *executor.Deployer
	cfg      Config
	logger   *zap.Logger

	trackedID string // empty means none
}

// New builds an Orchestrator; tracking starts from the configured position
// ID when one is set.
func New(chainClient chain.Client, remover *executor.Remover, deployer *executor.Deployer, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		chain:     chainClient,
		remover:   remover,
		deployer:  deployer,
		cfg:       cfg,
		logger:    logger,
		trackedID: cfg.PositionID,
	}
}

// TrackedPositionID returns the currently tracked position, empty when none.
func (o *Orchestrator) TrackedPositionID() string {
	return o.trackedID
}

// CheckAndRebalance runs one cycle for the pool. nil denotes a deliberate
// no-op. Errors never escape; they come back as failure results so the
// scheduler can keep running across cycles.
func (o *Orchestrator) CheckAndRebalance(ctx context.Context, poolAddress string) *model.RebalanceResult {
	res, err := o.checkAndRebalance(ctx, poolAddress)
	if err != nil {
		o.logger.Error("rebalance cycle failed", zap.String("pool", poolAddress), zap.Error(err))
		return &model.RebalanceResult{Success: false, Message: err.Error()}
	}
	return res
}

func (o *Orchestrator) checkAndRebalance(ctx context.Context, poolAddress string) (*model.RebalanceResult, error) {
	owner := o.chain.OwnerAddress()

	pool, err := o.chain.GetPool(ctx, poolAddress)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	positions, err := o.poolPositions(ctx, owner, pool)
	if err != nil {
		return nil, err
	}

	var pos *model.PositionInfo
	switch {
	case o.trackedID != "":
		for i := range positions {
			if positions[i].ID == o.trackedID {
				pos = &positions[i]
				break
			}
		}
		if pos == nil {
			// A specific position is expected; do not silently adopt another.
			o.logger.Warn("tracked position not found this cycle",
				zap.String("pool", poolAddress), zap.String("position_id", o.trackedID))
			return nil, nil
		}
	case len(positions) > 0:
		pos = largestPosition(positions)
		o.trackedID = pos.ID
		o.logger.Info("auto-selected tracked position",
			zap.String("position_id", pos.ID),
			zap.String("liquidity", pos.Liquidity),
		)
	default:
		return o.recoverOpen(ctx, pool), nil
	}

	if !o.cfg.Policy.ShouldRebalance(*pos, pool) {
		o.logger.Debug("position in range, nothing to do",
			zap.String("position_id", pos.ID),
			zap.Int32("tick", pool.CurrentTick),
			zap.Int32("lower", pos.TickLower),
			zap.Int32("upper", pos.TickUpper),
		)
		return nil, nil
	}

	return o.rebalancePosition(ctx, pool, pos, positions)
}

// rebalancePosition runs the full remove-then-redeploy sequence.
func (o *Orchestrator) rebalancePosition(ctx context.Context, pool *model.PoolInfo, pos *model.PositionInfo, positions []model.PositionInfo) (*model.RebalanceResult, error) {
	oldRange := pos.Range()
	newRange := o.targetRange(pool, pos)

	// Sub-spacing drift is rounding noise; moving would spend gas for
	// nothing.
	if absDiff(newRange.Lower, oldRange.Lower) < pool.TickSpacing && absDiff(newRange.Upper, oldRange.Upper) < pool.TickSpacing {
		o.logger.Info("target range indistinguishable from current, skipping",
			zap.Int32("lower", oldRange.Lower), zap.Int32("upper", oldRange.Upper))
		return &model.RebalanceResult{
			Success:  true,
			Message:  "position already at optimal range",
			OldRange: &oldRange,
			NewRange: &oldRange,
		}, nil
	}

	if o.cfg.DryRun {
		o.logger.Info("dry run: would rebalance",
			zap.String("position_id", pos.ID),
			zap.Int32("old_lower", oldRange.Lower), zap.Int32("old_upper", oldRange.Upper),
			zap.Int32("new_lower", newRange.Lower), zap.Int32("new_upper", newRange.Upper),
		)
		return &model.RebalanceResult{
			Success:  true,
			Message:  "dry run",
			OldRange: &oldRange,
			NewRange: &newRange,
		}, nil
	}

	var freed *model.FreedAmounts
	hadLiquidity := pos.HasLiquidity()
	if hadLiquidity {
		liquidity, _ := pos.LiquidityInt()
		var err error
		freed, err = o.remover.RemoveLiquidity(ctx, pos.ID, liquidity)
		if err != nil {
			return nil, fmt.Errorf("close position %s: %w", pos.ID, err)
		}
	}

	// Prefer topping up a position that already sits exactly at the target
	// range over opening a duplicate.
	existingID := matchingPositionID(positions, pool, newRange, pos.ID)
	reusing := existingID != ""

	if !reusing && hadLiquidity {
		// The old position is drained and the new one does not exist yet; if
		// the add fails, next cycle must auto-select instead of pointing at
		// an empty shell.
		o.trackedID = ""
	}

	digest, err := o.deployer.AddLiquidity(ctx, pool, newRange.Lower, newRange.Upper, existingID, freed)
	if err != nil {
		return nil, fmt.Errorf("deploy to [%d, %d): %w", newRange.Lower, newRange.Upper, err)
	}

	if reusing {
		o.trackedID = existingID
	} else if newID := o.findOpenedPosition(ctx, pool, newRange, pos.ID); newID != "" {
		o.trackedID = newID
	} else {
		o.logger.Warn("new position not found after deploy; next cycle will auto-select",
			zap.Int32("lower", newRange.Lower), zap.Int32("upper", newRange.Upper))
	}

	o.logger.Info("rebalance complete",
		zap.String("digest", digest),
		zap.Int32("old_lower", oldRange.Lower), zap.Int32("old_upper", oldRange.Upper),
		zap.Int32("new_lower", newRange.Lower), zap.Int32("new_upper", newRange.Upper),
		zap.String("tracked_id", o.trackedID),
	)

	return &model.RebalanceResult{
		Success:  true,
		Digest:   digest,
		OldRange: &oldRange,
		NewRange: &newRange,
	}, nil
}

// recoverOpen handles the no-positions case by opening a fresh position
// from wallet funds. A failed recovery is this cycle's no-op, not an error;
// it will be retried next cycle.
func (o *Orchestrator) recoverOpen(ctx context.Context, pool *model.PoolInfo) *model.RebalanceResult {
	newRange := o.targetRange(pool, nil)

	if o.cfg.DryRun {
		o.logger.Info("dry run: would open new position",
			zap.Int32("lower", newRange.Lower), zap.Int32("upper", newRange.Upper))
		return &model.RebalanceResult{Success: true, Message: "dry run", NewRange: &newRange}
	}

	digest, err := o.deployer.AddLiquidity(ctx, pool, newRange.Lower, newRange.Upper, "", nil)
	if err != nil {
		o.logger.Warn("recovery open failed, will retry next cycle",
			zap.String("pool", pool.Address), zap.Error(err))
		return nil
	}

	if newID := o.findOpenedPosition(ctx, pool, newRange, ""); newID != "" {
		o.trackedID = newID
	}

	o.logger.Info("opened new position",
		zap.String("digest", digest),
		zap.Int32("lower", newRange.Lower), zap.Int32("upper", newRange.Upper),
		zap.String("tracked_id", o.trackedID),
	)
	return &model.RebalanceResult{Success: true, Digest: digest, NewRange: &newRange}
}

// targetRange applies the width-selection priority: explicit ticks from
// configuration, configured width, tracked position's preserved width,
// tightest single bin.
func (o *Orchestrator) targetRange(pool *model.PoolInfo, pos *model.PositionInfo) model.TickRange {
	if o.cfg.TickOverride != nil {
		return *o.cfg.TickOverride
	}
	if o.cfg.RangeWidth > 0 {
		return monitor.CalculateOptimalRange(pool.CurrentTick, pool.TickSpacing, o.cfg.RangeWidth)
	}
	if pos != nil {
		return monitor.CalculateOptimalRange(pool.CurrentTick, pool.TickSpacing, pos.Range().Width())
	}
	return monitor.CalculateOptimalRange(pool.CurrentTick, pool.TickSpacing, 0)
}

// poolPositions lists the owner's positions in this pool that hold
// liquidity; empty shells and unparsable records are dropped.
func (o *Orchestrator) poolPositions(ctx context.Context, owner string, pool *model.PoolInfo) ([]model.PositionInfo, error) {
	all, err := o.chain.GetPositions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	kept := make([]model.PositionInfo, 0, len(all))
	for _, p := range all {
		if !strings.EqualFold(p.PoolAddress, pool.Address) {
			continue
		}
		if !p.HasLiquidity() {
			continue
		}
		p.InRange = monitor.IsPositionInRange(p.TickLower, p.TickUpper, pool.CurrentTick)
		kept = append(kept, p)
	}
	return kept, nil
}

// findOpenedPosition searches the owner's positions for one at the target
// range in this pool, distinct from the old position.
func (o *Orchestrator) findOpenedPosition(ctx context.Context, pool *model.PoolInfo, target model.TickRange, oldID string) string {
	all, err := o.chain.GetPositions(ctx, o.chain.OwnerAddress())
	if err != nil {
		o.logger.Warn("position lookup after deploy failed", zap.Error(err))
		return ""
	}
	return matchingPositionID(all, pool, target, oldID)
}

func matchingPositionID(positions []model.PositionInfo, pool *model.PoolInfo, target model.TickRange, excludeID string) string {
	for _, p := range positions {
		if p.ID == excludeID {
			continue
		}
		if !strings.EqualFold(p.PoolAddress, pool.Address) {
			continue
		}
		if p.TickLower == target.Lower && p.TickUpper == target.Upper {
			return p.ID
		}
	}
	return ""
}

func largestPosition(positions []model.PositionInfo) *model.PositionInfo {
	best := &positions[0]
	bestLiq, _ := best.LiquidityInt()
	for i := 1; i < len(positions); i++ {
		liq, ok := positions[i].LiquidityInt()
		if ok && (bestLiq == nil || liq.Cmp(bestLiq) > 0) {
			best = &positions[i]
			bestLiq = liq
		}
	}
	return best
}

func absDiff(a, b int32) int32 {
	if a > b {
		return a - b
	}
	return b - a
}
