package monitor

import (
	"rangepilot/internal/model"
)

// IsPositionInRange reports whether currentTick falls in [lower, upper).
// The upper bound is exclusive, matching the AMM tick-range convention.
func IsPositionInRange(lower, upper, currentTick int32) bool {
	return lower <= currentTick && currentTick < upper
}

// Policy holds the configurable rebalance triggers beyond the mandatory
// out-of-range check.
type Policy struct {
	// Threshold in (0,1) arms the edge-proximity trigger: rebalance when the
	// current tick is within Threshold*width of either bound. Zero disables.
	Threshold float64
}

// ShouldRebalance reports whether the position needs to move given the
// current pool state.
func (p Policy) ShouldRebalance(pos model.PositionInfo, pool *model.PoolInfo) bool {
	if !IsPositionInRange(pos.TickLower, pos.TickUpper, pool.CurrentTick) {
		return true
	}
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return false
	}
	width := pos.TickUpper - pos.TickLower
	margin := int32(p.Threshold * float64(width))
	if margin <= 0 {
		return false
	}
	return pool.CurrentTick-pos.TickLower < margin || pos.TickUpper-pool.CurrentTick < margin
}

// CalculateOptimalRange derives the target range for currentTick.
// preserveWidth <= tickSpacing yields the tightest single-spacing bin
// containing the tick, so a one-bin position is recreated as one bin rather
// than widened by the outward snap. Wider widths are centered on the tick
// and snapped outward to spacing multiples. The result always satisfies
// lower <= currentTick < upper.
func CalculateOptimalRange(currentTick, tickSpacing, preserveWidth int32) model.TickRange {
	if preserveWidth <= tickSpacing {
		lower := floorDiv(currentTick, tickSpacing) * tickSpacing
		return model.TickRange{Lower: lower, Upper: lower + tickSpacing}
	}

	ticksBelow := preserveWidth / 2
	ticksAbove := preserveWidth - ticksBelow
	lower := floorDiv(currentTick-ticksBelow, tickSpacing) * tickSpacing
	upper := ceilDiv(currentTick+ticksAbove, tickSpacing) * tickSpacing
	return model.TickRange{Lower: lower, Upper: upper}
}

// floorDiv rounds the quotient toward negative infinity, not zero:
// floorDiv(-100, 60) == -2.
func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int32) int32 {
	return -floorDiv(-a, b)
}
