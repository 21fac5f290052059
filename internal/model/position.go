package model

import "math/big"

// PositionInfo is one on-chain liquidity position. Liquidity is kept as a
// decimal string; "0" or an unparsable value means the position is an empty
// shell and is excluded from rebalancing.
type PositionInfo struct {
	ID          string `json:"id"`
	PoolAddress string `json:"pool_address"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	Liquidity   string `json:"liquidity"`
	CoinTypeA   string `json:"coin_type_a"`
	CoinTypeB   string `json:"coin_type_b"`
	InRange     bool   `json:"in_range"`
}

// LiquidityInt parses the liquidity string. ok is false when the value is
// unparsable or negative.
func (p PositionInfo) LiquidityInt() (*big.Int, bool) {
	liq, ok := new(big.Int).SetString(p.Liquidity, 10)
	if !ok || liq.Sign() < 0 {
		return nil, false
	}
	return liq, true
}

// HasLiquidity reports whether the position holds any liquidity.
func (p PositionInfo) HasLiquidity() bool {
	liq, ok := p.LiquidityInt()
	return ok && liq.Sign() > 0
}

// TickRange is a half-open tick interval [Lower, Upper).
type TickRange struct {
	Lower int32 `json:"lower"`
	Upper int32 `json:"upper"`
}

// Width returns Upper - Lower.
func (r TickRange) Width() int32 {
	return r.Upper - r.Lower
}

// Contains reports whether tick falls inside [Lower, Upper).
func (r TickRange) Contains(tick int32) bool {
	return r.Lower <= tick && tick < r.Upper
}

// Range returns the position's tick range.
func (p PositionInfo) Range() TickRange {
	return TickRange{Lower: p.TickLower, Upper: p.TickUpper}
}
