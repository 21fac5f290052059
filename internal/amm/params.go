package amm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction is a submittable payload built by the SDK. The chain client
// signs and executes it without inspecting the calldata.
type Transaction struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Label    string
}

// RemoveLiquidityParams describes a full or partial liquidity removal.
type RemoveLiquidityParams struct {
	Pool        common.Address
	PositionID  *big.Int
	Liquidity   *big.Int
	MinAmountA  *big.Int
	MinAmountB  *big.Int
	CollectFees bool
}

// Validate checks structural invariants before encoding.
func (p RemoveLiquidityParams) Validate() error {
	if p.Pool == (common.Address{}) {
		return fmt.Errorf("remove liquidity: pool address is required")
	}
	if p.PositionID == nil || p.PositionID.Sign() < 0 {
		return fmt.Errorf("remove liquidity: position id is required")
	}
	if p.Liquidity == nil || p.Liquidity.Sign() <= 0 {
		return fmt.Errorf("remove liquidity: liquidity must be positive")
	}
	return nil
}

// AddLiquidityParams describes a single-sided ("zap") add. Exactly one of
// AmountA/AmountB must be non-zero; FixAmountA names the fixed side.
type AddLiquidityParams struct {
	Pool       common.Address
	TickLower  int32
	TickUpper  int32
	PositionID *big.Int // nil opens a new position
	AmountA    *big.Int
	AmountB    *big.Int
	FixAmountA bool
}

// Validate enforces the single-sided invariant.
func (p AddLiquidityParams) Validate() error {
	if p.Pool == (common.Address{}) {
		return fmt.Errorf("add liquidity: pool address is required")
	}
	if p.TickLower >= p.TickUpper {
		return fmt.Errorf("add liquidity: tick range [%d, %d) is empty", p.TickLower, p.TickUpper)
	}
	a := p.AmountA
	b := p.AmountB
	if a == nil || b == nil {
		return fmt.Errorf("add liquidity: both amounts must be set")
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return fmt.Errorf("add liquidity: amounts must be non-negative")
	}
	if (a.Sign() == 0) == (b.Sign() == 0) {
		return fmt.Errorf("add liquidity: exactly one of amountA/amountB must be non-zero (got %s / %s)", a, b)
	}
	if p.FixAmountA != (a.Sign() > 0) {
		return fmt.Errorf("add liquidity: fixAmountA=%v does not match the non-zero side", p.FixAmountA)
	}
	return nil
}

// AddOptions carries per-attempt market state for the add payload.
type AddOptions struct {
	// Slippage is the max tolerated slippage fraction, e.g. 0.01 for 1%.
	Slippage float64
	// CurrentSqrtPrice is the pool sqrt price observed for this attempt.
	CurrentSqrtPrice *big.Int
}

// SwapParams describes a corrective swap between the pool's two tokens.
type SwapParams struct {
	Pool         common.Address
	AToB         bool
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// Validate checks structural invariants before encoding.
func (p SwapParams) Validate() error {
	if p.Pool == (common.Address{}) {
		return fmt.Errorf("swap: pool address is required")
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return fmt.Errorf("swap: amount in must be positive")
	}
	return nil
}
