package amm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// deadlineWindow bounds how long a built payload stays submittable.
const deadlineWindow = 5 * time.Minute

// SDK is the protocol boundary the executors depend on: payload builders for
// the three transaction kinds plus the two estimation calls.
type SDK interface {
	BuildRemoveLiquidity(p RemoveLiquidityParams) (*Transaction, error)
	BuildAddLiquidityFixedToken(p AddLiquidityParams, opts AddOptions) (*Transaction, error)
	BuildSwap(p SwapParams) (*Transaction, error)
	EstimateSwapOutput(ctx context.Context, pool common.Address, aToB bool, amountIn *big.Int) (*big.Int, error)
	EstimateLiquidity(sqrtLow, sqrtHigh, amount *big.Int, fixA bool) *big.Int
}

// ContractCaller is the minimal read surface the router needs for quoting.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Router builds payloads for the deployed liquidity router contract.
type Router struct {
	address common.Address
	caller  ContractCaller
	logger  *zap.Logger
}

// NewRouter builds a Router bound to a deployed contract address.
func NewRouter(address common.Address, caller ContractCaller, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{address: address, caller: caller, logger: logger}
}

// BuildRemoveLiquidity encodes a removeLiquidity call.
func (r *Router) BuildRemoveLiquidity(p RemoveLiquidityParams) (*Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	parsed, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	minA := p.MinAmountA
	if minA == nil {
		minA = new(big.Int)
	}
	minB := p.MinAmountB
	if minB == nil {
		minB = new(big.Int)
	}
	data, err := parsed.Pack("removeLiquidity",
		p.Pool, p.PositionID, p.Liquidity, minA, minB, p.CollectFees, deadline())
	if err != nil {
		return nil, fmt.Errorf("pack removeLiquidity: %w", err)
	}
	return &Transaction{To: r.address, Data: data, Value: new(big.Int), Label: "remove_liquidity"}, nil
}

// BuildAddLiquidityFixedToken encodes an addLiquidityFixedToken call.
// PositionID zero (or nil) opens a new position.
func (r *Router) BuildAddLiquidityFixedToken(p AddLiquidityParams, opts AddOptions) (*Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.CurrentSqrtPrice == nil || opts.CurrentSqrtPrice.Sign() <= 0 {
		return nil, fmt.Errorf("add liquidity: current sqrt price is required")
	}
	parsed, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	positionID := p.PositionID
	if positionID == nil {
		positionID = new(big.Int)
	}
	data, err := parsed.Pack("addLiquidityFixedToken",
		p.Pool, big.NewInt(int64(p.TickLower)), big.NewInt(int64(p.TickUpper)),
		positionID, p.AmountA, p.AmountB, p.FixAmountA,
		slippageBps(opts.Slippage), opts.CurrentSqrtPrice, deadline())
	if err != nil {
		return nil, fmt.Errorf("pack addLiquidityFixedToken: %w", err)
	}
	return &Transaction{To: r.address, Data: data, Value: new(big.Int), Label: "add_liquidity"}, nil
}

// BuildSwap encodes a swap call.
func (r *Router) BuildSwap(p SwapParams) (*Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	parsed, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	minOut := p.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	data, err := parsed.Pack("swap", p.Pool, p.AToB, p.AmountIn, minOut, deadline())
	if err != nil {
		return nil, fmt.Errorf("pack swap: %w", err)
	}
	return &Transaction{To: r.address, Data: data, Value: new(big.Int), Label: "swap"}, nil
}

// EstimateSwapOutput quotes a swap via the router's view function.
func (r *Router) EstimateSwapOutput(ctx context.Context, pool common.Address, aToB bool, amountIn *big.Int) (*big.Int, error) {
	parsed, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	data, err := parsed.Pack("quoteSwap", pool, aToB, amountIn)
	if err != nil {
		return nil, fmt.Errorf("pack quoteSwap: %w", err)
	}
	msg := ethereum.CallMsg{To: &r.address, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call quoteSwap: %w", err)
	}
	values, err := parsed.Unpack("quoteSwap", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack quoteSwap: %w", err)
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quoteSwap output type %T", values[0])
	}
	return out, nil
}

// EstimateLiquidity estimates the liquidity minted by a single fixed amount.
func (r *Router) EstimateLiquidity(sqrtLow, sqrtHigh, amount *big.Int, fixA bool) *big.Int {
	return EstimateLiquidityForSingleSidedAmount(sqrtLow, sqrtHigh, amount, fixA)
}

func deadline() *big.Int {
	return big.NewInt(time.Now().Add(deadlineWindow).Unix())
}

func slippageBps(slippage float64) uint16 {
	if slippage <= 0 {
		return 0
	}
	bps := int64(slippage * 10000)
	if bps > 10000 {
		bps = 10000
	}
	return uint16(bps)
}
