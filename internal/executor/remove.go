package executor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangepilot/internal/amm"
	"rangepilot/internal/chain"
	"rangepilot/internal/model"
)

// Remover closes a position's liquidity and reconciles how much of each
// token was actually freed back into the wallet.
type Remover struct {
	chain      chain.Client
	sdk        amm.SDK
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewRemover builds a Remover with its dependencies.
func NewRemover(chainClient chain.Client, sdk amm.SDK, maxRetries int, backoff time.Duration, logger *zap.Logger) *Remover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remover{
		chain:      chainClient,
		sdk:        sdk,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

// RemoveLiquidity removes liquidity from the position and returns the freed
// token amounts. Only stale-version and pending-transaction submission
// errors are retried; any other failure aborts the whole rebalance cycle so
// a new position is never opened without a confirmed close.
func (r *Remover) RemoveLiquidity(ctx context.Context, positionID string, liquidity *big.Int) (*model.FreedAmounts, error) {
	owner := r.chain.OwnerAddress()

	// The position may have vanished, and its token types are needed for
	// reconciliation before anything is submitted.
	pos, err := r.findPosition(ctx, owner, positionID)
	if err != nil {
		return nil, err
	}

	preA, err := r.chain.GetBalance(ctx, owner, pos.CoinTypeA)
	if err != nil {
		return nil, fmt.Errorf("snapshot balance %s: %w", pos.CoinTypeA, err)
	}
	preB, err := r.chain.GetBalance(ctx, owner, pos.CoinTypeB)
	if err != nil {
		return nil, fmt.Errorf("snapshot balance %s: %w", pos.CoinTypeB, err)
	}

	posID, ok := new(big.Int).SetString(pos.ID, 10)
	if !ok {
		return nil, fmt.Errorf("unparsable position id %q", pos.ID)
	}

	// The payload is rebuilt per attempt from a fresh position fetch: a
	// stale-nonce retry must not resubmit a payload whose deadline or
	// on-chain view has gone stale. A position that vanished between
	// attempts fails out instead of retrying.
	var res *model.ExecutionResult
	err = withRetry(ctx, r.maxRetries, r.backoff, removeRetryable, func(ctx context.Context) error {
		fresh, err := r.findPosition(ctx, owner, positionID)
		if err != nil {
			return err
		}
		tx, err := r.sdk.BuildRemoveLiquidity(amm.RemoveLiquidityParams{
			Pool:        common.HexToAddress(fresh.PoolAddress),
			PositionID:  posID,
			Liquidity:   liquidity,
			CollectFees: true,
		})
		if err != nil {
			return fmt.Errorf("build remove payload: %w", err)
		}

		var execErr error
		res, execErr = r.chain.SignAndExecute(ctx, tx)
		if execErr != nil {
			r.logger.Warn("remove liquidity submission failed",
				zap.String("position_id", positionID), zap.Error(execErr))
			return execErr
		}
		if !res.Succeeded() {
			return amm.ParseExecutionError(res.ErrorDetail, res.Digest)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}

	freedA, freedB := reconcileFreedAmounts(res, owner, pos.CoinTypeA, pos.CoinTypeB, r.chain.GasCoinType())

	// Balance-change parsing can come up empty (absent or inconclusive
	// records); diff the wallet against the pre-transaction snapshot.
	if freedA.Sign() == 0 && freedB.Sign() == 0 {
		freedA, freedB = r.diffBalances(ctx, owner, pos, preA, preB)
	}

	r.logger.Info("liquidity removed",
		zap.String("position_id", positionID),
		zap.String("digest", res.Digest),
		zap.String("freed_a", freedA.String()),
		zap.String("freed_b", freedB.String()),
	)

	return &model.FreedAmounts{AmountA: freedA.String(), AmountB: freedB.String()}, nil
}

func (r *Remover) findPosition(ctx context.Context, owner, positionID string) (*model.PositionInfo, error) {
	positions, err := r.chain.GetPositions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	for i := range positions {
		if positions[i].ID == positionID {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
}

func removeRetryable(err error) bool {
	return amm.IsStaleVersion(err) || amm.IsPendingTransaction(err)
}

// reconcileFreedAmounts nets the wallet-owned balance-change entries per
// token. The gas-native token's delta is corrected by adding back the total
// gas cost when negative, since the gas deduction can mask an otherwise
// positive freed amount. Negative results clamp to zero.
func reconcileFreedAmounts(res *model.ExecutionResult, owner, coinA, coinB, gasCoin string) (*big.Int, *big.Int) {
	deltaA := new(big.Int)
	deltaB := new(big.Int)
	for _, change := range res.BalanceChanges {
		if !strings.EqualFold(change.Owner, owner) {
			continue
		}
		switch {
		case model.SameCoinType(change.CoinType, coinA):
			deltaA.Add(deltaA, change.AmountInt())
		case model.SameCoinType(change.CoinType, coinB):
			deltaB.Add(deltaB, change.AmountInt())
		}
	}

	if res.Gas != nil {
		if model.SameCoinType(coinA, gasCoin) && deltaA.Sign() < 0 {
			deltaA.Add(deltaA, res.Gas.Total())
		}
		if model.SameCoinType(coinB, gasCoin) && deltaB.Sign() < 0 {
			deltaB.Add(deltaB, res.Gas.Total())
		}
	}

	return clampPositive(deltaA), clampPositive(deltaB)
}

func (r *Remover) diffBalances(ctx context.Context, owner string, pos *model.PositionInfo, preA, preB *big.Int) (*big.Int, *big.Int) {
	freedA := new(big.Int)
	freedB := new(big.Int)
	if postA, err := r.chain.GetBalance(ctx, owner, pos.CoinTypeA); err == nil {
		freedA = clampPositive(new(big.Int).Sub(postA, preA))
	} else {
		r.logger.Warn("post-balance query failed", zap.String("coin_type", pos.CoinTypeA), zap.Error(err))
	}
	if postB, err := r.chain.GetBalance(ctx, owner, pos.CoinTypeB); err == nil {
		freedB = clampPositive(new(big.Int).Sub(postB, preB))
	} else {
		r.logger.Warn("post-balance query failed", zap.String("coin_type", pos.CoinTypeB), zap.Error(err))
	}
	return freedA, freedB
}

func clampPositive(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}
