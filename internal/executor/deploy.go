package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangepilot/internal/amm"
	"rangepilot/internal/chain"
	"rangepilot/internal/model"
)

// DeployConfig holds the deployment executor's tunables.
type DeployConfig struct {
	// Slippage is the max tolerated slippage fraction for add payloads.
	Slippage float64
	// GasReserve is subtracted from the gas-native token's raw balance so an
	// add never spends the funds needed for its own gas.
	GasReserve *big.Int
	// MaxRetries bounds the submission retry loop; RetryDelay is the fixed
	// pause between attempts.
	MaxRetries int
	RetryDelay time.Duration
	// SwapBufferPct is the percentage buffer added to a shortfall recovery
	// swap's target amount to absorb the swap's own slippage.
	SwapBufferPct int64
	// StrictTickCheck re-validates the target range against a fresh pool
	// fetch right before submission.
	StrictTickCheck bool
	// AmountAOverride/AmountBOverride pin the deployed amount to a
	// configured value; amount A wins when both are set.
	AmountAOverride *big.Int
	AmountBOverride *big.Int
}

// Deployer turns freed or available wallet funds into liquidity at a target
// range through the router's single-sided zap primitive.
type Deployer struct {
	chain  chain.Client
	sdk    amm.SDK
	cfg    DeployConfig
	logger *zap.Logger
}

// NewDeployer builds a Deployer with its dependencies.
func NewDeployer(chainClient chain.Client, sdk amm.SDK, cfg DeployConfig, logger *zap.Logger) *Deployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{chain: chainClient, sdk: sdk, cfg: cfg, logger: logger}
}

// AddLiquidity deploys exactly one token into [tickLower, tickUpper) on the
// pool, opening a new position when existingPositionID is empty. freed may
// be nil when opening fresh from wallet funds.
func (d *Deployer) AddLiquidity(ctx context.Context, pool *model.PoolInfo, tickLower, tickUpper int32, existingPositionID string, freed *model.FreedAmounts) (string, error) {
	amountA, amountB, err := d.selectAmounts(ctx, pool, tickLower, tickUpper, freed)
	if err != nil {
		return "", err
	}
	if amountA.Sign() == 0 && amountB.Sign() == 0 {
		return "", ErrInsufficientBalance
	}

	if d.cfg.StrictTickCheck {
		fresh, err := d.chain.GetPool(ctx, pool.Address)
		if err != nil {
			return "", fmt.Errorf("re-fetch pool: %w", err)
		}
		if !(tickLower <= fresh.CurrentTick && fresh.CurrentTick < tickUpper) {
			return "", fmt.Errorf("%w: tick %d not in [%d, %d)", ErrTickOutOfRange, fresh.CurrentTick, tickLower, tickUpper)
		}
	}

	var positionID *big.Int
	if existingPositionID != "" {
		id, ok := new(big.Int).SetString(existingPositionID, 10)
		if !ok {
			return "", fmt.Errorf("unparsable position id %q", existingPositionID)
		}
		positionID = id
	}

	return d.submitLoop(ctx, pool.Address, tickLower, tickUpper, positionID, pool.CoinTypeA, pool.CoinTypeB, amountA, amountB)
}

// submitLoop retries the add with a fixed delay. Every attempt re-fetches
// the pool and wallet state and re-caps the amounts: gas spent on a failed
// attempt or a recovery swap shrinks what is deployable. Contract aborts
// other than the zero-liquidity code propagate immediately; after
// exhaustion the last error is returned unmodified so the caller sees the
// true root cause.
func (d *Deployer) submitLoop(ctx context.Context, poolAddress string, tickLower, tickUpper int32, positionID *big.Int, coinA, coinB string, amountA, amountB *big.Int) (string, error) {
	swapAttempted := false
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, d.cfg.RetryDelay); err != nil {
				return "", err
			}
		}

		fresh, err := d.chain.GetPool(ctx, poolAddress)
		if err != nil {
			lastErr = fmt.Errorf("re-fetch pool: %w", err)
			d.logger.Warn("add liquidity attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
			continue
		}
		sqrtPrice, ok := new(big.Int).SetString(fresh.CurrentSqrtPrice, 10)
		if !ok {
			return "", fmt.Errorf("unparsable sqrt price %q", fresh.CurrentSqrtPrice)
		}

		cappedA, err := d.capToSafeBalance(ctx, coinA, amountA)
		if err != nil {
			lastErr = err
			continue
		}
		cappedB, err := d.capToSafeBalance(ctx, coinB, amountB)
		if err != nil {
			lastErr = err
			continue
		}
		if cappedA.Sign() == 0 && cappedB.Sign() == 0 {
			return "", fmt.Errorf("%w: both amounts zero after capping to wallet balances", ErrInsufficientBalance)
		}

		// The fixed side is re-derived from whichever amount survived.
		fixA := cappedA.Sign() > 0

		tx, err := d.sdk.BuildAddLiquidityFixedToken(amm.AddLiquidityParams{
			Pool:       common.HexToAddress(poolAddress),
			TickLower:  tickLower,
			TickUpper:  tickUpper,
			PositionID: positionID,
			AmountA:    cappedA,
			AmountB:    cappedB,
			FixAmountA: fixA,
		}, amm.AddOptions{
			Slippage:         d.cfg.Slippage,
			CurrentSqrtPrice: sqrtPrice,
		})
		if err != nil {
			return "", fmt.Errorf("build add payload: %w", err)
		}

		res, err := d.chain.SignAndExecute(ctx, tx)
		if err != nil {
			lastErr = err
			d.logger.Warn("add liquidity submission failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if res.Succeeded() {
			d.logger.Info("liquidity added",
				zap.String("digest", res.Digest),
				zap.Int32("tick_lower", tickLower),
				zap.Int32("tick_upper", tickUpper),
				zap.Bool("fix_amount_a", fixA),
			)
			return res.Digest, nil
		}

		execErr := amm.ParseExecutionError(res.ErrorDetail, res.Digest)

		var shortfall *amm.ShortfallError
		if errors.As(execErr, &shortfall) {
			if swapAttempted {
				// The one-shot recovery already ran; a recurring shortfall
				// is a plain contract rejection.
				return "", execErr
			}
			swapAttempted = true
			if swapErr := d.recoverShortfall(ctx, fresh, shortfall); swapErr != nil {
				d.logger.Warn("shortfall recovery swap failed", zap.Error(swapErr))
				lastErr = execErr
				continue
			}
			// Feed the token the contract asked for on the next attempt; the
			// per-attempt capping picks up the post-swap balance.
			if model.SameCoinType(shortfall.CoinType, coinA) {
				amountA = maxBig
				amountB = new(big.Int)
			} else {
				amountA = new(big.Int)
				amountB = maxBig
			}
			lastErr = execErr
			continue
		}

		var abort *amm.ContractAbortError
		if errors.As(execErr, &abort) && !abort.ZeroLiquidity() {
			return "", execErr
		}

		lastErr = execErr
		d.logger.Warn("add liquidity attempt rejected", zap.Int("attempt", attempt), zap.Error(execErr))
	}

	return "", lastErr
}

// maxBig caps to the observed safe balance, i.e. "use everything available".
var maxBig = new(big.Int).Lsh(big.NewInt(1), 255)

// selectAmounts resolves which single token to hand to the zap and how
// much, in priority order: configured override, freed amounts from the
// just-closed position, plain wallet balance.
func (d *Deployer) selectAmounts(ctx context.Context, pool *model.PoolInfo, tickLower, tickUpper int32, freed *model.FreedAmounts) (*big.Int, *big.Int, error) {
	if d.cfg.AmountAOverride != nil {
		if err := d.checkViability(pool, tickLower, tickUpper, d.cfg.AmountAOverride, true); err != nil {
			return nil, nil, err
		}
		return new(big.Int).Set(d.cfg.AmountAOverride), new(big.Int), nil
	}
	if d.cfg.AmountBOverride != nil {
		if err := d.checkViability(pool, tickLower, tickUpper, d.cfg.AmountBOverride, false); err != nil {
			return nil, nil, err
		}
		return new(big.Int), new(big.Int).Set(d.cfg.AmountBOverride), nil
	}

	if freed != nil {
		freedA := freed.AmountAInt()
		freedB := freed.AmountBInt()
		if freedA.Sign() > 0 || freedB.Sign() > 0 {
			if pool.CurrentTick < tickUpper && freedA.Sign() > 0 {
				capped, err := d.capToSafeBalance(ctx, pool.CoinTypeA, freedA)
				if err != nil {
					return nil, nil, err
				}
				return capped, new(big.Int), nil
			}
			amountB := freedB
			if amountB.Sign() == 0 {
				amountB = maxBig
			}
			capped, err := d.capToSafeBalance(ctx, pool.CoinTypeB, amountB)
			if err != nil {
				return nil, nil, err
			}
			return new(big.Int), capped, nil
		}
		// Removal succeeded but yielded no measurable proceeds; fall through
		// to wallet funds rather than failing on a reconciliation edge case.
	}

	return d.amountsFromWallet(ctx, pool, tickLower, tickUpper)
}

// amountsFromWallet picks the side by where the current price sits relative
// to the target range: A below, B above, prefer A inside.
func (d *Deployer) amountsFromWallet(ctx context.Context, pool *model.PoolInfo, tickLower, tickUpper int32) (*big.Int, *big.Int, error) {
	switch {
	case pool.CurrentTick < tickLower:
		balance, err := d.safeBalance(ctx, pool.CoinTypeA)
		if err != nil {
			return nil, nil, err
		}
		return balance, new(big.Int), nil
	case pool.CurrentTick >= tickUpper:
		balance, err := d.safeBalance(ctx, pool.CoinTypeB)
		if err != nil {
			return nil, nil, err
		}
		return new(big.Int), balance, nil
	default:
		balanceA, err := d.safeBalance(ctx, pool.CoinTypeA)
		if err != nil {
			return nil, nil, err
		}
		if balanceA.Sign() > 0 {
			return balanceA, new(big.Int), nil
		}
		balanceB, err := d.safeBalance(ctx, pool.CoinTypeB)
		if err != nil {
			return nil, nil, err
		}
		return new(big.Int), balanceB, nil
	}
}

// checkViability rejects a configured override that would mint zero
// liquidity at the current price, instead of submitting a doomed payload.
func (d *Deployer) checkViability(pool *model.PoolInfo, tickLower, tickUpper int32, amount *big.Int, fixA bool) error {
	sqrtLower, err := amm.SqrtRatioAtTick(tickLower)
	if err != nil {
		return fmt.Errorf("sqrt ratio at tick %d: %w", tickLower, err)
	}
	sqrtUpper, err := amm.SqrtRatioAtTick(tickUpper)
	if err != nil {
		return fmt.Errorf("sqrt ratio at tick %d: %w", tickUpper, err)
	}
	sqrtCurrent, ok := new(big.Int).SetString(pool.CurrentSqrtPrice, 10)
	if !ok {
		return fmt.Errorf("unparsable sqrt price %q", pool.CurrentSqrtPrice)
	}

	low, high := amm.SingleSidedSqrtBounds(sqrtLower, sqrtUpper, sqrtCurrent, fixA)
	if d.sdk.EstimateLiquidity(low, high, amount, fixA).Sign() == 0 {
		side := "A"
		if !fixA {
			side = "B"
		}
		return fmt.Errorf("%w: token %s amount %s in [%d, %d)", ErrZeroLiquidityEstimate, side, amount, tickLower, tickUpper)
	}
	return nil
}

// capToSafeBalance returns min(amount, safe wallet balance). Zero amounts
// stay zero without a balance query.
func (d *Deployer) capToSafeBalance(ctx context.Context, coinType string, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	balance, err := d.safeBalance(ctx, coinType)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(balance) > 0 {
		return balance, nil
	}
	return new(big.Int).Set(amount), nil
}

// safeBalance is the raw wallet balance, minus the configured gas reserve
// when the token pays for gas and the balance exceeds the reserve.
func (d *Deployer) safeBalance(ctx context.Context, coinType string) (*big.Int, error) {
	balance, err := d.chain.GetBalance(ctx, d.chain.OwnerAddress(), coinType)
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", coinType, err)
	}
	if d.cfg.GasReserve != nil && model.SameCoinType(coinType, d.chain.GasCoinType()) && balance.Cmp(d.cfg.GasReserve) > 0 {
		balance = new(big.Int).Sub(balance, d.cfg.GasReserve)
	}
	return balance, nil
}

// recoverShortfall swaps the counterpart token for the missing one, with a
// percentage buffer against the corrective swap's own slippage. Runs at
// most once per AddLiquidity call.
func (d *Deployer) recoverShortfall(ctx context.Context, pool *model.PoolInfo, shortfall *amm.ShortfallError) error {
	missingIsA := model.SameCoinType(shortfall.CoinType, pool.CoinTypeA)
	counterpart := pool.CoinTypeA
	if missingIsA {
		counterpart = pool.CoinTypeB
	}

	available, err := d.safeBalance(ctx, counterpart)
	if err != nil {
		return err
	}
	if available.Sign() == 0 {
		return fmt.Errorf("no %s available to swap for missing %s", counterpart, shortfall.CoinType)
	}

	target := new(big.Int).Mul(shortfall.Expected, big.NewInt(100+d.cfg.SwapBufferPct))
	target.Div(target, big.NewInt(100))

	// Swapping A yields B and vice versa.
	aToB := !missingIsA
	poolAddr := common.HexToAddress(pool.Address)

	amountIn := available
	minOut := new(big.Int)
	if quoted, err := d.sdk.EstimateSwapOutput(ctx, poolAddr, aToB, available); err == nil && quoted.Sign() > 0 {
		if quoted.Cmp(target) > 0 {
			// Scale the input down to roughly the target output.
			amountIn = new(big.Int).Mul(available, target)
			amountIn.Div(amountIn, quoted)
			if amountIn.Sign() == 0 {
				amountIn = big.NewInt(1)
			}
		}
		minOut.Set(shortfall.Expected)
	} else if err != nil {
		// Estimate failure is non-fatal; proceed without slippage protection.
		d.logger.Warn("swap estimate failed", zap.Error(err))
	}

	tx, err := d.sdk.BuildSwap(amm.SwapParams{
		Pool:         poolAddr,
		AToB:         aToB,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
	})
	if err != nil {
		return fmt.Errorf("build swap payload: %w", err)
	}
	res, err := d.chain.SignAndExecute(ctx, tx)
	if err != nil {
		return fmt.Errorf("recovery swap: %w", err)
	}
	if !res.Succeeded() {
		return amm.ParseExecutionError(res.ErrorDetail, res.Digest)
	}

	d.logger.Info("recovery swap executed",
		zap.String("digest", res.Digest),
		zap.String("missing", shortfall.CoinType),
		zap.String("target", target.String()),
	)
	return nil
}
