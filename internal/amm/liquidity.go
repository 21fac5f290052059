package amm

import "math/big"

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// EstimateLiquidityForSingleSidedAmount estimates the liquidity a single
// fixed token amount would mint between two sqrt prices. fixA selects the
// token-A formula (amount deposited above the current price) versus the
// token-B formula (amount deposited below it). A zero estimate means the
// amount cannot mint any liquidity at this price.
//
// Intermediate products exceed 256 bits near the range edges, so this runs
// on big.Int rather than fixed-width words.
func EstimateLiquidityForSingleSidedAmount(sqrtLow, sqrtHigh, amount *big.Int, fixA bool) *big.Int {
	if amount == nil || amount.Sign() <= 0 || sqrtLow == nil || sqrtHigh == nil {
		return new(big.Int)
	}
	if sqrtLow.Cmp(sqrtHigh) >= 0 {
		return new(big.Int)
	}

	diff := new(big.Int).Sub(sqrtHigh, sqrtLow)
	if fixA {
		// L = amount * (sqrtLow * sqrtHigh / Q96) / (sqrtHigh - sqrtLow)
		num := new(big.Int).Mul(sqrtLow, sqrtHigh)
		num.Div(num, q96)
		num.Mul(num, amount)
		return num.Div(num, diff)
	}
	// L = amount * Q96 / (sqrtHigh - sqrtLow)
	num := new(big.Int).Mul(amount, q96)
	return num.Div(num, diff)
}

// SingleSidedSqrtBounds clips a position's sqrt-price bounds to the segment
// actually funded by the fixed side at the current price: token A fills
// [max(current, low), high], token B fills [low, min(current, high)].
func SingleSidedSqrtBounds(sqrtLower, sqrtUpper, sqrtCurrent *big.Int, fixA bool) (*big.Int, *big.Int) {
	if fixA {
		low := sqrtLower
		if sqrtCurrent.Cmp(low) > 0 {
			low = sqrtCurrent
		}
		return low, sqrtUpper
	}
	high := sqrtUpper
	if sqrtCurrent.Cmp(high) < 0 {
		high = sqrtCurrent
	}
	return sqrtLower, high
}
