package amm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Tick bounds of the concentrated-liquidity price grid.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// sqrtRatioSteps are the Q128.128 multipliers for each bit of |tick|.
var sqrtRatioSteps = []struct {
	mask  int64
	ratio *uint256.Int
}{
	{0x2, uint256.MustFromHex("0xfff97272373d413259a46990580e213a")},
	{0x4, uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")},
	{0x8, uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")},
	{0x10, uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644")},
	{0x20, uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0")},
	{0x40, uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861")},
	{0x80, uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053")},
	{0x100, uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")},
	{0x200, uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54")},
	{0x400, uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3")},
	{0x800, uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9")},
	{0x1000, uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825")},
	{0x2000, uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5")},
	{0x4000, uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7")},
	{0x8000, uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6")},
	{0x10000, uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")},
	{0x20000, uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604")},
	{0x40000, uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98")},
	{0x80000, uint256.MustFromHex("0x48a170391f7dc42444e8fa2")},
}

var (
	sqrtRatioOdd  = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	sqrtRatioOne  = uint256.MustFromHex("0x100000000000000000000000000000000")
	maxUint256    = new(uint256.Int).SetAllOne()
	uint32MaskU   = uint256.NewInt(0xffffffff)
)

// SqrtRatioAtTick converts a tick index to its Q64.96 sqrt price.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d out of bounds", tick)
	}

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(uint256.Int).Set(sqrtRatioOne)
	if absTick&0x1 != 0 {
		ratio.Set(sqrtRatioOdd)
	}
	for _, step := range sqrtRatioSteps {
		if absTick&step.mask != 0 {
			ratio.Mul(ratio, step.ratio)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Round up on the Q128.128 -> Q64.96 conversion.
	rem := new(uint256.Int).And(ratio, uint32MaskU)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}

	return ratio.ToBig(), nil
}
