package amm

import (
	"math/big"
	"testing"
)

func TestSqrtRatioAtTickZero(t *testing.T) {
	got, err := SqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(0): %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 96)
	if got.Cmp(want) != 0 {
		t.Errorf("SqrtRatioAtTick(0) = %s, want %s", got, want)
	}
}

func TestSqrtRatioAtTickBounds(t *testing.T) {
	minRatio, err := SqrtRatioAtTick(MinTick)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(MinTick): %v", err)
	}
	if minRatio.String() != "4295128739" {
		t.Errorf("SqrtRatioAtTick(%d) = %s, want 4295128739", MinTick, minRatio)
	}

	maxRatio, err := SqrtRatioAtTick(MaxTick)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(MaxTick): %v", err)
	}
	if maxRatio.String() != "1461446703485210103287273052203988822378723970342" {
		t.Errorf("SqrtRatioAtTick(%d) = %s", MaxTick, maxRatio)
	}
}

func TestSqrtRatioAtTickOutOfBounds(t *testing.T) {
	if _, err := SqrtRatioAtTick(MinTick - 1); err == nil {
		t.Error("tick below MinTick accepted")
	}
	if _, err := SqrtRatioAtTick(MaxTick + 1); err == nil {
		t.Error("tick above MaxTick accepted")
	}
}

func TestSqrtRatioAtTickMonotonic(t *testing.T) {
	ticks := []int32{MinTick, -887271, -100000, -10000, -1000, -60, -1, 0, 1, 60, 1000, 10000, 100000, 887271, MaxTick}
	var prev *big.Int
	for _, tick := range ticks {
		ratio, err := SqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("SqrtRatioAtTick(%d): %v", tick, err)
		}
		if prev != nil && ratio.Cmp(prev) <= 0 {
			t.Errorf("ratio not strictly increasing at tick %d: %s <= %s", tick, ratio, prev)
		}
		prev = ratio
	}
}

// The ratio of prices one spacing apart must approximate 1.0001^spacing.
func TestSqrtRatioAtTickSpacingStep(t *testing.T) {
	lower, err := SqrtRatioAtTick(0)
	if err != nil {
		t.Fatal(err)
	}
	upper, err := SqrtRatioAtTick(60)
	if err != nil {
		t.Fatal(err)
	}

	// (upper/lower)^2 scaled to parts per million.
	num := new(big.Int).Mul(upper, upper)
	num.Mul(num, big.NewInt(1_000_000))
	den := new(big.Int).Mul(lower, lower)
	ratio := num.Div(num, den).Int64()

	// 1.0001^60 = 1.0060177...
	if ratio < 1_006_012 || ratio > 1_006_022 {
		t.Errorf("price step for 60 ticks = %d ppm, want ~1006017", ratio)
	}
}
