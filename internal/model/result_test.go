package model

import (
	"testing"
	"time"
)

func TestPositionLiquidity(t *testing.T) {
	tests := []struct {
		liquidity string
		has       bool
	}{
		{"5000", true},
		{"0", false},
		{"", false},
		{"-5", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		pos := PositionInfo{Liquidity: tt.liquidity}
		if got := pos.HasLiquidity(); got != tt.has {
			t.Errorf("HasLiquidity(%q) = %v, want %v", tt.liquidity, got, tt.has)
		}
	}
}

func TestFreedAmountsParsing(t *testing.T) {
	freed := FreedAmounts{AmountA: "1500", AmountB: ""}
	if freed.AmountAInt().String() != "1500" {
		t.Errorf("AmountAInt() = %s, want 1500", freed.AmountAInt())
	}
	if freed.AmountBInt().Sign() != 0 {
		t.Errorf("empty AmountB should parse as zero, got %s", freed.AmountBInt())
	}
	neg := FreedAmounts{AmountA: "-10"}
	if neg.AmountAInt().Sign() != 0 {
		t.Errorf("negative freed amount should clamp to zero, got %s", neg.AmountAInt())
	}
}

func TestTickRange(t *testing.T) {
	r := TickRange{Lower: -120, Upper: 120}
	if r.Width() != 240 {
		t.Errorf("Width() = %d, want 240", r.Width())
	}
	if !r.Contains(-120) || r.Contains(120) {
		t.Error("range must be half-open: lower inclusive, upper exclusive")
	}
}

func TestNewCycleRecord(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	rec := NewCycleRecord("0xpool", started, finished, nil)
	if !rec.NoOp || rec.Success {
		t.Errorf("nil result should record a no-op, got %+v", rec)
	}
	if rec.OldLower != nil || rec.NewLower != nil {
		t.Error("no-op record should carry no ranges")
	}

	res := &RebalanceResult{
		Success:  true,
		Digest:   "0xabc",
		OldRange: &TickRange{Lower: 960, Upper: 1020},
		NewRange: &TickRange{Lower: 1920, Upper: 2040},
	}
	rec = NewCycleRecord("0xpool", started, finished, res)
	if rec.NoOp {
		t.Error("non-nil result should not record a no-op")
	}
	if !rec.Success || rec.Digest != "0xabc" {
		t.Errorf("result fields not carried over: %+v", rec)
	}
	if rec.OldLower == nil || *rec.OldLower != 960 || rec.NewUpper == nil || *rec.NewUpper != 2040 {
		t.Errorf("range bounds not carried over: %+v", rec)
	}
	if rec.StartedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("StartedAt = %q, want RFC3339 UTC", rec.StartedAt)
	}
}
