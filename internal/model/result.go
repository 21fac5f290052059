package model

import (
	"math/big"
	"time"
)

// RebalanceResult is the uniform outcome record for every cycle: no-op,
// success, dry-run preview, or failure.
type RebalanceResult struct {
	Success  bool       `json:"success"`
	Digest   string     `json:"digest,omitempty"`
	Message  string     `json:"message,omitempty"`
	OldRange *TickRange `json:"old_range,omitempty"`
	NewRange *TickRange `json:"new_range,omitempty"`
}

// FreedAmounts holds the token amounts returned to the wallet by a
// remove-liquidity transaction, as non-negative decimal strings. Derived
// per cycle, never stored.
type FreedAmounts struct {
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
}

// AmountAInt parses AmountA, defaulting to zero when absent or unparsable.
func (f FreedAmounts) AmountAInt() *big.Int {
	return parseAmount(f.AmountA)
}

// AmountBInt parses AmountB, defaulting to zero when absent or unparsable.
func (f FreedAmounts) AmountBInt() *big.Int {
	return parseAmount(f.AmountB)
}

func parseAmount(s string) *big.Int {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return new(big.Int)
	}
	return amount
}

// CycleRecord is the storage representation of one finished cycle.
type CycleRecord struct {
	PoolAddress string `json:"pool_address"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	NoOp        bool   `json:"no_op"`
	Success     bool   `json:"success"`
	Digest      string `json:"digest,omitempty"`
	Message     string `json:"message,omitempty"`
	OldLower    *int32 `json:"old_lower,omitempty"`
	OldUpper    *int32 `json:"old_upper,omitempty"`
	NewLower    *int32 `json:"new_lower,omitempty"`
	NewUpper    *int32 `json:"new_upper,omitempty"`
}

// NewCycleRecord flattens a cycle result into its storage form. A nil result
// is recorded as a no-op.
func NewCycleRecord(pool string, startedAt, finishedAt time.Time, res *RebalanceResult) CycleRecord {
	rec := CycleRecord{
		PoolAddress: pool,
		StartedAt:   startedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:  finishedAt.UTC().Format(time.RFC3339Nano),
	}
	if res == nil {
		rec.NoOp = true
		return rec
	}
	rec.Success = res.Success
	rec.Digest = res.Digest
	rec.Message = res.Message
	if res.OldRange != nil {
		rec.OldLower = &res.OldRange.Lower
		rec.OldUpper = &res.OldRange.Upper
	}
	if res.NewRange != nil {
		rec.NewLower = &res.NewRange.Lower
		rec.NewUpper = &res.NewRange.Upper
	}
	return rec
}
