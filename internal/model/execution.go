package model

import (
	"math/big"
	"strings"
)

// Execution statuses reported by the chain client.
const (
	ExecutionSuccess = "success"
	ExecutionFailure = "failure"
)

// BalanceChange is one signed wallet-balance delta attributed to a
// transaction. Amount is a signed decimal string.
type BalanceChange struct {
	Owner    string `json:"owner"`
	CoinType string `json:"coin_type"`
	Amount   string `json:"amount"`
}

// AmountInt parses the signed amount, defaulting to zero when unparsable.
func (b BalanceChange) AmountInt() *big.Int {
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return amount
}

// GasSummary breaks down the gas cost of an executed transaction.
type GasSummary struct {
	Computation   string `json:"computation"`
	StorageCost   string `json:"storage_cost"`
	StorageRebate string `json:"storage_rebate"`
}

// Total returns computation + storage - rebate, clamped at zero.
func (g GasSummary) Total() *big.Int {
	total := parseAmount(g.Computation)
	total.Add(total, parseAmount(g.StorageCost))
	total.Sub(total, parseAmount(g.StorageRebate))
	if total.Sign() < 0 {
		return new(big.Int)
	}
	return total
}

// ExecutionResult is the outcome of a signed and submitted transaction.
type ExecutionResult struct {
	Status         string          `json:"status"`
	Digest         string          `json:"digest"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	BalanceChanges []BalanceChange `json:"balance_changes,omitempty"`
	Gas            *GasSummary     `json:"gas,omitempty"`
}

// Succeeded reports whether the transaction executed successfully.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == ExecutionSuccess
}

// NormalizeCoinType canonicalizes a token type identifier for comparison:
// lower-cased, 0x prefix dropped, leading zeros stripped.
func NormalizeCoinType(coinType string) string {
	s := strings.ToLower(strings.TrimSpace(coinType))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// SameCoinType reports whether two token type identifiers refer to the same
// token under normalization.
func SameCoinType(a, b string) bool {
	return NormalizeCoinType(a) == NormalizeCoinType(b)
}
