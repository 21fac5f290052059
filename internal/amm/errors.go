package amm

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// The router signals failures through formatted revert strings; these are the
// documented patterns the retry loops key their decisions off.
const (
	// revertPrefix marks a contract-level abort in the execution error detail.
	revertPrefix = "execution reverted"

	// abortZeroLiquidity is the one contract abort the add-liquidity retry
	// loop treats as recoverable: a transient amount/ratio mismatch that
	// per-attempt re-capping can fix.
	abortZeroLiquidity = "zap: zero liquidity minted"

	// Transport-level submission errors considered transient by the removal
	// retry loop.
	msgNonceTooLow            = "nonce too low"
	msgReplacementUnderpriced = "replacement transaction underpriced"
	msgAlreadyKnown           = "already known"
	msgTxIndexing             = "transaction indexing is in progress"
)

// shortfallPattern matches the router's missing-token abort, e.g.
// "zap: insufficient input 0xAb..., expected 1500".
var shortfallPattern = regexp.MustCompile(`zap: insufficient input (0x[0-9a-fA-F]+), expected ([0-9]+)`)

// ContractAbortError is an explicit, named protocol rejection reported by the
// router. Non-retryable except for the zero-liquidity abort.
type ContractAbortError struct {
	Reason string
	Digest string
}

func (e *ContractAbortError) Error() string {
	return fmt.Sprintf("contract abort: %s (tx %s)", e.Reason, e.Digest)
}

// ZeroLiquidity reports whether this abort is the recoverable
// zero-liquidity-computed rejection.
func (e *ContractAbortError) ZeroLiquidity() bool {
	return strings.Contains(e.Reason, abortZeroLiquidity)
}

// ShortfallError is the router's "insufficient input for token X, expected N"
// abort. The deployment executor may answer it with one corrective swap.
type ShortfallError struct {
	CoinType string
	Expected *big.Int
	Digest   string
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("contract abort: insufficient input %s, expected %s (tx %s)", e.CoinType, e.Expected, e.Digest)
}

// ParseExecutionError classifies a failed execution's error detail into the
// taxonomy the retry loops operate on. Unrecognized details come back as
// plain errors, which the deployment loop treats as retryable.
func ParseExecutionError(detail, digest string) error {
	if m := shortfallPattern.FindStringSubmatch(detail); m != nil {
		expected, ok := new(big.Int).SetString(m[2], 10)
		if !ok {
			expected = new(big.Int)
		}
		return &ShortfallError{CoinType: m[1], Expected: expected, Digest: digest}
	}
	if strings.Contains(detail, revertPrefix) {
		reason := strings.TrimSpace(strings.TrimPrefix(detail, revertPrefix))
		reason = strings.TrimPrefix(reason, ":")
		return &ContractAbortError{Reason: strings.TrimSpace(reason), Digest: digest}
	}
	return fmt.Errorf("transaction failed: %s (tx %s)", detail, digest)
}

// IsContractAbort reports whether err is a named protocol rejection
// (shortfalls included).
func IsContractAbort(err error) bool {
	var abort *ContractAbortError
	if errors.As(err, &abort) {
		return true
	}
	var shortfall *ShortfallError
	return errors.As(err, &shortfall)
}

// IsStaleVersion reports a submission rejected because local state lagged the
// chain (nonce already consumed or superseded).
func IsStaleVersion(err error) bool {
	return containsAny(err, msgNonceTooLow, msgReplacementUnderpriced)
}

// IsPendingTransaction reports a submission rejected because a previous
// transaction is still settling.
func IsPendingTransaction(err error) bool {
	return containsAny(err, msgAlreadyKnown, msgTxIndexing)
}

func containsAny(err error, patterns ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
