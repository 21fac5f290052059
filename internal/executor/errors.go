package executor

import "errors"

// Precondition failures: all fail fast, before any transaction submission.
var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrInsufficientBalance   = errors.New("insufficient balance: no tokens available to deploy")
	ErrTickOutOfRange        = errors.New("current tick moved outside the target range")
	ErrZeroLiquidityEstimate = errors.New("configured amount would mint zero liquidity at the current price")
)
