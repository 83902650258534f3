package synth

import "fmt"

// Errors
var (
	ErrZeroAmount            = fmt.Errorf("zero amount")
	ErrInvalidInput          = fmt.Errorf("invalid input")
	ErrInsufficientLiquidity = fmt.Errorf("insufficient liquidity")
	ErrUtilizationExceeded   = fmt.Errorf("utilization exceeded")
	ErrExceedsDebt           = fmt.Errorf("repay exceeds debt")
	ErrInsufficientBalance   = fmt.Errorf("insufficient balance")
	ErrNoSupply              = fmt.Errorf("no supply")
	ErrSlippageExceeded      = fmt.Errorf("slippage exceeded")
	ErrInvalidPrice          = fmt.Errorf("invalid price")
	ErrStalePrice            = fmt.Errorf("stale price")
	ErrTooSoon               = fmt.Errorf("too soon")
	ErrUnauthorized          = fmt.Errorf("unauthorized")
	ErrPaused                = fmt.Errorf("paused")
)
