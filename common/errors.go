package common

import "errors"

// Every failure an engine reports wraps one of these sentinels, so callers
// can branch with errors.Is regardless of the message detail.
var (
	// Validation failures (malformed parameters, zero amounts, batch shape).
	ErrInvalidParams  = errors.New("invalid parameters")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRatio   = errors.New("invalid claim ratio")
	ErrInvalidWindow  = errors.New("invalid block window")
	ErrLengthMismatch = errors.New("length mismatch")

	// Registry lookups.
	ErrNotFound  = errors.New("entitlement not found")
	ErrDuplicate = errors.New("entitlement already exists")

	// State machine violations.
	ErrInvalidState     = errors.New("invalid state for operation")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrLockupNotElapsed = errors.New("lockup period not elapsed")

	// Time/block window gating.
	ErrNotStarted = errors.New("not started")
	ErrEnded      = errors.New("ended")

	// Access control.
	ErrUnauthorized = errors.New("unauthorized")

	// Sale pool and ledger funding.
	ErrInsufficientPool  = errors.New("insufficient sale pool")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Arithmetic that would wrap around 256 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)
