package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidState     = errors.New("invalid state for operation")
	ErrNoWallet         = errors.New("no suitable wallet")
	ErrDailyLimit       = errors.New("daily limit exceeded")
	ErrSimulationFailed = errors.New("simulation failed")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrReverted         = errors.New("transaction reverted")
	ErrConfirmTimeout   = errors.New("confirmation timed out")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrSigningFailed    = errors.New("signing failed")
	ErrLockHeld         = errors.New("lock already held")
	ErrContextDone      = errors.New("context cancelled")
)
