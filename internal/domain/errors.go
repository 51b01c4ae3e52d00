package domain

import "errors"

// Sentinel errors for the exchange core. Every operation aborts with one of
// these in full; callers resubmit a corrected transaction rather than
// retrying.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)
