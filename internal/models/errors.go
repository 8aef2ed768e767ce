package models

import "errors"

// Settlement and withdrawal error kinds. Handlers map these to HTTP statuses
// and machine-readable kind strings; anything else is an internal error.
var (
	ErrNoActiveCommitment  = errors.New("no active commitment")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidStake        = errors.New("invalid stake")
	ErrServiceDisabled     = errors.New("instant withdrawals are disabled")
	ErrUserNotFound        = errors.New("user not found")
)
