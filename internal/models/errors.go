package models

import "errors"

// Ledger errors are returned to callers untouched; activity errors stay internal.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrValidation        = errors.New("validation error")

	// ErrSerializationConflict is retryable and never leaves the repository layer
	// unless the retry budget is exhausted.
	ErrSerializationConflict = errors.New("serialization conflict")

	ErrEphemeralUnavailable = errors.New("ephemeral store unavailable")
	ErrDurableUnavailable   = errors.New("durable store unavailable")
)
