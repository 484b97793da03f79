package types

import "errors"

// Error taxonomy shared by the allocation packages. Callers test with errors.Is.
var (
	// ErrInvalidInput marks malformed, negative or non-finite numeric input.
	// The whole operation is rejected.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOperation marks a request that is well-formed but cannot be
	// applied to the current state (unknown point, locked market, ...).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvariantViolation marks weights that still do not sum to one after
	// the final renormalization pass.
	ErrInvariantViolation = errors.New("invariant violation")
)
