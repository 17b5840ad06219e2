package types

import "errors"

var (
	// ErrPrecondition marks a violated input contract: mismatched lengths, empty
	// series, or context missing for a requested feature.
	ErrPrecondition = errors.New("precondition violated")

	// ErrNotImplemented marks a declared feature that is not supported yet.
	ErrNotImplemented = errors.New("not implemented")

	// ErrConflictingOptions marks mutually exclusive options set together.
	ErrConflictingOptions = errors.New("conflicting options")
)
