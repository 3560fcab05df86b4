package engine

import "errors"

// Domain errors for the engine package. Unit-level errors (unknown unit,
// unsupported operation, command in flight) live in the unit package;
// session errors live in the cloud package.
var (
	// ErrCommandSubmissionFailed is returned when a command could not be
	// delivered to the cloud. No optimistic state change happens in this
	// case; the registry still reflects the last observed state.
	ErrCommandSubmissionFailed = errors.New("engine: command submission failed")
)
