package unit

import "errors"

// Domain errors for the unit package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, unit.ErrUnknownUnit) {
//	    // handle not found case
//	}
var (
	// ErrUnknownUnit is returned when a unit ID does not exist in the
	// registry.
	ErrUnknownUnit = errors.New("unit: unknown unit")

	// ErrUnsupportedOperation is returned when a command targets a
	// capability the unit does not have.
	ErrUnsupportedOperation = errors.New("unit: unsupported operation")

	// ErrCommandInFlight is returned when a unit already has a pending
	// command awaiting confirmation.
	ErrCommandInFlight = errors.New("unit: command in flight")

	// ErrInvalidCommand is returned when a command carries an invalid or
	// out-of-range value.
	ErrInvalidCommand = errors.New("unit: invalid command")
)
