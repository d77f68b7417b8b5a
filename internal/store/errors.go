package store

import "errors"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	// Batch operations skip missing entries instead of returning it.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional write loses a race,
	// e.g. claiming a person that another call just claimed.
	ErrConflict = errors.New("write conflict")

	// ErrInvalidInput is returned for malformed arguments such as an
	// embedding with the wrong dimensionality.
	ErrInvalidInput = errors.New("invalid input")
)
