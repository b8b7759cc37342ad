package statesync

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("state validation failed")
	// ErrSerialization matches any *SerializationError.
	ErrSerialization = errors.New("state serialization failed")
)

// ValidationError reports a payload that does not match its state schema.
type ValidationError struct {
	// Field is the first offending key.
	Field string
	// Reason describes the mismatch.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SerializationError reports a payload that could not be converted or
// processed. Err carries the cause, which may itself be a *ValidationError.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", ErrSerialization, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSerialization, e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSerialization) succeed.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

func isValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func isSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}
