package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyCompleted is returned when a (user, activity) pair was already awarded.
	ErrAlreadyCompleted = errors.New("activity already completed")
	// ErrNotRanked is returned when a user has no record in the requested partition.
	ErrNotRanked = errors.New("user not ranked in partition")
	// ErrInvalidInput is returned for out-of-range scores, times, deltas or ids.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable wraps persistence failures that callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnauthorized is returned when an administrative call lacks a valid capability.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned by stores when a profile or completion does not exist.
	ErrNotFound = errors.New("not found")
)

// AlreadyCompletedError carries the existing completion so callers can
// repair downstream writes without re-awarding points.
type AlreadyCompletedError struct {
	Existing CompletionRecord
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("activity %s already completed by %s", e.Existing.ActivityID, e.Existing.UserID)
}

func (e *AlreadyCompletedError) Is(target error) bool { return target == ErrAlreadyCompleted }

// InputError names the offending field of a rejected request.
type InputError struct {
	Field  string
	Reason string
}

// NewInputError builds an InputError matching ErrInvalidInput.
func NewInputError(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// StorageError wraps a persistence failure so it matches ErrStorageUnavailable
// while keeping the driver error reachable through errors.Unwrap.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *storageError) Unwrap() error { return e.err }

func (e *storageError) Is(target error) bool { return target == ErrStorageUnavailable }
