package errors

import (
	"errors"
	"fmt"
)

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrIneligible marks a contact that cannot be scheduled right now.
	ErrIneligible = errors.New("contact not eligible for scheduling")
	// ErrDuplicate marks a contact that already holds a pending or processing entry.
	ErrDuplicate = fmt.Errorf("%w: contact already has an active queue entry", ErrIneligible)
	// ErrAdmissionDenied is returned when the calling window is closed.
	ErrAdmissionDenied = errors.New("outside calling window")
	// ErrNoWindow is returned when no admissible instant exists in the search horizon.
	ErrNoWindow = errors.New("no admissible calling window")
	// ErrDispatch wraps every failure reported by the call dispatch collaborator.
	ErrDispatch = errors.New("dispatch failed")
	// ErrExhausted marks an entry that used up its retry budget.
	ErrExhausted = errors.New("retry attempts exhausted")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported so callers need a single errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
