package booking

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrStoreTimeout   = errors.New("store call timed out")

	// ErrConflict is returned by a Store when the requested time is already taken.
	ErrConflict = errors.New("time slot conflict")

	// ErrStaleState is returned by a Store when a conditional write finds the appointment
	// no longer in the expected state.
	ErrStaleState = errors.New("appointment changed concurrently")

	// ErrDateClosed is returned by a Store write that finds the date closed. It covers a
	// closure committed after the engine's own closed-date check.
	ErrDateClosed = errors.New("date is closed")

	// ErrInvalidRescheduleLink covers every reason a reschedule link is refused, so callers
	// cannot tell a forged token from an unknown or already used appointment.
	ErrInvalidRescheduleLink = errors.New("reschedule link is invalid or expired")
)

// ConflictError names the appointment a write collided with, when the store knows it.
type ConflictError struct {
	AppointmentID string
}

func (e *ConflictError) Error() string {
	if e.AppointmentID == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s with appointment %s", ErrConflict, e.AppointmentID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func conflictingID(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.AppointmentID
	}
	return ""
}
