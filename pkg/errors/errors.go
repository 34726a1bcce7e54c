package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrInternal
	ErrSlotConflict
	ErrInvalidTransition
	ErrPreconditionFailed
	ErrTreatmentUnavailable
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf returns the error's code, or ErrInternal when err is not an
// AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    ErrUnauthorized,
		Message: message,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// SlotConflict marks an interval overlap with an existing reservation.
// Nothing was booked; the caller may retry with a different slot.
func SlotConflict(message string) *AppError {
	if message == "" {
		message = "requested time slot conflicts with an existing reservation"
	}
	return &AppError{
		Code:    ErrSlotConflict,
		Message: message,
	}
}

// InvalidTransition marks a status change not reachable from the
// current state.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// PreconditionFailed marks a transition whose business precondition is
// not met, e.g. completing an appointment with no clinical record.
func PreconditionFailed(message string) *AppError {
	return &AppError{
		Code:    ErrPreconditionFailed,
		Message: message,
	}
}

// TreatmentUnavailable marks a treatment not offered or not currently
// available at the target branch.
func TreatmentUnavailable(message string) *AppError {
	if message == "" {
		message = "treatment is not available at this branch"
	}
	return &AppError{
		Code:    ErrTreatmentUnavailable,
		Message: message,
	}
}
