package aioring

import (
	"syscall"

	"github.com/ioplex/aioring/internal/aerr"
)

// Code is the high-level error category surfaced by this package.
type Code = aerr.Code

const (
	CodeInvalidArgument = aerr.CodeInvalidArgument
	CodeBadAddress      = aerr.CodeBadAddress
	CodeBadHandle       = aerr.CodeBadHandle
	CodeBadDescriptor   = aerr.CodeBadDescriptor
	CodeTryAgain        = aerr.CodeTryAgain
	CodeOutOfMemory     = aerr.CodeOutOfMemory
	CodeInterrupted     = aerr.CodeInterrupted
	CodeInProgress      = aerr.CodeInProgress
)

// Error is a structured error carrying the operation, the handle it
// occurred on, and an optional wrapped cause.
type Error = aerr.Error

// NewError creates a structured error without a wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return aerr.New(op, code, msg)
}

// NewHandleError creates a structured error scoped to a handle.
func NewHandleError(op string, handle Handle, code Code, msg string) *Error {
	return aerr.NewHandle(op, uint64(handle), code, msg)
}

// WrapErrno wraps a syscall errno, mapping it to the nearest Code.
func WrapErrno(op string, errno syscall.Errno) *Error {
	return aerr.WrapErrno(op, errno)
}

// IsCode reports whether err (or something it wraps) is an *Error with
// the given Code.
func IsCode(err error, code Code) bool {
	return aerr.IsCode(err, code)
}

// Sentinel errors for the handful of cases callers compare directly
// rather than through IsCode.
var (
	ErrBadHandle    = NewError("lookup", CodeBadHandle, "handle does not resolve to a live context")
	ErrTryAgain     = NewError("reserve", CodeTryAgain, "no admission slots available")
	ErrInProgress   = NewError("cancel", CodeInProgress, "cancellation initiated")
	ErrNotCancelled = NewError("cancel", CodeInvalidArgument, "request is not cancellable")
)
