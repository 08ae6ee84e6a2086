// Package aerr holds the structured error type shared by the root package
// and internal/dispatch, split out so dispatch can construct errors
// without importing the root package (which itself imports dispatch).
package aerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error category surfaced by this module, an
// abstract kind independent of any particular errno.
type Code string

const (
	CodeInvalidArgument Code = "invalid argument"
	CodeBadAddress      Code = "bad address"
	CodeBadHandle       Code = "bad handle"
	CodeBadDescriptor   Code = "bad descriptor"
	CodeTryAgain        Code = "try again"
	CodeOutOfMemory     Code = "out of memory"
	CodeInterrupted     Code = "interrupted"
	CodeInProgress      Code = "in progress"
)

// Error is a structured error carrying the operation, an optional handle,
// and an optional wrapped cause.
type Error struct {
	Op     string
	Handle uint64 // 0 if not applicable
	Code   Code
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Handle != 0 {
		return fmt.Sprintf("aioring: %s (op=%s handle=%#x)", msg, e.Op, e.Handle)
	}
	if e.Op != "" {
		return fmt.Sprintf("aioring: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("aioring: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error without a wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewHandle creates a structured error scoped to a handle.
func NewHandle(op string, handle uint64, code Code, msg string) *Error {
	return &Error{Op: op, Handle: handle, Code: code, Msg: msg}
}

// WrapErrno wraps a syscall errno, mapping it to the nearest Code.
func WrapErrno(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: MapErrno(errno), Errno: errno, Msg: errno.Error()}
}

// MapErrno maps a raw errno to the nearest abstract Code.
func MapErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.EFAULT:
		return CodeBadAddress
	case syscall.EBADF:
		return CodeBadDescriptor
	case syscall.EAGAIN:
		return CodeTryAgain
	case syscall.ENOMEM:
		return CodeOutOfMemory
	case syscall.EINTR:
		return CodeInterrupted
	default:
		return CodeInvalidArgument
	}
}

// IsCode reports whether err (or something it wraps) is an *Error with
// the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
