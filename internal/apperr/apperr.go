// Package apperr defines the error taxonomy reported to callers of the
// calendar operations. Every failure surfaces as exactly one code and message.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

// Error codes
const (
	CodeInvalidArgument Code = "400"
	CodeNotFound        Code = "404"
	CodeNotAllowed      Code = "405"
	CodeNotAuthorized   Code = "401"
	CodeGeneric         Code = "500"
)

const NotAuthorizedMessage = "The user has not allowed this application to modify their calendar(s)"

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeNotAllowed:
		return "NotAllowed"
	case CodeNotAuthorized:
		return "NotAuthorized"
	default:
		return "Generic"
	}
}

// Error is a coded failure. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err, apperr.ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrNotAllowed      = &Error{Code: CodeNotAllowed}
	ErrNotAuthorized   = &Error{Code: CodeNotAuthorized}
	ErrGeneric         = &Error{Code: CodeGeneric}
)

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NotAllowed(format string, args ...any) *Error {
	return &Error{Code: CodeNotAllowed, Message: fmt.Sprintf(format, args...)}
}

func NotAuthorized() *Error {
	return &Error{Code: CodeNotAuthorized, Message: NotAuthorizedMessage}
}

// Generic wraps a provider failure, keeping its native message.
func Generic(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeGeneric, Message: err.Error(), Err: err}
}

// CodeOf returns the taxonomy code for err. Errors outside the taxonomy are Generic.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeGeneric
}

// Reply splits err into the (code, message) pair delivered to callers.
func Reply(err error) (Code, string) {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Message != "" {
			return ae.Code, ae.Message
		}
		if ae.Err != nil {
			return ae.Code, ae.Err.Error()
		}
		return ae.Code, ae.Code.String()
	}
	return CodeGeneric, err.Error()
}

// Wrap converts err into a Generic failure unless it already carries a code.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Generic(err)
}
