package yamux

import (
	"errors"
	"fmt"
)

// Code classifies why a connection or stream-level operation failed, per
// the protocol.
type Code int

const (
	// CodeClosed means the connection is already closed.
	CodeClosed Code = iota
	// CodeIO means the underlying transport failed (read, write, or
	// decode).
	CodeIO
	// CodeProtocol means the remote violated the wire protocol.
	CodeProtocol
	// CodeInternal means we could not honor a remote request ourselves
	// (e.g. our own stream table is full).
	CodeInternal
	// CodeTooManyStreams is returned from OpenStream; the connection
	// stays Active.
	CodeTooManyStreams
	// CodeNoMoreStreamIds means the local stream-id space is exhausted;
	// the connection stays Active but cannot open further streams.
	CodeNoMoreStreamIds
)

func (c Code) String() string {
	switch c {
	case CodeClosed:
		return "closed"
	case CodeIO:
		return "io"
	case CodeProtocol:
		return "protocol error"
	case CodeInternal:
		return "internal error"
	case CodeTooManyStreams:
		return "too many streams"
	case CodeNoMoreStreamIds:
		return "no more stream ids"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the concrete error type returned by this package. It carries a
// Code so callers can branch on failure category with errors.As, and
// wraps an underlying cause where one exists.
type Error struct {
	Code  Code
	cause error
}

func newError(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("yamux: %s: %v", e.Code, e.cause)
	}
	return "yamux: " + e.Code.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, ErrClosed) against the sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Sentinel errors for errors.Is comparisons. Only Code is significant for
// equality; the wrapped cause is not compared.
var (
	ErrClosed          = &Error{Code: CodeClosed}
	ErrTooManyStreams  = &Error{Code: CodeTooManyStreams}
	ErrNoMoreStreamIds = &Error{Code: CodeNoMoreStreamIds}
	ErrProtocol        = &Error{Code: CodeProtocol}
	ErrInternal        = &Error{Code: CodeInternal}
)

func protocolErr(format string, args ...interface{}) *Error {
	return newError(CodeProtocol, fmt.Errorf(format, args...))
}

func internalErr(format string, args ...interface{}) *Error {
	return newError(CodeInternal, fmt.Errorf(format, args...))
}

func ioErr(cause error) *Error {
	return newError(CodeIO, cause)
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// otherwise returns CodeIO for a non-nil err and a false ok.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return CodeIO, false
}
