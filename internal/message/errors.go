package message

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// ErrorCode is the numeric code carried by an error body.
type ErrorCode int

const (
	CodeTimeout                ErrorCode = 0
	CodeNodeNotFound           ErrorCode = 1
	CodeNotSupported           ErrorCode = 10
	CodeTemporarilyUnavailable ErrorCode = 11
	CodeMalformedRequest       ErrorCode = 12
	CodeCrash                  ErrorCode = 13
	CodeAbort                  ErrorCode = 14
	CodeKeyDoesNotExist        ErrorCode = 20
	CodeKeyAlreadyExists       ErrorCode = 21
	CodePreconditionFailed     ErrorCode = 22
	CodeTxnConflict            ErrorCode = 30
	CodeOther                  ErrorCode = 999
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeNodeNotFound:
		return "node-not-found"
	case CodeNotSupported:
		return "not-supported"
	case CodeTemporarilyUnavailable:
		return "temporarily-unavailable"
	case CodeMalformedRequest:
		return "malformed-request"
	case CodeCrash:
		return "crash"
	case CodeAbort:
		return "abort"
	case CodeKeyDoesNotExist:
		return "key-does-not-exist"
	case CodeKeyAlreadyExists:
		return "key-already-exists"
	case CodePreconditionFailed:
		return "precondition-failed"
	case CodeTxnConflict:
		return "txn-conflict"
	case CodeOther:
		return "other"
	default:
		return fmt.Sprintf("code-%d", int(c))
	}
}

// RPCError is a handler failure that is reported back to the requester as an
// error body.
type RPCError struct {
	Code ErrorCode
	Text string
}

func NewRPCError(code ErrorCode, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Text: fmt.Sprintf(format, args...)}
}

func (e *RPCError) Error() string {
	if e.Text == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

// Body converts the error into a reply body.
func (e *RPCError) Body() *Error {
	return &Error{Code: e.Code, Text: e.Text}
}
