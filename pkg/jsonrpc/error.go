package jsonrpc

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes. Codes outside these are application defined.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

var (
	// ErrInvalidResponse is returned when a reply cannot be interpreted.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrMismatchedID is returned when a reply answers a different request.
	ErrMismatchedID = errors.New("response id does not match request id")
)

// Error is a JSON-RPC error object returned by the remote side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError builds an error object.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsServerError reports whether the code lies in the implementation-defined server range.
func (e *Error) IsServerError() bool {
	return e.Code >= CodeServerErrorMin && e.Code <= CodeServerErrorMax
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
