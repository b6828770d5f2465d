package channel

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

var (
	// ErrRateLimited is returned by Request when every request ID is in use.
	ErrRateLimited = errors.New("too many pending requests")
	// ErrDisposed rejects requests pending when the channel was disposed.
	ErrDisposed = errors.New("request rejected by user: channel disposed")
	// ErrTransportClosed rejects requests pending when the transport went away.
	ErrTransportClosed = errors.New("channel transport closed")
)

// RemoteError is an error produced by the handler on the other side of a channel.
// It is a plain value; the handler's error value never crosses the boundary.
type RemoteError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    *int   `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("remote error %d: %s", *e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// flatten turns err into a RemoteError. The stack is taken from err when it carries
// one, otherwise it is recorded here. Code and data come from a *jsonrpc.Error in the
// chain.
func flatten(err error) *RemoteError {
	re := &RemoteError{Message: err.Error()}

	var traced stackTracer
	if !errors.As(err, &traced) {
		traced = pkgerrors.WithStack(err).(stackTracer)
	}
	re.Stack = fmt.Sprintf("%+v", traced.StackTrace())

	if rpcErr, ok := jsonrpc.AsError(err); ok {
		code := rpcErr.Code
		re.Code = &code
		re.Data = rpcErr.Data
	}
	return re
}
