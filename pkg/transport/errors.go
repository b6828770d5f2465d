package transport

import (
	"errors"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

// Transport errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionLost   = errors.New("connection lost")
	ErrConnectionClosed = errors.New("connection closed")
	ErrDisposed         = errors.New("transport disposed")
	ErrTimeout          = errors.New("request timed out")
	ErrDial             = errors.New("error dialing server")
	ErrProtocol         = errors.New("unparseable frame")
	ErrEncodingRequest  = errors.New("error encoding request")
	ErrSendingRequest   = errors.New("error sending request")
	ErrHTTPStatus       = errors.New("unexpected http status")
)

// Subscription errors
var (
	ErrSubscriptionsUnsupported   = errors.New("subscriptions are not supported by this transport")
	ErrUnknownSubscription        = errors.New("unknown subscription")
	ErrUnsubscribeNotAcknowledged = errors.New("unsubscribe not acknowledged")
	ErrResubscribeFailed          = errors.New("resubscribe failed")
)

// Validation errors, shared with the jsonrpc package so errors.Is works across both.
var (
	ErrInvalidResponse = jsonrpc.ErrInvalidResponse
	ErrMismatchedID    = jsonrpc.ErrMismatchedID
)

// IsConnectionError reports whether err means the socket could not be used, as
// opposed to a protocol or validation failure.
func IsConnectionError(err error) bool {
	for _, target := range []error{ErrNotConnected, ErrConnectionLost, ErrConnectionClosed, ErrDial, ErrDisposed, ErrSendingRequest} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRPCError(err error) bool {
	_, ok := jsonrpc.AsError(err)
	return ok
}
