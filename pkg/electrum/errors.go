package electrum

import (
	"errors"
	"fmt"

	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrFeeUnavailable = errors.New("fee estimate unavailable")
	ErrClientClosed   = errors.New("electrum client closed")
)

// ConnectionError reports that a call could not reach the server because the socket
// was not usable. Protocol and validation errors are never wrapped in it.
type ConnectionError struct {
	Method string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("electrum %s: connection error: %v", e.Method, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is, or wraps, a *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

func wrapConnectionError(method Method, err error) error {
	if err == nil || !transport.IsConnectionError(err) || IsConnectionError(err) {
		return err
	}
	return &ConnectionError{Method: method.String(), Err: err}
}
