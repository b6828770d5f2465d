// Package transport carries JSON-RPC 2.0 calls to a remote server.
//
// Two implementations share the Transport interface:
//
//   - HTTPTransport posts one request per call and has no notion of a connection.
//   - WebsocketTransport keeps a persistent socket, supervises it through a
//     reconnecting state machine and supports subscriptions and server notifications.
//
// Both run every request through the request pipeline of an optional
// middleware.Registry before it is written, and every reply through the response
// pipeline before it is returned. A JSON-RPC error object in a reply is returned as
// *jsonrpc.Error together with the response.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

// Transport is the connection-agnostic call surface used by domain clients.
type Transport interface {
	// NewRequest builds a request carrying the next ID of this transport.
	NewRequest(method string, params ...any) jsonrpc.Request
	// Send delivers req and waits for its reply.
	Send(ctx context.Context, req jsonrpc.Request, opts ...CallOption) (jsonrpc.Response, error)
	// Subscribe sends a subscribe request and tracks the resulting subscription.
	Subscribe(ctx context.Context, req jsonrpc.Request) (*Subscription, error)
	// Unsubscribe cancels the subscription id using the given unsubscribe method.
	Unsubscribe(ctx context.Context, method, id string) error
	// ClearSubscriptions cancels every tracked subscription.
	ClearSubscriptions(ctx context.Context, method string) error
	// Close releases the transport. Pending calls fail.
	Close() error
}

// CallOption tweaks a single call.
type CallOption func(*callOptions)

type callOptions struct {
	header  http.Header
	timeout time.Duration
}

// WithHeader adds an HTTP header to this call only. Socket transports ignore it.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// WithTimeout overrides the transport's timeout for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
