package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

// Subscription is a server-side subscription tracked by a WebsocketTransport.
// Its ID changes when the transport resubscribes after a reconnect.
type Subscription struct {
	method string
	params []any

	mu    sync.RWMutex
	id    string
	rawID any
	req   jsonrpc.Request

	ch        chan json.RawMessage
	closeOnce sync.Once
}

func newSubscription(req jsonrpc.Request, buffer int) *Subscription {
	return &Subscription{
		method: req.Method,
		params: req.Params,
		req:    req,
		ch:     make(chan json.RawMessage, buffer),
	}
}

// ID returns the current server-assigned subscription ID.
func (s *Subscription) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Method returns the subscribe method.
func (s *Subscription) Method() string { return s.method }

// Params returns the subscribe parameters.
func (s *Subscription) Params() []any { return s.params }

// Request returns the subscribe request most recently sent for this subscription.
func (s *Subscription) Request() jsonrpc.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.req
}

// Notifications delivers the "result" of every notification routed to this
// subscription. The channel is closed on unsubscribe or when the transport is disposed.
func (s *Subscription) Notifications() <-chan json.RawMessage { return s.ch }

func (s *Subscription) assign(req jsonrpc.Request, id string, rawID any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req, s.id, s.rawID = req, id, rawID
}

func (s *Subscription) wireID() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawID
}

// deliver hands a notification to the consumer without blocking. It reports false
// when the buffer is full and the notification was dropped.
func (s *Subscription) deliver(result json.RawMessage) bool {
	select {
	case s.ch <- result:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// subscriptionID extracts the subscription ID from a subscribe reply. The result must
// be a non-null string or number. rawID keeps the wire type for the unsubscribe call.
func subscriptionID(res jsonrpc.Response) (id string, rawID any, err error) {
	if res.IsNullResult() {
		return "", nil, fmt.Errorf("%w: subscribe returned no subscription id", ErrInvalidResponse)
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(res.Result))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	switch id := v.(type) {
	case string:
		if id == "" {
			return "", nil, fmt.Errorf("%w: empty subscription id", ErrInvalidResponse)
		}
		return id, id, nil
	case json.Number:
		return id.String(), id, nil
	default:
		return "", nil, fmt.Errorf("%w: subscription id must be a string or number, got %T", ErrInvalidResponse, v)
	}
}

// unsubscribeAck interprets an unsubscribe reply. Only a JSON boolean is accepted.
func unsubscribeAck(res jsonrpc.Response) error {
	var ack bool
	if res.IsNullResult() || json.Unmarshal(res.Result, &ack) != nil {
		return fmt.Errorf("%w: unsubscribe result must be a boolean, got %s", ErrInvalidResponse, res.Result)
	}
	if !ack {
		return ErrUnsubscribeNotAcknowledged
	}
	return nil
}
