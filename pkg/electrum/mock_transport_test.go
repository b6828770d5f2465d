package electrum_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

// MockHandler answers one method. A *jsonrpc.Error becomes an error reply; any other
// error is returned by Send as a transport failure.
type MockHandler func(params []any) (any, error)

var _ transport.Transport = (*MockTransport)(nil)

// MockTransport routes requests to registered handlers without a network.
type MockTransport struct {
	ids *jsonrpc.IDGenerator

	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []jsonrpc.Request
}

func NewMockTransport() *MockTransport {
	t := &MockTransport{
		ids:      jsonrpc.NewIDGenerator(),
		handlers: make(map[string]MockHandler),
	}
	t.Handle("server.version", func([]any) (any, error) {
		return []string{"ElectrumX 1.16.0", "1.4"}, nil
	})
	return t
}

func (t *MockTransport) Handle(method string, h MockHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = h
}

// Calls returns every request sent, excluding the handshake.
func (t *MockTransport) Calls() []jsonrpc.Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []jsonrpc.Request
	for _, c := range t.calls {
		if c.Method != "server.version" {
			out = append(out, c)
		}
	}
	return out
}

func (t *MockTransport) NewRequest(method string, params ...any) jsonrpc.Request {
	return t.ids.NewRequest(method, params...)
}

func (t *MockTransport) Send(ctx context.Context, req jsonrpc.Request, _ ...transport.CallOption) (jsonrpc.Response, error) {
	if err := ctx.Err(); err != nil {
		return jsonrpc.Response{}, err
	}

	t.mu.Lock()
	t.calls = append(t.calls, req)
	h, ok := t.handlers[req.Method]
	t.mu.Unlock()

	if !ok {
		rpcErr := jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "unknown method %s", req.Method)
		return jsonrpc.NewErrorResponse(req.ID, rpcErr), rpcErr
	}

	result, err := h(req.Params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return jsonrpc.NewErrorResponse(req.ID, rpcErr), rpcErr
		}
		return jsonrpc.Response{}, err
	}
	if raw, ok := result.(json.RawMessage); ok {
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: raw}, nil
	}
	return jsonrpc.NewResult(req.ID, result)
}

func (t *MockTransport) Subscribe(context.Context, jsonrpc.Request) (*transport.Subscription, error) {
	return nil, transport.ErrSubscriptionsUnsupported
}

func (t *MockTransport) Unsubscribe(context.Context, string, string) error {
	return transport.ErrSubscriptionsUnsupported
}

func (t *MockTransport) ClearSubscriptions(context.Context, string) error { return nil }

func (t *MockTransport) Close() error { return nil }

// MockSocket adds connection events and notifications to MockTransport.
type MockSocket struct {
	*MockTransport

	evMu      sync.Mutex
	ready     bool
	nextID    int
	listeners map[int]mockEventHandler
}

type mockEventHandler struct {
	event transport.Event
	fn    transport.EventHandler
}

func NewMockSocket(ready bool) *MockSocket {
	return &MockSocket{
		MockTransport: NewMockTransport(),
		ready:         ready,
		listeners:     make(map[int]mockEventHandler),
	}
}

func (s *MockSocket) Ready() bool {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	return s.ready
}

func (s *MockSocket) OnEvent(e transport.Event, fn transport.EventHandler) func() {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = mockEventHandler{event: e, fn: fn}
	return func() {
		s.evMu.Lock()
		defer s.evMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *MockSocket) OnNotification(method string, fn func(json.RawMessage)) func() {
	return s.OnEvent(transport.EventNotification, func(info transport.EventInfo) {
		if info.Method == method {
			fn(info.Params)
		}
	})
}

// Emit delivers info to every handler registered for its event.
func (s *MockSocket) Emit(info transport.EventInfo) {
	s.evMu.Lock()
	switch info.Event {
	case transport.EventReady:
		s.ready = true
	case transport.EventDisconnected, transport.EventClosed, transport.EventDisposed:
		s.ready = false
	}
	var fns []transport.EventHandler
	for _, h := range s.listeners {
		if h.event == info.Event {
			fns = append(fns, h.fn)
		}
	}
	s.evMu.Unlock()

	for _, fn := range fns {
		fn(info)
	}
}

// Notify publishes a server notification.
func (s *MockSocket) Notify(method string, params ...any) {
	raw, _ := json.Marshal(params)
	s.Emit(transport.EventInfo{Event: transport.EventNotification, Method: method, Params: raw})
}
