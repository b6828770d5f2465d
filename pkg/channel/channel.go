// Package channel runs request/response calls between two execution contexts that
// only exchange serialised frames, such as two processes on a unix socket or two
// components on an in-process broadcast bus.
//
// Requests carry an ID from a bounded pool. When every ID is in use, Request fails
// immediately with ErrRateLimited instead of queueing. Handler results and errors are
// converted to plain JSON values before they are sent back; errors become
// RemoteError values with their message, stack and optional code and data.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/rpccore/pkg/correlator"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
)

// Frame kinds.
const (
	KindRequest  = "request"
	KindResponse = "response"
)

// DefaultCapacity is the default number of request IDs.
const DefaultCapacity = 500

// Transport moves frames to the other side of a channel.
type Transport interface {
	// Send delivers one frame of the given kind.
	Send(ctx context.Context, kind string, data json.RawMessage) error
	// OnFrame sets the function that receives inbound frames. It is called from a
	// single goroutine in arrival order.
	OnFrame(fn func(kind string, data json.RawMessage))
	// Done is closed when the transport can no longer carry frames.
	Done() <-chan struct{}
	Close() error
}

// Handler answers one request. The returned value must be JSON encodable.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Config configures a Channel.
type Config struct {
	// Capacity bounds the number of requests in flight. Defaults to DefaultCapacity.
	Capacity int
	Logger   log.Logger
}

type requestEnvelope struct {
	ID   uint64 `json:"id"`
	Data any    `json:"data"`
}

type inboundRequest struct {
	ID   uint64          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type responseEnvelope struct {
	ID     uint64       `json:"id"`
	Result any          `json:"result,omitempty"`
	Error  *RemoteError `json:"error,omitempty"`
}

// Channel issues requests to, and answers requests from, the other side of a Transport.
type Channel struct {
	tr      Transport
	lg      log.Logger
	ids     *idPool
	pending *correlator.Correlator[uint64, responseEnvelope]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handler  Handler
	disposed bool
}

// New attaches a channel to tr.
func New(tr Transport, cfg Config) *Channel {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		tr:      tr,
		lg:      log.OrNoop(cfg.Logger).WithName("channel"),
		ids:     newIDPool(cfg.Capacity),
		pending: correlator.New[uint64, responseEnvelope](),
		ctx:     ctx,
		cancel:  cancel,
	}
	tr.OnFrame(c.receive)

	go func() {
		select {
		case <-tr.Done():
			c.pending.Dispose(ErrTransportClosed)
			c.lg.Debug("transport closed")
		case <-ctx.Done():
		}
	}()
	return c
}

// Request sends data and waits for the reply. A done ctx stops the wait; the request
// ID is only reused once the reply arrives or the channel is disposed.
func (c *Channel) Request(ctx context.Context, data any) (any, error) {
	id, ok := c.ids.get()
	if !ok {
		return nil, ErrRateLimited
	}

	f, err := c.pending.Register(id)
	if err != nil {
		c.ids.put(id)
		return nil, err
	}

	frame, err := json.Marshal(requestEnvelope{ID: id, Data: data})
	if err == nil {
		err = c.tr.Send(ctx, KindRequest, frame)
	}
	if err != nil {
		c.pending.Forget(id)
		c.ids.put(id)
		return nil, fmt.Errorf("channel request: %w", err)
	}

	res, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return res.Result, nil
}

// Listen sets the handler for inbound requests, replacing any previous one. Until a
// handler is set, inbound requests are ignored. Handlers find a request scoped logger
// through log.FromContext.
func (c *Channel) Listen(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Pending returns the number of requests awaiting a reply.
func (c *Channel) Pending() int { return c.pending.Len() }

// Dispose rejects every pending request with ErrDisposed and closes the transport.
func (c *Channel) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	c.cancel()
	c.pending.Dispose(ErrDisposed)
	return c.tr.Close()
}

func (c *Channel) receive(kind string, data json.RawMessage) {
	switch kind {
	case KindRequest:
		var req inboundRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.lg.Warn("dropping malformed request", "error", err)
			return
		}
		go c.serve(req)
	case KindResponse:
		var res responseEnvelope
		if err := json.Unmarshal(data, &res); err != nil {
			c.lg.Warn("dropping malformed response", "error", err)
			return
		}
		if c.pending.Resolve(res.ID, res) {
			c.ids.put(res.ID)
			return
		}
		c.lg.Debug("dropping response without pending request", "id", res.ID)
	default:
		c.lg.Debug("ignoring frame", "kind", kind)
	}
}

// serve answers req when a handler is set. Without one the request is dropped, so an
// endpoint that only issues requests stays silent on a shared broadcast channel.
func (c *Channel) serve(req inboundRequest) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		c.lg.Debug("dropping request, no handler", "id", req.ID)
		return
	}

	res := responseEnvelope{ID: req.ID}
	result, err := c.handle(h, req)
	if err != nil {
		res.Error = flatten(err)
	} else {
		res.Result = result
	}

	frame, err := json.Marshal(res)
	if err != nil {
		res = responseEnvelope{ID: req.ID, Error: flatten(fmt.Errorf("encoding result: %w", err))}
		frame, _ = json.Marshal(res)
	}
	if err := c.tr.Send(c.ctx, KindResponse, frame); err != nil {
		c.lg.Warn("failed to send response", "id", req.ID, "error", err)
	}
}

func (c *Channel) handle(h Handler, req inboundRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	ctx := log.SetContextLogger(c.ctx, c.lg.WithKV("request", req.ID))
	return h(ctx, req.Data)
}
