package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/erc7824/nitrolite/rpccore/pkg/channel"
	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
)

// Caller forwards one call to the Electrum server.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// BridgeRequest is the payload of a bridge request.
type BridgeRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Bridge exposes a Caller to local processes over a unix socket. Each connection gets
// its own channel and request ID pool.
type Bridge struct {
	caller Caller
	cfg    *Config
	lg     log.Logger

	mu    sync.Mutex
	conns map[string]*channel.Channel
}

func NewBridge(caller Caller, cfg *Config, lg log.Logger) *Bridge {
	return &Bridge{
		caller: caller,
		cfg:    cfg,
		lg:     lg.WithName("bridge"),
		conns:  make(map[string]*channel.Channel),
	}
}

// Listen opens the bridge socket, replacing a stale socket file.
func (b *Bridge) Listen() (net.Listener, error) {
	if err := os.Remove(b.cfg.BridgeSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", b.cfg.BridgeSocket)
}

// Serve accepts connections until ln is closed.
func (b *Bridge) Serve(ln net.Listener) error {
	b.lg.Info("bridge listening", "socket", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		b.attach(conn)
	}
}

func (b *Bridge) attach(conn net.Conn) *channel.Channel {
	id := uuid.NewString()
	lg := b.lg.WithKV("conn", id)

	tr := channel.NewDuplexTransport(conn, channel.DuplexConfig{
		Prefix:       b.cfg.BridgePrefix,
		WriteTimeout: b.cfg.CallTimeout,
		Logger:       lg,
	})
	ch := channel.New(tr, channel.Config{Capacity: b.cfg.BridgeCapacity, Logger: lg})
	ch.Listen(b.handle)

	b.mu.Lock()
	b.conns[id] = ch
	b.mu.Unlock()
	lg.Debug("bridge connection opened")

	go func() {
		<-tr.Done()
		b.mu.Lock()
		delete(b.conns, id)
		b.mu.Unlock()
		_ = ch.Dispose()
		lg.Debug("bridge connection closed", "error", tr.Err())
	}()
	return ch
}

func (b *Bridge) handle(ctx context.Context, data json.RawMessage) (any, error) {
	var req BridgeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "malformed bridge request: %v", err)
	}
	if req.Method == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "method is required")
	}

	lg := log.FromContext(ctx).WithKV("method", req.Method)
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	res, err := b.caller.Call(ctx, req.Method, req.Params...)
	if err != nil {
		lg.Debug("bridge call failed", "error", err)
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}
	lg.Debug("bridge call answered", "bytes", len(res))
	return res, nil
}

// Close disposes every open connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := make([]*channel.Channel, 0, len(b.conns))
	for _, ch := range b.conns {
		conns = append(conns, ch)
	}
	b.mu.Unlock()

	for _, ch := range conns {
		_ = ch.Dispose()
	}
}

// callBridge sends one request to a running bridge and decodes the result into T.
func callBridge[T any](ctx context.Context, cfg *Config, method string, params []any) (T, error) {
	var out T
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", cfg.BridgeSocket)
	if err != nil {
		return out, err
	}

	ch := channel.New(channel.NewDuplexTransport(conn, channel.DuplexConfig{Prefix: cfg.BridgePrefix}), channel.Config{Capacity: 1})
	defer ch.Dispose()

	res, err := ch.Request(ctx, BridgeRequest{Method: method, Params: params})
	if err != nil {
		return out, err
	}
	if err := channel.Decode(res, &out); err != nil {
		return out, fmt.Errorf("decoding %s result: %w", method, err)
	}
	return out, nil
}
