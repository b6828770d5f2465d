// Package electrum is a typed client for Electrum servers on top of a transport.Transport.
//
// Address based methods derive the script hash through a ScriptHasher, call the
// server and reshape the reply. Calls are admitted through a two-check gate: the
// transport must be ready and the server.version handshake must have completed. Both
// checks are cleared when a socket transport drops, so calls made during a reconnect
// wait and then run in order.
package electrum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erc7824/nitrolite/rpccore/pkg/gate"
	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

const (
	checkTransport = iota
	checkHandshake
	checkCount
)

// Config configures a Client.
type Config struct {
	// ClientName is sent in the server.version handshake.
	ClientName string
	// ProtocolVersion is the Electrum protocol version requested in the handshake.
	ProtocolVersion string
	// CallTimeout bounds each call once it is admitted. Zero uses the transport default.
	CallTimeout time.Duration
	// Hasher derives script hashes. Defaults to a mainnet AddressScriptHasher.
	Hasher ScriptHasher
	// Classifier marks special outputs. Defaults to DefaultClassifier.
	Classifier OutputClassifier
	Logger     log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ClientName:      "rpccore",
		ProtocolVersion: "1.4",
		CallTimeout:     30 * time.Second,
	}
}

// eventSource is implemented by transports that report connection events.
type eventSource interface {
	OnEvent(e transport.Event, h transport.EventHandler) (unregister func())
	OnNotification(method string, fn func(params json.RawMessage)) (unregister func())
	Ready() bool
}

// Client calls Electrum methods through a transport.
type Client struct {
	tr     transport.Transport
	events eventSource
	cfg    Config
	lg     log.Logger
	gate   *gate.Gate

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	generation uint64
	version    ServerVersion
	watched    map[string]struct{}
	unregister []func()
	closed     bool
}

// NewClient wraps tr. Transports without connection events are treated as always
// ready and the handshake runs immediately in the background.
func NewClient(tr transport.Transport, cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = def.ProtocolVersion
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	if cfg.Hasher == nil {
		h, err := NewAddressScriptHasher(nil, DefaultScriptHashCacheSize)
		if err != nil {
			return nil, err
		}
		cfg.Hasher = h
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		tr:      tr,
		cfg:     cfg,
		lg:      log.OrNoop(cfg.Logger).WithName("electrum"),
		gate:    gate.New(checkCount),
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[string]struct{}),
	}

	es, ok := tr.(eventSource)
	if !ok {
		c.transportUp()
		return c, nil
	}
	c.events = es

	c.unregister = append(c.unregister, es.OnEvent(transport.EventReady, func(transport.EventInfo) {
		c.transportUp()
	}))
	for _, e := range []transport.Event{
		transport.EventDisconnected,
		transport.EventReconnecting,
		transport.EventClosed,
		transport.EventDisposed,
	} {
		c.unregister = append(c.unregister, es.OnEvent(e, func(info transport.EventInfo) {
			c.transportDown(info)
		}))
	}
	if es.Ready() {
		c.transportUp()
	}
	return c, nil
}

func (c *Client) transportUp() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	_ = c.gate.Check(checkTransport)
	go c.handshake(gen)
}

func (c *Client) transportDown(info transport.EventInfo) {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	c.gate.UncheckAll()
	c.lg.Debug("calls paused", "event", info.Event, "error", info.Err)
}

// handshake negotiates the protocol version and restores address watches, then opens
// the gate. A server that rejects server.version is still admitted. On a socket
// transport a connection failure leaves the gate closed until the transport is ready
// again; transports without events have no such signal and are admitted.
func (c *Client) handshake(gen uint64) {
	req := c.tr.NewRequest(ServerVersionMethod.String(), c.cfg.ClientName, c.cfg.ProtocolVersion)
	res, err := c.tr.Send(c.ctx, req, c.callOptions()...)

	var version ServerVersion
	if err == nil {
		err = res.Decode(&version)
	}
	if err != nil && (c.ctx.Err() != nil || (c.events != nil && transport.IsConnectionError(err))) {
		c.lg.Warn("handshake failed", "error", err)
		return
	}
	if err != nil {
		c.lg.Warn("server rejected handshake, continuing without version", "error", err)
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.version = version
	watched := make([]string, 0, len(c.watched))
	for sh := range c.watched {
		watched = append(watched, sh)
	}
	c.mu.Unlock()

	for _, sh := range watched {
		req := c.tr.NewRequest(ScriptHashSubscribeMethod.String(), sh)
		if _, err := c.tr.Send(c.ctx, req, c.callOptions()...); err != nil {
			c.lg.Warn("failed to restore address watch", "scripthash", sh, "error", err)
		}
	}

	if err := c.gate.Check(checkHandshake); err != nil {
		c.lg.Error("failed to open gate", "error", err)
		return
	}
	c.lg.Info("server ready", "software", version.Software, "protocol", version.Protocol)
}

func (c *Client) callOptions() []transport.CallOption {
	if c.cfg.CallTimeout <= 0 {
		return nil
	}
	return []transport.CallOption{transport.WithTimeout(c.cfg.CallTimeout)}
}

// Call runs method through the gate and returns the raw result. Connection failures
// are wrapped in *ConnectionError; protocol errors are returned as *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.call(ctx, Method(method), params...)
}

func (c *Client) call(ctx context.Context, method Method, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := gate.Do(ctx, c.gate, func(context.Context) (json.RawMessage, error) {
		res, err := c.tr.Send(ctx, c.tr.NewRequest(method.String(), params...), c.callOptions()...)
		if err != nil {
			return nil, err
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return res.Result, nil
	})
	if err != nil {
		if errors.Is(err, gate.ErrGateClosed) {
			return nil, ErrClientClosed
		}
		return nil, wrapConnectionError(method, err)
	}
	return raw, nil
}

func callAs[T any](ctx context.Context, c *Client, method Method, params ...any) (T, error) {
	var v T
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", jsonrpc.ErrInvalidResponse, method, err)
	}
	return v, nil
}

// ScriptHash returns the script hash the client uses for address.
func (c *Client) ScriptHash(address string) (string, error) {
	return c.cfg.Hasher.ScriptHash(address)
}

// Version returns the version negotiated by the last successful handshake.
func (c *Client) Version() ServerVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Client) ServerVersion(ctx context.Context) (ServerVersion, error) {
	return callAs[ServerVersion](ctx, c, ServerVersionMethod, c.cfg.ClientName, c.cfg.ProtocolVersion)
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, ServerPingMethod)
	return err
}

func (c *Client) GetBalance(ctx context.Context, address string) (Balance, error) {
	sh, err := c.ScriptHash(address)
	if err != nil {
		return Balance{}, err
	}
	return callAs[Balance](ctx, c, GetBalanceMethod, sh)
}

// ListUnspent returns the unspent outputs of address split by the client's classifier.
func (c *Client) ListUnspent(ctx context.Context, address string) (UTXOSet, error) {
	sh, err := c.ScriptHash(address)
	if err != nil {
		return UTXOSet{}, err
	}
	utxos, err := callAs[[]UTXO](ctx, c, ListUnspentMethod, sh)
	if err != nil {
		return UTXOSet{}, err
	}
	return NewUTXOSet(utxos, c.cfg.Classifier), nil
}

func (c *Client) GetHistory(ctx context.Context, address string) ([]HistoryItem, error) {
	sh, err := c.ScriptHash(address)
	if err != nil {
		return nil, err
	}
	return callAs[[]HistoryItem](ctx, c, GetHistoryMethod, sh)
}

func (c *Client) GetMempool(ctx context.Context, address string) ([]HistoryItem, error) {
	sh, err := c.ScriptHash(address)
	if err != nil {
		return nil, err
	}
	return callAs[[]HistoryItem](ctx, c, GetMempoolMethod, sh)
}

// GetTransaction returns the raw transaction hex.
func (c *Client) GetTransaction(ctx context.Context, txid string) (string, error) {
	return callAs[string](ctx, c, GetTransactionMethod, txid)
}

// Broadcast submits a raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawTx string) (string, error) {
	return callAs[string](ctx, c, BroadcastMethod, rawTx)
}

// EstimateFee returns the fee rate in BTC/kB for confirmation within blocks.
// ErrFeeUnavailable is returned when the server has no estimate.
func (c *Client) EstimateFee(ctx context.Context, blocks int) (decimal.Decimal, error) {
	fee, err := callAs[decimal.Decimal](ctx, c, EstimateFeeMethod, blocks)
	if err != nil {
		return decimal.Zero, err
	}
	if fee.IsNegative() {
		return decimal.Zero, ErrFeeUnavailable
	}
	return fee, nil
}

// HeadersTip returns the current chain tip.
func (c *Client) HeadersTip(ctx context.Context) (Header, error) {
	return callAs[Header](ctx, c, HeadersSubscribeMethod)
}

// OnNewHeader calls fn for every new tip announced by the server. fn runs on the
// transport's reader and must not block. It requires a transport with notifications.
func (c *Client) OnNewHeader(ctx context.Context, fn func(Header)) (unregister func(), err error) {
	if c.events == nil {
		return nil, transport.ErrSubscriptionsUnsupported
	}
	unreg := c.events.OnNotification(HeadersSubscribeMethod.String(), func(params json.RawMessage) {
		var headers []Header
		if err := json.Unmarshal(params, &headers); err != nil || len(headers) == 0 {
			c.lg.Warn("malformed header notification", "error", err)
			return
		}
		fn(headers[0])
	})
	if _, err := c.HeadersTip(ctx); err != nil {
		unreg()
		return nil, err
	}
	return unreg, nil
}

// WatchAddress calls fn with the new status hash every time the history of address
// changes. The watch is restored after a reconnect. fn must not block.
func (c *Client) WatchAddress(ctx context.Context, address string, fn func(status string)) (unregister func(), err error) {
	if c.events == nil {
		return nil, transport.ErrSubscriptionsUnsupported
	}
	sh, err := c.ScriptHash(address)
	if err != nil {
		return nil, err
	}

	unreg := c.events.OnNotification(ScriptHashSubscribeMethod.String(), func(params json.RawMessage) {
		var args []*string
		if err := json.Unmarshal(params, &args); err != nil || len(args) != 2 || args[0] == nil {
			c.lg.Warn("malformed scripthash notification", "error", err)
			return
		}
		if *args[0] != sh {
			return
		}
		status := ""
		if args[1] != nil {
			status = *args[1]
		}
		fn(status)
	})

	c.mu.Lock()
	c.watched[sh] = struct{}{}
	c.mu.Unlock()

	if _, err := c.call(ctx, ScriptHashSubscribeMethod, sh); err != nil {
		c.forget(sh)
		unreg()
		return nil, err
	}

	return func() {
		unreg()
		c.forget(sh)
		if _, err := c.call(c.ctx, ScriptHashUnsubscribeMethod, sh); err != nil {
			c.lg.Debug("scripthash unsubscribe failed", "scripthash", sh, "error", err)
		}
	}, nil
}

func (c *Client) forget(sh string) {
	c.mu.Lock()
	delete(c.watched, sh)
	c.mu.Unlock()
}

// Close rejects queued calls and detaches from the transport. The transport itself is
// left open.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	c.cancel()
	c.gate.Close()
}
