package transport

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/erc7824/nitrolite/rpccore/pkg/correlator"
	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
	"github.com/erc7824/nitrolite/rpccore/pkg/middleware"
)

const wsTransportLabel = "ws"

// orphanLimit bounds how many unknown subscription IDs keep buffered notifications.
const orphanLimit = 32

// WebsocketConfig configures a WebsocketTransport.
type WebsocketConfig struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// ReconnectDelay is the fixed pause before reconnecting after an abnormal close
	// or a failed dial.
	ReconnectDelay time.Duration
	// DialRetries is how many extra times a refused dial is retried, DialBackoff apart,
	// before a reconnect is scheduled. Other dial failures go straight to a reconnect.
	DialRetries int
	DialBackoff time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// PingInterval enables a keep-alive call of PingMethod when positive.
	PingInterval time.Duration
	PingMethod   string
	// NotificationBuffer is the per-subscription notification buffer size.
	NotificationBuffer int
	// Header is sent with the opening handshake.
	Header http.Header

	Middleware *middleware.Registry
	Logger     log.Logger
	Metrics    *Metrics
}

// DefaultWebsocketConfig holds the defaults applied to zero fields of a WebsocketConfig.
var DefaultWebsocketConfig = WebsocketConfig{
	HandshakeTimeout:   10 * time.Second,
	ReconnectDelay:     5 * time.Second,
	DialRetries:        2,
	DialBackoff:        time.Second,
	WriteTimeout:       10 * time.Second,
	PingMethod:         "server.ping",
	NotificationBuffer: 100,
}

func (c WebsocketConfig) withDefaults() WebsocketConfig {
	d := DefaultWebsocketConfig
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.DialRetries < 0 {
		c.DialRetries = 0
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = d.DialBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingMethod == "" {
		c.PingMethod = d.PingMethod
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = d.NotificationBuffer
	}
	return c
}

// WebsocketTransport is a JSON-RPC client over a supervised WebSocket connection.
//
// A single supervisor goroutine owns the connection lifecycle:
//
//	Connecting -> Open -> (Closing | Error) -> Reconnecting -> Connecting ...
//
// with Closed and Disposed as terminal states. Only a normal (1000) close from the
// server or Dispose ends the cycle; failed dials keep reconnecting. Calls made while
// the socket is not ready are queued and written, in ID order, once the socket opens
// and every tracked subscription has been re-established or dropped.
type WebsocketTransport struct {
	url    string
	cfg    WebsocketConfig
	lg     log.Logger
	ids    *jsonrpc.IDGenerator
	events *dispatcher
	dialer *websocket.Dialer

	pending  *correlator.Correlator[uint64, jsonrpc.Response]
	deferred *correlator.Correlator[uint64, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	ready       bool
	readyCh     chan struct{}
	terminalErr error
	subs        map[string]*Subscription
	orphans     map[string][]json.RawMessage

	writeMu sync.Mutex
}

var _ Transport = (*WebsocketTransport)(nil)

// Dial creates a WebsocketTransport for rawURL and starts connecting in the
// background. It returns without waiting for the socket to open; use WaitReady for
// that. Cancelling ctx disposes the transport.
func Dial(ctx context.Context, rawURL string, cfg WebsocketConfig) (*WebsocketTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrDial, u.Scheme)
	}

	cfg = cfg.withDefaults()
	lifetime, cancel := context.WithCancel(context.Background())
	t := &WebsocketTransport{
		url:    rawURL,
		cfg:    cfg,
		lg:     log.OrNoop(cfg.Logger).WithName("ws-transport").WithKV("url", u.Redacted()),
		ids:    jsonrpc.NewIDGenerator(),
		events: newDispatcher(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		pending:  correlator.New[uint64, jsonrpc.Response](),
		deferred: correlator.New[uint64, struct{}](),
		ctx:      lifetime,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateConnecting,
		readyCh:  make(chan struct{}),
		subs:     make(map[string]*Subscription),
		orphans:  make(map[string][]json.RawMessage),
	}

	go t.supervise()
	go func() {
		select {
		case <-ctx.Done():
			t.Dispose()
		case <-t.done:
		}
	}()
	if cfg.PingInterval > 0 {
		go t.pingLoop()
	}
	return t, nil
}

// NewRequest builds a request with the next ID of this transport.
func (t *WebsocketTransport) NewRequest(method string, params ...any) jsonrpc.Request {
	return t.ids.NewRequest(method, params...)
}

// State returns the current lifecycle state.
func (t *WebsocketTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnEvent registers h for e and returns a function that removes it.
func (t *WebsocketTransport) OnEvent(e Event, h EventHandler) (unregister func()) {
	return t.events.on(e, h)
}

// OnNotification registers fn for server notifications of method that are not tied
// to a tracked subscription.
func (t *WebsocketTransport) OnNotification(method string, fn func(params json.RawMessage)) (unregister func()) {
	return t.events.on(EventNotification, func(info EventInfo) {
		if info.Method == method {
			fn(info.Params)
		}
	})
}

// WaitReady blocks until the socket is open and resubscribed, the transport reaches a
// terminal state, or ctx is done.
func (t *WebsocketTransport) WaitReady(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.ready {
			t.mu.Unlock()
			return nil
		}
		if t.state.Terminal() {
			err := t.terminalErr
			t.mu.Unlock()
			return err
		}
		ch := t.readyCh
		t.mu.Unlock()

		select {
		case <-ch:
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscriptions returns a snapshot of the tracked subscriptions.
func (t *WebsocketTransport) Subscriptions() []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, s)
	}
	return out
}

// Send writes req, or queues it until the socket is ready, and waits for the reply.
// A done ctx stops the wait only; a queued request is still written later and its
// reply discarded.
func (t *WebsocketTransport) Send(ctx context.Context, req jsonrpc.Request, opts ...CallOption) (jsonrpc.Response, error) {
	o := applyOptions(opts)
	return t.call(ctx, req, nil, o.timeout)
}

func (t *WebsocketTransport) call(ctx context.Context, req jsonrpc.Request, direct *websocket.Conn, timeout time.Duration) (jsonrpc.Response, error) {
	req = t.cfg.Middleware.RequestPipeline(req.Method)(req)
	frame, err := json.Marshal(req)
	if err != nil {
		return jsonrpc.Response{}, fmt.Errorf("%w: %w", ErrEncodingRequest, err)
	}

	started := time.Now()
	res, err := t.roundTrip(ctx, req, frame, direct, timeout)
	t.cfg.Metrics.observe(wsTransportLabel, req.Method, time.Since(started).Seconds(), err)
	if err != nil {
		return jsonrpc.Response{}, err
	}

	res.Request = &req
	res = t.cfg.Middleware.ResponsePipeline(req.Method)(res)
	if err := res.Validate(req); err != nil {
		return res, err
	}
	return res, res.Err()
}

func (t *WebsocketTransport) roundTrip(ctx context.Context, req jsonrpc.Request, frame []byte, direct *websocket.Conn, timeout time.Duration) (jsonrpc.Response, error) {
	future, err := t.pending.RegisterWith(req.ID, req)
	if err != nil {
		return jsonrpc.Response{}, err
	}
	t.cfg.Metrics.pending(wsTransportLabel, 1)
	defer t.cfg.Metrics.pending(wsTransportLabel, -1)

	if direct != nil {
		err = t.write(direct, frame)
	} else {
		err = t.dispatch(req.ID, frame)
	}
	if err != nil {
		t.pending.Reject(req.ID, err)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := future.Wait(waitCtx)
	if err != nil && waitCtx.Err() != nil && errors.Is(err, waitCtx.Err()) {
		t.pending.Forget(req.ID)
		if ctx.Err() == nil {
			return jsonrpc.Response{}, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, req.Method)
		}
	}
	return res, err
}

// dispatch writes frame now if the socket is ready, otherwise queues it.
func (t *WebsocketTransport) dispatch(id uint64, frame []byte) error {
	t.mu.Lock()
	if t.state.Terminal() {
		err := t.terminalErr
		t.mu.Unlock()
		return err
	}
	if t.ready && t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		return t.write(conn, frame)
	}
	_, err := t.deferred.RegisterWith(id, frame)
	t.mu.Unlock()

	if err == nil {
		t.lg.Debug("deferring request until connected", "id", id)
	}
	return err
}

func (t *WebsocketTransport) write(conn *websocket.Conn, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}
	return nil
}

// Subscribe sends req and tracks the subscription named by the reply.
func (t *WebsocketTransport) Subscribe(ctx context.Context, req jsonrpc.Request) (*Subscription, error) {
	res, err := t.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	id, rawID, err := subscriptionID(res)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(req, t.cfg.NotificationBuffer)
	sub.assign(req, id, rawID)

	t.mu.Lock()
	if t.state.Terminal() {
		err := t.terminalErr
		t.mu.Unlock()
		return nil, err
	}
	t.subs[id] = sub
	early := t.orphans[id]
	delete(t.orphans, id)
	count := len(t.subs)
	t.mu.Unlock()

	for _, n := range early {
		sub.deliver(n)
	}
	t.cfg.Metrics.setSubscriptions(count)
	t.lg.Info("subscribed", "method", req.Method, "subscription", id)
	return sub, nil
}

// Unsubscribe calls method with the subscription ID and stops tracking it once the
// server acknowledges with true. A false or non-boolean reply keeps the record.
func (t *WebsocketTransport) Unsubscribe(ctx context.Context, method, id string) error {
	t.mu.Lock()
	sub := t.subs[id]
	t.mu.Unlock()
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}

	res, err := t.Send(ctx, t.NewRequest(method, sub.wireID()))
	if err != nil {
		return err
	}
	if err := unsubscribeAck(res); err != nil {
		return err
	}

	t.mu.Lock()
	if t.subs[id] == sub {
		delete(t.subs, id)
	}
	count := len(t.subs)
	t.mu.Unlock()

	sub.close()
	t.cfg.Metrics.setSubscriptions(count)
	t.lg.Info("unsubscribed", "method", method, "subscription", id)
	return nil
}

// ClearSubscriptions unsubscribes every tracked subscription and joins the failures.
func (t *WebsocketTransport) ClearSubscriptions(ctx context.Context, method string) error {
	var errs []error
	for _, sub := range t.Subscriptions() {
		if err := t.Unsubscribe(ctx, method, sub.ID()); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close disposes the transport.
func (t *WebsocketTransport) Close() error {
	t.Dispose()
	return nil
}

// Dispose tears the transport down for good: pending and queued calls fail with
// ErrDisposed, notification streams close and the socket is closed normally.
func (t *WebsocketTransport) Dispose() {
	t.mu.Lock()
	if t.state == StateDisposed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.state = StateDisposed
	t.terminalErr = ErrDisposed
	conn := t.conn
	t.conn = nil
	t.ready = false
	subs := t.subs
	t.subs = make(map[string]*Subscription)
	t.mu.Unlock()

	t.cancel()
	t.pending.Dispose(ErrDisposed)
	t.deferred.Dispose(ErrDisposed)
	for _, s := range subs {
		s.close()
	}
	if conn != nil {
		t.closeConn(conn, websocket.CloseNormalClosure, "")
	}
	<-t.done

	t.cfg.Metrics.setState(StateDisposed)
	t.cfg.Metrics.setSubscriptions(0)
	t.events.emit(EventInfo{Event: EventStateChanged, State: StateDisposed})
	t.events.emit(EventInfo{Event: EventDisposed, State: StateDisposed})
	t.lg.Info("disposed")
}

func (t *WebsocketTransport) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (t *WebsocketTransport) setState(s State) bool {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = s
	t.mu.Unlock()

	t.cfg.Metrics.setState(s)
	t.events.emit(EventInfo{Event: EventStateChanged, State: s})
	return true
}

func (t *WebsocketTransport) supervise() {
	defer close(t.done)

	attempt := 0
	for t.ctx.Err() == nil {
		if !t.setState(StateConnecting) {
			return
		}

		conn, err := t.dial()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.lg.Warn("dial failed", "error", err)
			t.events.emit(EventInfo{Event: EventError, State: StateConnecting, Err: fmt.Errorf("%w: %w", ErrDial, err)})
			attempt++
			if !t.scheduleReconnect(attempt) {
				return
			}
			continue
		}

		attempt = 0
		closeErr := t.serve(conn)
		if t.ctx.Err() != nil {
			return
		}

		if websocket.IsCloseError(closeErr, websocket.CloseNormalClosure) {
			t.setState(StateClosing)
			t.terminate(fmt.Errorf("%w: %w", ErrConnectionClosed, closeErr))
			return
		}

		t.setState(StateError)
		t.events.emit(EventInfo{Event: EventError, State: StateError, Err: closeErr})
		attempt++
		if !t.scheduleReconnect(attempt) {
			return
		}
	}
}

type refusedClassifier struct{}

func (refusedClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case isRefused(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func (t *WebsocketTransport) dial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	r := retrier.New(retrier.ConstantBackoff(t.cfg.DialRetries, t.cfg.DialBackoff), refusedClassifier{})
	err := r.RunCtx(t.ctx, func(ctx context.Context) error {
		c, _, err := t.dialer.DialContext(ctx, t.url, t.cfg.Header)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

func (t *WebsocketTransport) scheduleReconnect(attempt int) bool {
	if !t.setState(StateReconnecting) {
		return false
	}
	t.cfg.Metrics.reconnect()
	t.events.emit(EventInfo{Event: EventReconnecting, State: StateReconnecting, Attempt: attempt})
	t.lg.Info("reconnect scheduled", "attempt", attempt, "delay", t.cfg.ReconnectDelay)

	timer := time.NewTimer(t.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// terminate moves to Closed and fails everything outstanding with err.
func (t *WebsocketTransport) terminate(err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed
	t.terminalErr = err
	t.ready = false
	subs := t.subs
	t.subs = make(map[string]*Subscription)
	t.mu.Unlock()

	t.pending.Dispose(err)
	t.deferred.Dispose(err)
	for _, s := range subs {
		s.close()
	}

	t.cfg.Metrics.setState(StateClosed)
	t.cfg.Metrics.setSubscriptions(0)
	t.events.emit(EventInfo{Event: EventStateChanged, State: StateClosed})
	t.events.emit(EventInfo{Event: EventClosed, State: StateClosed, Err: err})
	t.lg.Info("connection closed", "error", err)
}

// serve runs one connection until it ends and returns the reason.
func (t *WebsocketTransport) serve(conn *websocket.Conn) error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.conn = conn
	t.ready = false
	t.mu.Unlock()

	t.setState(StateOpen)
	t.events.emit(EventInfo{Event: EventOpen, State: StateOpen})
	t.lg.Info("connection open")

	readErr := make(chan error, 1)
	go func() { readErr <- t.readLoop(conn) }()

	t.resubscribe(conn)
	if t.flushDeferred(conn) {
		t.events.emit(EventInfo{Event: EventConnected, State: StateOpen})
		t.events.emit(EventInfo{Event: EventReady, State: StateOpen})
	}

	err := <-readErr
	_ = conn.Close()
	return err
}

// resubscribe re-issues every tracked subscription on conn with a fresh ID and
// re-keys it under the new subscription ID.
func (t *WebsocketTransport) resubscribe(conn *websocket.Conn) {
	subs := t.Subscriptions()
	slices.SortFunc(subs, func(a, b *Subscription) int {
		return cmp.Compare(a.Request().ID, b.Request().ID)
	})

	for _, sub := range subs {
		oldID := sub.ID()
		req := t.NewRequest(sub.Method(), sub.Params()...)

		res, err := t.call(t.ctx, req, conn, t.cfg.HandshakeTimeout)
		var id string
		var rawID any
		if err == nil {
			id, rawID, err = subscriptionID(res)
		}
		if err != nil {
			if IsConnectionError(err) {
				t.lg.Warn("resubscribe interrupted", "method", sub.Method(), "subscription", oldID, "error", err)
				return
			}
			t.dropSubscription(sub, oldID, err)
			continue
		}

		t.mu.Lock()
		if t.subs[oldID] == sub {
			delete(t.subs, oldID)
		}
		sub.assign(req, id, rawID)
		t.subs[id] = sub
		t.mu.Unlock()
		t.lg.Info("resubscribed", "method", sub.Method(), "old", oldID, "new", id)
	}
}

// dropSubscription stops tracking a subscription the server refused to restore, closes
// its notification stream and reports EventSubscriptionLost.
func (t *WebsocketTransport) dropSubscription(sub *Subscription, id string, cause error) {
	t.mu.Lock()
	if t.subs[id] == sub {
		delete(t.subs, id)
	}
	count := len(t.subs)
	t.mu.Unlock()

	sub.close()
	t.cfg.Metrics.setSubscriptions(count)
	t.lg.Warn("subscription lost", "method", sub.Method(), "subscription", id, "error", cause)
	t.events.emit(EventInfo{
		Event:        EventSubscriptionLost,
		State:        StateOpen,
		Method:       sub.Method(),
		Subscription: id,
		Err:          fmt.Errorf("%w: %s: %w", ErrResubscribeFailed, id, cause),
	})
}

// flushDeferred writes queued requests in ID order and marks the socket ready. It
// reports false if conn is no longer current or a write failed.
func (t *WebsocketTransport) flushDeferred(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn || t.state.Terminal() {
		return false
	}

	ids := t.deferred.Keys()
	slices.Sort(ids)
	for _, id := range ids {
		payload, ok := t.deferred.Payload(id)
		if !ok {
			continue
		}
		if err := t.write(conn, payload.([]byte)); err != nil {
			t.deferred.Reject(id, err)
			t.pending.Reject(id, err)
			return false
		}
		t.deferred.Resolve(id, struct{}{})
	}

	t.ready = true
	close(t.readyCh)
	return true
}

// connectionLost fails requests written on conn. Requests still queued stay queued.
func (t *WebsocketTransport) connectionLost(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.ready {
		t.ready = false
		t.readyCh = make(chan struct{})
	}
	clear(t.orphans)
	state := t.state
	t.mu.Unlock()

	lost := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	n := 0
	for _, id := range t.pending.Keys() {
		if t.deferred.Has(id) {
			continue
		}
		if t.pending.Reject(id, lost) {
			n++
		}
	}

	t.events.emit(EventInfo{Event: EventDisconnected, State: state, Err: cause})
	t.lg.Warn("connection lost", "error", cause, "rejected", n)
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(conn, err)
			return err
		}

		if err := t.handleFrame(data); err != nil {
			t.lg.Error("closing connection on protocol error", "error", err)
			t.events.emit(EventInfo{Event: EventError, State: StateOpen, Err: err})
			t.closeConn(conn, websocket.CloseProtocolError, "unparseable frame")
			t.connectionLost(conn, err)
			return err
		}
	}
}

func (t *WebsocketTransport) handleFrame(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: %.64q", ErrProtocol, data)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		root.ForEach(func(_, frame gjson.Result) bool {
			t.route(frame)
			return true
		})
	case root.IsObject():
		t.route(root)
	default:
		return fmt.Errorf("%w: not an object: %.64q", ErrProtocol, data)
	}
	return nil
}

// route demultiplexes one inbound object: replies by id, subscription notifications
// by params.subscription, other notifications by method. Anything else is dropped.
func (t *WebsocketTransport) route(frame gjson.Result) {
	if id := frame.Get("id"); id.Exists() && id.Type != gjson.Null {
		var res jsonrpc.Response
		if err := json.Unmarshal([]byte(frame.Raw), &res); err != nil {
			t.lg.Warn("dropping malformed reply", "error", err)
			return
		}
		if !t.pending.Resolve(res.ID, res) {
			t.lg.Debug("dropping reply without pending request", "id", res.ID)
		}
		return
	}

	if subID := frame.Get("params.subscription"); subID.Exists() {
		key := subID.Raw
		if subID.Type == gjson.String {
			key = subID.Str
		}
		t.notifySubscription(key, json.RawMessage(frame.Get("params.result").Raw))
		return
	}

	if method := frame.Get("method"); method.Exists() {
		var params json.RawMessage
		if p := frame.Get("params"); p.Exists() {
			params = json.RawMessage(p.Raw)
		}
		t.events.emit(EventInfo{Event: EventNotification, State: StateOpen, Method: method.String(), Params: params})
		return
	}

	t.lg.Debug("dropping unrecognised frame")
}

func (t *WebsocketTransport) notifySubscription(id string, result json.RawMessage) {
	t.mu.Lock()
	sub := t.subs[id]
	if sub == nil {
		// The reply to a subscribe call may still be on its way to the caller.
		if _, ok := t.orphans[id]; ok || len(t.orphans) < orphanLimit {
			if len(t.orphans[id]) < t.cfg.NotificationBuffer {
				t.orphans[id] = append(t.orphans[id], result)
			}
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if !sub.deliver(result) {
		t.cfg.Metrics.dropped()
		t.lg.Warn("subscription buffer full, dropping notification", "subscription", id)
	}
}

// Ready reports whether the socket is open and every subscription has been restored.
func (t *WebsocketTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *WebsocketTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if !t.Ready() {
				continue
			}
			_, err := t.Send(t.ctx, t.NewRequest(t.cfg.PingMethod), WithTimeout(t.cfg.PingInterval))
			if err != nil && !isRPCError(err) && t.ctx.Err() == nil {
				t.lg.Warn("keep-alive failed", "error", err)
			}
		}
	}
}
