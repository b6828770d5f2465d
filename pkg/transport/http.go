package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/breaker"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
	"github.com/erc7824/nitrolite/rpccore/pkg/middleware"
)

const httpTransportLabel = "http"

// maxResponseBody bounds how much of a reply body is read.
const maxResponseBody = 32 << 20

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// Method is the HTTP method used for every call (POST by default).
	Method string
	// Header is sent with every call.
	Header http.Header
	// Username and Password enable basic authentication when Username is set.
	Username string
	Password string
	// Timeout bounds how long a caller waits for a reply (120s by default).
	Timeout time.Duration

	// Client performs the requests; http.DefaultClient when nil.
	Client *http.Client
	// Breaker, when set, short-circuits calls while the server keeps failing.
	Breaker *breaker.Breaker

	Middleware *middleware.Registry
	Logger     log.Logger
	Metrics    *Metrics
}

// DefaultHTTPConfig holds the defaults applied to zero fields of an HTTPConfig.
var DefaultHTTPConfig = HTTPConfig{
	Method:  http.MethodPost,
	Timeout: 120 * time.Second,
}

// HTTPTransport sends each JSON-RPC call as its own HTTP request.
type HTTPTransport struct {
	url string
	cfg HTTPConfig
	ids *jsonrpc.IDGenerator
	lg  log.Logger
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport returns a transport posting to url.
func NewHTTPTransport(url string, cfg HTTPConfig) *HTTPTransport {
	if cfg.Method == "" {
		cfg.Method = DefaultHTTPConfig.Method
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig.Timeout
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	return &HTTPTransport{
		url: url,
		cfg: cfg,
		ids: jsonrpc.NewIDGenerator(),
		lg:  log.OrNoop(cfg.Logger).WithName("http-transport"),
	}
}

// NewRequest builds a request with the next ID of this transport.
func (t *HTTPTransport) NewRequest(method string, params ...any) jsonrpc.Request {
	return t.ids.NewRequest(method, params...)
}

type httpOutcome struct {
	res jsonrpc.Response
	err error
}

// Send posts req and waits for the reply, the timeout or ctx, whichever comes first.
// The HTTP exchange itself is never cancelled: a late reply is discarded.
func (t *HTTPTransport) Send(ctx context.Context, req jsonrpc.Request, opts ...CallOption) (jsonrpc.Response, error) {
	req = t.cfg.Middleware.RequestPipeline(req.Method)(req)
	o := applyOptions(opts)
	timeout := t.cfg.Timeout
	if o.timeout > 0 {
		timeout = o.timeout
	}

	body, err := json.Marshal(req)
	if err != nil {
		return jsonrpc.Response{}, fmt.Errorf("%w: %w", ErrEncodingRequest, err)
	}

	started := time.Now()
	t.cfg.Metrics.pending(httpTransportLabel, 1)
	defer t.cfg.Metrics.pending(httpTransportLabel, -1)

	done := make(chan httpOutcome, 1)
	go func() {
		res, err := t.exchange(context.WithoutCancel(ctx), req, body, o.header)
		done <- httpOutcome{res: res, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out httpOutcome
	select {
	case out = <-done:
	case <-timer.C:
		out.err = fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, req.Method)
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	t.cfg.Metrics.observe(httpTransportLabel, req.Method, time.Since(started).Seconds(), out.err)
	if out.err != nil && !isRPCError(out.err) {
		t.lg.Warn("call failed", "method", req.Method, "id", req.ID, "error", out.err)
	}
	return out.res, out.err
}

func (t *HTTPTransport) exchange(ctx context.Context, req jsonrpc.Request, body []byte, header http.Header) (jsonrpc.Response, error) {
	var res jsonrpc.Response
	run := func() error {
		var err error
		res, err = t.post(ctx, body, header)
		return err
	}

	var err error
	if t.cfg.Breaker != nil {
		err = t.cfg.Breaker.Run(run)
	} else {
		err = run()
	}
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

func (t *HTTPTransport) post(ctx context.Context, body []byte, header http.Header) (jsonrpc.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, t.cfg.Method, t.url, bytes.NewReader(body))
	if err != nil {
		return jsonrpc.Response{}, fmt.Errorf("%w: %w", ErrEncodingRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range t.cfg.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if t.cfg.Username != "" {
		httpReq.SetBasicAuth(t.cfg.Username, t.cfg.Password)
	}

	httpRes, err := t.cfg.Client.Do(httpReq)
	if err != nil {
		return jsonrpc.Response{}, fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}
	defer httpRes.Body.Close()

	var res jsonrpc.Response
	decodeErr := json.NewDecoder(io.LimitReader(httpRes.Body, maxResponseBody)).Decode(&res)
	// Servers commonly answer JSON-RPC errors with a 4xx/5xx status and a valid body.
	if httpRes.StatusCode/100 != 2 && (decodeErr != nil || res.Error == nil) {
		return jsonrpc.Response{}, fmt.Errorf("%w: %s", ErrHTTPStatus, httpRes.Status)
	}
	if decodeErr != nil {
		return jsonrpc.Response{}, fmt.Errorf("%w: %w", ErrInvalidResponse, decodeErr)
	}
	return res, nil
}

// Subscribe is not available over HTTP.
func (t *HTTPTransport) Subscribe(context.Context, jsonrpc.Request) (*Subscription, error) {
	return nil, ErrSubscriptionsUnsupported
}

// Unsubscribe is not available over HTTP.
func (t *HTTPTransport) Unsubscribe(context.Context, string, string) error {
	return ErrSubscriptionsUnsupported
}

// ClearSubscriptions is not available over HTTP.
func (t *HTTPTransport) ClearSubscriptions(context.Context, string) error {
	return ErrSubscriptionsUnsupported
}

// Close drops idle keep-alive connections.
func (t *HTTPTransport) Close() error {
	t.cfg.Client.CloseIdleConnections()
	return nil
}
