package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/middleware"
	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

func newRPCServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, req jsonrpc.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		handle(w, r, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRPC(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(w http.ResponseWriter, r *http.Request, req jsonrpc.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpc" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "static", r.Header.Get("X-Static"))
		assert.Equal(t, http.MethodPost, r.Method)

		switch req.Method {
		case "answer":
			assert.Equal(t, "per-call", r.Header.Get("X-Call"))
			writeRPC(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 42})
		case "fail":
			writeRPC(w, http.StatusInternalServerError, map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -1, "message": "boom"}})
		}
	})

	tr := transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{
		Header:   http.Header{"X-Static": {"static"}},
		Username: "rpc",
		Password: "secret",
	})
	defer tr.Close()

	res, err := tr.Send(context.Background(), jsonrpc.Request{ID: 7, Method: "answer"}, transport.WithHeader("X-Call", "per-call"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.ID)
	var n int
	require.NoError(t, res.Decode(&n))
	assert.Equal(t, 42, n)
	require.NotNil(t, res.Request)
	assert.Equal(t, uint64(7), res.Request.ID)

	_, err = tr.Send(context.Background(), jsonrpc.Request{ID: 7, Method: "fail"})
	rpcErr, ok := jsonrpc.AsError(err)
	require.True(t, ok, "expected protocol error, got %v", err)
	assert.Equal(t, -1, rpcErr.Code)
}

func TestHTTPTransport_TimeoutRace(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request, req jsonrpc.Request) {
		time.Sleep(500 * time.Millisecond)
		writeRPC(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "late"})
	})

	tr := transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{Timeout: 50 * time.Millisecond})
	started := time.Now()
	_, err := tr.Send(context.Background(), tr.NewRequest("slow"))
	elapsed := time.Since(started)

	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Less(t, elapsed, 400*time.Millisecond)

	// per-call override wins over the configured timeout
	tr = transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{Timeout: 50 * time.Millisecond})
	res, err := tr.Send(context.Background(), tr.NewRequest("slow"), transport.WithTimeout(2*time.Second))
	require.NoError(t, err)
	var got string
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, "late", got)
}

func TestHTTPTransport_Validation(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request, req jsonrpc.Request) {
		switch req.Method {
		case "wrong-id":
			writeRPC(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID + 1, "result": 1})
		case "empty":
			writeRPC(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID})
		case "garbage":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("not json"))
		case "unavailable":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}
	})
	tr := transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{})
	ctx := context.Background()

	_, err := tr.Send(ctx, tr.NewRequest("wrong-id"))
	assert.ErrorIs(t, err, transport.ErrMismatchedID)

	_, err = tr.Send(ctx, tr.NewRequest("empty"))
	assert.ErrorIs(t, err, transport.ErrInvalidResponse)

	_, err = tr.Send(ctx, tr.NewRequest("garbage"))
	assert.ErrorIs(t, err, transport.ErrInvalidResponse)

	_, err = tr.Send(ctx, tr.NewRequest("unavailable"))
	assert.ErrorIs(t, err, transport.ErrHTTPStatus)
}

func TestHTTPTransport_Middleware(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request, req jsonrpc.Request) {
		writeRPC(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": req.Params})
	})

	reg := middleware.NewRegistry()
	reg.UseRequest(func(r jsonrpc.Request) jsonrpc.Request {
		r.Params = append(r.Params, "wire")
		return r
	}, middleware.Any())

	tr := transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{Middleware: reg})
	res, err := tr.Send(context.Background(), tr.NewRequest("echo", "caller"))
	require.NoError(t, err)
	assert.JSONEq(t, `["caller","wire"]`, string(res.Result))
}

func TestHTTPTransport_Breaker(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request, _ jsonrpc.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	tr := transport.NewHTTPTransport(srv.URL, transport.HTTPConfig{Breaker: breaker.New(1, 1, time.Minute)})
	_, err := tr.Send(context.Background(), tr.NewRequest("x"))
	assert.ErrorIs(t, err, transport.ErrHTTPStatus)

	_, err = tr.Send(context.Background(), tr.NewRequest("x"))
	assert.ErrorIs(t, err, breaker.ErrBreakerOpen)
}

func TestHTTPTransport_SubscriptionsUnsupported(t *testing.T) {
	t.Parallel()

	tr := transport.NewHTTPTransport("http://127.0.0.1:1", transport.HTTPConfig{})
	ctx := context.Background()

	_, err := tr.Subscribe(ctx, tr.NewRequest("blockchain.headers.subscribe"))
	assert.ErrorIs(t, err, transport.ErrSubscriptionsUnsupported)
	assert.ErrorIs(t, tr.Unsubscribe(ctx, "x", "1"), transport.ErrSubscriptionsUnsupported)
	assert.ErrorIs(t, tr.ClearSubscriptions(ctx, "x"), transport.ErrSubscriptionsUnsupported)
}
