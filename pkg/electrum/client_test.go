package electrum_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/electrum"
	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

func newClient(t *testing.T, tr transport.Transport) *electrum.Client {
	t.Helper()

	c, err := electrum.NewClient(tr, electrum.Config{})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientListUnspent(t *testing.T) {
	t.Parallel()

	tr := NewMockTransport()
	tr.Handle(electrum.ListUnspentMethod.String(), func(params []any) (any, error) {
		return json.RawMessage(`[
			{"tx_hash":"aa","tx_pos":0,"height":812000,"value":120000},
			{"tx_hash":"bb","tx_pos":1,"height":0,"value":30000},
			{"tx_hash":"cc","tx_pos":2,"height":812001,"value":546}
		]`), nil
	})
	c := newClient(t, tr)

	set, err := c.ListUnspent(testCtx(t), genesisAddress)
	require.NoError(t, err)
	require.Len(t, set.Plain, 2)
	require.Len(t, set.Special, 1)
	assert.Equal(t, int64(120000), set.Confirmed)
	assert.Equal(t, int64(30000), set.Unconfirmed)
	assert.Equal(t, "cc:2", set.Special[0].Outpoint())

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{genesisScriptHash}, calls[0].Params)
	assert.Equal(t, "ElectrumX 1.16.0", c.Version().Software)
}

func TestClientGetBalance(t *testing.T) {
	t.Parallel()

	tr := NewMockTransport()
	tr.Handle(electrum.GetBalanceMethod.String(), func([]any) (any, error) {
		return electrum.Balance{Confirmed: 100, Unconfirmed: -20}, nil
	})
	c := newClient(t, tr)

	b, err := c.GetBalance(testCtx(t), genesisAddress)
	require.NoError(t, err)
	assert.Equal(t, electrum.Balance{Confirmed: 100, Unconfirmed: -20}, b)

	_, err = c.GetBalance(testCtx(t), "bogus")
	assert.ErrorIs(t, err, electrum.ErrInvalidAddress)
	assert.Len(t, tr.Calls(), 1)
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	tr := NewMockTransport()
	tr.Handle(electrum.BroadcastMethod.String(), func([]any) (any, error) {
		return nil, jsonrpc.NewError(1, "the transaction was rejected by network rules")
	})
	tr.Handle(electrum.GetTransactionMethod.String(), func([]any) (any, error) {
		return nil, transport.ErrConnectionLost
	})
	tr.Handle(electrum.GetHistoryMethod.String(), func([]any) (any, error) {
		return "not a list", nil
	})
	c := newClient(t, tr)
	ctx := testCtx(t)

	t.Run("protocol", func(t *testing.T) {
		_, err := c.Broadcast(ctx, "0100")
		rpcErr, ok := jsonrpc.AsError(err)
		require.True(t, ok)
		assert.Equal(t, 1, rpcErr.Code)
		assert.False(t, electrum.IsConnectionError(err))
	})

	t.Run("connection", func(t *testing.T) {
		_, err := c.GetTransaction(ctx, "aa")
		require.True(t, electrum.IsConnectionError(err))
		assert.ErrorIs(t, err, transport.ErrConnectionLost)
	})

	t.Run("write", func(t *testing.T) {
		tr.Handle(electrum.GetMempoolMethod.String(), func([]any) (any, error) {
			return nil, fmt.Errorf("%w: broken pipe", transport.ErrSendingRequest)
		})
		_, err := c.GetMempool(ctx, genesisAddress)
		require.True(t, electrum.IsConnectionError(err))
		assert.ErrorIs(t, err, transport.ErrSendingRequest)
	})

	t.Run("shape", func(t *testing.T) {
		_, err := c.GetHistory(ctx, genesisAddress)
		assert.ErrorIs(t, err, jsonrpc.ErrInvalidResponse)
		assert.False(t, electrum.IsConnectionError(err))
	})
}

func TestClientEstimateFee(t *testing.T) {
	t.Parallel()

	var fee atomic.Value
	fee.Store(json.RawMessage(`0.00012`))

	tr := NewMockTransport()
	tr.Handle(electrum.EstimateFeeMethod.String(), func(params []any) (any, error) {
		return fee.Load(), nil
	})
	c := newClient(t, tr)

	got, err := c.EstimateFee(testCtx(t), 6)
	require.NoError(t, err)
	assert.Equal(t, "0.00012", got.String())
	assert.Equal(t, []any{6}, tr.Calls()[0].Params)

	fee.Store(json.RawMessage(`-1`))
	_, err = c.EstimateFee(testCtx(t), 6)
	assert.ErrorIs(t, err, electrum.ErrFeeUnavailable)
}

func TestClientGateFollowsTransport(t *testing.T) {
	t.Parallel()

	sock := NewMockSocket(false)
	sock.Handle(electrum.ServerPingMethod.String(), func([]any) (any, error) { return nil, nil })
	c := newClient(t, sock)

	done := make(chan error, 1)
	go func() { done <- c.Ping(testCtx(t)) }()

	select {
	case <-done:
		t.Fatal("call ran before the transport was ready")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, sock.Calls())

	sock.Emit(transport.EventInfo{Event: transport.EventReady})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("call not admitted after ready")
	}

	sock.Emit(transport.EventInfo{Event: transport.EventDisconnected, Err: transport.ErrConnectionLost})

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Ping(short), context.DeadlineExceeded)

	sock.Emit(transport.EventInfo{Event: transport.EventReady})
	require.NoError(t, c.Ping(testCtx(t)))
}

func TestClientCloseRejectsQueued(t *testing.T) {
	t.Parallel()

	c := newClient(t, NewMockSocket(false))

	done := make(chan error, 1)
	go func() { done <- c.Ping(testCtx(t)) }()
	time.Sleep(20 * time.Millisecond)

	c.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, electrum.ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("queued call not rejected")
	}
}

func TestClientHandshakeRejected(t *testing.T) {
	t.Parallel()

	tr := NewMockTransport()
	tr.Handle(electrum.ServerVersionMethod.String(), func([]any) (any, error) {
		return nil, jsonrpc.NewError(1, "unsupported protocol version")
	})
	tr.Handle(electrum.GetTransactionMethod.String(), func([]any) (any, error) { return "0200", nil })
	c := newClient(t, tr)

	raw, err := c.GetTransaction(testCtx(t), "aa")
	require.NoError(t, err)
	assert.Equal(t, "0200", raw)
	assert.Equal(t, electrum.ServerVersion{}, c.Version())
}

func TestClientHandshakeSendFailureWithoutEvents(t *testing.T) {
	t.Parallel()

	tr := NewMockTransport()
	tr.Handle(electrum.ServerVersionMethod.String(), func([]any) (any, error) {
		return nil, fmt.Errorf("%w: connection reset", transport.ErrSendingRequest)
	})
	tr.Handle(electrum.ServerPingMethod.String(), func([]any) (any, error) { return nil, nil })
	c := newClient(t, tr)

	require.NoError(t, c.Ping(testCtx(t)))
	assert.Equal(t, electrum.ServerVersion{}, c.Version())
}

func TestClientOnNewHeader(t *testing.T) {
	t.Parallel()

	sock := NewMockSocket(true)
	sock.Handle(electrum.HeadersSubscribeMethod.String(), func([]any) (any, error) {
		return electrum.Header{Height: 800000, Hex: "00"}, nil
	})
	c := newClient(t, sock)

	headers := make(chan electrum.Header, 1)
	unregister, err := c.OnNewHeader(testCtx(t), func(h electrum.Header) { headers <- h })
	require.NoError(t, err)
	defer unregister()

	sock.Notify(electrum.HeadersSubscribeMethod.String(), electrum.Header{Height: 800001, Hex: "01"})
	select {
	case h := <-headers:
		assert.Equal(t, int64(800001), h.Height)
	case <-time.After(time.Second):
		t.Fatal("header not delivered")
	}

	_, err = newClient(t, NewMockTransport()).OnNewHeader(testCtx(t), func(electrum.Header) {})
	assert.ErrorIs(t, err, transport.ErrSubscriptionsUnsupported)
}

func TestClientWatchAddressRestoredOnReconnect(t *testing.T) {
	t.Parallel()

	sock := NewMockSocket(true)
	var subscribes atomic.Int32
	sock.Handle(electrum.ScriptHashSubscribeMethod.String(), func([]any) (any, error) {
		subscribes.Add(1)
		return nil, nil
	})
	sock.Handle(electrum.ScriptHashUnsubscribeMethod.String(), func([]any) (any, error) { return true, nil })
	c := newClient(t, sock)

	statuses := make(chan string, 4)
	unregister, err := c.WatchAddress(testCtx(t), genesisAddress, func(s string) { statuses <- s })
	require.NoError(t, err)

	sock.Notify(electrum.ScriptHashSubscribeMethod.String(), "ffff", "ignored")
	sock.Notify(electrum.ScriptHashSubscribeMethod.String(), genesisScriptHash, "abcd")
	select {
	case s := <-statuses:
		assert.Equal(t, "abcd", s)
	case <-time.After(time.Second):
		t.Fatal("status not delivered")
	}

	sock.Emit(transport.EventInfo{Event: transport.EventDisconnected})
	sock.Emit(transport.EventInfo{Event: transport.EventReady})
	require.Eventually(t, func() bool { return subscribes.Load() == 2 }, time.Second, 5*time.Millisecond)

	unregister()
	calls := sock.Calls()
	assert.Equal(t, electrum.ScriptHashUnsubscribeMethod.String(), calls[len(calls)-1].Method)
}
