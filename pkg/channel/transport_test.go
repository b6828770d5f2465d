package channel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/channel"
)

type received struct {
	kind string
	data string
}

func collect(tr channel.Transport) <-chan received {
	ch := make(chan received, 16)
	tr.OnFrame(func(kind string, data json.RawMessage) {
		ch <- received{kind: kind, data: string(data)}
	})
	return ch
}

func next(t *testing.T, ch <-chan received) received {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return received{}
	}
}

func TestBroadcastTransport(t *testing.T) {
	t.Parallel()

	bus := channel.NewBus(nil)
	a, b, c := bus.Join("wallet"), bus.Join("wallet"), bus.Join("wallet")
	other := bus.Join("other")
	defer func() {
		for _, tr := range []*channel.BroadcastTransport{a, b, c, other} {
			_ = tr.Close()
		}
	}()
	assert.NotEqual(t, a.ID(), b.ID())

	fromA, fromB, fromC, fromOther := collect(a), collect(b), collect(c), collect(other)

	require.NoError(t, a.Send(context.Background(), "request", json.RawMessage(`{"id":1}`)))
	assert.Equal(t, received{kind: "request", data: `{"id":1}`}, next(t, fromB))
	assert.Equal(t, received{kind: "request", data: `{"id":1}`}, next(t, fromC))

	select {
	case r := <-fromA:
		t.Fatalf("sender received its own frame: %v", r)
	case r := <-fromOther:
		t.Fatalf("frame crossed bus names: %v", r)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, c.Close())
	<-c.Done()
	require.NoError(t, a.Send(context.Background(), "response", json.RawMessage(`2`)))
	assert.Equal(t, "response", next(t, fromB).kind)
	assert.Error(t, c.Send(context.Background(), "request", json.RawMessage(`3`)))
}

func TestDuplexTransport(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	a := channel.NewDuplexTransport(left, channel.DuplexConfig{Prefix: "rpccore:"})
	b := channel.NewDuplexTransport(right, channel.DuplexConfig{Prefix: "rpccore:"})
	defer a.Close()

	fromA := collect(b)
	collect(a)

	require.NoError(t, a.Send(context.Background(), "request", json.RawMessage(`{"id":7,"data":7}`)))
	assert.Equal(t, received{kind: "request", data: `{"id":7,"data":7}`}, next(t, fromA))

	require.NoError(t, b.Close())
	select {
	case <-a.Done():
		assert.NoError(t, a.Err())
	case <-time.After(time.Second):
		t.Fatal("peer close not observed")
	}
}

func TestDuplexTransportIgnoresForeignPrefix(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	tr := channel.NewDuplexTransport(right, channel.DuplexConfig{Prefix: "rpccore:"})
	defer tr.Close()
	frames := collect(tr)

	go func() {
		_ = channel.WriteFrame(left, []byte(`{"_type_":"other:request","data":1}`))
		_ = channel.WriteFrame(left, []byte(`{"_type_":"rpccore:response","data":2}`))
	}()
	assert.Equal(t, received{kind: "response", data: "2"}, next(t, frames))
	_ = left.Close()
}

func TestFrameCodec(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, channel.WriteFrame(&buf, []byte("hello")))
	assert.Equal(t, []byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}, buf.Bytes())

	got, err := channel.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = channel.ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, channel.ErrFrameTooLarge)
}

func TestChannelOverDuplex(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	client := channel.New(channel.NewDuplexTransport(left, channel.DuplexConfig{}), channel.Config{})
	server := channel.New(channel.NewDuplexTransport(right, channel.DuplexConfig{}), channel.Config{})
	defer server.Dispose()

	server.Listen(func(_ context.Context, data json.RawMessage) (any, error) {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return n * 6, nil
	})

	res, err := client.Request(testCtx(t), 7)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, res, 0)

	require.NoError(t, client.Dispose())
	_, err = client.Request(testCtx(t), 7)
	assert.ErrorIs(t, err, channel.ErrDisposed)
}
