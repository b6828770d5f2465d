package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/erc7824/nitrolite/rpccore/pkg/log"
)

var errEndpointClosed = errors.New("broadcast endpoint closed")

const broadcastInbox = 256

// Bus is a set of named in-process broadcast channels. Every frame sent by an
// endpoint is delivered to every other endpoint joined under the same name.
type Bus struct {
	mu    sync.Mutex
	names map[string]map[uuid.UUID]*BroadcastTransport
	lg    log.Logger
}

// NewBus returns an empty bus.
func NewBus(lg log.Logger) *Bus {
	return &Bus{
		names: make(map[string]map[uuid.UUID]*BroadcastTransport),
		lg:    log.OrNoop(lg).WithName("bus"),
	}
}

type broadcastEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BroadcastTransport is one endpoint on a Bus.
type BroadcastTransport struct {
	bus   *Bus
	name  string
	id    uuid.UUID
	inbox chan []byte
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	handler func(kind string, data json.RawMessage)
}

// Join adds a new endpoint under name.
func (b *Bus) Join(name string) *BroadcastTransport {
	t := &BroadcastTransport{
		bus:   b,
		name:  name,
		id:    uuid.New(),
		inbox: make(chan []byte, broadcastInbox),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.names[name] == nil {
		b.names[name] = make(map[uuid.UUID]*BroadcastTransport)
	}
	b.names[name][t.id] = t
	b.mu.Unlock()

	go t.deliver()
	return t
}

func (b *Bus) peers(name string, except uuid.UUID) []*BroadcastTransport {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*BroadcastTransport, 0, len(b.names[name]))
	for id, t := range b.names[name] {
		if id != except {
			out = append(out, t)
		}
	}
	return out
}

func (b *Bus) leave(t *BroadcastTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.names[t.name], t.id)
	if len(b.names[t.name]) == 0 {
		delete(b.names, t.name)
	}
}

// ID identifies the endpoint on its bus.
func (t *BroadcastTransport) ID() uuid.UUID { return t.id }

// Send serialises the frame once and queues a copy for every other endpoint.
func (t *BroadcastTransport) Send(ctx context.Context, kind string, data json.RawMessage) error {
	select {
	case <-t.done:
		return errEndpointClosed
	default:
	}

	frame, err := json.Marshal(broadcastEnvelope{Type: kind, Data: data})
	if err != nil {
		return err
	}
	for _, peer := range t.bus.peers(t.name, t.id) {
		select {
		case peer.inbox <- frame:
		case <-peer.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *BroadcastTransport) OnFrame(fn func(kind string, data json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

func (t *BroadcastTransport) Done() <-chan struct{} { return t.done }

// Close leaves the bus. Queued inbound frames are discarded.
func (t *BroadcastTransport) Close() error {
	t.once.Do(func() {
		t.bus.leave(t)
		close(t.done)
	})
	return nil
}

func (t *BroadcastTransport) deliver() {
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.inbox:
			var env broadcastEnvelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.bus.lg.Warn("dropping malformed broadcast frame", "endpoint", t.id, "error", err)
				continue
			}
			t.mu.Lock()
			fn := t.handler
			t.mu.Unlock()
			if fn != nil {
				fn(env.Type, env.Data)
			}
		}
	}
}
