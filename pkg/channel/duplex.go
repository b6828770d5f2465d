package channel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/erc7824/nitrolite/rpccore/pkg/log"
)

// MaxFrameSize bounds a single duplex frame.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// DuplexConfig configures a DuplexTransport.
type DuplexConfig struct {
	// Prefix namespaces frame types so that several protocols can share a connection.
	Prefix string
	// WriteTimeout bounds each frame write. Zero means no deadline.
	WriteTimeout time.Duration
	Logger       log.Logger
}

type duplexEnvelope struct {
	Type string          `json:"_type_"`
	Data json.RawMessage `json:"data"`
}

// DuplexTransport exchanges frames with exactly one peer over a net.Conn. Each frame
// is a 4-byte little-endian length followed by a JSON envelope.
type DuplexTransport struct {
	conn net.Conn
	cfg  DuplexConfig
	lg   log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	handler func(kind string, data json.RawMessage)
	started bool

	done    chan struct{}
	once    sync.Once
	readErr error
}

// NewDuplexTransport wraps conn. Reading starts with the first OnFrame call.
func NewDuplexTransport(conn net.Conn, cfg DuplexConfig) *DuplexTransport {
	return &DuplexTransport{
		conn: conn,
		cfg:  cfg,
		lg:   log.OrNoop(cfg.Logger).WithName("duplex"),
		done: make(chan struct{}),
	}
}

func (t *DuplexTransport) Send(ctx context.Context, kind string, data json.RawMessage) error {
	payload, err := json.Marshal(duplexEnvelope{Type: t.cfg.Prefix + kind, Data: data})
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return WriteFrame(t.conn, payload)
}

func (t *DuplexTransport) OnFrame(fn func(kind string, data json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handler = fn
	if !t.started {
		t.started = true
		go t.readLoop()
	}
}

func (t *DuplexTransport) Done() <-chan struct{} { return t.done }

// Err returns the error that stopped the reader, if any.
func (t *DuplexTransport) Err() error {
	select {
	case <-t.done:
		return t.readErr
	default:
		return nil
	}
}

func (t *DuplexTransport) Close() error {
	err := t.conn.Close()
	t.finish(nil)
	return err
}

func (t *DuplexTransport) finish(err error) {
	t.once.Do(func() {
		t.readErr = err
		close(t.done)
	})
}

func (t *DuplexTransport) readLoop() {
	for {
		payload, err := ReadFrame(t.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			t.finish(err)
			_ = t.conn.Close()
			return
		}

		var env duplexEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.lg.Warn("dropping malformed frame", "error", err)
			continue
		}
		kind, ok := strings.CutPrefix(env.Type, t.cfg.Prefix)
		if !ok {
			t.lg.Debug("ignoring frame for another prefix", "type", env.Type)
			continue
		}

		t.mu.Lock()
		fn := t.handler
		t.mu.Unlock()
		fn(kind, env.Data)
	}
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes payload to w with a 4-byte little-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}
