package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

// fakeServer is a scripted JSON-RPC websocket server.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	// upgradeDelay postpones the handshake of every connection.
	upgradeDelay time.Duration
	handle       func(s *fakeServer, conn *websocket.Conn, connNum int, req jsonrpc.Request)

	mu         sync.Mutex
	writeMu    sync.Mutex
	conns      []*websocket.Conn
	received   map[int][]jsonrpc.Request
	opened     chan int
	rejecting  int
	handshakes int
}

// echoMethod answers every request with its method name.
func echoMethod(s *fakeServer, conn *websocket.Conn, _ int, req jsonrpc.Request) {
	s.reply(conn, req.ID, req.Method)
}

func newFakeServer(t *testing.T, handle func(s *fakeServer, conn *websocket.Conn, connNum int, req jsonrpc.Request)) *fakeServer {
	t.Helper()
	if handle == nil {
		handle = echoMethod
	}
	s := &fakeServer{
		t:        t,
		handle:   handle,
		received: make(map[int][]jsonrpc.Request),
		opened:   make(chan int, 16),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.upgradeDelay > 0 {
			time.Sleep(s.upgradeDelay)
		}
		s.mu.Lock()
		s.handshakes++
		reject := s.rejecting > 0
		if reject {
			s.rejecting--
		}
		s.mu.Unlock()
		if reject {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		connNum := len(s.conns)
		s.mu.Unlock()
		s.opened <- connNum

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req jsonrpc.Request
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			s.mu.Lock()
			s.received[connNum] = append(s.received[connNum], req)
			s.mu.Unlock()

			s.handle(s, conn, connNum, req)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeServer) writeJSON(conn *websocket.Conn, v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

func (s *fakeServer) writeRaw(conn *websocket.Conn, data string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (s *fakeServer) reply(conn *websocket.Conn, id uint64, result any) {
	s.writeJSON(conn, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *fakeServer) replyError(conn *websocket.Conn, id uint64, code int, msg string) {
	s.writeJSON(conn, map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": msg}})
}

func (s *fakeServer) notify(conn *websocket.Conn, method string, params any) {
	s.writeJSON(conn, map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// conn returns the n-th accepted connection (1-based).
func (s *fakeServer) conn(n int) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[n-1]
}

func (s *fakeServer) requests(connNum int) []jsonrpc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jsonrpc.Request(nil), s.received[connNum]...)
}

func (s *fakeServer) methods(connNum int) []string {
	var out []string
	for _, r := range s.requests(connNum) {
		out = append(out, r.Method)
	}
	return out
}

// drop kills connection n without a close frame.
func (s *fakeServer) drop(n int) {
	_ = s.conn(n).UnderlyingConn().Close()
}

// closeNormally sends a 1000 close frame on connection n.
func (s *fakeServer) closeNormally(n int) {
	conn := s.conn(n)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
}

func (s *fakeServer) waitOpened(t *testing.T) int {
	t.Helper()
	select {
	case n := <-s.opened:
		return n
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no connection opened")
		return 0
	}
}

// rejectNext answers the next n handshakes with 502 Bad Gateway.
func (s *fakeServer) rejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejecting = n
}

func (s *fakeServer) handshakeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}
