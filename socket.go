package signalfire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socket wraps a single WebSocket connection. The client owns at most one
// socket at a time; the done channel is closed when its read loop exits.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	done         chan struct{}

	// Write serialization
	writeMu sync.Mutex
}

// dialSocket dials addr and verifies that the server negotiated the
// expected sub-protocol. On a mismatch the connection is closed with code
// 1002 before any frame is processed.
func dialSocket(ctx context.Context, addr string, handshakeTimeout, writeTimeout time.Duration) (*socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Protocol},
	}

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}

	s := &socket{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}

	if got := conn.Subprotocol(); got != Protocol {
		s.sendClose(websocket.CloseProtocolError, "unexpected subprotocol")
		conn.Close()
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("negotiated subprotocol %q, want %q", got, Protocol),
		}
	}

	return s, nil
}

// readFrame reads a single frame, bounded by the given timeout when
// non-zero. Used for the handshake; the steady-state read loop reads
// without a deadline.
func (s *socket) readFrame(timeout time.Duration) (int, []byte, error) {
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.ReadMessage()
}

// writeText writes a single text frame.
func (s *socket) writeText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ping sends a keepalive ping control frame.
func (s *socket) ping() error {
	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte("keepalive"),
		time.Now().Add(s.writeTimeout),
	)
}

// sendClose sends a close control frame with the given status code. The
// underlying connection stays open so the close exchange can complete.
func (s *socket) sendClose(code int, reason string) error {
	return s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeTimeout),
	)
}

// abort sends a close frame and tears the connection down immediately.
func (s *socket) abort(code int, reason string) {
	s.sendClose(code, reason)
	s.conn.Close()
}
