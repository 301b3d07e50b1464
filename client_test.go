package signalfire

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockSignalServer creates a test signaling server that negotiates the
// Signal-Fire sub-protocol.
func mockSignalServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{Protocol},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func sendWelcome(conn *websocket.Conn, id string) error {
	return conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"cmd":"welcome","data":{"id":"`+id+`"}}`))
}

// readUntilClosed drains frames until the peer closes.
func readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitForState(t *testing.T, c *Client, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func TestClient_Connect(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		if err := sendWelcome(conn, "abc"); err != nil {
			return
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	client := New(DefaultConfig(), nil)

	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := client.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if got := client.ID(); got != "abc" {
		t.Errorf("id = %q, want abc", got)
	}

	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	waitForState(t, client, StateClosed)
}

func TestClient_Connect_SubprotocolMismatch(t *testing.T) {
	// Upgrader without Subprotocols never negotiates Signal-Fire@3.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readUntilClosed(conn)
	}))
	defer server.Close()

	client := New(DefaultConfig(), nil)

	err := client.Connect(context.Background(), wsURL(server))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestClient_Connect_InvalidWelcome(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"wrong command", `{"cmd":"hello","data":{"id":"abc"}}`},
		{"missing id", `{"cmd":"welcome","data":{}}`},
		{"not json", `welcome!`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := mockSignalServer(t, func(conn *websocket.Conn) {
				conn.WriteMessage(websocket.TextMessage, []byte(tc.frame))
				readUntilClosed(conn)
			})
			defer server.Close()

			client := New(DefaultConfig(), nil)

			err := client.Connect(context.Background(), wsURL(server))
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want ProtocolError", err)
			}
			if got := client.State(); got != StateClosed {
				t.Errorf("state = %v, want closed", got)
			}
		})
	}
}

func TestClient_Connect_BinaryWelcome(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		readUntilClosed(conn)
	})
	defer server.Close()

	client := New(DefaultConfig(), nil)

	err := client.Connect(context.Background(), wsURL(server))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestClient_Connect_AlreadyConnected(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "abc")
		readUntilClosed(conn)
	})
	defer server.Close()

	client := New(DefaultConfig(), nil)

	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(context.Background())

	if err := client.Connect(context.Background(), wsURL(server)); err != ErrAlreadyConnected {
		t.Errorf("error = %v, want ErrAlreadyConnected", err)
	}
}

func TestClient_Close_NoTransport(t *testing.T) {
	var transitions atomic.Int32
	cfg := DefaultConfig()
	cfg.Events.OnStateChange = func(old, next ConnectionState) {
		transitions.Add(1)
	}

	client := New(cfg, nil)

	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if got := client.State(); got != StateNew {
		t.Errorf("state = %v, want new", got)
	}
	if n := transitions.Load(); n != 0 {
		t.Errorf("state transitions = %d, want 0", n)
	}
}

func TestClient_Connect_Configuration(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"cmd":"welcome","data":{"id":"abc","configuration":{"iceServers":["stun:a"],"extra":1}}}`))
		readUntilClosed(conn)
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.PeerConfiguration = map[string]any{"extra": 0, "local": true}

	client := New(cfg, nil)
	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(context.Background())

	got := client.Configuration()
	if _, ok := got["iceServers"]; !ok {
		t.Error("expected server-supplied iceServers key")
	}
	if got["extra"] != float64(1) {
		t.Errorf("extra = %v, want server value 1", got["extra"])
	}
	if got["local"] != true {
		t.Error("expected local key to survive the merge")
	}
}

func TestClient_InboundEvents(t *testing.T) {
	frames := []string{
		`{"cmd":"ice","origin":"peerB","data":{"candidate":{"candidate":"cand0","sdpMid":"0"}}}`,
		`{"cmd":"offer","origin":"peerA","data":{"offer":{"type":"offer","sdp":"v=0"}}}`,
		`{"cmd":"bye","origin":"peerC","data":{}}`,
		`{"origin":"peerD"}`,
		`{"unknown":"shape"}`,
	}

	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "abc")
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	descriptions := make(chan DescriptionEvent, 16)
	candidates := make(chan CandidateEvent, 16)
	commands := make(chan CommandEvent, 16)
	clientErrs := make(chan error, 16)

	cfg := DefaultConfig()
	cfg.Events = Events{
		OnDescription: func(ev DescriptionEvent) { descriptions <- ev },
		OnCandidate:   func(ev CandidateEvent) { candidates <- ev },
		OnCommand:     func(ev CommandEvent) { commands <- ev },
		OnError:       func(err error) { clientErrs <- err },
	}

	client := New(cfg, nil)
	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(context.Background())

	select {
	case ev := <-candidates:
		if ev.Origin != "peerB" {
			t.Errorf("candidate origin = %q, want peerB", ev.Origin)
		}
		if string(ev.Candidate) != `{"candidate":"cand0","sdpMid":"0"}` {
			t.Errorf("candidate payload = %s", ev.Candidate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no candidate event")
	}

	select {
	case ev := <-descriptions:
		if ev.Origin != "peerA" {
			t.Errorf("description origin = %q, want peerA", ev.Origin)
		}
		var desc SessionDescription
		if err := json.Unmarshal(ev.Description, &desc); err != nil || desc.Type != "offer" {
			t.Errorf("description payload = %s", ev.Description)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no description event")
	}

	select {
	case ev := <-commands:
		if ev.Cmd != "bye" || ev.Message.Origin != "peerC" {
			t.Errorf("command event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command event")
	}

	// The frame with origin but no cmd raises a non-fatal error.
	select {
	case err := <-clientErrs:
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("error = %v, want ProtocolError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event for missing cmd")
	}

	if got := client.State(); got != StateConnected {
		t.Errorf("state = %v, non-fatal errors must not alter connection state", got)
	}
}

func TestClient_MalformedFramesAfterHandshake(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "abc")
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xff})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":`))
		readUntilClosed(conn)
	})
	defer server.Close()

	clientErrs := make(chan error, 16)
	cfg := DefaultConfig()
	cfg.Events.OnError = func(err error) { clientErrs <- err }

	client := New(cfg, nil)
	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(context.Background())

	// One event for the binary frame, one for the unparsable JSON.
	for i := 0; i < 2; i++ {
		select {
		case err := <-clientErrs:
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("error = %v, want ProtocolError", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing protocol error event")
		}
	}
	if got := client.State(); got != StateConnected {
		t.Errorf("state = %v, malformed frames must not alter connection state", got)
	}
}

func TestClient_PingFailure_SingleErrorEvent(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "abc")
		readUntilClosed(conn)
	})
	defer server.Close()

	clientErrs := make(chan error, 16)
	cfg := DefaultConfig()
	cfg.ReconnectOnError = false
	cfg.PingInterval = 10 * time.Millisecond
	cfg.WriteTimeout = time.Nanosecond // every ping misses its deadline
	cfg.Events.OnError = func(err error) { clientErrs <- err }

	client := New(cfg, nil)
	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitForState(t, client, StateClosed)
	time.Sleep(100 * time.Millisecond)

	n := 0
	for {
		select {
		case <-clientErrs:
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Errorf("error events = %d, want exactly one for the failed connection", n)
	}
}

func TestClient_CloseDuringConnect_NoIllegalTransition(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "srv")
		readUntilClosed(conn)
	})
	defer server.Close()

	for i := 0; i < 25; i++ {
		var fromClosing atomic.Bool
		cfg := DefaultConfig()
		cfg.Events.OnStateChange = func(old, next ConnectionState) {
			if old == StateClosing && next == StateConnected {
				fromClosing.Store(true)
			}
		}
		client := New(cfg, nil)

		// A queued request widens the window between installing the
		// transport and announcing the connection.
		reqCtx, cancelReq := context.WithCancel(context.Background())
		go client.Request(reqCtx, Request{ID: "q", Cmd: "ice", Target: "p"})
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			client.mu.Lock()
			n := len(client.outbox)
			client.mu.Unlock()
			if n == 1 {
				break
			}
			time.Sleep(time.Millisecond)
		}

		connected := make(chan error, 1)
		go func() {
			connected <- client.Connect(context.Background(), wsURL(server))
		}()
		if err := client.Close(context.Background()); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		<-connected
		client.Close(context.Background())
		cancelReq()

		if fromClosing.Load() {
			t.Fatal("observed closing to connected transition")
		}
	}
}

func TestClient_StateTransitions(t *testing.T) {
	server := mockSignalServer(t, func(conn *websocket.Conn) {
		sendWelcome(conn, "abc")
		readUntilClosed(conn)
	})
	defer server.Close()

	states := make(chan ConnectionState, 16)
	cfg := DefaultConfig()
	cfg.Events.OnStateChange = func(old, next ConnectionState) { states <- next }

	client := New(cfg, nil)
	if err := client.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitForState(t, client, StateClosed)

	want := []ConnectionState{StateConnecting, StateConnected, StateClosing, StateClosed}
	for _, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Fatalf("transition to %v, want %v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing transition to %v", w)
		}
	}
	select {
	case got := <-states:
		t.Fatalf("unexpected extra transition to %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

