package signalfire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signal-fire/client-go/internal/metrics"
)

// Client is a signaling-channel client. It maintains a persistent,
// reconnecting WebSocket connection to a signaling server, exchanges a
// small JSON request/response protocol over it, and republishes
// unsolicited inbound protocol messages as typed events.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	genID     func() string
	transform URLTransform

	mu          sync.Mutex
	state       ConnectionState
	sock        *socket
	id          string
	peerConfig  map[string]any
	addr        string
	hadError    bool
	attempts    int
	retryCancel chan struct{}

	// Request/response correlation
	pending map[string]chan Response
	outbox  []outboundFrame
}

// New creates a new signaling client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		genID:     cfg.GenerateID,
		transform: cfg.URLTransform,
		state:     StateNew,
		pending:   make(map[string]chan Response),
	}
	if c.genID == nil {
		c.genID = DefaultConfig().GenerateID
	}
	if c.transform == nil {
		c.transform = identityTransform
	}
	if cfg.PeerConfiguration != nil {
		c.peerConfig = maps.Clone(cfg.PeerConfiguration)
	}
	if cfg.MetricsRegistry != nil {
		c.metrics = metrics.New(cfg.MetricsRegistry)
	}

	return c
}

// State returns the current lifecycle state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the identity assigned by the server during the handshake, or
// "" before the first successful handshake.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Configuration returns a snapshot of the exposed configuration: the
// configured PeerConfiguration with any handshake-supplied configuration
// merged over it.
func (c *Client) Configuration() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.peerConfig)
}

// Connect dials addr, performs the handshake, and transitions the client
// to connected. It is rejected unless the current state is new or closed,
// and rejected with ErrAlreadyConnected when a transport handle already
// exists. A direct Connect call cancels any pending automatic
// reconnection.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()

	// Manual connection preempts a scheduled automatic retry.
	if c.state == StateClosed && c.retryCancel != nil {
		close(c.retryCancel)
		c.retryCancel = nil
	}

	if c.sock != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	switch c.state {
	case StateNew, StateClosed:
	default:
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "connect", State: st}
	}

	old, changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.emitStateChange(old, StateConnecting, changed)

	return c.establish(ctx, addr, false)
}

// Close performs a clean close exchange with status 1000 and waits until
// the transport is released. When no transport exists it resolves
// immediately, cancelling any scheduled reconnection attempt.
func (c *Client) Close(ctx context.Context) error {
	return c.CloseWithStatus(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithStatus closes the connection with the given close code and
// reason.
func (c *Client) CloseWithStatus(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	if c.retryCancel != nil {
		close(c.retryCancel)
		c.retryCancel = nil
	}
	s := c.sock
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateClosing {
		c.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	old, changed := c.setStateLocked(StateClosing)
	c.mu.Unlock()
	c.emitStateChange(old, StateClosing, changed)

	if err := s.sendClose(code, reason); err != nil {
		s.conn.Close()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
}

// establish dials addr and runs the handshake: the negotiated sub-protocol
// must match Protocol, and the first frame must be a welcome carrying a
// non-empty identity. On success the client installs the steady-state read
// loop, flushes buffered requests in issue order, and transitions to
// connected. On failure the client ends at closed.
func (c *Client) establish(ctx context.Context, addr string, reconnect bool) error {
	s, err := dialSocket(ctx, addr, c.cfg.HandshakeTimeout, c.cfg.WriteTimeout)
	if err != nil {
		c.connectFailed(reconnect)
		return err
	}

	mt, data, err := s.readFrame(c.cfg.HandshakeTimeout)
	if err != nil {
		s.conn.Close()
		c.connectFailed(reconnect)
		return fmt.Errorf("read welcome: %w", err)
	}

	w, perr := parseWelcome(mt, data)
	if perr != nil {
		s.abort(websocket.CloseUnsupportedData, perr.Reason)
		c.connectFailed(reconnect)
		return perr
	}

	c.mu.Lock()
	c.sock = s
	c.id = w.Data.ID
	c.addr = addr
	c.hadError = false
	c.attempts = 0
	if w.Data.Configuration != nil {
		merged := make(map[string]any, len(c.peerConfig)+len(w.Data.Configuration))
		maps.Copy(merged, c.peerConfig)
		maps.Copy(merged, w.Data.Configuration)
		c.peerConfig = merged
	}
	// Buffered requests go out before the connected state is observable,
	// so they always precede requests issued after the announcement.
	// Requests arriving during the flush windows still see a
	// not-yet-connected state and join the queue.
	flushErr := c.flushOutboxLocked(s)

	if c.state == StateClosing {
		// A concurrent Close claimed the socket during the flush; finish
		// the close instead of announcing the connection.
		c.sock = nil
		old, changed := c.setStateLocked(StateClosed)
		c.mu.Unlock()
		s.conn.Close()
		close(s.done)
		c.emitStateChange(old, StateClosed, changed)
		return ErrConnectionClosed
	}

	if flushErr != nil {
		// The failed frame is back at the head of the queue. Announcing a
		// connection that could not transmit its buffered work would lose
		// the ordering guarantee, so the whole attempt fails.
		c.sock = nil
		c.mu.Unlock()
		s.conn.Close()
		c.connectFailed(reconnect)
		return flushErr
	}

	old, changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.metrics.ConnectAttempt(metrics.ResultOK, reconnect)
	c.metrics.SetConnected(true)
	c.emitStateChange(old, StateConnected, changed)
	c.logger.Debug("connected", "addr", addr, "id", w.Data.ID)

	go c.readLoop(s)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(s)
	}

	return nil
}

// parseWelcome validates the handshake frame. Any violation aborts the
// connection attempt.
func parseWelcome(mt int, data []byte) (*welcome, *ProtocolError) {
	if mt != websocket.TextMessage {
		return nil, &ProtocolError{Reason: "non-text frame during handshake"}
	}
	var w welcome
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Reason: "malformed handshake frame"}
	}
	if w.Cmd != "welcome" {
		return nil, &ProtocolError{Reason: fmt.Sprintf("expected welcome, got %q", w.Cmd)}
	}
	if w.Data.ID == "" {
		return nil, &ProtocolError{Reason: "welcome missing id"}
	}
	return &w, nil
}

func (c *Client) connectFailed(reconnect bool) {
	c.mu.Lock()
	old, changed := c.setStateLocked(StateClosed)
	c.mu.Unlock()
	c.metrics.ConnectAttempt(metrics.ResultError, reconnect)
	c.emitStateChange(old, StateClosed, changed)
}

// readLoop reads frames until the transport fails or closes. It owns the
// dispatch of every inbound frame, which serializes all steady-state
// protocol handling.
func (c *Client) readLoop(s *socket) {
	defer close(s.done)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			c.socketClosed(s, err)
			return
		}
		c.handleFrame(mt, data)
	}
}

// pingLoop sends periodic keepalive pings. A ping failure is recorded as a
// transport error and tears the connection down, which routes through the
// reconnection policy.
func (c *Client) pingLoop(s *socket) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				// Tearing the connection down makes the read loop fail,
				// which reports the transport error exactly once.
				c.mu.Lock()
				c.hadError = true
				c.mu.Unlock()
				c.logger.Warn("keepalive ping failed", "error", err)
				s.conn.Close()
				return
			}
		}
	}
}

// handleFrame processes a single steady-state frame in protocol order:
// text-only, JSON, then shape classification.
func (c *Client) handleFrame(mt int, data []byte) {
	if mt != websocket.TextMessage {
		c.metrics.Frame("invalid")
		c.emitError(&ProtocolError{Reason: "non-text frame"})
		return
	}

	cf, err := classifyFrame(data)
	if err != nil {
		c.metrics.Frame("invalid")
		c.emitError(&ProtocolError{Reason: "unparsable frame"})
		return
	}
	c.metrics.Frame(cf.kind.String())

	switch cf.kind {
	case kindResponse:
		c.resolvePending(cf.response)
	case kindInbound:
		c.dispatchInbound(cf.inbound)
	default:
		// Matches neither shape; ignored.
	}
}

// resolvePending routes a response to the waiting caller. A response whose
// id matches no pending request is stale or unknown and is discarded
// silently.
func (c *Client) resolvePending(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding response with unknown id", "id", resp.ID)
		return
	}
	ch <- resp
}

func (c *Client) dispatchInbound(req InboundRequest) {
	if req.Cmd == "" {
		c.emitError(&ProtocolError{Reason: "inbound request missing cmd"})
		return
	}

	ev := c.cfg.Events
	switch req.Cmd {
	case "offer", "answer":
		if ev.OnDescription != nil {
			ev.OnDescription(DescriptionEvent{
				Origin:      req.Origin,
				Description: req.Description(),
			})
		}
	case "ice":
		if ev.OnCandidate != nil {
			ev.OnCandidate(CandidateEvent{
				Origin:    req.Origin,
				Candidate: req.Data.Candidate,
			})
		}
	default:
		if ev.OnCommand != nil {
			ev.OnCommand(CommandEvent{Cmd: req.Cmd, Message: req})
		}
	}
}

// socketClosed handles transport closure. Closure while in closing is the
// clean shutdown path; anything else is an unexpected closure and is
// subject to the reconnection policy.
func (c *Client) socketClosed(s *socket, cause error) {
	c.mu.Lock()
	if c.sock != s {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	closing := c.state == StateClosing
	abnormal := !closing && !isExpectedClose(cause)
	if abnormal {
		c.hadError = true
	}
	retry := !closing && (c.cfg.ReconnectOnClose || (c.hadError && c.cfg.ReconnectOnError))
	old, changed := c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	if abnormal {
		c.emitError(fmt.Errorf("transport error: %w", cause))
	}
	c.emitStateChange(old, StateClosed, changed)

	if closing {
		return
	}
	if retry {
		c.logger.Info("connection lost, reconnecting", "error", cause)
		go c.reconnectLoop()
		return
	}
	c.logger.Warn("connection lost", "error", cause)
	c.failWaiters(ErrConnectionClosed)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}

// flushOutboxLocked transmits buffered requests in issue order. Called
// with c.mu held; the lock is released around each network write. A frame
// whose write fails goes back to the head of the queue so it is
// retransmitted, still first, by the next successful connection.
func (c *Client) flushOutboxLocked(s *socket) error {
	for len(c.outbox) > 0 {
		of := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		err := s.writeText(of.frame)
		c.mu.Lock()
		if err != nil {
			c.outbox = append([]outboundFrame{of}, c.outbox...)
			return fmt.Errorf("send buffered request: %w", err)
		}
	}
	return nil
}

// failWaiters releases every buffered request with err. A released waiter
// is never re-queued.
func (c *Client) failWaiters(err error) {
	c.mu.Lock()
	outbox := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, of := range outbox {
		of.fail <- err
	}
}

func (c *Client) setStateLocked(next ConnectionState) (old ConnectionState, changed bool) {
	old = c.state
	if old == next {
		return old, false
	}
	c.state = next
	return old, true
}

func (c *Client) emitStateChange(old, next ConnectionState, changed bool) {
	if !changed {
		return
	}
	c.logger.Debug("state changed", "from", old, "to", next)
	if cb := c.cfg.Events.OnStateChange; cb != nil {
		cb(old, next)
	}
}

func (c *Client) emitError(err error) {
	if cb := c.cfg.Events.OnError; cb != nil {
		cb(err)
	}
}
