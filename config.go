package signalfire

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// URLTransform computes the address for the next reconnection attempt from
// the previously dialed address. It may block (for example to ask a
// coordinator for a fresh token-bearing URL). A transform error is
// terminal: the client stops reconnecting and transitions to closed.
type URLTransform func(ctx context.Context, previous string) (string, error)

// DescriptionEvent is raised for inbound "offer" and "answer" requests.
type DescriptionEvent struct {
	Origin      string
	Description json.RawMessage
}

// CandidateEvent is raised for inbound "ice" requests.
type CandidateEvent struct {
	Origin    string
	Candidate json.RawMessage
}

// CommandEvent is raised for inbound requests with any other command. It
// carries the full message so future protocol commands can be handled
// without changes to the client.
type CommandEvent struct {
	Cmd     string
	Message InboundRequest
}

// Events holds the client's notification callbacks. All fields are
// optional. Callbacks for inbound traffic are invoked sequentially from
// the connection's read loop; they must not block for long and must not
// call back into the client synchronously.
type Events struct {
	// OnStateChange is invoked for every effective state transition.
	// Transitioning to the current state emits nothing.
	OnStateChange func(old, new ConnectionState)

	// OnDescription is invoked for inbound offer/answer requests.
	OnDescription func(DescriptionEvent)

	// OnCandidate is invoked for inbound ice requests.
	OnCandidate func(CandidateEvent)

	// OnCommand is invoked for inbound requests with an unrecognized
	// command.
	OnCommand func(CommandEvent)

	// OnError is invoked for failures discovered asynchronously: transport
	// errors, protocol violations after the handshake, exhausted reconnect
	// budgets, and URL transform failures.
	OnError func(error)
}

// Config holds the immutable configuration of a Client, fixed at
// construction.
type Config struct {
	// ReconnectOnClose enables automatic reconnection after any unexpected
	// closure.
	ReconnectOnClose bool

	// ReconnectOnError enables automatic reconnection after an unexpected
	// closure preceded by a transport error.
	ReconnectOnError bool

	// ReconnectInterval is the delay between consecutive reconnection
	// attempts.
	ReconnectInterval time.Duration

	// ReconnectAttempts is the retry budget: after ReconnectAttempts+1
	// consecutive failed attempts the client gives up and transitions to
	// closed.
	ReconnectAttempts int

	// URLTransform computes the address of the next reconnection attempt.
	// Defaults to identity.
	URLTransform URLTransform

	// HandshakeTimeout bounds the dial plus the wait for the welcome
	// frame.
	HandshakeTimeout time.Duration

	// WriteTimeout is the write deadline for outgoing frames.
	WriteTimeout time.Duration

	// PingInterval is the keepalive ping period. Zero disables pings.
	PingInterval time.Duration

	// GenerateID produces correlation ids for outgoing requests that do
	// not carry one. Defaults to uuid.NewString.
	GenerateID func() string

	// PeerConfiguration is the default configuration exposed to consumers.
	// A configuration object received during the handshake is merged over
	// it, key by key.
	PeerConfiguration map[string]any

	// Events holds the notification callbacks.
	Events Events

	// MetricsRegistry receives the client's Prometheus collectors. Nil
	// disables instrumentation.
	MetricsRegistry prometheus.Registerer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectOnClose:  false,
		ReconnectOnError:  true,
		ReconnectInterval: 2500 * time.Millisecond,
		ReconnectAttempts: 5,
		URLTransform:      identityTransform,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		GenerateID:        uuid.NewString,
	}
}

func identityTransform(_ context.Context, previous string) (string, error) {
	return previous, nil
}
