package signalfire

// ConnectionState is the lifecycle state of a Client. Exactly one state
// holds at any instant; it changes only through the client's transition
// function.
type ConnectionState int

const (
	// StateNew is the initial state before the first Connect call.
	StateNew ConnectionState = iota

	// StateConnecting means a transport is being dialed and the handshake
	// has not completed yet.
	StateConnecting

	// StateConnected means the handshake completed and the connection is
	// usable.
	StateConnected

	// StateReconnecting means the client lost its connection unexpectedly
	// and is attempting to re-establish it.
	StateReconnecting

	// StateClosing means Close was called and the close exchange is in
	// progress.
	StateClosing

	// StateClosed means no transport exists. The client can be connected
	// again with Connect.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
