package signalfire

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrAlreadyConnected           = errors.New("already connected")
	ErrConnectionClosed           = errors.New("connection closed")
	ErrReconnectExhausted         = errors.New("exceeded maximum reconnect attempts")
	ErrUnsupportedDescriptionType = errors.New("unsupported description type")
)

// InvalidStateError reports an operation that is not legal in the client's
// current lifecycle state.
type InvalidStateError struct {
	Op    string
	State ConnectionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %q", e.Op, e.State)
}

// ProtocolError reports a violation of the signaling wire protocol: a
// mismatched sub-protocol, a non-text frame, unparsable JSON, or a missing
// or invalid handshake field. During the handshake a ProtocolError is fatal
// to the connection attempt; afterwards it is surfaced as a non-fatal error
// event and the offending frame is dropped.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// RemoteError carries the message of a server response whose ok flag was
// false. It is surfaced only to the caller of the rejected request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "rejected by server: " + e.Message
}
