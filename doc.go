// Package signalfire implements a client for the Signal-Fire signaling
// protocol (sub-protocol tag "Signal-Fire@3").
//
// The client maintains a single WebSocket connection to a signaling
// server. After the welcome handshake it relays opaque peer-to-peer
// negotiation payloads: session descriptions and connectivity candidates
// go out through Request, SendDescription, and SendIceCandidate;
// unsolicited inbound messages come back through the typed callbacks in
// Events. Payload contents are routed, never interpreted.
//
// Unexpected connection loss is handled by a bounded-retry reconnection
// controller configured through Config. Requests issued while no
// connection exists are buffered and transmitted, in issue order, once the
// handshake completes.
package signalfire
