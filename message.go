package signalfire

import (
	"bytes"
	"encoding/json"
)

// Protocol is the sub-protocol tag negotiated during the WebSocket
// handshake. The server must echo it back exactly.
const Protocol = "Signal-Fire@3"

// Request is an outgoing request to the signaling server. The id is
// assigned by the client before transmission when absent.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Cmd    string          `json:"cmd"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is a server response correlated to an outgoing request by id.
type Response struct {
	ID   string        `json:"id"`
	OK   bool          `json:"ok"`
	Data *ResponseData `json:"data,omitempty"`
}

// ResponseData is the payload of a server response.
type ResponseData struct {
	Message string `json:"message"`
}

// Message returns the server-supplied message text, or "" when absent.
func (r *Response) Message() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.Message
}

// InboundRequest is a peer-originated request relayed by the server. The
// origin field identifies the sending peer. The data payload is opaque to
// the client; it is routed, never interpreted.
type InboundRequest struct {
	ID     string      `json:"id,omitempty"`
	Cmd    string      `json:"cmd"`
	Origin string      `json:"origin"`
	Target string      `json:"target,omitempty"`
	Data   InboundData `json:"data"`
}

// InboundData holds the recognized payload slots of an inbound request.
type InboundData struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Description returns the session description carried by an offer or
// answer request, or nil for other commands.
func (r *InboundRequest) Description() json.RawMessage {
	switch r.Cmd {
	case "offer":
		return r.Data.Offer
	case "answer":
		return r.Data.Answer
	}
	return nil
}

// welcome is the first frame of every connection, sent by the server.
type welcome struct {
	Cmd  string      `json:"cmd"`
	Data welcomeData `json:"data"`
}

type welcomeData struct {
	ID            string         `json:"id"`
	Configuration map[string]any `json:"configuration"`
}

// frameKind identifies the shape of a steady-state frame.
type frameKind int

const (
	kindUnrecognized frameKind = iota
	kindResponse
	kindInbound
)

func (k frameKind) String() string {
	switch k {
	case kindResponse:
		return "response"
	case kindInbound:
		return "inbound"
	}
	return "unrecognized"
}

// classifiedFrame is the tagged result of classifying a steady-state frame.
// Exactly one of response/inbound is populated, matching kind.
type classifiedFrame struct {
	kind     frameKind
	response Response
	inbound  InboundRequest
}

// classifyFrame inspects the discriminating fields of a parsed frame once
// and yields a tagged variant. The wire format has no explicit
// discriminant: a boolean "ok" field marks a response, a string "origin"
// field marks an inbound request, and anything else is unrecognized and
// ignored by the dispatcher. New discriminants are added here and only
// here.
//
// An error is returned only for payloads that are not valid JSON.
func classifyFrame(data []byte) (classifiedFrame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if !json.Valid(data) {
			return classifiedFrame{}, err
		}
		// Valid JSON but not an object: matches neither shape.
		return classifiedFrame{kind: kindUnrecognized}, nil
	}

	if raw, ok := fields["ok"]; ok && isJSONBool(raw) {
		var c classifiedFrame
		c.kind = kindResponse
		if err := json.Unmarshal(data, &c.response); err != nil {
			return classifiedFrame{kind: kindUnrecognized}, nil
		}
		return c, nil
	}

	if raw, ok := fields["origin"]; ok && isJSONString(raw) {
		var c classifiedFrame
		c.kind = kindInbound
		if err := json.Unmarshal(data, &c.inbound); err != nil {
			return classifiedFrame{kind: kindUnrecognized}, nil
		}
		return c, nil
	}

	return classifiedFrame{kind: kindUnrecognized}, nil
}

func isJSONBool(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return bytes.Equal(t, []byte("true")) || bytes.Equal(t, []byte("false"))
}

func isJSONString(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) >= 2 && t[0] == '"'
}
