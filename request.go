package signalfire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signal-fire/client-go/internal/metrics"
)

// SessionDescription is an opaque session description blob. Only Type is
// inspected, to route the request; the SDP payload is transported
// unmodified.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`
}

// outboundFrame is a request buffered while no connection exists. It is
// either transmitted, in issue order, when the connection becomes usable,
// or released exactly once with an error when reconnection fails
// terminally.
type outboundFrame struct {
	id    string
	frame []byte
	fail  chan error
}

// Request sends req and waits for the correlated response. When the client
// is not connected the call suspends until the connection becomes usable;
// buffered requests are transmitted in the order they were issued. A
// correlation id is assigned when req carries none.
//
// This layer enforces no timeout: a response that never arrives leaves the
// call suspended and its correlation entry in place until ctx is
// cancelled. Callers that cannot tolerate this must bound ctx.
func (c *Client) Request(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	if req.ID == "" {
		req.ID = c.genID()
	}
	frame, err := json.Marshal(req)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("encode request: %w", err)
	}
	respCh := make(chan Response, 1)
	c.pending[req.ID] = respCh

	if c.state == StateConnected && c.sock != nil {
		s := c.sock
		c.mu.Unlock()
		if err := s.writeText(frame); err != nil {
			c.removePending(req.ID)
			c.metrics.Request(metrics.OutcomeError)
			return nil, fmt.Errorf("send request: %w", err)
		}
		return c.awaitResponse(ctx, req.ID, respCh, nil)
	}

	fail := make(chan error, 1)
	c.outbox = append(c.outbox, outboundFrame{id: req.ID, frame: frame, fail: fail})
	c.mu.Unlock()
	return c.awaitResponse(ctx, req.ID, respCh, fail)
}

// awaitResponse blocks until the correlated response arrives, the buffered
// request is released with a failure, or ctx is cancelled. A nil fail
// channel blocks that arm forever.
func (c *Client) awaitResponse(ctx context.Context, id string, respCh chan Response, fail chan error) (*Response, error) {
	select {
	case resp := <-respCh:
		if resp.OK {
			c.metrics.Request(metrics.OutcomeOK)
		} else {
			c.metrics.Request(metrics.OutcomeRejected)
		}
		return &resp, nil

	case err := <-fail:
		c.removePending(id)
		c.metrics.Request(metrics.OutcomeError)
		return nil, err

	case <-ctx.Done():
		c.removePending(id)
		c.removeQueued(id)
		c.metrics.Request(metrics.OutcomeError)
		return nil, ctx.Err()
	}
}

// SendDescription relays a session description to the target peer. The
// description type must be "offer" or "answer"; anything else fails before
// any network activity. A server rejection is surfaced as a RemoteError
// carrying the server-supplied message.
func (c *Client) SendDescription(ctx context.Context, target string, desc SessionDescription) error {
	var payload descriptionData
	switch desc.Type {
	case "offer":
		payload.Offer = &desc
	case "answer":
		payload.Answer = &desc
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDescriptionType, desc.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode description: %w", err)
	}

	resp, err := c.Request(ctx, Request{Cmd: desc.Type, Target: target, Data: data})
	if err != nil {
		return err
	}
	if !resp.OK {
		return &RemoteError{Message: resp.Message()}
	}
	return nil
}

type descriptionData struct {
	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

// SendIceCandidate relays a connectivity candidate to the target peer. The
// candidate payload is opaque. A server rejection is surfaced as a
// RemoteError carrying the server-supplied message.
func (c *Client) SendIceCandidate(ctx context.Context, target string, candidate json.RawMessage) error {
	data, err := json.Marshal(candidateData{Candidate: candidate})
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}

	resp, err := c.Request(ctx, Request{Cmd: "ice", Target: target, Data: data})
	if err != nil {
		return err
	}
	if !resp.OK {
		return &RemoteError{Message: resp.Message()}
	}
	return nil
}

type candidateData struct {
	Candidate json.RawMessage `json:"candidate"`
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) removeQueued(id string) {
	c.mu.Lock()
	for i, of := range c.outbox {
		if of.id == id {
			c.outbox = append(c.outbox[:i], c.outbox[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}
