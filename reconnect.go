package signalfire

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// reconnectLoop drives automatic reconnection after an unexpected closure.
// Each iteration transitions to reconnecting, computes the next address
// via the URL transform, and attempts to re-establish the connection. A
// failed attempt increments the counter; once it exceeds the configured
// budget the client stays closed and emits ErrReconnectExhausted exactly
// once. The delay between attempts is ReconnectInterval; a direct Connect
// call cancels the pending timer.
func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.state != StateClosed || c.sock != nil {
			// Someone else took over (manual Connect or Close race).
			c.mu.Unlock()
			return
		}
		// The error flag describes the previous session only.
		c.hadError = false
		prev := c.addr
		old, changed := c.setStateLocked(StateReconnecting)
		c.mu.Unlock()
		c.emitStateChange(old, StateReconnecting, changed)

		addr, err := c.transform(context.Background(), prev)
		if err != nil {
			// A transform failure is terminal: no further retries.
			c.mu.Lock()
			old, changed = c.setStateLocked(StateClosed)
			c.mu.Unlock()
			c.emitStateChange(old, StateClosed, changed)
			werr := fmt.Errorf("url transform: %w", err)
			c.emitError(werr)
			c.failWaiters(werr)
			return
		}

		err = c.establish(context.Background(), addr, true)
		if err == nil {
			return
		}
		if errors.Is(err, ErrConnectionClosed) {
			// Close claimed the attempt while it was in flight.
			return
		}
		c.logger.Warn("reconnection attempt failed", "addr", addr, "error", err)

		c.mu.Lock()
		c.attempts++
		exhausted := c.attempts > c.cfg.ReconnectAttempts
		c.mu.Unlock()
		if exhausted {
			c.metrics.ReconnectExhausted()
			c.emitError(ErrReconnectExhausted)
			c.failWaiters(ErrReconnectExhausted)
			return
		}

		if !c.waitRetryInterval() {
			return
		}
	}
}

// waitRetryInterval sleeps for ReconnectInterval. It returns false when
// the timer was cancelled by a direct Connect call.
func (c *Client) waitRetryInterval() bool {
	c.mu.Lock()
	cancel := make(chan struct{})
	c.retryCancel = cancel
	c.mu.Unlock()

	select {
	case <-cancel:
		return false
	case <-time.After(c.cfg.ReconnectInterval):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryCancel != cancel {
		// Cancelled in the window between timer expiry and reacquiring
		// the lock.
		return false
	}
	c.retryCancel = nil
	return true
}
