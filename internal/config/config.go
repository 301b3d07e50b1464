package config

import (
	"errors"
	"fmt"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval = 2500 * time.Millisecond
	DefaultReconnectAttempts = 5
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
)

// Config is the root configuration for the signalfire command.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds signaling server settings.
type ServerConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// ReconnectConfig holds the automatic reconnection policy.
type ReconnectConfig struct {
	OnClose  bool          `yaml:"on_close"`
	OnError  *bool         `yaml:"on_error"` // nil = default (true)
	Interval time.Duration `yaml:"interval"`
	Attempts *int          `yaml:"attempts"` // nil = default
}

// MetricsConfig holds the Prometheus endpoint settings. An empty address
// disables the metrics server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// OnErrorEnabled resolves the on_error flag with its default.
func (r ReconnectConfig) OnErrorEnabled() bool {
	if r.OnError == nil {
		return true
	}
	return *r.OnError
}

// AttemptCount resolves the attempts budget with its default.
func (r ReconnectConfig) AttemptCount() int {
	if r.Attempts == nil {
		return DefaultReconnectAttempts
	}
	return *r.Attempts
}

func (c *Config) applyDefaults() {
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Reconnect.Interval == 0 {
		c.Reconnect.Interval = DefaultReconnectInterval
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if c.Reconnect.Attempts != nil && *c.Reconnect.Attempts < 0 {
		return fmt.Errorf("reconnect.attempts must be non-negative, got %d", *c.Reconnect.Attempts)
	}
	return nil
}
