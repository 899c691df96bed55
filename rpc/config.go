// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import "time"

// Config holds the connection settings shared by servers and clients.
type Config struct {
	// HeartbeatTimeout tears a connection down when no liveness signal
	// arrived for this long. Zero disables timeout detection.
	HeartbeatTimeout time.Duration

	// PingInterval is the idle time after which a ping is sent. Outbound
	// traffic postpones the next ping. Zero disables pings.
	PingInterval time.Duration

	// HeartbeatOnTraffic makes every inbound message count as a liveness
	// signal, not only ping and pong.
	HeartbeatOnTraffic bool

	// HandshakeTimeout bounds the connection_init / connection_ack exchange.
	HandshakeTimeout time.Duration

	// WriteTimeout is the write deadline used when the caller's context has none.
	WriteTimeout time.Duration

	// AckRetries and AckTimeout bound the reliable delivery of acked messages:
	// at most AckRetries+1 transmissions within AckTimeout.
	AckRetries int
	AckTimeout time.Duration

	// MaxMessageSize limits inbound websocket frames and HTTP bodies.
	MaxMessageSize int64

	// MaxFlows limits the concurrent streams, subscriptions and ingest
	// operations per connection. Zero means unlimited.
	MaxFlows int

	// FlowBuffer is the number of unread items buffered per inbound flow
	// before the flow fails with ErrFlowOverflow.
	FlowBuffer int

	// ReconnectAttempts and ReconnectBackoff control how a client redials a
	// lost connection. The backoff doubles per attempt.
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// DefaultConfig contains the default connection settings.
var DefaultConfig = Config{
	HeartbeatTimeout:   60 * time.Second,
	PingInterval:       15 * time.Second,
	HeartbeatOnTraffic: true,
	HandshakeTimeout:   10 * time.Second,
	WriteTimeout:       10 * time.Second,
	AckRetries:         3,
	AckTimeout:         15 * time.Second,
	MaxMessageSize:     32 * 1024 * 1024,
	FlowBuffer:         20000,
	ReconnectAttempts:  5,
	ReconnectBackoff:   500 * time.Millisecond,
}

const maxReconnectBackoff = 30 * time.Second

// sanitize fills unset fields with their defaults. HeartbeatTimeout,
// PingInterval and MaxFlows keep zero, which disables them.
func (cfg Config) sanitize() Config {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig.WriteTimeout
	}
	if cfg.AckRetries < 0 {
		cfg.AckRetries = 0
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig.AckTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig.MaxMessageSize
	}
	if cfg.FlowBuffer <= 0 {
		cfg.FlowBuffer = DefaultConfig.FlowBuffer
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultConfig.ReconnectBackoff
	}
	if cfg.HeartbeatTimeout < 0 {
		cfg.HeartbeatTimeout = 0
	}
	return cfg
}

// backoff returns the delay before reconnect attempt n (zero based).
func (cfg Config) backoff(n int) time.Duration {
	d := cfg.ReconnectBackoff
	for i := 0; i < n && d < maxReconnectBackoff; i++ {
		d *= 2
	}
	if d > maxReconnectBackoff {
		d = maxReconnectBackoff
	}
	return d
}
