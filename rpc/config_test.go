package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigSanitize(t *testing.T) {
	cfg := Config{AckRetries: -1, HeartbeatTimeout: -time.Second}.sanitize()

	assert.Equal(t, 0, cfg.AckRetries)
	assert.Zero(t, cfg.HeartbeatTimeout)
	assert.Zero(t, cfg.PingInterval)
	assert.Zero(t, cfg.MaxFlows)
	assert.Equal(t, DefaultConfig.HandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultConfig.WriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultConfig.AckTimeout, cfg.AckTimeout)
	assert.Equal(t, DefaultConfig.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, DefaultConfig.FlowBuffer, cfg.FlowBuffer)
	assert.Equal(t, DefaultConfig.ReconnectBackoff, cfg.ReconnectBackoff)

	assert.Equal(t, DefaultConfig, DefaultConfig.sanitize())
}

func TestConfigBackoff(t *testing.T) {
	cfg := Config{ReconnectBackoff: time.Second}
	assert.Equal(t, time.Second, cfg.backoff(0))
	assert.Equal(t, 2*time.Second, cfg.backoff(1))
	assert.Equal(t, 8*time.Second, cfg.backoff(3))
	assert.Equal(t, maxReconnectBackoff, cfg.backoff(10))
	assert.Equal(t, maxReconnectBackoff, cfg.backoff(1000))
}
