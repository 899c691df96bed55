// Copyright 2017 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunyihoo/duplexrpc/metrics"
	"github.com/sunyihoo/duplexrpc/node"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))
	return file
}

func TestLoadConfig(t *testing.T) {
	file := writeConfig(t, `
[Node]
HTTPHost = "0.0.0.0"
HTTPPort = 9000
HTTPVirtualHosts = ["example.org"]
Broker = "redis"

[Node.RPC]
AckRetries = 7
MaxFlows = 64

[Node.Redis]
Addr = "redis:6379"
Prefix = "test:"

[Metrics]
Enabled = true
Port = 7070
`)
	cfg := duplexConfig{Node: node.DefaultConfig, Metrics: metrics.DefaultConfig}
	require.NoError(t, loadConfig(file, &cfg))

	assert.Equal(t, "0.0.0.0", cfg.Node.HTTPHost)
	assert.Equal(t, 9000, cfg.Node.HTTPPort)
	assert.Equal(t, []string{"example.org"}, cfg.Node.HTTPVirtualHosts)
	assert.Equal(t, "redis", cfg.Node.Broker)
	assert.Equal(t, 7, cfg.Node.RPC.AckRetries)
	assert.Equal(t, 64, cfg.Node.RPC.MaxFlows)
	assert.Equal(t, "redis:6379", cfg.Node.Redis.Addr)
	assert.Equal(t, "test:", cfg.Node.Redis.Prefix)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 7070, cfg.Metrics.Port)

	// untouched values keep their defaults
	assert.Equal(t, node.DefaultWSPort, cfg.Node.WSPort)
	assert.Equal(t, node.DefaultConfig.RPC.PingInterval, cfg.Node.RPC.PingInterval)
	assert.Equal(t, metrics.DefaultConfig.HTTP, cfg.Metrics.HTTP)
}

func TestLoadConfigErrors(t *testing.T) {
	var cfg duplexConfig

	err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := writeConfig(t, "[Node]\nHTTPHostname = \"x\"\n")
	err = loadConfig(file, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), file)
	assert.Contains(t, err.Error(), "HTTPHostname")
	assert.Contains(t, err.Error(), "node.Config")
}

func TestConfigRoundTrip(t *testing.T) {
	want := duplexConfig{Node: node.DefaultConfig, Metrics: metrics.DefaultConfig}
	want.Node.HTTPHost = "127.0.0.1"
	want.Node.WSOrigins = []string{"*"}
	want.Node.RPC.HeartbeatTimeout = 90 * time.Second

	out, err := tomlSettings.Marshal(&want)
	require.NoError(t, err)
	file := writeConfig(t, string(out))

	var got duplexConfig
	require.NoError(t, loadConfig(file, &got))
	assert.Equal(t, want, got)
}

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{`"quoted"`, "42", `{"a":1}`, "plain words"})
	require.Len(t, args, 4)
	assert.Equal(t, json.RawMessage(`"quoted"`), args[0])
	assert.Equal(t, json.RawMessage(`42`), args[1])
	assert.Equal(t, json.RawMessage(`{"a":1}`), args[2])
	assert.Equal(t, "plain words", args[3])
}
