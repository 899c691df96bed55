// Copyright 2019 The go-ethereum Authors
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

package utils

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/sunyihoo/duplexrpc/internal/flags"
	"github.com/sunyihoo/duplexrpc/metrics"
	"github.com/sunyihoo/duplexrpc/node"
)

// runFlags parses args with the node and metrics flags and calls fn with the
// resulting context.
func runFlags(t *testing.T, args []string, fn func(ctx *cli.Context)) {
	t.Helper()
	app := cli.NewApp()
	app.Flags = flags.Merge(NodeFlags, MetricsFlags)
	app.Action = func(ctx *cli.Context) error {
		fn(ctx)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"duplex"}, args...)))
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name string
		args string
		want []string
	}{
		{"2 entries", "a, b", []string{"a", "b"}},
		{"empty entries", "a,, ,b", []string{"a", "b"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitAndTrim(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitAndTrim() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_SplitTagsFlag(t *testing.T) {
	tests := []struct {
		name string
		args string
		want map[string]string
	}{
		{
			"2 tags case",
			"host=localhost,bzzkey=123",
			map[string]string{
				"host":   "localhost",
				"bzzkey": "123",
			},
		},
		{
			"1 tag case",
			"host=localhost123",
			map[string]string{
				"host": "localhost123",
			},
		},
		{
			"empty case",
			"",
			map[string]string{},
		},
		{
			"garbage",
			"smth=smthelse=123",
			map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitTagsFlag(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitTagsFlag() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetNodeConfigDefaults(t *testing.T) {
	runFlags(t, nil, func(ctx *cli.Context) {
		cfg := node.DefaultConfig
		SetNodeConfig(ctx, &cfg)
		assert.Equal(t, node.DefaultConfig, cfg)
	})
}

func TestSetNodeConfig(t *testing.T) {
	args := []string{
		"--http", "--http.port", "9000", "--http.corsdomain", "a.org, b.org",
		"--http.vhosts", "*", "--http.rpcprefix", "/rpc",
		"--ws", "--ws.addr", "0.0.0.0", "--ws.origins", "*",
		"--authrpc.jwtsecret", "/tmp/jwt.hex",
		"--conn.heartbeat.timeout", "90s", "--conn.heartbeat.ping", "0",
		"--conn.ack.retries", "5", "--conn.maxflows", "16", "--conn.maxmessage", "1024",
		"--broker", "redis", "--broker.redis.addr", "redis:6379", "--broker.redis.db", "2",
	}
	runFlags(t, args, func(ctx *cli.Context) {
		cfg := node.DefaultConfig
		SetNodeConfig(ctx, &cfg)

		assert.Equal(t, "127.0.0.1", cfg.HTTPHost)
		assert.Equal(t, 9000, cfg.HTTPPort)
		assert.Equal(t, []string{"a.org", "b.org"}, cfg.HTTPCors)
		assert.Equal(t, []string{"*"}, cfg.HTTPVirtualHosts)
		assert.Equal(t, "/rpc", cfg.HTTPPathPrefix)
		assert.Equal(t, "0.0.0.0", cfg.WSHost)
		assert.Equal(t, node.DefaultWSPort, cfg.WSPort)
		assert.Equal(t, []string{"*"}, cfg.WSOrigins)
		assert.Equal(t, "/tmp/jwt.hex", cfg.JWTSecret)

		assert.Equal(t, 90*time.Second, cfg.RPC.HeartbeatTimeout)
		assert.Zero(t, cfg.RPC.PingInterval)
		assert.Equal(t, 5, cfg.RPC.AckRetries)
		assert.Equal(t, 16, cfg.RPC.MaxFlows)
		assert.Equal(t, int64(1024), cfg.RPC.MaxMessageSize)
		assert.Equal(t, node.DefaultConfig.RPC.AckTimeout, cfg.RPC.AckTimeout)

		assert.Equal(t, "redis", cfg.Broker)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.Equal(t, node.DefaultConfig.Redis.Prefix, cfg.Redis.Prefix)
	})
}

func TestSetMetricsConfig(t *testing.T) {
	runFlags(t, []string{"--metrics", "--metrics.addr", "0.0.0.0"}, func(ctx *cli.Context) {
		cfg := metrics.DefaultConfig
		SetMetricsConfig(ctx, &cfg)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, "0.0.0.0", cfg.HTTP)
		assert.Equal(t, metrics.DefaultConfig.Port, cfg.Port)
		assert.False(t, cfg.EnableInfluxDB)
	})
	args := []string{"--metrics.influxdbv2", "--metrics.influxdb.bucket", "rpc", "--metrics.influxdb.tags", "host=n1"}
	runFlags(t, args, func(ctx *cli.Context) {
		cfg := metrics.DefaultConfig
		SetMetricsConfig(ctx, &cfg)
		assert.True(t, cfg.EnableInfluxDBV2)
		assert.Equal(t, "rpc", cfg.InfluxDBBucket)
		assert.Equal(t, metrics.DefaultConfig.InfluxDBOrganization, cfg.InfluxDBOrganization)
		assert.Equal(t, map[string]string{"host": "n1"}, SplitTagsFlag(cfg.InfluxDBTags))
	})
}

func TestMakePipelines(t *testing.T) {
	runFlags(t, nil, func(ctx *cli.Context) {
		opts := MakePipelines(ctx)
		assert.Len(t, opts.Global, 2)
		assert.True(t, opts.UseGlobalMiddlewaresFirst)
	})
	args := []string{"--metrics", "--rpc.logcalls", "--rpc.ratelimit", "50"}
	runFlags(t, args, func(ctx *cli.Context) {
		assert.Len(t, MakePipelines(ctx).Global, 5)
	})
}

func TestSetupTracingDisabled(t *testing.T) {
	runFlags(t, nil, func(ctx *cli.Context) {
		shutdown, err := SetupTracing(ctx, "duplex", "test")
		require.NoError(t, err)
		assert.NoError(t, shutdown(ctx.Context))
	})
	runFlags(t, []string{"--tracing.endpoint", "localhost:4318", "--tracing.protocol", "smoke"}, func(ctx *cli.Context) {
		_, err := SetupTracing(ctx, "duplex", "test")
		assert.ErrorContains(t, err, "unknown tracing protocol")
	})
}
