// Copyright 2015 The go-ethereum Authors
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

// Package utils contains internal helper functions for duplex commands.
package utils

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"golang.org/x/time/rate"

	"github.com/sunyihoo/duplexrpc/internal/flags"
	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
	"github.com/sunyihoo/duplexrpc/metrics/exp"
	"github.com/sunyihoo/duplexrpc/metrics/influxdb"
	"github.com/sunyihoo/duplexrpc/node"
	"github.com/sunyihoo/duplexrpc/rpc"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// HTTP endpoint
	HTTPEnabledFlag = &cli.BoolFlag{
		Name:     "http",
		Usage:    "Enable the HTTP-RPC server",
		Category: flags.RPCCategory,
	}
	HTTPListenAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP-RPC server listening interface",
		Value:    node.DefaultHTTPHost,
		Category: flags.RPCCategory,
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP-RPC server listening port",
		Value:    node.DefaultHTTPPort,
		Category: flags.RPCCategory,
	}
	HTTPCORSDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value:    "",
		Category: flags.RPCCategory,
	}
	HTTPVirtualHostsFlag = &cli.StringFlag{
		Name:     "http.vhosts",
		Usage:    "Comma separated list of virtual hostnames from which to accept requests (server enforced). Accepts '*' wildcard.",
		Value:    strings.Join(node.DefaultConfig.HTTPVirtualHosts, ","),
		Category: flags.RPCCategory,
	}
	HTTPPathPrefixFlag = &cli.StringFlag{
		Name:     "http.rpcprefix",
		Usage:    "HTTP path prefix on which RPC is served. Use '/' to serve on all paths.",
		Value:    "",
		Category: flags.RPCCategory,
	}

	// Websocket endpoint
	WSEnabledFlag = &cli.BoolFlag{
		Name:     "ws",
		Usage:    "Enable the WS-RPC server",
		Category: flags.RPCCategory,
	}
	WSListenAddrFlag = &cli.StringFlag{
		Name:     "ws.addr",
		Usage:    "WS-RPC server listening interface",
		Value:    node.DefaultWSHost,
		Category: flags.RPCCategory,
	}
	WSPortFlag = &cli.IntFlag{
		Name:     "ws.port",
		Usage:    "WS-RPC server listening port",
		Value:    node.DefaultWSPort,
		Category: flags.RPCCategory,
	}
	WSAllowedOriginsFlag = &cli.StringFlag{
		Name:     "ws.origins",
		Usage:    "Origins from which to accept websockets requests",
		Value:    "",
		Category: flags.RPCCategory,
	}
	WSPathPrefixFlag = &cli.StringFlag{
		Name:     "ws.rpcprefix",
		Usage:    "HTTP path prefix on which RPC is served. Use '/' to serve on all paths.",
		Value:    "",
		Category: flags.RPCCategory,
	}
	JWTSecretFlag = &flags.DirectoryFlag{
		Name:     "authrpc.jwtsecret",
		Usage:    "Path to a JWT secret to use for authenticated RPC endpoints",
		Category: flags.RPCCategory,
	}
	DebugAPIFlag = &cli.BoolFlag{
		Name:     "rpc.debugapi",
		Usage:    "Expose the debug contract (profiling, log verbosity) over RPC",
		Category: flags.RPCCategory,
	}
	PubSubAPIFlag = &cli.BoolFlag{
		Name:     "rpc.pubsubapi",
		Usage:    "Expose the pubsub contract (Publish, Listen) over RPC",
		Value:    true,
		Category: flags.RPCCategory,
	}

	// Connection settings
	HeartbeatTimeoutFlag = &cli.DurationFlag{
		Name:     "conn.heartbeat.timeout",
		Usage:    "Drop connections without a liveness signal for this long (0 = disabled)",
		Value:    rpc.DefaultConfig.HeartbeatTimeout,
		Category: flags.ConnectionCategory,
	}
	PingIntervalFlag = &cli.DurationFlag{
		Name:     "conn.heartbeat.ping",
		Usage:    "Idle time after which a ping is sent (0 = disabled)",
		Value:    rpc.DefaultConfig.PingInterval,
		Category: flags.ConnectionCategory,
	}
	HandshakeTimeoutFlag = &cli.DurationFlag{
		Name:     "conn.handshake.timeout",
		Usage:    "Time allowed for the connection handshake",
		Value:    rpc.DefaultConfig.HandshakeTimeout,
		Category: flags.ConnectionCategory,
	}
	AckRetriesFlag = &cli.IntFlag{
		Name:     "conn.ack.retries",
		Usage:    "Retransmissions of an acknowledged message before it fails",
		Value:    rpc.DefaultConfig.AckRetries,
		Category: flags.ConnectionCategory,
	}
	AckTimeoutFlag = &cli.DurationFlag{
		Name:     "conn.ack.timeout",
		Usage:    "Time within which an acknowledged message must be confirmed",
		Value:    rpc.DefaultConfig.AckTimeout,
		Category: flags.ConnectionCategory,
	}
	MaxFlowsFlag = &cli.IntFlag{
		Name:     "conn.maxflows",
		Usage:    "Maximum concurrent streams, subscriptions and ingests per connection (0 = unlimited)",
		Value:    rpc.DefaultConfig.MaxFlows,
		Category: flags.ConnectionCategory,
	}
	FlowBufferFlag = &cli.IntFlag{
		Name:     "conn.flowbuffer",
		Usage:    "Unread items buffered per inbound flow",
		Value:    rpc.DefaultConfig.FlowBuffer,
		Category: flags.ConnectionCategory,
	}
	MaxMessageSizeFlag = &cli.Int64Flag{
		Name:     "conn.maxmessage",
		Usage:    "Maximum size in bytes of an inbound message",
		Value:    rpc.DefaultConfig.MaxMessageSize,
		Category: flags.ConnectionCategory,
	}

	// Subscription broker
	BrokerFlag = &cli.StringFlag{
		Name:     "broker",
		Usage:    `Subscription broker ("memory" or "redis")`,
		Value:    node.DefaultConfig.Broker,
		Category: flags.BrokerCategory,
	}
	RedisAddrFlag = &cli.StringFlag{
		Name:     "broker.redis.addr",
		Usage:    "Redis server address",
		Value:    node.DefaultConfig.Redis.Addr,
		Category: flags.BrokerCategory,
	}
	RedisPasswordFlag = &cli.StringFlag{
		Name:     "broker.redis.password",
		Usage:    "Redis password",
		EnvVars:  []string{"DUPLEX_REDIS_PASSWORD"},
		Category: flags.BrokerCategory,
	}
	RedisDBFlag = &cli.IntFlag{
		Name:     "broker.redis.db",
		Usage:    "Redis database index",
		Value:    node.DefaultConfig.Redis.DB,
		Category: flags.BrokerCategory,
	}
	RedisPrefixFlag = &cli.StringFlag{
		Name:     "broker.redis.prefix",
		Usage:    "Prefix of the redis channels used for topics",
		Value:    node.DefaultConfig.Redis.Prefix,
		Category: flags.BrokerCategory,
	}

	// Middleware
	LogCallsFlag = &cli.BoolFlag{
		Name:     "rpc.logcalls",
		Usage:    "Log every operation with its duration",
		Category: flags.MiddlewareCategory,
	}
	RateLimitFlag = &cli.Float64Flag{
		Name:     "rpc.ratelimit",
		Usage:    "Operations per second admitted per server (0 = unlimited)",
		Category: flags.MiddlewareCategory,
	}
	RateBurstFlag = &cli.IntFlag{
		Name:     "rpc.ratelimit.burst",
		Usage:    "Burst size of the operation rate limit",
		Value:    100,
		Category: flags.MiddlewareCategory,
	}

	// Metrics and tracing
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
	// MetricsHTTPFlag defines the endpoint for a stand-alone metrics HTTP endpoint.
	// Since the pprof service enables sensitive/vulnerable behavior, this allows a user
	// to enable a public-OK metrics endpoint without having to worry about ALSO exposing
	// other profiling behavior or information.
	MetricsHTTPFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Enable stand-alone metrics HTTP server listening interface.",
		Category: flags.MetricsCategory,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:     "metrics.port",
		Usage:    "Metrics HTTP server listening port",
		Value:    metrics.DefaultConfig.Port,
		Category: flags.MetricsCategory,
	}
	MetricsEnableInfluxDBFlag = &cli.BoolFlag{
		Name:     "metrics.influxdb",
		Usage:    "Enable metrics export/push to an external InfluxDB database",
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBEndpointFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.endpoint",
		Usage:    "InfluxDB API endpoint to report metrics to",
		Value:    metrics.DefaultConfig.InfluxDBEndpoint,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBDatabaseFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.database",
		Usage:    "InfluxDB database name to push reported metrics to",
		Value:    metrics.DefaultConfig.InfluxDBDatabase,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBUsernameFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.username",
		Usage:    "Username to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBUsername,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBPasswordFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.password",
		Usage:    "Password to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBPassword,
		Category: flags.MetricsCategory,
	}
	// Tags are part of every measurement sent to InfluxDB. Queries on tags are faster in InfluxDB.
	// For example `host` tag could be used so that we can group all nodes and average a measurement
	// across all of them, but also so that we can select a specific node and inspect its measurements.
	// https://docs.influxdata.com/influxdb/v1.4/concepts/key_concepts/#tag-key
	MetricsInfluxDBTagsFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.tags",
		Usage:    "Comma-separated InfluxDB tags (key/values) attached to all measurements",
		Value:    metrics.DefaultConfig.InfluxDBTags,
		Category: flags.MetricsCategory,
	}
	MetricsEnableInfluxDBV2Flag = &cli.BoolFlag{
		Name:     "metrics.influxdbv2",
		Usage:    "Enable metrics export/push to an external InfluxDB v2 database",
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBTokenFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.token",
		Usage:    "Token to authorize access to the database (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBToken,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBBucketFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.bucket",
		Usage:    "InfluxDB bucket name to push reported metrics to (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBBucket,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBOrganizationFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.organization",
		Usage:    "InfluxDB organization name (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBOrganization,
		Category: flags.MetricsCategory,
	}
	TracingEndpointFlag = &cli.StringFlag{
		Name:     "tracing.endpoint",
		Usage:    "OTLP collector receiving operation spans, e.g. localhost:4318",
		Category: flags.MetricsCategory,
	}
	TracingProtocolFlag = &cli.StringFlag{
		Name:     "tracing.protocol",
		Usage:    `OTLP transport ("http" or "grpc")`,
		Value:    "http",
		Category: flags.MetricsCategory,
	}
	TracingInsecureFlag = &cli.BoolFlag{
		Name:     "tracing.insecure",
		Usage:    "Send spans without TLS",
		Category: flags.MetricsCategory,
	}
)

var (
	// NodeFlags is the flag group of the serving node.
	NodeFlags = []cli.Flag{
		HTTPEnabledFlag,
		HTTPListenAddrFlag,
		HTTPPortFlag,
		HTTPCORSDomainFlag,
		HTTPVirtualHostsFlag,
		HTTPPathPrefixFlag,
		WSEnabledFlag,
		WSListenAddrFlag,
		WSPortFlag,
		WSAllowedOriginsFlag,
		WSPathPrefixFlag,
		JWTSecretFlag,
		DebugAPIFlag,
		PubSubAPIFlag,
		HeartbeatTimeoutFlag,
		PingIntervalFlag,
		HandshakeTimeoutFlag,
		AckRetriesFlag,
		AckTimeoutFlag,
		MaxFlowsFlag,
		FlowBufferFlag,
		MaxMessageSizeFlag,
		BrokerFlag,
		RedisAddrFlag,
		RedisPasswordFlag,
		RedisDBFlag,
		RedisPrefixFlag,
		LogCallsFlag,
		RateLimitFlag,
		RateBurstFlag,
	}

	// MetricsFlags is the flag group of metrics and tracing.
	MetricsFlags = []cli.Flag{
		MetricsEnabledFlag,
		MetricsHTTPFlag,
		MetricsPortFlag,
		MetricsEnableInfluxDBFlag,
		MetricsInfluxDBEndpointFlag,
		MetricsInfluxDBDatabaseFlag,
		MetricsInfluxDBUsernameFlag,
		MetricsInfluxDBPasswordFlag,
		MetricsInfluxDBTagsFlag,
		MetricsEnableInfluxDBV2Flag,
		MetricsInfluxDBTokenFlag,
		MetricsInfluxDBBucketFlag,
		MetricsInfluxDBOrganizationFlag,
		TracingEndpointFlag,
		TracingProtocolFlag,
		TracingInsecureFlag,
	}
)

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := os.Stderr
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stdout
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// setHTTP creates the HTTP RPC listener interface string from the set
// command line flags, returning empty if the HTTP endpoint is disabled.
func setHTTP(ctx *cli.Context, cfg *node.Config) {
	if ctx.Bool(HTTPEnabledFlag.Name) {
		if cfg.HTTPHost == "" {
			cfg.HTTPHost = "127.0.0.1"
		}
		if ctx.IsSet(HTTPListenAddrFlag.Name) {
			cfg.HTTPHost = ctx.String(HTTPListenAddrFlag.Name)
		}
	}
	if ctx.IsSet(HTTPPortFlag.Name) {
		cfg.HTTPPort = ctx.Int(HTTPPortFlag.Name)
	}
	if ctx.IsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTPCors = SplitAndTrim(ctx.String(HTTPCORSDomainFlag.Name))
	}
	if ctx.IsSet(HTTPVirtualHostsFlag.Name) {
		cfg.HTTPVirtualHosts = SplitAndTrim(ctx.String(HTTPVirtualHostsFlag.Name))
	}
	if ctx.IsSet(HTTPPathPrefixFlag.Name) {
		cfg.HTTPPathPrefix = ctx.String(HTTPPathPrefixFlag.Name)
	}
}

// setWS creates the WebSocket RPC listener interface string from the set
// command line flags, returning empty if the WS endpoint is disabled.
func setWS(ctx *cli.Context, cfg *node.Config) {
	if ctx.Bool(WSEnabledFlag.Name) {
		if cfg.WSHost == "" {
			cfg.WSHost = "127.0.0.1"
		}
		if ctx.IsSet(WSListenAddrFlag.Name) {
			cfg.WSHost = ctx.String(WSListenAddrFlag.Name)
		}
	}
	if ctx.IsSet(WSPortFlag.Name) {
		cfg.WSPort = ctx.Int(WSPortFlag.Name)
	}
	if ctx.IsSet(WSAllowedOriginsFlag.Name) {
		cfg.WSOrigins = SplitAndTrim(ctx.String(WSAllowedOriginsFlag.Name))
	}
	if ctx.IsSet(WSPathPrefixFlag.Name) {
		cfg.WSPathPrefix = ctx.String(WSPathPrefixFlag.Name)
	}
}

// setConnection applies the connection flags to the rpc settings.
func setConnection(ctx *cli.Context, cfg *rpc.Config) {
	if ctx.IsSet(HeartbeatTimeoutFlag.Name) {
		cfg.HeartbeatTimeout = ctx.Duration(HeartbeatTimeoutFlag.Name)
	}
	if ctx.IsSet(PingIntervalFlag.Name) {
		cfg.PingInterval = ctx.Duration(PingIntervalFlag.Name)
	}
	if ctx.IsSet(HandshakeTimeoutFlag.Name) {
		cfg.HandshakeTimeout = ctx.Duration(HandshakeTimeoutFlag.Name)
	}
	if ctx.IsSet(AckRetriesFlag.Name) {
		cfg.AckRetries = ctx.Int(AckRetriesFlag.Name)
	}
	if ctx.IsSet(AckTimeoutFlag.Name) {
		cfg.AckTimeout = ctx.Duration(AckTimeoutFlag.Name)
	}
	if ctx.IsSet(MaxFlowsFlag.Name) {
		cfg.MaxFlows = ctx.Int(MaxFlowsFlag.Name)
	}
	if ctx.IsSet(FlowBufferFlag.Name) {
		cfg.FlowBuffer = ctx.Int(FlowBufferFlag.Name)
	}
	if ctx.IsSet(MaxMessageSizeFlag.Name) {
		cfg.MaxMessageSize = ctx.Int64(MaxMessageSizeFlag.Name)
	}
}

func setBroker(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(BrokerFlag.Name) {
		cfg.Broker = ctx.String(BrokerFlag.Name)
	}
	if ctx.IsSet(RedisAddrFlag.Name) {
		cfg.Redis.Addr = ctx.String(RedisAddrFlag.Name)
	}
	if ctx.IsSet(RedisPasswordFlag.Name) {
		cfg.Redis.Password = ctx.String(RedisPasswordFlag.Name)
	}
	if ctx.IsSet(RedisDBFlag.Name) {
		cfg.Redis.DB = ctx.Int(RedisDBFlag.Name)
	}
	if ctx.IsSet(RedisPrefixFlag.Name) {
		cfg.Redis.Prefix = ctx.String(RedisPrefixFlag.Name)
	}
}

// SetNodeConfig applies node-related command line flags to the config.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	setHTTP(ctx, cfg)
	setWS(ctx, cfg)
	setConnection(ctx, &cfg.RPC)
	setBroker(ctx, cfg)

	if ctx.IsSet(JWTSecretFlag.Name) {
		cfg.JWTSecret = ctx.String(JWTSecretFlag.Name)
	}
}

// SetMetricsConfig applies the metrics flags to the config.
func SetMetricsConfig(ctx *cli.Context, cfg *metrics.Config) {
	if ctx.IsSet(MetricsEnabledFlag.Name) {
		cfg.Enabled = ctx.Bool(MetricsEnabledFlag.Name)
	}
	if ctx.IsSet(MetricsHTTPFlag.Name) {
		cfg.HTTP = ctx.String(MetricsHTTPFlag.Name)
	}
	if ctx.IsSet(MetricsPortFlag.Name) {
		cfg.Port = ctx.Int(MetricsPortFlag.Name)
	}
	if ctx.IsSet(MetricsEnableInfluxDBFlag.Name) {
		cfg.EnableInfluxDB = ctx.Bool(MetricsEnableInfluxDBFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBEndpointFlag.Name) {
		cfg.InfluxDBEndpoint = ctx.String(MetricsInfluxDBEndpointFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBDatabaseFlag.Name) {
		cfg.InfluxDBDatabase = ctx.String(MetricsInfluxDBDatabaseFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBUsernameFlag.Name) {
		cfg.InfluxDBUsername = ctx.String(MetricsInfluxDBUsernameFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBPasswordFlag.Name) {
		cfg.InfluxDBPassword = ctx.String(MetricsInfluxDBPasswordFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBTagsFlag.Name) {
		cfg.InfluxDBTags = ctx.String(MetricsInfluxDBTagsFlag.Name)
	}
	if ctx.IsSet(MetricsEnableInfluxDBV2Flag.Name) {
		cfg.EnableInfluxDBV2 = ctx.Bool(MetricsEnableInfluxDBV2Flag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBTokenFlag.Name) {
		cfg.InfluxDBToken = ctx.String(MetricsInfluxDBTokenFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBBucketFlag.Name) {
		cfg.InfluxDBBucket = ctx.String(MetricsInfluxDBBucketFlag.Name)
	}
	if ctx.IsSet(MetricsInfluxDBOrganizationFlag.Name) {
		cfg.InfluxDBOrganization = ctx.String(MetricsInfluxDBOrganizationFlag.Name)
	}
}

// SetupMetrics enables metrics collection and starts the configured exporters:
// the process collector, the stand-alone metrics HTTP server and the InfluxDB
// reporters. They stop when ctx is cancelled.
func SetupMetrics(ctx context.Context, cfg *metrics.Config) {
	if !cfg.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	metrics.Enable()

	if cfg.EnableInfluxDB && cfg.EnableInfluxDBV2 {
		Fatalf("Flags --%s and --%s can't be used at the same time", MetricsEnableInfluxDBFlag.Name, MetricsEnableInfluxDBV2Flag.Name)
	}
	tagsMap := SplitTagsFlag(cfg.InfluxDBTags)
	switch {
	case cfg.EnableInfluxDB:
		log.Info("Enabling metrics export to InfluxDB")
		go influxdb.InfluxDBWithTags(ctx, metrics.DefaultRegistry, 10*time.Second, cfg.InfluxDBEndpoint, cfg.InfluxDBDatabase, cfg.InfluxDBUsername, cfg.InfluxDBPassword, "duplex.", tagsMap)
	case cfg.EnableInfluxDBV2:
		log.Info("Enabling metrics export to InfluxDB (v2)")
		go influxdb.InfluxDBV2WithTags(ctx, metrics.DefaultRegistry, 10*time.Second, cfg.InfluxDBEndpoint, cfg.InfluxDBToken, cfg.InfluxDBBucket, cfg.InfluxDBOrganization, "duplex.", tagsMap)
	}

	// Expose all the metrics at the configured address.
	if cfg.HTTP != "" && cfg.Port != 0 {
		address := net.JoinHostPort(cfg.HTTP, fmt.Sprint(cfg.Port))
		srv := exp.Setup(address)
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}
	// Start system runtime metrics collection
	go metrics.CollectProcessMetrics(ctx, 3*time.Second)
}

// SplitTagsFlag parses the comma separated key=value pairs of the InfluxDB
// tags flag. Malformed pairs are skipped.
func SplitTagsFlag(tagsFlag string) map[string]string {
	tags := strings.Split(tagsFlag, ",")
	tagsMap := map[string]string{}

	for _, t := range tags {
		if t != "" {
			kv := strings.Split(t, "=")

			if len(kv) == 2 {
				tagsMap[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	return tagsMap
}

// SetupTracing installs an OTLP exporter as the global tracer provider when
// --tracing.endpoint is set. The returned function flushes pending spans.
func SetupTracing(ctx *cli.Context, service, version string) (func(context.Context) error, error) {
	endpoint := ctx.String(TracingEndpointFlag.Name)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	insecure := ctx.Bool(TracingInsecureFlag.Name)
	switch proto := ctx.String(TracingProtocolFlag.Name); proto {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx.Context, opts...)
	case "http", "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx.Context, opts...)
	default:
		return nil, fmt.Errorf("unknown tracing protocol %q", proto)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing resource: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	log.Info("Enabled operation tracing", "endpoint", endpoint)
	return provider.Shutdown, nil
}

// MakePipelines assembles the global middleware from the command line flags.
// Recover always runs outermost so that panics in other middleware are
// reported as faults. Operations are annotated for the Go execution tracer
// started by --go-execution-trace or the debug contract.
func MakePipelines(ctx *cli.Context) middleware.Options {
	mws := []middleware.Middleware{middleware.Recover(), middleware.ExecutionTrace()}
	if ctx.Bool(MetricsEnabledFlag.Name) {
		mws = append(mws, middleware.Metrics())
	}
	if ctx.String(TracingEndpointFlag.Name) != "" {
		mws = append(mws, middleware.Tracing(nil))
	}
	if ctx.Bool(LogCallsFlag.Name) {
		mws = append(mws, middleware.Logging(log.Root()))
	}
	if limit := ctx.Float64(RateLimitFlag.Name); limit > 0 {
		mws = append(mws, middleware.RateLimit(rate.Limit(limit), ctx.Int(RateBurstFlag.Name)))
	}
	return middleware.Options{Global: mws, UseGlobalMiddlewaresFirst: true}
}
