// Copyright 2015 The go-ethereum Authors
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

package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

// Node is a container on which services can be registered.
// Node 是一个容器，服务在其上注册合约并由它对外提供 HTTP/WebSocket 端点。
type Node struct {
	config        *Config
	log           log.Logger
	stop          chan struct{} // Channel to wait for termination notifications
	startStopLock sync.Mutex    // Start/Stop are protected by an additional lock
	state         int           // Tracks state of node lifecycle

	lock       sync.Mutex
	lifecycles []Lifecycle // All registered backends, services, and auxiliary services that have a lifecycle
	registry   *contract.Registry
	server     *rpc.Server   // RPC request handler shared by all endpoints
	broker     pubsub.Broker // subscription fan-out, closed with the node
	http       *httpServer
	ws         *httpServer
}

const (
	initializingState = iota
	runningState
	closedState
)

// New creates a new node with an empty registry. The server options are
// applied after the ones derived from conf.
func New(conf *Config, opts ...rpc.ServerOption) (*Node, error) {
	// Copy config so later changes by the caller don't affect the node.
	confCopy := *conf
	conf = &confCopy
	if conf.Logger == nil {
		conf.Logger = log.New()
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}

	var broker pubsub.Broker
	switch conf.Broker {
	case "redis":
		rb, err := pubsub.DialRedis(context.Background(), conf.Redis)
		if err != nil {
			return nil, err
		}
		broker = rb
	default:
		broker = pubsub.NewMemoryBroker()
	}

	node := &Node{
		config:   conf,
		log:      conf.Logger,
		stop:     make(chan struct{}),
		registry: contract.NewRegistry(),
		broker:   broker,
	}
	serverOpts := []rpc.ServerOption{
		rpc.WithConfig(conf.RPC),
		rpc.WithLogger(node.log),
		rpc.WithBroker(broker),
	}
	node.server = rpc.NewServer(node.registry, append(serverOpts, opts...)...)

	// Configure RPC servers.
	node.http = newHTTPServer(node.log, conf.HTTPTimeouts)
	node.ws = newHTTPServer(node.log, DefaultHTTPTimeouts)
	return node, nil
}

// Start starts all registered lifecycles and the RPC endpoints.
// Node can only be started once.
// Start 启动所有已注册的生命周期对象和 RPC 端点，节点只能启动一次。
func (n *Node) Start() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	switch n.state {
	case runningState:
		n.lock.Unlock()
		return ErrNodeRunning
	case closedState:
		n.lock.Unlock()
		return ErrNodeStopped
	}
	n.state = runningState
	// open endpoints
	err := n.openEndpoints()
	lifecycles := make([]Lifecycle, len(n.lifecycles))
	copy(lifecycles, n.lifecycles)
	n.lock.Unlock()

	// Check if endpoint startup failed.
	if err != nil {
		n.doClose(nil)
		return err
	}
	// Start all registered lifecycles.
	var started []Lifecycle
	for _, lifecycle := range lifecycles {
		if err = lifecycle.Start(); err != nil {
			break
		}
		started = append(started, lifecycle)
	}
	// Check if any lifecycle failed to start.
	if err != nil {
		n.stopServices(started)
		n.doClose(nil)
	}
	return err
}

// Close stops the Node and releases resources acquired in
// Node constructor New.
func (n *Node) Close() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	state := n.state
	n.lock.Unlock()
	switch state {
	case initializingState:
		// The node was never started.
		return n.doClose(nil)
	case runningState:
		// The node was started, release resources acquired by Start().
		var errs []error
		if err := n.stopServices(n.lifecycles); err != nil {
			errs = append(errs, err)
		}
		return n.doClose(errs)
	case closedState:
		return ErrNodeStopped
	default:
		panic(fmt.Sprintf("node is in unknown state %d", state))
	}
}

// doClose releases resources acquired by New(), collecting errors.
func (n *Node) doClose(errs []error) error {
	// Close the broker. This needs the lock because it
	// can race with the subscription handlers still publishing.
	n.lock.Lock()
	n.state = closedState
	n.server.Stop()
	if err := n.broker.Close(); err != nil {
		errs = append(errs, err)
	}
	n.lock.Unlock()

	// Unblock n.Wait.
	close(n.stop)

	// Report any errors that might have occurred.
	return errors.Join(errs...)
}

// openEndpoints starts all network and RPC endpoints.
func (n *Node) openEndpoints() error {
	n.log.Info("Starting node", "name", n.config.NodeName())

	if err := n.startRPC(); err != nil {
		n.stopRPC()
		return err
	}
	return nil
}

// stopServices terminates running services, RPC and p2p networking.
// It is the inverse of Start.
func (n *Node) stopServices(running []Lifecycle) error {
	n.stopRPC()

	// Stop running lifecycles in reverse order.
	failure := &StopError{Services: make(map[reflect.Type]error)}
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Stop(); err != nil {
			failure.Services[reflect.TypeOf(running[i])] = err
		}
	}
	if len(failure.Services) > 0 {
		return failure
	}
	return nil
}

// startRPC is a helper method to configure all the various RPC endpoints during node
// startup. It's not meant to be called at any time afterwards as it makes certain
// assumptions about the state of the node.
// startRPC 在节点启动时配置并启动 HTTP 和 WebSocket 端点。
func (n *Node) startRPC() error {
	var (
		servers   []*httpServer
		jwtSecret []byte
		err       error
	)
	if n.config.JWTSecret != "" {
		if jwtSecret, err = obtainJWTSecret(n.config.JWTSecret); err != nil {
			return err
		}
	}

	initHttp := func(server *httpServer, port int) error {
		if err := server.setListenAddr(n.config.HTTPHost, port); err != nil {
			return err
		}
		if err := server.enableRPC(n.server, httpConfig{
			CorsAllowedOrigins: n.config.HTTPCors,
			Vhosts:             n.config.HTTPVirtualHosts,
			prefix:             n.config.HTTPPathPrefix,
			jwtSecret:          jwtSecret,
		}); err != nil {
			return err
		}
		servers = append(servers, server)
		return nil
	}

	initWS := func(port int) error {
		server := n.wsServerForPort(port)
		if err := server.setListenAddr(n.config.WSHost, port); err != nil {
			return err
		}
		if err := server.enableWS(n.server, wsConfig{
			Origins:   n.config.WSOrigins,
			prefix:    n.config.WSPathPrefix,
			jwtSecret: jwtSecret,
		}); err != nil {
			return err
		}
		servers = append(servers, server)
		return nil
	}

	// Set up HTTP.
	if n.config.HTTPHost != "" {
		// Configure legacy unauthenticated HTTP.
		if err := initHttp(n.http, n.config.HTTPPort); err != nil {
			return err
		}
	}
	// Configure WebSocket.
	if n.config.WSHost != "" {
		if err := initWS(n.config.WSPort); err != nil {
			return err
		}
	}

	// Start the servers. HTTP and WebSocket may share one.
	var (
		g       errgroup.Group
		started = make(map[*httpServer]bool)
	)
	for _, server := range servers {
		if started[server] {
			continue
		}
		started[server] = true
		g.Go(server.start)
	}
	return g.Wait()
}

func (n *Node) wsServerForPort(port int) *httpServer {
	if n.config.HTTPHost == "" || n.http.port != port || n.http.host != n.config.WSHost {
		return n.ws
	}
	return n.http
}

func (n *Node) stopRPC() {
	n.http.stop()
	n.ws.stop()
	n.server.Stop()
}

// Wait blocks until the node is closed.
func (n *Node) Wait() {
	<-n.stop
}

// RegisterLifecycle registers the given Lifecycle on the node.
func (n *Node) RegisterLifecycle(lifecycle Lifecycle) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.state != initializingState {
		panic("can't register lifecycle on running/stopped node")
	}
	if containsLifecycle(n.lifecycles, lifecycle) {
		panic(fmt.Sprintf("attempt to register lifecycle %T more than once", lifecycle))
	}
	n.lifecycles = append(n.lifecycles, lifecycle)
}

// RegisterHandler mounts a handler on the given path on the canonical HTTP server.
//
// The name of the handler is shown in a log message when the HTTP server starts
// and should be a descriptive term for the service provided by the handler.
func (n *Node) RegisterHandler(name, path string, handler http.Handler) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.state != initializingState {
		panic("can't register HTTP handler on running/stopped node")
	}

	n.http.mux.Handle(path, handler)
	n.http.handlerNames[path] = name
}

// Registry returns the operation registry served by the node. Contracts can
// be added at any time; they become callable immediately.
func (n *Node) Registry() *contract.Registry {
	return n.registry
}

// Server returns the RPC server of the node.
func (n *Node) Server() *rpc.Server {
	return n.server
}

// Broker returns the subscription broker of the node.
func (n *Node) Broker() pubsub.Broker {
	return n.broker
}

// Attach creates an RPC client attached to an in-process API handler.
func (n *Node) Attach(options ...rpc.ClientOption) (*rpc.Client, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.state != runningState {
		return nil, ErrNodeStopped
	}
	return rpc.DialInProc(n.server, options...)
}

// Config returns the configuration of node.
func (n *Node) Config() *Config {
	return n.config
}

// HTTPEndpoint returns the URL of the HTTP server. Note that this URL does not
// contain the path prefix set by HTTPPathPrefix.
func (n *Node) HTTPEndpoint() string {
	return "http://" + n.http.listenAddr()
}

// WSEndpoint returns the current websocket endpoint, including its path prefix.
func (n *Node) WSEndpoint() string {
	if n.http.wsAllowed() {
		return "ws://" + n.http.listenAddr() + n.http.wsConfig.prefix
	}
	return "ws://" + n.ws.listenAddr() + n.ws.wsConfig.prefix
}

// containsLifecycle checks if 'lfs' contains 'l'.
func containsLifecycle(lfs []Lifecycle, l Lifecycle) bool {
	for _, obj := range lfs {
		if obj == l {
			return true
		}
	}
	return false
}
