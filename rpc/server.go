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

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
)

// MetadataContract is the contract of the built-in diagnostic operations.
const MetadataContract = "rpc"

// Server serves the operations of a registry on any number of connections.
type Server struct {
	reg    *contract.Registry
	pipes  *middleware.Pipelines
	cfg    Config
	broker pubsub.Broker
	log    log.Logger

	mutex sync.Mutex
	conns mapset.Set[*connection]
	run   atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConfig sets the connection settings. Unset fields take their defaults.
func WithConfig(cfg Config) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithPipelines sets the middlewares run around every operation.
func WithPipelines(opts middleware.Options) ServerOption {
	return func(s *Server) { s.pipes = middleware.NewPipelines(opts) }
}

// WithLogger sets the logger of the server and its connections.
func WithLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithBroker sets the broker subscription handlers publish and subscribe on.
// The default is an in-memory broker private to the server.
func WithBroker(b pubsub.Broker) ServerOption {
	return func(s *Server) { s.broker = b }
}

// NewServer creates a server for the operations of reg. It registers the
// metadata contract in reg.
func NewServer(reg *contract.Registry, opts ...ServerOption) *Server {
	s := &Server{
		reg:   reg,
		pipes: middleware.NewPipelines(middleware.Options{}),
		cfg:   DefaultConfig,
		log:   log.Root(),
		conns: mapset.NewSet[*connection](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = pubsub.NewMemoryBroker()
	}
	s.cfg = s.cfg.sanitize()
	s.run.Store(true)

	reg.Contract(MetadataContract).
		Must("Contracts", contract.Func0(func(context.Context) ([]contract.ContractInfo, error) {
			return reg.Contracts(), nil
		})).
		Must("Ping", contract.Func0(func(context.Context) (string, error) {
			return "pong", nil
		}))
	return s
}

// Config returns the effective connection settings.
func (s *Server) Config() Config { return s.cfg }

// Broker returns the broker handed to subscription handlers.
func (s *Server) Broker() pubsub.Broker { return s.broker }

// ServeCodec serves one connection until it is torn down. It performs the
// handshake and blocks until the connection closed.
func (s *Server) ServeCodec(codec Codec) {
	s.serveCodec(context.Background(), codec)
}

func (s *Server) serveCodec(ctx context.Context, codec Codec) {
	var h *handler
	c := newConnection(ctx, codec, s.cfg, true, func(c *connection) dispatcher {
		h = newHandler(s, c)
		return h
	})
	if !s.trackConn(c) {
		c.Close()
		return
	}
	defer s.untrackConn(c)

	if err := c.handshake(ctx); err != nil {
		s.log.Debug("Connection handshake failed", "remote", codec.PeerInfo().RemoteAddr, "err", err)
		return
	}
	h.connected()
	c.start()
	<-c.Done()
}

// ServeListener accepts connections on l and serves each with newline
// delimited JSON. It returns when l is closed.
func (s *Server) ServeListener(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}
		s.log.Trace("Accepted stream connection", "network", l.Addr().Network(), "remote", conn.RemoteAddr())
		go s.ServeCodec(newStreamCodec(conn, l.Addr().Network(), s.cfg.MaxMessageSize, s.cfg.WriteTimeout))
	}
}

func (s *Server) trackConn(c *connection) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.run.Load() {
		return false // Don't serve if server is stopped.
	}
	s.conns.Add(c)
	return true
}

func (s *Server) untrackConn(c *connection) {
	s.conns.Remove(c)
}

// Stop stops reading new requests and closes every connection, cancelling
// the operations in flight.
func (s *Server) Stop() {
	s.mutex.Lock()
	stopping := s.run.CompareAndSwap(true, false)
	s.mutex.Unlock()
	if !stopping {
		return
	}
	s.log.Debug("RPC server shutting down")
	for _, c := range s.conns.ToSlice() {
		c.monitor.Close(errServerStopped)
	}
}

// serveCall runs a call operation through its pipeline.
func (s *Server) serveCall(ctx context.Context, b *contract.Binding, id string, args json.RawMessage) (any, error) {
	start := time.Now()
	call := &middleware.Call{
		Context:       ctx,
		Operation:     b.Descriptor,
		CorrelationID: id,
		Args:          contract.Args(args),
	}
	err := s.pipes.Execute(call, func(c *middleware.Call) error {
		res, err := b.Handler.Call(c.Context, c.Args)
		c.Result = res
		return err
	})
	result, err := outcome(call, err)
	updateServeMetrics(err == nil, start)
	return result, err
}
