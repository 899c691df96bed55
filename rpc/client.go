// Copyright 2016 The go-ethereum Authors
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
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// dialFunc opens a new physical connection.
type dialFunc func(ctx context.Context) (Codec, error)

// Client is a connection to a duplex RPC server.
//
// A client keeps one physical connection. When it is lost the client enters
// Reconnecting and redials with exponential backoff; requests issued in the
// meantime wait for the new connection. Operations in flight on the lost
// connection fail with its teardown reason.
type Client struct {
	cfg  *clientConfig
	dial dialFunc
	http *httpConn // set for HTTP clients, which have no connection
	log  log.Logger

	state *stateMachine

	mu  sync.Mutex
	cur *clientConn

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{} // closed when the supervisor exited
}

// Dial creates a new client for the given URL.
//
// The currently supported URL schemes are "http", "https", "ws" and "wss",
// "tcp" and "unix". A URL without a scheme is taken as a unix socket path.
func Dial(rawurl string, options ...ClientOption) (*Client, error) {
	return DialOptions(context.Background(), rawurl, options...)
}

// DialContext creates a new RPC client, just like Dial.
//
// The context is used to cancel or time out the initial connection
// establishment. It does not affect subsequent interactions with the client.
func DialContext(ctx context.Context, rawurl string) (*Client, error) {
	return DialOptions(ctx, rawurl)
}

// DialOptions creates a new RPC client for the given URL. You can supply any of the
// pre-defined client options to configure the underlying transport.
func DialOptions(ctx context.Context, rawurl string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	cfg := newClientConfig(options)

	var dial dialFunc
	switch u.Scheme {
	case "http", "https":
		return newHTTPClient(cfg, newClientTransportHTTP(rawurl, cfg)), nil
	case "ws", "wss":
		dial, err = newClientTransportWS(rawurl, cfg)
		if err != nil {
			return nil, err
		}
	case "tcp":
		dial = netDialer("tcp", u.Host, cfg)
	case "unix":
		dial = netDialer("unix", u.Path, cfg)
	case "":
		dial = netDialer("unix", rawurl, cfg)
	default:
		return nil, fmt.Errorf("no known transport for URL scheme %q", u.Scheme)
	}
	return newClient(ctx, cfg, dial)
}

func netDialer(network, addr string, cfg *clientConfig) dialFunc {
	return func(ctx context.Context) (Codec, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return newStreamCodec(conn, network, cfg.rpc.MaxMessageSize, cfg.rpc.WriteTimeout), nil
	}
}

func newHTTPClient(cfg *clientConfig, hc *httpConn) *Client {
	c := &Client{
		cfg:     cfg,
		http:    hc,
		log:     log.New("url", hc.url),
		state:   newStateMachine(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.state.transition(Connected)
	close(c.done)
	return c
}

func newClient(ctx context.Context, cfg *clientConfig, dial dialFunc) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		dial:    dial,
		log:     log.Root(),
		state:   newStateMachine(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	cc, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.cur = cc
	c.state.transition(Connected)
	go c.supervise(cc)
	return c, nil
}

// connect dials and performs the handshake.
func (c *Client) connect(ctx context.Context) (*clientConn, error) {
	codec, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	cc := &clientConn{
		waiters: make(map[string]*pendingOp),
		streams: make(map[string]*ClientStream),
	}
	cc.connection = newConnection(context.Background(), codec, c.cfg.rpc, false, func(*connection) dispatcher { return cc })
	if err := cc.handshake(ctx); err != nil {
		return nil, err
	}
	cc.start()
	return cc, nil
}

// supervise watches the current connection and replaces it when it is lost.
func (c *Client) supervise(cc *clientConn) {
	defer close(c.done)

	for {
		select {
		case <-c.closing:
			cc.Close()
			c.setConn(nil)
			c.state.transition(Disconnected)
			return
		case <-cc.Done():
		}
		c.setConn(nil)
		if c.cfg.rpc.ReconnectAttempts <= 0 {
			c.log.Debug("Connection lost", "err", cc.Err())
			c.state.transition(Disconnected)
			return
		}
		c.log.Warn("Connection lost, reconnecting", "err", cc.Err())
		c.state.transition(Reconnecting)

		next := c.reconnect()
		if next == nil {
			c.state.transition(Disconnected)
			return
		}
		reconnectMeter.Inc(1)
		cc = next
		c.setConn(cc)
		c.state.transition(Connected)
		c.log.Info("Connection re-established", "conn", cc.id)
	}
}

// reconnect redials within the configured attempts. It returns nil when every
// attempt failed or the client is closing.
func (c *Client) reconnect() *clientConn {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; attempt < c.cfg.rpc.ReconnectAttempts; attempt++ {
		delay := c.cfg.rpc.backoff(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		dialCtx, dialCancel := context.WithTimeout(ctx, c.cfg.rpc.HandshakeTimeout)
		cc, err := c.connect(dialCtx)
		dialCancel()
		if err == nil {
			return cc
		}
		c.log.Debug("Reconnect attempt failed", "attempt", attempt+1, "delay", delay, "err", err)
	}
	c.log.Warn("Giving up reconnecting", "attempts", c.cfg.rpc.ReconnectAttempts)
	return nil
}

func (c *Client) setConn(cc *clientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = cc
}

// conn returns the live connection, waiting while the client reconnects.
func (c *Client) conn(ctx context.Context) (*clientConn, error) {
	for {
		select {
		case <-c.closing:
			return nil, ErrClientQuit
		default:
		}
		c.mu.Lock()
		cc := c.cur
		c.mu.Unlock()
		if cc != nil && cc.Err() == nil {
			return cc, nil
		}
		state, changed := c.state.wait()
		if state == Disconnected {
			return nil, ErrDisconnected
		}
		select {
		case <-changed:
		case <-c.closing:
			return nil, ErrClientQuit
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// State returns the logical connection state of the client.
func (c *Client) State() ConnState { return c.state.get() }

// Close closes the client, aborting any in-flight requests.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.http != nil {
			c.state.transition(Disconnected)
		}
	})
	<-c.done
}

func newRequest(contractName, op string, args []any) (*wire.Request, error) {
	raw, err := contract.NewArgs(args...)
	if err != nil {
		return nil, err
	}
	return &wire.Request{Contract: contractName, Operation: op, Args: raw.Raw()}, nil
}

func opName(contractName, op string) string {
	if contractName == "" {
		return op
	}
	return contractName + "." + op
}

// Invoke performs an operation and waits for its response. The result is
// decoded into result unless it is nil. A failed operation is reported as an
// *OperationError. Cancelling ctx sends a cancellation to the server.
func (c *Client) Invoke(ctx context.Context, contractName, op string, result any, args ...any) error {
	req, err := newRequest(contractName, op, args)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	env, err := wire.NewRequest(wire.KindInvoke, id, req)
	if err != nil {
		return err
	}
	name := opName(contractName, op)

	if c.http != nil {
		if c.State() == Disconnected {
			return ErrClientQuit
		}
		resp, err := c.http.doRequest(ctx, env)
		if err != nil {
			return err
		}
		return decodeResult(name, resp, result)
	}

	cc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	pending, err := cc.addWaiter(id)
	if err != nil {
		return err
	}
	defer cc.removeWaiter(id)

	if err := cc.send(ctx, env); err != nil {
		return err
	}
	select {
	case resp := <-pending.resp:
		return decodeResult(name, resp, result)
	case <-ctx.Done():
		cc.post(wire.NewControl(wire.KindCancel, id))
		return ctx.Err()
	case <-cc.Done():
		return cc.Err()
	}
}

// Notify performs a fire-and-forget operation_call. It returns once the
// request was written; the server sends no response.
func (c *Client) Notify(ctx context.Context, contractName, op string, args ...any) error {
	req, err := newRequest(contractName, op, args)
	if err != nil {
		return err
	}
	env, err := wire.NewRequest(wire.KindCall, uuid.NewString(), req)
	if err != nil {
		return err
	}
	if c.http != nil {
		_, err := c.http.doRequest(ctx, env)
		return err
	}
	cc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	return cc.send(ctx, env)
}

// decodeResult interprets the answer to an invocation.
func decodeResult(name string, resp *wire.Envelope, result any) error {
	if resp == nil {
		return fmt.Errorf("%s: empty response", name)
	}
	if resp.Type == wire.KindError {
		return &FlowError{ID: resp.ID, Code: resp.ErrorCode(), Message: resp.Error}
	}
	r := resp.Response()
	if !r.Success {
		return &OperationError{Operation: name, Message: r.Error}
	}
	if result == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, result)
}

// clientConn is a client side connection together with its dispatcher.
type clientConn struct {
	*connection

	mu      sync.Mutex
	waiters map[string]*pendingOp    // invocations and ingests awaiting a response
	streams map[string]*ClientStream // open streams and subscriptions
	closed  error                    // teardown reason once closeAll ran
}

// pendingOp waits for the answer to a request.
type pendingOp struct {
	resp    chan *wire.Envelope // operation_response or error, buffered
	initAck chan struct{}       // closed by ingest_init_ack
	acked   bool
}

func (cc *clientConn) addWaiter(id string) (*pendingOp, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.closed != nil {
		return nil, cc.closed
	}
	if cc.waiters[id] != nil {
		return nil, errDuplicateID
	}
	op := &pendingOp{resp: make(chan *wire.Envelope, 1), initAck: make(chan struct{})}
	cc.waiters[id] = op
	return op, nil
}

func (cc *clientConn) removeWaiter(id string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.waiters, id)
}

func (cc *clientConn) addStream(s *ClientStream) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.closed != nil {
		return cc.closed
	}
	if cc.streams[s.id] != nil {
		return errDuplicateID
	}
	cc.streams[s.id] = s
	return nil
}

func (cc *clientConn) removeStream(id string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.streams, id)
}

func (cc *clientConn) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.KindResponse:
		cc.respond(env)
	case wire.KindIngestInitAck:
		cc.mu.Lock()
		if op := cc.waiters[env.ID]; op != nil && !op.acked {
			op.acked = true
			close(op.initAck)
		}
		cc.mu.Unlock()
	case wire.KindStreamData, wire.KindSubscriptionData,
		wire.KindStreamComplete, wire.KindSubscriptionComplete:
		if s := cc.stream(env.ID); s != nil {
			s.handle(env)
		}
	case wire.KindStreamDataWithAck, wire.KindSubscriptionDataWithAck:
		// Acknowledge even for unknown streams so the server stops retrying.
		cc.post(wire.NewAck(env.Type.AckKind(), env.AckID))
		if s := cc.stream(env.ID); s != nil {
			s.handle(env)
		}
	case wire.KindError:
		if s := cc.stream(env.ID); s != nil {
			s.handle(env)
			return
		}
		cc.respond(env)
	default:
		cc.log.Debug("Ignoring unexpected message", "type", env.Type, "id", env.ID)
	}
}

func (cc *clientConn) stream(id string) *ClientStream {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.streams[id]
}

func (cc *clientConn) respond(env *wire.Envelope) {
	cc.mu.Lock()
	op := cc.waiters[env.ID]
	delete(cc.waiters, env.ID)
	cc.mu.Unlock()

	if op == nil {
		cc.log.Debug("Ignoring response to unknown request", "type", env.Type, "id", env.ID)
		return
	}
	op.resp <- env
}

func (cc *clientConn) closeAll(reason error) {
	cc.mu.Lock()
	cc.closed = reason
	streams := cc.streams
	cc.streams = make(map[string]*ClientStream)
	cc.mu.Unlock()

	for _, s := range streams {
		s.q.end(reason, false)
	}
}
