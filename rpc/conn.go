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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc/heartbeat"
	"github.com/sunyihoo/duplexrpc/rpc/reliable"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

var errHandshakeTimeout = errors.New("handshake timeout")

// dispatcher handles the application messages of a connection. Session
// messages and acknowledgements never reach it.
type dispatcher interface {
	dispatch(env *wire.Envelope)

	// closeAll ends every flow and pending request. It runs once, during
	// teardown, and must not block on the connection.
	closeAll(reason error)
}

// connection owns one physical connection: the codec, the liveness monitor,
// the receive, send and ping loops and the pending acknowledgements. All
// teardown paths go through the monitor's one-shot callback.
type connection struct {
	id     string
	cfg    Config
	codec  Codec
	server bool
	log    log.Logger

	disp    dispatcher
	monitor *heartbeat.Monitor
	acks    *reliable.Table
	state   *stateMachine

	// ctx is the root of every context derived for this connection. It is
	// cancelled with the teardown reason.
	ctx    context.Context
	cancel context.CancelCauseFunc

	outMu     sync.Mutex
	out       []outbound
	outSignal chan struct{}
	pingReset chan struct{}

	// lifeMu orders the handshake and start against a concurrent teardown.
	lifeMu  sync.Mutex
	started bool
	closing bool

	done chan struct{}
	err  error // teardown reason, written before done is closed
}

// outbound is a queued write. errc is nil for fire-and-forget messages.
type outbound struct {
	ctx  context.Context
	env  *wire.Envelope
	errc chan error
}

func newConnection(parent context.Context, codec Codec, cfg Config, server bool, mkDispatcher func(*connection) dispatcher) *connection {
	c := &connection{
		cfg:       cfg,
		codec:     codec,
		server:    server,
		acks:      reliable.NewTable(),
		state:     newStateMachine(),
		outSignal: make(chan struct{}, 1),
		pingReset: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if server {
		c.id = uuid.NewString()
	}
	c.log = log.New("transport", codec.PeerInfo().Transport, "remote", codec.PeerInfo().RemoteAddr)
	c.ctx, c.cancel = context.WithCancelCause(parent)
	c.monitor = heartbeat.New(cfg.HeartbeatTimeout, c.teardown)
	c.disp = mkDispatcher(c)
	return c
}

// handshake performs the connection_init / connection_ack exchange within
// HandshakeTimeout. A failed handshake tears the connection down.
func (c *connection) handshake(ctx context.Context) error {
	timer := time.AfterFunc(c.cfg.HandshakeTimeout, c.codec.Close)
	stop := context.AfterFunc(ctx, c.codec.Close)

	var err error
	if c.server {
		err = c.accept(ctx)
	} else {
		err = c.open(ctx)
	}
	switch {
	case !timer.Stop():
		err = fmt.Errorf("%w after %v", errHandshakeTimeout, c.cfg.HandshakeTimeout)
	case !stop():
		err = context.Cause(ctx)
	}
	if err != nil {
		c.monitor.Close(err)
		return err
	}
	c.lifeMu.Lock()
	if c.closing {
		c.lifeMu.Unlock()
		return c.err
	}
	c.log = c.log.New("conn", c.id)
	err = c.state.transition(Connected)
	c.lifeMu.Unlock()
	if err != nil {
		c.monitor.Close(err)
		return err
	}
	return nil
}

func (c *connection) accept(ctx context.Context) error {
	env, err := c.codec.Read()
	if err != nil {
		return err
	}
	if env.Type != wire.KindConnectionInit {
		return fmt.Errorf("%w: %s before connection_init", ErrProtocolViolation, env.Type)
	}
	return c.codec.Write(ctx, wire.NewConnectionAck(c.id))
}

func (c *connection) open(ctx context.Context) error {
	if err := c.codec.Write(ctx, wire.NewConnectionInit()); err != nil {
		return err
	}
	env, err := c.codec.Read()
	if err != nil {
		return err
	}
	if env.Type != wire.KindConnectionAck {
		return fmt.Errorf("%w: expected connection_ack, got %s", ErrProtocolViolation, env.Type)
	}
	c.id = env.ID
	return nil
}

// start launches the liveness monitor and the connection loops. It does
// nothing once teardown has begun.
func (c *connection) start() {
	c.lifeMu.Lock()
	if c.closing {
		c.lifeMu.Unlock()
		return
	}
	c.started = true
	connectionGauge.Inc(1)
	c.lifeMu.Unlock()

	c.monitor.Start(c.ctx)
	go c.readLoop()
	go c.writeLoop()
	if c.cfg.PingInterval > 0 {
		go c.pingLoop()
	}
	c.log.Debug("Connection established")
}

// Done is closed when the connection has been torn down.
func (c *connection) Done() <-chan struct{} { return c.done }

// Err returns the teardown reason once Done is closed.
func (c *connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tears the connection down and waits until teardown completed.
func (c *connection) Close() {
	c.monitor.Close(ErrConnClosed)
	<-c.done
}

// teardown is the monitor callback and runs exactly once.
func (c *connection) teardown(reason error) {
	if reason == nil {
		reason = ErrConnClosed
	}
	c.lifeMu.Lock()
	c.closing = true
	c.err = reason
	logger, started := c.log, c.started
	c.lifeMu.Unlock()

	if c.state.get() != Disconnected {
		c.state.transition(Disconnected)
	}
	c.cancel(reason)
	c.acks.FailAll(reason)
	c.disp.closeAll(reason)
	c.codec.Close()
	close(c.done)

	switch {
	case errors.Is(reason, heartbeat.ErrTimeout):
		heartbeatTimeoutMeter.Inc(1)
		logger.Warn("Connection timed out", "timeout", c.cfg.HeartbeatTimeout, "last", c.monitor.LastHeartbeat())
	case errors.Is(reason, ErrConnClosed), isClosedErr(reason):
		logger.Debug("Connection closed")
	default:
		logger.Debug("Connection closed", "err", reason)
	}
	if started {
		connectionGauge.Dec(1)
	}
}

func (c *connection) readLoop() {
	for {
		env, err := c.codec.Read()
		if err != nil {
			var derr *wire.DecodeError
			if errors.As(err, &derr) {
				c.decodeFailed(derr)
				continue
			}
			c.monitor.Close(err)
			return
		}
		c.handle(env)
	}
}

// handle classifies an inbound message. It runs on the receive loop and must
// never wait for the peer.
func (c *connection) handle(env *wire.Envelope) {
	if c.cfg.HeartbeatOnTraffic {
		c.monitor.NotifyHeartbeat()
	}
	switch {
	case !env.Type.Known():
		c.log.Debug("Ignoring message of unknown type", "type", env.Type, "id", env.ID)
	case env.Type == wire.KindPing:
		c.monitor.NotifyHeartbeat()
		c.post(wire.NewPong(env.ID))
	case env.Type == wire.KindPong:
		c.monitor.NotifyHeartbeat()
	case env.Type == wire.KindConnectionInit, env.Type == wire.KindConnectionAck:
		c.log.Debug("Ignoring repeated handshake message", "type", env.Type)
	case env.Type.Acknowledgement():
		if !c.acks.Ack(env.ID) {
			c.log.Trace("Ignoring stale acknowledgement", "ackid", env.ID)
		}
	default:
		c.disp.dispatch(env)
	}
}

// decodeFailed answers a malformed message with an error envelope when its
// correlation id could be recovered, and drops it otherwise.
func (c *connection) decodeFailed(derr *wire.DecodeError) {
	decodeErrorMeter.Inc(1)
	if derr.ID == "" {
		c.log.Debug("Dropping malformed message", "err", derr.Err)
		return
	}
	c.log.Debug("Rejecting malformed message", "id", derr.ID, "err", derr.Err)
	c.post(wire.NewError(derr.ID, errcodeParse, derr.Err.Error()))
}

// send writes env and waits until it is on the wire. ctx supplies the write
// deadline.
func (c *connection) send(ctx context.Context, env *wire.Envelope) error {
	errc := make(chan error, 1)
	if !c.enqueue(outbound{ctx: ctx, env: env, errc: errc}) {
		return c.err
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return c.err
	}
}

// post queues env without waiting. It is used from the receive loop.
func (c *connection) post(env *wire.Envelope) {
	c.enqueue(outbound{ctx: context.Background(), env: env})
}

func (c *connection) enqueue(o outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.outMu.Lock()
	c.out = append(c.out, o)
	c.outMu.Unlock()

	select {
	case c.outSignal <- struct{}{}:
	default:
	}
	return true
}

// writeLoop is the single writer of the connection. Messages are written in
// the order they were queued.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			c.outMu.Lock()
			rest := c.out
			c.out = nil
			c.outMu.Unlock()
			for _, o := range rest {
				if o.errc != nil {
					o.errc <- c.err
				}
			}
			return
		case <-c.outSignal:
		}
		c.outMu.Lock()
		batch := c.out
		c.out = nil
		c.outMu.Unlock()

		for i, o := range batch {
			err := c.codec.Write(o.ctx, o.env)
			if o.errc != nil {
				o.errc <- err
			}
			if err != nil {
				for _, rest := range batch[i+1:] {
					if rest.errc != nil {
						rest.errc <- err
					}
				}
				c.monitor.Close(fmt.Errorf("write failed: %w", err))
				return
			}
		}
		select {
		case c.pingReset <- struct{}{}:
		default:
		}
	}
}

// pingLoop sends a ping whenever the connection was idle for PingInterval.
func (c *connection) pingLoop() {
	timer := time.NewTimer(c.cfg.PingInterval)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.pingReset:
			timer.Reset(c.cfg.PingInterval)
		case <-timer.C:
			c.post(wire.NewPing(uuid.NewString()))
			timer.Reset(c.cfg.PingInterval)
		}
	}
}

// deliver sends env reliably: it is retransmitted until the peer acknowledges
// env.AckID or the retry budget is spent.
func (c *connection) deliver(ctx context.Context, env *wire.Envelope) error {
	p := reliable.New(env, c.cfg.AckRetries, c.cfg.AckTimeout)
	if err := c.acks.Add(p); err != nil {
		return err
	}
	defer c.acks.Remove(p.AckID())

	acked, err := reliable.Deliver(ctx, p, func(m *wire.Envelope) error {
		return c.send(ctx, m)
	})
	if !acked {
		ackFailureMeter.Inc(1)
		return err
	}
	return nil
}
