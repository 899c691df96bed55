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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// flowState is the lifecycle of a flow. Only one terminal transition succeeds.
type flowState int32

const (
	flowInit flowState = iota
	flowActive
	flowCompleted
	flowCancelled
	flowErrored
)

func (s flowState) String() string {
	switch s {
	case flowInit:
		return "init"
	case flowActive:
		return "active"
	case flowCompleted:
		return "completed"
	case flowCancelled:
		return "cancelled"
	case flowErrored:
		return "errored"
	}
	return "unknown"
}

// flowKinds are the envelope kinds an output flow produces.
type flowKinds struct {
	data, dataWithAck, complete wire.Kind
}

var (
	streamKinds       = flowKinds{wire.KindStreamData, wire.KindStreamDataWithAck, wire.KindStreamComplete}
	subscriptionKinds = flowKinds{wire.KindSubscriptionData, wire.KindSubscriptionDataWithAck, wire.KindSubscriptionComplete}
)

// flow is the server side of a stream or subscription. It implements
// contract.Emitter for the producing handler.
//
// mu is held while an item is written and while the flow finishes, so once a
// cancellation has been observed no further item reaches the wire.
type flow struct {
	id     string
	kinds  flowKinds
	conn   *connection
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	state atomic.Int32
}

func newFlow(parent context.Context, c *connection, id string, kinds flowKinds) *flow {
	f := &flow{id: id, kinds: kinds, conn: c}
	f.ctx, f.cancel = context.WithCancelCause(parent)
	return f
}

func (f *flow) State() flowState { return flowState(f.state.Load()) }

func (f *flow) activate() bool {
	return f.state.CompareAndSwap(int32(flowInit), int32(flowActive))
}

// finish moves an open flow to a terminal state.
func (f *flow) finish(to flowState) bool {
	for {
		cur := flowState(f.state.Load())
		if cur != flowInit && cur != flowActive {
			return false
		}
		if f.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

func (f *flow) Emit(ctx context.Context, item any) error {
	raw, err := wire.Marshal(item)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.State() != flowActive {
		return ErrFlowClosed
	}
	return f.conn.send(ctx, wire.NewData(f.kinds.data, f.id, raw))
}

func (f *flow) EmitAcked(ctx context.Context, item any) error {
	raw, err := wire.Marshal(item)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.State() != flowActive {
		return ErrFlowClosed
	}
	// Retries stop as soon as the flow ends.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(f.ctx, func() { cancel(context.Cause(f.ctx)) })
	defer stop()

	env := wire.NewDataWithAck(f.kinds.dataWithAck, f.id, uuid.NewString(), raw)
	return f.conn.deliver(ctx, env)
}

// cancelByPeer handles cancel and subscription_cancel. The producer context
// is cancelled before the lock is taken so an acked emission in progress
// gives up right away.
func (f *flow) cancelByPeer() {
	f.cancel(ErrFlowCancelled)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finish(flowCancelled) {
		f.conn.post(wire.NewControl(f.kinds.complete, f.id))
	}
}

// terminate ends the flow without notifying the peer. It is used during
// connection teardown and does not wait for emissions in progress.
func (f *flow) terminate() {
	f.finish(flowCancelled)
}

// close reports the producer's outcome to the peer unless the flow already ended.
func (f *flow) close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		if f.finish(flowErrored) {
			f.conn.post(wire.NewError(f.id, errorCode(err), failureMessage(err)))
		}
		return
	}
	if f.finish(flowCompleted) {
		f.conn.post(wire.NewControl(f.kinds.complete, f.id))
	}
}

// startFlow serves stream_init and subscription_init.
func (h *handler) startFlow(env *wire.Envelope) {
	b, req, err := resolve(h.srv.reg, env)
	if err != nil {
		h.reject(env, err)
		return
	}
	kinds := streamKinds
	if env.Type == wire.KindSubscriptionInit {
		kinds = subscriptionKinds
	}
	f := newFlow(h.rootCtx, h.conn, env.ID, kinds)
	if err := h.register(env.ID, &activeOp{cancel: f.cancel, flow: f, isFlow: true}); err != nil {
		f.cancel(err)
		h.reject(env, err)
		return
	}
	f.activate()
	go h.runFlow(f, b, req)
}

// runFlow runs the producer of a flow through the middleware pipeline.
func (h *handler) runFlow(f *flow, b *contract.Binding, req *wire.Request) {
	defer h.unregister(f.id)
	defer f.cancel(nil)

	call := &middleware.Call{
		Context:       f.ctx,
		Operation:     b.Descriptor,
		CorrelationID: f.id,
		Args:          contract.Args(req.Args),
	}
	err := h.srv.pipes.Execute(call, func(c *middleware.Call) error {
		return b.Handler.Stream(c.Context, c.Args, f)
	})
	_, err = outcome(call, err)
	if err != nil && f.State() == flowActive {
		h.logFailure(b.Descriptor, f.id, err)
	}
	f.close(err)
}
