// Copyright 2019 The go-ethereum Authors
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

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// handler dispatches the application messages of one server connection.
//
// Every request runs on its own goroutine. The receive loop only routes
// messages: it registers flows, feeds ingest inputs and handles cancellation,
// none of which waits for the peer.
type handler struct {
	srv     *Server
	conn    *connection
	rootCtx context.Context // connection context carrying peer info and broker
	log     log.Logger

	mu     sync.Mutex
	ops    map[string]*activeOp  // invocations and flows by correlation id
	inputs map[string]*inputFlow // ingest input flows by flow id
	flows  int                   // streams, subscriptions and ingests counted against MaxFlows
	closed bool
}

// activeOp is a running invocation or flow that the peer may cancel.
type activeOp struct {
	cancel context.CancelCauseFunc
	flow   *flow // streams and subscriptions
	isFlow bool
}

func newHandler(srv *Server, c *connection) *handler {
	return &handler{
		srv:    srv,
		conn:   c,
		log:    srv.log,
		ops:    make(map[string]*activeOp),
		inputs: make(map[string]*inputFlow),
	}
}

// connected is called after the handshake, before the receive loop starts.
func (h *handler) connected() {
	info := h.conn.codec.PeerInfo()
	info.ConnID = h.conn.id
	h.rootCtx = pubsub.NewContext(withPeerInfo(h.conn.ctx, info), h.srv.broker)
	h.log = h.srv.log.New("conn", h.conn.id)
}

func (h *handler) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.KindInvoke, wire.KindCall:
		h.startCall(env)
	case wire.KindStreamInit, wire.KindSubscriptionInit:
		h.startFlow(env)
	case wire.KindIngestInit:
		h.startIngest(env)
	case wire.KindCancel, wire.KindSubscriptionCancel:
		h.cancelOp(env)
	case wire.KindIngestData, wire.KindIngestDataWithAck, wire.KindIngestComplete, wire.KindError:
		h.feedInput(env)
	default:
		h.log.Debug("Ignoring unexpected message", "type", env.Type, "id", env.ID)
	}
}

// requiredKind is the operation kind each request kind may start.
var requiredKind = map[wire.Kind]contract.OperationKind{
	wire.KindInvoke:           contract.Call,
	wire.KindCall:             contract.Call,
	wire.KindStreamInit:       contract.Stream,
	wire.KindSubscriptionInit: contract.Subscription,
	wire.KindIngestInit:       contract.Ingest,
}

// resolve decodes the request of env and looks up its operation.
func resolve(reg *contract.Registry, env *wire.Envelope) (*contract.Binding, *wire.Request, error) {
	req, err := env.Request()
	if err != nil {
		return nil, nil, &contract.ValidationError{Err: err}
	}
	b, err := reg.Resolve(req.Contract, req.Operation)
	if err != nil {
		return nil, req, err
	}
	if want := requiredKind[env.Type]; b.Descriptor.Kind != want {
		return nil, req, &contract.ValidationError{
			Operation: b.Descriptor.FullName(),
			Err:       fmt.Errorf("%s operation cannot be started with %s", b.Descriptor.Kind, env.Type),
		}
	}
	return b, req, nil
}

// register adds an operation under its correlation id.
func (h *handler) register(id string, op *activeOp) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.closed:
		return ErrConnClosed
	case id == "":
		return &contract.ValidationError{Err: errors.New("missing correlation id")}
	case h.ops[id] != nil:
		return errDuplicateID
	case op.isFlow && h.srv.cfg.MaxFlows > 0 && h.flows >= h.srv.cfg.MaxFlows:
		return ErrTooManyFlows
	}
	h.ops[id] = op
	if op.isFlow {
		h.flows++
		flowGauge.Inc(1)
	}
	return nil
}

func (h *handler) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	op := h.ops[id]
	if op == nil {
		return
	}
	delete(h.ops, id)
	if op.isFlow {
		h.flows--
		flowGauge.Dec(1)
	}
}

// startCall serves operation_invoke and operation_call.
func (h *handler) startCall(env *wire.Envelope) {
	b, req, err := resolve(h.srv.reg, env)
	if err != nil {
		h.reject(env, err)
		return
	}
	ctx, cancel := context.WithCancelCause(h.rootCtx)

	// Fire-and-forget calls cannot be cancelled, their id is informational.
	invoke := env.Type == wire.KindInvoke
	if invoke {
		if err := h.register(env.ID, &activeOp{cancel: cancel}); err != nil {
			cancel(err)
			h.reject(env, err)
			return
		}
	}
	go func() {
		defer cancel(nil)
		if invoke {
			defer h.unregister(env.ID)
		}
		result, err := h.srv.serveCall(ctx, b, env.ID, req.Args)
		switch {
		case err != nil && !invoke:
			h.logFailure(b.Descriptor, env.ID, err)
		case err != nil:
			h.logFailure(b.Descriptor, env.ID, err)
			h.conn.send(context.Background(), wire.NewFailure(env.ID, failureMessage(err)))
		case invoke:
			resp, merr := wire.NewResponse(env.ID, result)
			if merr != nil {
				h.log.Error("Failed to encode operation result", "op", b.Descriptor.FullName(), "err", merr)
				resp = wire.NewFailure(env.ID, "result encoding failed")
			}
			h.conn.send(context.Background(), resp)
		}
	}()
}

// cancelOp handles cancel and subscription_cancel. Flows are answered with
// their completion message; invocations and ingests see their context cancelled.
func (h *handler) cancelOp(env *wire.Envelope) {
	h.mu.Lock()
	op := h.ops[env.ID]
	h.mu.Unlock()

	if op == nil {
		h.log.Debug("Ignoring cancellation of unknown operation", "id", env.ID)
		return
	}
	if op.flow != nil {
		op.flow.cancelByPeer()
		return
	}
	op.cancel(ErrFlowCancelled)
}

// reject answers a request that could not be started.
func (h *handler) reject(env *wire.Envelope, err error) {
	h.log.Debug("Rejected request", "type", env.Type, "id", env.ID, "err", err)
	switch env.Type {
	case wire.KindInvoke, wire.KindIngestInit:
		h.conn.post(wire.NewFailure(env.ID, failureMessage(err)))
	case wire.KindStreamInit, wire.KindSubscriptionInit:
		h.conn.post(wire.NewError(env.ID, errorCode(err), failureMessage(err)))
	}
}

func (h *handler) logFailure(op *contract.Descriptor, id string, err error) {
	var herr *middleware.HandlerError
	if errors.As(err, &herr) && !herr.Panic {
		h.log.Warn("Operation failed", "op", op.FullName(), "reqid", id, "err", err)
		return
	}
	h.log.Debug("Operation failed", "op", op.FullName(), "reqid", id, "err", err)
}

// closeAll cancels every running operation of the connection.
func (h *handler) closeAll(reason error) {
	h.mu.Lock()
	h.closed = true
	ops, inputs := h.ops, h.inputs
	h.ops, h.inputs = make(map[string]*activeOp), make(map[string]*inputFlow)
	if h.flows > 0 {
		flowGauge.Dec(int64(h.flows))
	}
	h.flows = 0
	h.mu.Unlock()

	for _, op := range ops {
		op.cancel(reason)
		if op.flow != nil {
			op.flow.terminate()
		}
	}
	for _, in := range inputs {
		in.fail(reason)
	}
}

// outcome returns the result of an executed chain. A *Fault left by the
// recovery middleware is a failure.
func outcome(c *middleware.Call, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if fault, ok := c.Result.(*middleware.Fault); ok {
		return nil, fault
	}
	return c.Result, nil
}

const genericFailure = "operation failed"

// failureMessage is the text reported to the caller of a failed operation.
// Errors raised by handlers without a recovery middleware are not exposed.
func failureMessage(err error) string {
	var (
		fault *middleware.Fault
		verr  *contract.ValidationError
		herr  *middleware.HandlerError
	)
	switch {
	case errors.As(err, &fault):
		return fault.Message
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &herr):
		return genericFailure
	}
	return err.Error()
}
