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
	"encoding/json"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
	"github.com/sunyihoo/duplexrpc/rpc/reliable"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// inputFlow is one client to server flow of an ingest operation.
type inputFlow struct {
	*itemQueue
	id    string
	dedup *reliable.Dedup
}

func newInputFlow(id string, limit int) *inputFlow {
	return &inputFlow{itemQueue: newItemQueue(limit), id: id, dedup: reliable.NewDedup()}
}

func (in *inputFlow) ID() string { return in.id }

func (in *inputFlow) Next(ctx context.Context) (json.RawMessage, error) {
	return in.next(ctx)
}

func (in *inputFlow) fail(err error) { in.end(err, false) }

// failed returns the flow error, nil while the flow is open or after it completed.
func (in *inputFlow) failed() error {
	if err := in.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// startIngest serves ingest_init. The input flows are registered before the
// init is acknowledged so no item can arrive for an unknown flow.
func (h *handler) startIngest(env *wire.Envelope) {
	b, req, err := resolve(h.srv.reg, env)
	if err != nil {
		h.reject(env, err)
		return
	}
	ins := make([]*inputFlow, len(req.Flows))
	for i, id := range req.Flows {
		ins[i] = newInputFlow(id, h.srv.cfg.FlowBuffer)
	}
	ctx, cancel := context.WithCancelCause(h.rootCtx)
	if err := h.register(env.ID, &activeOp{cancel: cancel, isFlow: true}); err != nil {
		cancel(err)
		h.reject(env, err)
		return
	}
	if err := h.addInputs(ins); err != nil {
		h.unregister(env.ID)
		cancel(err)
		h.reject(env, err)
		return
	}
	h.conn.post(wire.NewControl(wire.KindIngestInitAck, env.ID))
	go h.runIngest(ctx, cancel, env.ID, b, req, ins)
}

func (h *handler) addInputs(ins []*inputFlow) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrConnClosed
	}
	seen := make(map[string]bool, len(ins))
	for _, in := range ins {
		switch {
		case in.id == "":
			return &contract.ValidationError{Err: errors.New("missing input flow id")}
		case seen[in.id], h.inputs[in.id] != nil:
			return errDuplicateID
		}
		seen[in.id] = true
	}
	for _, in := range ins {
		h.inputs[in.id] = in
	}
	return nil
}

func (h *handler) removeInputs(ins []*inputFlow) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, in := range ins {
		if h.inputs[in.id] == in {
			delete(h.inputs, in.id)
		}
	}
}

// feedInput routes an ingest item, completion or error to its input flow.
func (h *handler) feedInput(env *wire.Envelope) {
	h.mu.Lock()
	in := h.inputs[env.ID]
	h.mu.Unlock()

	if in == nil {
		h.log.Debug("Ignoring message for unknown input flow", "type", env.Type, "id", env.ID)
		return
	}
	switch env.Type {
	case wire.KindIngestData:
		in.push(env.Data)
	case wire.KindIngestDataWithAck:
		if in.dedup.First(env.AckID) {
			in.push(env.Data)
		}
		h.conn.post(wire.NewAck(wire.KindIngestDataAck, env.AckID))
	case wire.KindIngestComplete:
		in.end(nil, false)
	case wire.KindError:
		in.fail(&FlowError{ID: env.ID, Code: env.ErrorCode(), Message: env.Error})
	}
}

// runIngest runs the handler next to one watcher per input flow. The first
// failure answers the request right away; success is reported once the
// handler returned and every flow completed.
func (h *handler) runIngest(ctx context.Context, cancel context.CancelCauseFunc, id string, b *contract.Binding, req *wire.Request, ins []*inputFlow) {
	defer cancel(nil)
	defer h.unregister(id)
	defer h.removeInputs(ins)

	var once sync.Once
	respond := func(result any, err error) {
		once.Do(func() {
			if err != nil {
				h.logFailure(b.Descriptor, id, err)
				h.conn.send(context.Background(), wire.NewFailure(id, failureMessage(err)))
				return
			}
			resp, merr := wire.NewResponse(id, result)
			if merr != nil {
				h.log.Error("Failed to encode operation result", "op", b.Descriptor.FullName(), "err", merr)
				resp = wire.NewFailure(id, "result encoding failed")
			}
			h.conn.send(context.Background(), resp)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range ins {
		g.Go(func() error {
			select {
			case <-in.done:
				if err := in.failed(); err != nil {
					respond(nil, err)
					return err
				}
				return nil
			case <-gctx.Done():
				return context.Cause(gctx)
			}
		})
	}

	inputs := make([]contract.Input, len(ins))
	for i, in := range ins {
		inputs[i] = in
	}
	var result any
	g.Go(func() error {
		call := &middleware.Call{
			Context:       gctx,
			Operation:     b.Descriptor,
			CorrelationID: id,
			Args:          contract.Args(req.Args),
		}
		err := h.srv.pipes.Execute(call, func(c *middleware.Call) error {
			res, err := b.Handler.Ingest(c.Context, c.Args, inputs)
			c.Result = res
			return err
		})
		res, err := outcome(call, err)
		if err != nil {
			respond(nil, err)
			return err
		}
		result = res
		return nil
	})

	if err := g.Wait(); err != nil {
		respond(nil, err)
		return
	}
	respond(result, nil)
}
