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
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// ClientIngest is a running ingest operation. The client feeds its input
// flows through the writers returned by Flows and collects the single
// response with Wait.
type ClientIngest struct {
	id    string
	name  string
	cc    *clientConn
	flows []*IngestWriter

	done chan struct{} // closed once the response arrived or the connection died
	resp *wire.Envelope
	err  error
}

// IngestWriter sends the items of one input flow.
type IngestWriter struct {
	id     string
	ingest *ClientIngest
	closed atomic.Bool
}

// Ingest starts an ingest operation with nflows input flows. It returns once
// the server accepted the request; a request rejected by the server fails
// with an *OperationError.
func (c *Client) Ingest(ctx context.Context, contractName, op string, nflows int, args ...any) (*ClientIngest, error) {
	if c.http != nil {
		return nil, ErrNotificationsUnsupported
	}
	req, err := newRequest(contractName, op, args)
	if err != nil {
		return nil, err
	}
	ci := &ClientIngest{
		id:   uuid.NewString(),
		name: opName(contractName, op),
		done: make(chan struct{}),
	}
	for i := 0; i < nflows; i++ {
		w := &IngestWriter{id: uuid.NewString(), ingest: ci}
		ci.flows = append(ci.flows, w)
		req.Flows = append(req.Flows, w.id)
	}
	env, err := wire.NewRequest(wire.KindIngestInit, ci.id, req)
	if err != nil {
		return nil, err
	}

	cc, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ci.cc = cc
	pending, err := cc.addWaiter(ci.id)
	if err != nil {
		return nil, err
	}
	if err := cc.send(ctx, env); err != nil {
		cc.removeWaiter(ci.id)
		return nil, err
	}
	select {
	case <-pending.initAck:
	case resp := <-pending.resp:
		return nil, decodeResult(ci.name, resp, nil)
	case <-ctx.Done():
		cc.removeWaiter(ci.id)
		cc.post(wire.NewControl(wire.KindCancel, ci.id))
		return nil, ctx.Err()
	case <-cc.Done():
		return nil, cc.Err()
	}
	go ci.await(pending)
	return ci, nil
}

func (ci *ClientIngest) await(pending *pendingOp) {
	defer close(ci.done)
	select {
	case ci.resp = <-pending.resp:
	case <-ci.cc.Done():
		ci.cc.removeWaiter(ci.id)
		ci.err = ci.cc.Err()
	}
}

// ID returns the correlation id of the operation.
func (ci *ClientIngest) ID() string { return ci.id }

// Flows returns the writers of the input flows, in request order.
func (ci *ClientIngest) Flows() []*IngestWriter { return ci.flows }

// Done is closed once the operation finished.
func (ci *ClientIngest) Done() <-chan struct{} { return ci.done }

// Wait waits for the response and decodes the result into result unless it
// is nil. The server answers early when any input flow fails.
func (ci *ClientIngest) Wait(ctx context.Context, result any) error {
	select {
	case <-ci.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ci.err != nil {
		return ci.err
	}
	return decodeResult(ci.name, ci.resp, result)
}

// Cancel asks the server to abandon the operation.
func (ci *ClientIngest) Cancel() {
	select {
	case <-ci.done:
		return
	default:
	}
	for _, w := range ci.flows {
		w.closed.Store(true)
	}
	ci.cc.post(wire.NewControl(wire.KindCancel, ci.id))
}

// ID returns the flow id.
func (w *IngestWriter) ID() string { return w.id }

func (w *IngestWriter) check() error {
	if w.closed.Load() {
		return ErrFlowClosed
	}
	select {
	case <-w.ingest.done:
		return ErrFlowClosed
	default:
		return nil
	}
}

// Send writes an item without waiting for an acknowledgement.
func (w *IngestWriter) Send(ctx context.Context, item any) error {
	if err := w.check(); err != nil {
		return err
	}
	data, err := wire.Marshal(item)
	if err != nil {
		return err
	}
	return w.ingest.cc.send(ctx, wire.NewData(wire.KindIngestData, w.id, data))
}

// SendAcked writes an item and retransmits it until the server acknowledged
// it. It fails with *reliable.AckTimeoutError when the retries are spent.
func (w *IngestWriter) SendAcked(ctx context.Context, item any) error {
	if err := w.check(); err != nil {
		return err
	}
	data, err := wire.Marshal(item)
	if err != nil {
		return err
	}
	env := wire.NewDataWithAck(wire.KindIngestDataWithAck, w.id, uuid.NewString(), data)
	return w.ingest.cc.deliver(ctx, env)
}

// Complete ends the flow regularly.
func (w *IngestWriter) Complete(ctx context.Context) error {
	if err := w.check(); err != nil {
		return err
	}
	w.closed.Store(true)
	return w.ingest.cc.send(ctx, wire.NewControl(wire.KindIngestComplete, w.id))
}

// Fail ends the flow with an error, which fails the whole operation.
func (w *IngestWriter) Fail(ctx context.Context, reason error) error {
	if err := w.check(); err != nil {
		return err
	}
	w.closed.Store(true)
	return w.ingest.cc.send(ctx, wire.NewError(w.id, errorCode(reason), reason.Error()))
}
