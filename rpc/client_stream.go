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
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sunyihoo/duplexrpc/rpc/reliable"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// ClientStream receives the items of a stream or subscription.
//
// Items are buffered until read; a consumer falling more than FlowBuffer items
// behind fails the stream with ErrFlowOverflow and cancels it on the server.
type ClientStream struct {
	id           string
	name         string
	subscription bool
	cc           *clientConn
	q            *itemQueue
	dedup        *reliable.Dedup
	cancelled    atomic.Bool
}

// Stream starts a stream operation.
func (c *Client) Stream(ctx context.Context, contractName, op string, args ...any) (*ClientStream, error) {
	return c.openStream(ctx, wire.KindStreamInit, contractName, op, args)
}

// Subscribe starts a subscription. It delivers items until either side
// cancels it.
func (c *Client) Subscribe(ctx context.Context, contractName, op string, args ...any) (*ClientStream, error) {
	return c.openStream(ctx, wire.KindSubscriptionInit, contractName, op, args)
}

func (c *Client) openStream(ctx context.Context, kind wire.Kind, contractName, op string, args []any) (*ClientStream, error) {
	if c.http != nil {
		return nil, ErrNotificationsUnsupported
	}
	req, err := newRequest(contractName, op, args)
	if err != nil {
		return nil, err
	}
	cc, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	s := &ClientStream{
		id:           uuid.NewString(),
		name:         opName(contractName, op),
		subscription: kind == wire.KindSubscriptionInit,
		cc:           cc,
		q:            newItemQueue(c.cfg.rpc.FlowBuffer),
		dedup:        reliable.NewDedup(),
	}
	env, err := wire.NewRequest(kind, s.id, req)
	if err != nil {
		return nil, err
	}
	if err := cc.addStream(s); err != nil {
		return nil, err
	}
	if err := cc.send(ctx, env); err != nil {
		cc.removeStream(s.id)
		return nil, err
	}
	return s, nil
}

// ID returns the correlation id of the stream.
func (s *ClientStream) ID() string { return s.id }

// handle runs on the receive loop.
func (s *ClientStream) handle(env *wire.Envelope) {
	switch env.Type {
	case wire.KindStreamData, wire.KindSubscriptionData:
		s.push(env.Data)
	case wire.KindStreamDataWithAck, wire.KindSubscriptionDataWithAck:
		if s.dedup.First(env.AckID) {
			s.push(env.Data)
		}
	case wire.KindStreamComplete, wire.KindSubscriptionComplete:
		s.cc.removeStream(s.id)
		s.q.end(nil, false)
	case wire.KindError:
		s.cc.removeStream(s.id)
		s.q.end(&FlowError{ID: s.id, Code: env.ErrorCode(), Message: env.Error}, false)
	}
}

func (s *ClientStream) push(item json.RawMessage) {
	if err := s.q.push(item); errors.Is(err, ErrFlowOverflow) {
		s.cc.log.Warn("Stream buffer overflow, cancelling", "op", s.name, "id", s.id, "limit", s.q.limit)
		s.cc.removeStream(s.id)
		s.cc.post(wire.NewControl(s.cancelKind(), s.id))
	}
}

func (s *ClientStream) cancelKind() wire.Kind {
	if s.subscription {
		return wire.KindSubscriptionCancel
	}
	return wire.KindCancel
}

// Next returns the next item. It returns io.EOF once the server completed the
// stream and every item was read, and the stream error if it failed.
func (s *ClientStream) Next(ctx context.Context) (json.RawMessage, error) {
	return s.q.next(ctx)
}

// Recv reads the next item into v.
func (s *ClientStream) Recv(ctx context.Context, v any) error {
	raw, err := s.Next(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Items forwards the items on a channel, which is closed when the stream
// ended or ctx is done. Err reports why the stream ended.
func (s *ClientStream) Items(ctx context.Context) <-chan json.RawMessage {
	ch := make(chan json.RawMessage)
	go func() {
		defer close(ch)
		for {
			item, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Done is closed when the stream ended. Buffered items may still be readable.
func (s *ClientStream) Done() <-chan struct{} { return s.q.done }

// Err returns the error that ended the stream. It is nil while the stream is
// open, after regular completion and after Cancel.
func (s *ClientStream) Err() error {
	err := s.q.Err()
	if errors.Is(err, io.EOF) || s.cancelled.Load() {
		return nil
	}
	return err
}

// Cancel stops the stream. Buffered items are discarded and no further items
// are delivered. The server is asked to stop producing.
func (s *ClientStream) Cancel() {
	s.cancelled.Store(true)
	if !s.q.end(ErrFlowCancelled, true) {
		return
	}
	s.cc.removeStream(s.id)
	s.cc.post(wire.NewControl(s.cancelKind(), s.id))
}
