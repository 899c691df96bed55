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

package pubsub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

// Contract is the name under which Register exposes the broker.
const Contract = "pubsub"

// listenBuffer is the number of messages held per Listen subscription while
// the emitter is busy. Messages beyond it are dropped.
const listenBuffer = 256

var errNoBroker = errors.New("no broker in context")

var (
	publishOp = contract.Proc2(publish)
	listenOp  = contract.Subscription1(listen)
)

// Register adds the pubsub contract to reg. Its operations use the broker of
// the serving connection:
//
//	Publish(string,any)  publishes data on a topic
//	Listen(string)       subscription delivering the messages of a topic
func Register(reg *contract.Registry) error {
	c := reg.Contract(Contract)
	if err := c.Register("Publish", publishOp); err != nil {
		return err
	}
	return c.Register("Listen", listenOp)
}

func publish(ctx context.Context, topic string, data any) error {
	b := FromContext(ctx)
	if b == nil {
		return errNoBroker
	}
	return b.Publish(ctx, topic, data)
}

func listen(ctx context.Context, topic string, out contract.Sink[json.RawMessage]) error {
	b := FromContext(ctx)
	if b == nil {
		return errNoBroker
	}
	msgs := make(chan json.RawMessage, listenBuffer)
	sub, err := b.Subscribe(ctx, topic, func(msg Message) {
		select {
		case msgs <- msg.Data:
		default:
			log.Warn("Dropping pubsub message, listener too slow", "topic", msg.Topic)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case data := <-msgs:
			if err := out.Emit(ctx, data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
