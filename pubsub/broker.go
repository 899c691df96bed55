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

// Package pubsub fans published events out to subscription handlers.
//
// A subscription operation typically subscribes to a topic on the server's
// broker and forwards every message to its emitter until the consumer cancels.
// MemoryBroker serves a single process; RedisBroker relays through Redis
// channels so that events published on one server instance reach subscribers
// connected to any other.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is a published event.
type Message struct {
	Topic string
	Data  json.RawMessage
}

// Listener receives the messages of a topic. It may run on the publishing
// goroutine and must not block for long.
type Listener func(msg Message)

// Subscription is a registered listener.
type Subscription interface {
	// Unsubscribe removes the listener. Apart from a delivery already in
	// progress, no message reaches it afterwards. It is safe to call more
	// than once and from within the listener itself.
	Unsubscribe()

	// Err delivers the error that ended the subscription, if any. The channel
	// is closed on Unsubscribe.
	Err() <-chan error
}

// Broker publishes messages to the listeners of a topic.
type Broker interface {
	Publish(ctx context.Context, topic string, data any) error
	Subscribe(ctx context.Context, topic string, fn Listener) (Subscription, error)
	Close() error
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}

type brokerKey struct{}

// NewContext returns a context carrying b.
func NewContext(ctx context.Context, b Broker) context.Context {
	return context.WithValue(ctx, brokerKey{}, b)
}

// FromContext returns the broker carried by ctx, nil if there is none.
func FromContext(ctx context.Context) Broker {
	b, _ := ctx.Value(brokerKey{}).(Broker)
	return b
}
