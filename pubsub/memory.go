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
	"sync"
	"sync/atomic"
)

// MemoryBroker is an in-process broker. Every topic keeps an explicit list of
// listeners guarded by a lock; Publish iterates over a snapshot of the list,
// so listeners may subscribe or unsubscribe while a message is dispatched.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string][]*memorySub
	closed bool
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string][]*memorySub)}
}

type memorySub struct {
	b     *MemoryBroker
	topic string
	fn    Listener

	done atomic.Bool
	err  chan error
	once sync.Once
}

// Publish delivers data to every listener of topic registered at the time of
// the call. It returns after all of them ran.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	snapshot := append([]*memorySub(nil), b.topics[topic]...)
	b.mu.Unlock()

	msg := Message{Topic: topic, Data: raw}
	for _, sub := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub.deliver(msg)
	}
	return nil
}

// Subscribe registers fn for topic.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, fn Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{b: b, topic: topic, fn: fn, err: make(chan error, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

// Listeners returns the number of listeners of topic.
func (b *MemoryBroker) Listeners(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Close ends every subscription with ErrClosed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string][]*memorySub)
	b.mu.Unlock()

	for _, subs := range topics {
		for _, sub := range subs {
			sub.end(ErrClosed)
		}
	}
	return nil
}

func (b *MemoryBroker) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			// copy, a concurrent Publish may still hold the old slice
			next := make([]*memorySub, 0, len(subs)-1)
			next = append(append(next, subs[:i]...), subs[i+1:]...)
			if len(next) == 0 {
				delete(b.topics, sub.topic)
			} else {
				b.topics[sub.topic] = next
			}
			return
		}
	}
}

func (s *memorySub) deliver(msg Message) {
	if !s.done.Load() {
		s.fn(msg)
	}
}

func (s *memorySub) Unsubscribe() {
	s.b.remove(s)
	s.end(nil)
}

func (s *memorySub) Err() <-chan error { return s.err }

func (s *memorySub) end(err error) {
	s.once.Do(func() {
		s.done.Store(true)
		if err != nil {
			s.err <- err
		}
		close(s.err)
	})
}
