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
	"container/list"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// itemQueue buffers the inbound items of one flow for a single consumer. It
// holds at most limit unread items; pushing beyond that ends the queue with
// ErrFlowOverflow.
type itemQueue struct {
	limit int

	mu     sync.Mutex
	items  *list.List
	ended  bool
	err    error         // io.EOF after regular completion
	notify chan struct{} // wakes the consumer
	done   chan struct{} // closed when the queue ends
}

func newItemQueue(limit int) *itemQueue {
	return &itemQueue{
		limit:  limit,
		items:  list.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends an item.
func (q *itemQueue) push(item json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ended {
		return ErrFlowClosed
	}
	if q.limit > 0 && q.items.Len() >= q.limit {
		q.endLocked(ErrFlowOverflow, false)
		return ErrFlowOverflow
	}
	q.items.PushBack(item)
	q.wake()
	return nil
}

// end finishes the queue. Buffered items remain readable unless discard is set.
// It reports whether this call ended the queue.
func (q *itemQueue) end(err error, discard bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.endLocked(err, discard)
}

func (q *itemQueue) endLocked(err error, discard bool) bool {
	if q.ended {
		return false
	}
	if err == nil {
		err = io.EOF
	}
	q.ended, q.err = true, err
	if discard {
		q.items.Init()
	}
	close(q.done)
	q.wake()
	return true
}

func (q *itemQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Err returns the terminal error, nil while the queue is open.
func (q *itemQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// next returns the next buffered item, waiting for one if necessary. Once the
// queue ended and is drained it returns the terminal error.
func (q *itemQueue) next(ctx context.Context) (json.RawMessage, error) {
	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			q.mu.Unlock()
			return front.Value.(json.RawMessage), nil
		}
		if q.ended {
			err := q.err
			q.mu.Unlock()
			return nil, err
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
