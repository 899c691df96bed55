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

package reliable

import (
	"context"
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

var errDuplicateAckID = errors.New("duplicate ack id")

// Table indexes the pending deliveries of one connection by ack id. It is
// written by senders registering deliveries and by the receive loop resolving
// them.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Pending
	closed  error
}

func NewTable() *Table {
	return &Table{pending: make(map[string]*Pending)}
}

// Add registers p. Adding to a failed table fails p right away.
func (t *Table) Add(p *Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		p.Fail(t.closed)
		return t.closed
	}
	if _, ok := t.pending[p.AckID()]; ok {
		return errDuplicateAckID
	}
	t.pending[p.AckID()] = p
	return nil
}

// Remove drops the entry for ackID.
func (t *Table) Remove(ackID string) {
	t.mu.Lock()
	delete(t.pending, ackID)
	t.mu.Unlock()
}

// Ack resolves the delivery with the given id. Unknown ids, e.g. acks for
// deliveries that already timed out, are ignored.
func (t *Table) Ack(ackID string) bool {
	t.mu.Lock()
	p := t.pending[ackID]
	delete(t.pending, ackID)
	t.mu.Unlock()

	if p == nil {
		return false
	}
	return p.Ack()
}

// FailAll fails every pending delivery and every later Add with cause.
func (t *Table) FailAll(cause error) {
	t.mu.Lock()
	t.closed = cause
	all := t.pending
	t.pending = make(map[string]*Pending)
	t.mu.Unlock()

	for _, p := range all {
		p.Fail(cause)
	}
}

// Len returns the number of deliveries in flight.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Deliver transmits p through send until it is acknowledged or every attempt
// was made, then waits for the outcome. The first attempt is sent right away,
// later ones one Interval apart. p must already be registered with the table
// that will resolve it.
func Deliver(ctx context.Context, p *Pending, send func(*wire.Envelope) error) (bool, error) {
	for {
		msg, ok := p.Next()
		if !ok {
			break
		}
		if err := send(msg); err != nil {
			p.Fail(err)
			break
		}
		if p.Remaining() == 0 {
			break
		}
		timer := time.NewTimer(p.Interval())
		select {
		case <-p.Done():
			timer.Stop()
			return p.result()
		case <-ctx.Done():
			timer.Stop()
			p.Fail(ctx.Err())
			return p.result()
		case <-timer.C:
		}
	}
	return p.Wait(ctx)
}

// Dedup remembers the ack ids a receiver has processed so redelivered
// messages can be dropped. It is safe for concurrent use.
type Dedup struct {
	seen mapset.Set[string]
}

func NewDedup() *Dedup {
	return &Dedup{seen: mapset.NewSet[string]()}
}

// First reports whether ackID is seen for the first time.
func (d *Dedup) First(ackID string) bool {
	return d.seen.Add(ackID)
}
