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

// Package reliable gives outbound envelopes at-least-once delivery with a
// bounded number of retries.
//
// A Pending wraps one message. The sender asks it for the next attempt until
// it runs out of attempts or reaches a terminal state; the receive path
// resolves it when the matching acknowledgement arrives. Terminal states are
// mutually exclusive and set by a single compare-and-swap, so a late ack after
// a timeout (or a second failure) changes nothing.
//
// Receivers must tolerate redelivery; Dedup helps them drop repeated ack ids.
package reliable

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// Outcome is the state of a pending delivery.
type Outcome int32

const (
	Waiting Outcome = iota
	Acked
	Failed
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Acked:
		return "acked"
	case Failed:
		return "failed"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("outcome(%d)", int32(o))
}

// ErrFailed is the cause reported when a delivery is failed without a more
// specific reason.
var ErrFailed = errors.New("delivery failed")

// AckTimeoutError is returned to the waiter when no acknowledgement arrived
// within the timeout budget.
type AckTimeoutError struct {
	AckID     string
	Attempts  int
	Timeout   time.Duration
	Exhausted bool // every attempt was handed out
}

func (e *AckTimeoutError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("ack %s not received after %d attempts in %v", e.AckID, e.Attempts, e.Timeout)
	}
	return fmt.Sprintf("ack %s timed out after %v (%d attempts)", e.AckID, e.Timeout, e.Attempts)
}

// Pending is a message awaiting acknowledgement.
// Pending 表示一条等待确认的消息，最多发送 maxRetries+1 次。
type Pending struct {
	msg        *wire.Envelope
	maxRetries int
	timeout    time.Duration
	deadline   time.Time

	remaining atomic.Int32 // attempts not yet handed out
	state     atomic.Int32 // Outcome
	cause     error        // written once before done is closed
	done      chan struct{}
}

// New wraps msg. msg.AckID identifies the delivery; retries reuse the same
// envelope so a late ack for an early attempt resolves the latest one.
func New(msg *wire.Envelope, maxRetries int, totalTimeout time.Duration) *Pending {
	if maxRetries < 0 {
		maxRetries = 0
	}
	p := &Pending{
		msg:        msg,
		maxRetries: maxRetries,
		timeout:    totalTimeout,
		deadline:   time.Now().Add(totalTimeout),
		done:       make(chan struct{}),
	}
	p.remaining.Store(int32(maxRetries + 1))
	return p
}

// AckID returns the identifier the receiver acknowledges.
func (p *Pending) AckID() string { return p.msg.AckID }

// Message returns the wrapped envelope.
func (p *Pending) Message() *wire.Envelope { return p.msg }

// Interval is the pause between two attempts. The first attempt is immediate.
func (p *Pending) Interval() time.Duration {
	if p.maxRetries == 0 {
		return 0
	}
	return p.timeout / time.Duration(p.maxRetries)
}

// Next returns the message for the next transmission attempt. It returns false
// once every attempt was handed out or a terminal state was reached.
func (p *Pending) Next() (*wire.Envelope, bool) {
	for {
		if Outcome(p.state.Load()) != Waiting {
			return nil, false
		}
		r := p.remaining.Load()
		if r <= 0 {
			return nil, false
		}
		if p.remaining.CompareAndSwap(r, r-1) {
			return p.msg, true
		}
	}
}

// Attempts returns how many times the message was handed out.
func (p *Pending) Attempts() int {
	return p.maxRetries + 1 - int(p.remaining.Load())
}

// Remaining returns the number of attempts left.
func (p *Pending) Remaining() int { return int(p.remaining.Load()) }

// Ack marks the message acknowledged. It reports whether this call made the
// terminal transition.
func (p *Pending) Ack() bool { return p.finish(Acked, nil) }

// Fail marks the message failed with the given cause.
func (p *Pending) Fail(cause error) bool {
	if cause == nil {
		cause = ErrFailed
	}
	return p.finish(Failed, cause)
}

// Outcome returns the current state.
func (p *Pending) Outcome() Outcome { return Outcome(p.state.Load()) }

// Done is closed once a terminal state is reached.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (p *Pending) finish(o Outcome, cause error) bool {
	if !p.state.CompareAndSwap(int32(Waiting), int32(o)) {
		return false
	}
	p.cause = cause
	close(p.done)
	return true
}

// expire resolves the delivery at the deadline.
func (p *Pending) expire() bool {
	exhausted := p.remaining.Load() <= 0
	err := &AckTimeoutError{
		AckID:     p.AckID(),
		Attempts:  p.Attempts(),
		Timeout:   p.timeout,
		Exhausted: exhausted,
	}
	if exhausted {
		return p.finish(Exhausted, err)
	}
	return p.finish(Failed, err)
}

// Wait blocks until the message is acknowledged, failed, or the timeout budget
// is spent. Cancelling ctx fails the delivery.
func (p *Pending) Wait(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		return p.result()
	default:
	}
	wait := time.Until(p.deadline)
	if wait <= 0 {
		p.expire()
		return p.result()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.expire()
	case <-ctx.Done():
		p.Fail(ctx.Err())
	}
	return p.result()
}

func (p *Pending) result() (bool, error) {
	<-p.done
	if p.Outcome() == Acked {
		return true, nil
	}
	return false, p.cause
}
