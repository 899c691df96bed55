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

// Package heartbeat implements connection liveness tracking.
//
// A Monitor is told about every liveness signal through NotifyHeartbeat. A
// background loop checks the time since the last signal every timeout/5 and
// fires the close callback once that exceeds the timeout. The callback fires
// exactly once per Monitor, whichever of timeout, Close or cancellation of the
// start context happens first.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is passed to the callback when no liveness signal arrived in time.
	ErrTimeout = errors.New("heartbeat timeout")

	// ErrClosed is passed to the callback when the monitor is closed explicitly.
	ErrClosed = errors.New("heartbeat monitor closed")
)

// checksPerTimeout is how many liveness checks run within one timeout period.
const checksPerTimeout = 5

// minInterval bounds the check period for timeouts too small to divide.
const minInterval = time.Microsecond

// Monitor tracks the last liveness signal of a connection.
// Monitor 记录连接最后一次存活信号的时间，并在超时后触发一次性回调。
type Monitor struct {
	timeout time.Duration
	onClose func(reason error)

	last    atomic.Int64 // unix nanos of the last signal
	fired   atomic.Bool  // set by the one path allowed to run onClose
	closing atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// New creates a monitor. A zero timeout disables timeout detection; the
// callback then only fires on Close or context cancellation.
func New(timeout time.Duration, onClose func(reason error)) *Monitor {
	m := &Monitor{
		timeout: timeout,
		onClose: onClose,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	m.last.Store(m.now().UnixNano())
	return m
}

// Timeout returns the configured timeout.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// Interval returns the period of the liveness check, never below minInterval
// for a positive timeout.
func (m *Monitor) Interval() time.Duration {
	if m.timeout <= 0 {
		return 0
	}
	return max(m.timeout/checksPerTimeout, minInterval)
}

// Start launches the liveness loop. It must be called at most once; later
// calls are ignored. Cancelling ctx fires the callback with the cancellation cause.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.fired.Load() {
		return
	}
	m.started = true
	m.last.Store(m.now().UnixNano())

	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// NotifyHeartbeat records a liveness signal.
func (m *Monitor) NotifyHeartbeat() {
	m.last.Store(m.now().UnixNano())
}

// LastHeartbeat returns the time of the most recent liveness signal.
func (m *Monitor) LastHeartbeat() time.Time {
	return time.Unix(0, m.last.Load())
}

// Fired reports whether the callback has been invoked.
func (m *Monitor) Fired() bool { return m.fired.Load() }

// Close stops the liveness loop and waits for it to exit. If the callback has
// not fired yet it is invoked with reason (ErrClosed if nil) before Close returns.
// Close must not be called from within the callback.
func (m *Monitor) Close(reason error) {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.started = true // a later Start is a no-op
	m.mu.Unlock()

	m.closing.Store(true)
	if cancel != nil {
		cancel()
	}
	if started && cancel != nil {
		<-m.done
	}
	if reason == nil {
		reason = ErrClosed
	}
	m.fire(reason)
}

// fire runs the callback unless another path already did.
func (m *Monitor) fire(reason error) {
	if !m.fired.CompareAndSwap(false, true) {
		return
	}
	if m.onClose != nil {
		m.onClose(reason)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	if m.timeout <= 0 {
		<-ctx.Done()
		m.fireOnCancel(ctx)
		return
	}
	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			elapsed := m.now().Sub(m.LastHeartbeat())
			if elapsed > m.timeout {
				m.fire(ErrTimeout)
				return
			}
		case <-ctx.Done():
			m.fireOnCancel(ctx)
			return
		}
	}
}

// fireOnCancel fires for cancellation of the parent context. Cancellation by
// Close is left to Close, which knows the reason.
func (m *Monitor) fireOnCancel(ctx context.Context) {
	if m.closing.Load() {
		return
	}
	m.fire(context.Cause(ctx))
}
