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
	"errors"
	"fmt"
	"sync"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	Connecting ConnState = iota
	Connected
	Reconnecting
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrInvalidTransition is returned for transitions the state machine forbids.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// transitions lists the allowed successors of every state. Disconnected is
// terminal. Connecting may end in Disconnected when the handshake fails.
var transitions = map[ConnState][]ConnState{
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to ConnState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine guards a ConnState and notifies waiters of changes.
type stateMachine struct {
	mu      sync.Mutex
	state   ConnState
	changed chan struct{} // closed and replaced on every transition
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: Connecting, changed: make(chan struct{})}
}

func (m *stateMachine) get() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves to the given state.
func (m *stateMachine) transition(to ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

// wait returns the current state and a channel closed on the next transition.
func (m *stateMachine) wait() (ConnState, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.changed
}
