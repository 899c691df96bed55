package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	allowed := map[[2]ConnState]bool{
		{Connecting, Connected}:      true,
		{Connecting, Disconnected}:   true,
		{Connected, Reconnecting}:    true,
		{Connected, Disconnected}:    true,
		{Reconnecting, Connected}:    true,
		{Reconnecting, Disconnected}: true,
	}
	states := []ConnState{Connecting, Connected, Reconnecting, Disconnected}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]ConnState{from, to}], CanTransition(from, to), "%v -> %v", from, to)
		}
	}
}

func TestStateMachine(t *testing.T) {
	m := newStateMachine()
	assert.Equal(t, Connecting, m.get())

	state, changed := m.wait()
	assert.Equal(t, Connecting, state)
	require.NoError(t, m.transition(Connected))
	select {
	case <-changed:
	default:
		t.Fatal("waiters not notified")
	}

	err := m.transition(Connecting)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Connected, m.get())

	require.NoError(t, m.transition(Disconnected))
	assert.ErrorIs(t, m.transition(Connected), ErrInvalidTransition)
	assert.Equal(t, "disconnected", m.get().String())
}
