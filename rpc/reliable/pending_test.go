package reliable

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

func testMessage(ackID string) *wire.Envelope {
	return wire.NewDataWithAck(wire.KindStreamDataWithAck, "st1", ackID, json.RawMessage(`1`))
}

// TestNextHandsOutMaxRetriesPlusOne checks the attempt budget for a range of
// retry counts.
func TestNextHandsOutMaxRetriesPlusOne(t *testing.T) {
	for n := 0; n <= 8; n++ {
		p := New(testMessage("a"), n, time.Hour)
		count := 0
		for {
			msg, ok := p.Next()
			if !ok {
				break
			}
			require.Same(t, p.Message(), msg)
			count++
		}
		assert.Equal(t, n+1, count, "maxRetries=%d", n)
		assert.Equal(t, n+1, p.Attempts())
		assert.Equal(t, 0, p.Remaining())
	}
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, New(testMessage("a"), 4, time.Second).Interval())
	assert.Equal(t, time.Duration(0), New(testMessage("a"), 0, time.Second).Interval())
}

func TestNextStopsAfterTerminal(t *testing.T) {
	p := New(testMessage("a"), 5, time.Hour)
	_, ok := p.Next()
	require.True(t, ok)
	require.True(t, p.Ack())

	_, ok = p.Next()
	assert.False(t, ok)
	assert.Equal(t, 1, p.Attempts())
}

func TestDeliverWithoutAckExhausts(t *testing.T) {
	const retries = 3
	p := New(testMessage("a"), retries, 60*time.Millisecond)

	var sent atomic.Int32
	acked, err := Deliver(context.Background(), p, func(*wire.Envelope) error {
		sent.Add(1)
		return nil
	})
	assert.False(t, acked)
	assert.Equal(t, int32(retries+1), sent.Load())
	assert.Equal(t, Exhausted, p.Outcome())

	var terr *AckTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Exhausted)
	assert.Equal(t, retries+1, terr.Attempts)
	assert.Equal(t, "a", terr.AckID)
}

func TestDeliverAckedOnSecondAttempt(t *testing.T) {
	table := NewTable()
	p := New(testMessage("a2"), 5, time.Second)
	require.NoError(t, table.Add(p))

	var sent atomic.Int32
	acked, err := Deliver(context.Background(), p, func(*wire.Envelope) error {
		if sent.Add(1) == 2 {
			go table.Ack("a2")
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, acked)
	assert.Equal(t, int32(2), sent.Load())
	assert.Equal(t, 0, table.Len())
}

func TestDeliverSendError(t *testing.T) {
	p := New(testMessage("a"), 3, time.Second)
	boom := errors.New("write failed")
	acked, err := Deliver(context.Background(), p, func(*wire.Envelope) error { return boom })
	assert.False(t, acked)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, p.Outcome())
}

func TestDeliverContextCancel(t *testing.T) {
	p := New(testMessage("a"), 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	acked, err := Deliver(ctx, p, func(*wire.Envelope) error {
		cancel()
		return nil
	})
	assert.False(t, acked)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitTimeoutBeforeExhaustion(t *testing.T) {
	p := New(testMessage("a"), 3, 20*time.Millisecond)
	_, ok := p.Next()
	require.True(t, ok)

	acked, err := p.Wait(context.Background())
	assert.False(t, acked)
	assert.Equal(t, Failed, p.Outcome())
	var terr *AckTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.False(t, terr.Exhausted)
	assert.Equal(t, 1, terr.Attempts)
}

func TestLateAckIsNoop(t *testing.T) {
	table := NewTable()
	p := New(testMessage("late"), 0, 10*time.Millisecond)
	require.NoError(t, table.Add(p))
	p.Next()

	acked, _ := p.Wait(context.Background())
	require.False(t, acked)
	require.Equal(t, Exhausted, p.Outcome())

	assert.False(t, p.Ack())
	assert.False(t, p.Fail(nil))
	assert.Equal(t, Exhausted, p.Outcome())

	// the table entry is still present until removed, but acking it no longer
	// changes the outcome
	assert.False(t, table.Ack("late"))
}

// TestSingleTerminalTransition races ack, fail and expiry and checks exactly one
// of them wins in every round.
func TestSingleTerminalTransition(t *testing.T) {
	for i := 0; i < 500; i++ {
		p := New(testMessage("r"), 2, time.Hour)
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		racers := []func() bool{
			p.Ack,
			func() bool { return p.Fail(nil) },
			p.expire,
			p.Ack,
		}
		for _, fn := range racers {
			wg.Add(1)
			go func(fn func() bool) {
				defer wg.Done()
				<-start
				if fn() {
					wins.Add(1)
				}
			}(fn)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "round %d", i)
		assert.NotEqual(t, Waiting, p.Outcome())
		select {
		case <-p.Done():
		default:
			t.Fatal("done not closed")
		}
	}
}

func TestTableFailAll(t *testing.T) {
	table := NewTable()
	a := New(testMessage("a"), 1, time.Hour)
	b := New(testMessage("b"), 1, time.Hour)
	require.NoError(t, table.Add(a))
	require.NoError(t, table.Add(b))
	assert.Error(t, table.Add(New(testMessage("a"), 1, time.Hour)))

	closed := errors.New("connection closed")
	table.FailAll(closed)

	for _, p := range []*Pending{a, b} {
		acked, err := p.Wait(context.Background())
		assert.False(t, acked)
		assert.ErrorIs(t, err, closed)
	}
	late := New(testMessage("c"), 1, time.Hour)
	assert.ErrorIs(t, table.Add(late), closed)
	assert.Equal(t, Failed, late.Outcome())
}

func TestDedup(t *testing.T) {
	d := NewDedup()
	assert.True(t, d.First("a1"))
	assert.False(t, d.First("a1"))
	assert.True(t, d.First("a2"))
}
