package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	var got []string
	sub, err := b.Subscribe(ctx, "prices", func(msg Message) {
		var v string
		require.NoError(t, json.Unmarshal(msg.Data, &v))
		got = append(got, v)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Listeners("prices"))

	require.NoError(t, b.Publish(ctx, "prices", "a"))
	require.NoError(t, b.Publish(ctx, "other", "x"))
	require.NoError(t, b.Publish(ctx, "prices", json.RawMessage(`"b"`)))
	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, b.Publish(ctx, "prices", "c"))

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 0, b.Listeners("prices"))
	_, open := <-sub.Err()
	assert.False(t, open)
}

// Listeners may add and remove listeners while a message is dispatched.
func TestMemoryBrokerMutationDuringDispatch(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	var (
		first, second, late atomic.Int32
		sub1                Subscription
	)
	sub1, _ = b.Subscribe(ctx, "t", func(Message) {
		first.Add(1)
		sub1.Unsubscribe()
		b.Subscribe(ctx, "t", func(Message) { late.Add(1) })
	})
	b.Subscribe(ctx, "t", func(Message) { second.Add(1) })

	require.NoError(t, b.Publish(ctx, "t", 1))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, int32(0), late.Load(), "listener added during dispatch must not see the message")

	require.NoError(t, b.Publish(ctx, "t", 2))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(2), second.Load())
	assert.Equal(t, int32(1), late.Load())
}

func TestMemoryBrokerConcurrent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := b.Subscribe(ctx, "t", func(Message) { n.Add(1) })
				if err != nil {
					t.Error(err)
					return
				}
				b.Publish(ctx, "t", j)
				sub.Unsubscribe()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Listeners("t"))
	assert.Positive(t, n.Load())
}

func TestMemoryBrokerClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	sub, err := b.Subscribe(ctx, "t", func(Message) {})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, <-sub.Err(), ErrClosed)
	assert.ErrorIs(t, b.Publish(ctx, "t", 1), ErrClosed)
	_, err = b.Subscribe(ctx, "t", func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestContext(t *testing.T) {
	b := NewMemoryBroker()
	ctx := NewContext(context.Background(), b)
	assert.Same(t, b, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

// TestRedisBroker needs a reachable server, e.g. REDIS_ADDR=localhost:6379.
func TestRedisBroker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("test-%d:", time.Now().UnixNano())
	b, err := DialRedis(ctx, RedisConfig{Addr: addr, DB: 15, Prefix: prefix})
	require.NoError(t, err)
	defer b.Close()

	got := make(chan string, 4)
	sub, err := b.Subscribe(ctx, "ticks", func(msg Message) {
		var v string
		json.Unmarshal(msg.Data, &v)
		got <- v
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ticks", "one"))
	select {
	case v := <-got:
		assert.Equal(t, "one", v)
	case <-time.After(5 * time.Second):
		t.Fatal("message not relayed")
	}
	sub.Unsubscribe()
	_, open := <-sub.Err()
	assert.False(t, open)
}
