package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

func TestContractPublishListen(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	reg := contract.NewRegistry()
	require.NoError(t, pubsub.Register(reg))
	// registering the same functions again is a no-op
	require.NoError(t, pubsub.Register(reg))

	srv := rpc.NewServer(reg, rpc.WithBroker(broker))
	defer srv.Stop()

	listener, err := rpc.DialInProc(srv)
	require.NoError(t, err)
	defer listener.Close()
	publisher, err := rpc.DialInProc(srv)
	require.NoError(t, err)
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := listener.Subscribe(ctx, pubsub.Contract, "Listen(string)", "news")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broker.Listeners("news") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, publisher.Invoke(ctx, pubsub.Contract, "Publish(string,any)", nil, "news", map[string]int{"n": 1}))
	require.NoError(t, publisher.Invoke(ctx, pubsub.Contract, "Publish(string,any)", nil, "sports", "ignored"))
	require.NoError(t, publisher.Invoke(ctx, pubsub.Contract, "Publish(string,any)", nil, "news", "second"))

	var first map[string]int
	require.NoError(t, sub.Recv(ctx, &first))
	assert.Equal(t, map[string]int{"n": 1}, first)
	var second string
	require.NoError(t, sub.Recv(ctx, &second))
	assert.Equal(t, "second", second)

	sub.Cancel()
	require.Eventually(t, func() bool { return broker.Listeners("news") == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, sub.Err())
}
