package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
	"github.com/sunyihoo/duplexrpc/rpc/reliable"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

func TestClientInvoke(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	stub := calcStub{client}
	ctx := context.Background()

	assert.Equal(t, Connected, client.State())

	sum, err := stub.Add(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	in := echoArgs{S: "hello", I: 42}
	out, err := stub.Echo(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	err = stub.Fail(ctx, "no reason")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "calc.Fail(string)", opErr.Operation)
	assert.Equal(t, genericFailure, opErr.Message)

	var pong string
	require.NoError(t, client.Invoke(ctx, MetadataContract, "Ping()", &pong))
	assert.Equal(t, "pong", pong)

	var infos []contract.ContractInfo
	require.NoError(t, client.Invoke(ctx, MetadataContract, "Contracts()", &infos))
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Subset(t, names, []string{"calc", "feed", "ingest", MetadataContract})
}

func TestClientInvokeRecover(t *testing.T) {
	srv, _ := newTestServer(t, WithPipelines(middleware.Options{
		Global: []middleware.Middleware{middleware.Recover()},
	}))
	client := dialTestServer(t, srv)

	err := calcStub{client}.Fail(context.Background(), "disk full")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "disk full", opErr.Message)

	err = client.Invoke(context.Background(), "calc", "Panic()", nil)
	require.ErrorAs(t, err, &opErr)
	assert.NotContains(t, opErr.Message, "boom")
}

func TestClientInvokeConcurrent(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	stub := calcStub{client}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := stub.Add(context.Background(), i, i)
			assert.NoError(t, err)
			assert.Equal(t, 2*i, sum)
		}()
	}
	wg.Wait()
}

func TestClientInvokeCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Invoke(ctx, "calc", sleepSig, nil, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the connection is still usable
	sum, err := calcStub{client}.Add(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)
}

func TestClientNotify(t *testing.T) {
	reg := contract.NewRegistry()
	got := make(chan string, 1)
	reg.Contract("log").Must("Write", contract.Proc1(func(_ context.Context, line string) error {
		got <- line
		return nil
	}))
	srv := NewServer(reg)
	defer srv.Stop()
	client := dialTestServer(t, srv)

	require.NoError(t, client.Notify(context.Background(), "log", "Write(string)", "hello"))
	select {
	case line := <-got:
		assert.Equal(t, "hello", line)
	case <-time.After(time.Second):
		t.Fatal("call not executed")
	}
}

func TestClientPeerInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)

	var info PeerInfo
	require.NoError(t, client.Invoke(context.Background(), "calc", "Peer()", &info))
	assert.Equal(t, "inproc", info.Transport)
	assert.NotEmpty(t, info.ConnID)
}

func TestClientStream(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	s, err := client.Stream(ctx, "feed", "Count(int)", 5)
	require.NoError(t, err)

	var got []int
	for {
		var v int
		err := s.Recv(ctx, &v)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.NoError(t, s.Err())
	<-s.Done()
}

func TestClientStreamAcked(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	s, err := client.Stream(ctx, "feed", "CountAcked(int)", 3)
	require.NoError(t, err)

	var got []int
	for item := range s.Items(ctx) {
		var v int
		require.NoError(t, json.Unmarshal(item, &v))
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.NoError(t, s.Err())
}

func TestClientStreamError(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	s, err := client.Stream(ctx, "feed", "Broken(int)", 2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	_, err = s.Next(ctx)
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "producer broke", ferr.Message)
	assert.Equal(t, errcodeInternal, ferr.ErrorCode())
	assert.Equal(t, err, s.Err())

	// unknown operations fail the stream
	s, err = client.Stream(ctx, "feed", "Missing()")
	require.NoError(t, err)
	_, err = s.Next(ctx)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, errcodeNotFound, ferr.Code)
}

func TestClientSubscriptionCancel(t *testing.T) {
	srv, svc := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "feed", tickerSig, 2*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		var v int
		require.NoError(t, sub.Recv(ctx, &v))
		assert.Equal(t, i, v)
	}
	sub.Cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrFlowCancelled)
	assert.NoError(t, sub.Err())

	select {
	case err := <-svc.cancelled:
		assert.ErrorIs(t, err, ErrFlowCancelled)
	case <-time.After(time.Second):
		t.Fatal("producer not cancelled")
	}
}

func TestClientStreamDedup(t *testing.T) {
	cc := &clientConn{streams: make(map[string]*ClientStream)}
	s := &ClientStream{id: "s1", cc: cc, q: newItemQueue(10), dedup: reliable.NewDedup()}
	cc.streams["s1"] = s

	s.handle(wire.NewDataWithAck(wire.KindStreamDataWithAck, "s1", "a1", json.RawMessage("1")))
	s.handle(wire.NewDataWithAck(wire.KindStreamDataWithAck, "s1", "a1", json.RawMessage("1")))
	s.handle(wire.NewDataWithAck(wire.KindStreamDataWithAck, "s1", "a2", json.RawMessage("2")))
	s.handle(wire.NewControl(wire.KindStreamComplete, "s1"))

	ctx := context.Background()
	var got []string
	for {
		item, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(item))
	}
	assert.Equal(t, []string{"1", "2"}, got)
	assert.Nil(t, cc.stream("s1"))
}

func TestClientIngest(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	ing, err := client.Ingest(ctx, "ingest", "Sum()", 2)
	require.NoError(t, err)
	flows := ing.Flows()
	require.Len(t, flows, 2)

	require.NoError(t, flows[0].Send(ctx, 1))
	require.NoError(t, flows[0].SendAcked(ctx, 2))
	require.NoError(t, flows[1].Send(ctx, 3))
	require.NoError(t, flows[1].SendAcked(ctx, 4))
	require.NoError(t, flows[0].Complete(ctx))
	require.NoError(t, flows[1].Complete(ctx))
	assert.ErrorIs(t, flows[0].Send(ctx, 5), ErrFlowClosed)

	var sum int
	require.NoError(t, ing.Wait(ctx, &sum))
	assert.Equal(t, 10, sum)
}

func TestClientIngestFailFast(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	ing, err := client.Ingest(ctx, "ingest", "Sum()", 2)
	require.NoError(t, err)
	flows := ing.Flows()

	// the first flow never completes; failing the second ends the operation
	require.NoError(t, flows[0].Send(ctx, 1))
	require.NoError(t, flows[1].Fail(ctx, errors.New("bad input")))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err = ing.Wait(waitCtx, nil)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, opErr.Message, "bad input")

	<-ing.Done()
	assert.ErrorIs(t, flows[0].Send(ctx, 2), ErrFlowClosed)
}

func TestClientIngestRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)

	_, err := client.Ingest(context.Background(), "ingest", "Missing()", 1)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, opErr.Message, "not found")
}

func TestClientCloseFailsPending(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "feed", tickerSig, time.Hour)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- client.Invoke(ctx, "calc", sleepSig, nil, time.Minute) }()
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(time.Second):
		t.Fatal("invocation not failed on close")
	}
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrConnClosed)

	assert.Equal(t, Disconnected, client.State())
	assert.ErrorIs(t, client.Invoke(ctx, "calc", "Add(int,int)", nil, 1, 2), ErrClientQuit)
}

func TestClientHeartbeatTimeout(t *testing.T) {
	srv, _ := newTestServer(t)
	// pings are disabled on both sides, so nothing keeps the connection alive
	client := dialTestServer(t, srv, WithClientConfig(Config{HeartbeatTimeout: 100 * time.Millisecond}))

	require.Eventually(t, func() bool { return client.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)
	err := client.Invoke(context.Background(), "calc", "Add(int,int)", nil, 1, 2)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestClientHeartbeatKeepAlive(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv, WithClientConfig(Config{
		HeartbeatTimeout: 150 * time.Millisecond,
		PingInterval:     30 * time.Millisecond,
	}))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, Connected, client.State())
	sum, err := calcStub{client}.Add(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)
}

func TestClientReconnect(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv, WithReconnect(5, 10*time.Millisecond))

	client.mu.Lock()
	first := client.cur
	client.mu.Unlock()
	first.codec.Close()

	<-first.Done()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.cur != nil && client.cur != first && client.State() == Connected
	}, 2*time.Second, 5*time.Millisecond)

	sum, err := calcStub{client}.Add(context.Background(), 20, 22)
	require.NoError(t, err)
	assert.Equal(t, 42, sum)
}

func TestClientReconnectGivesUp(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTestServer(t, srv, WithReconnect(2, 5*time.Millisecond))

	srv.Stop()
	require.Eventually(t, func() bool { return client.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, client.Invoke(context.Background(), "calc", "Add(int,int)", nil, 1, 2), ErrDisconnected)
}

func TestClientHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client, err := Dial(ts.URL)
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	sum, err := calcStub{client}.Add(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	var info PeerInfo
	require.NoError(t, client.Invoke(ctx, "calc", "Peer()", &info))
	assert.Equal(t, "http", info.Transport)
	assert.Equal(t, "HTTP/1.1", info.HTTP.Version)

	var opErr *OperationError
	require.ErrorAs(t, client.Invoke(ctx, "calc", "Missing()", nil), &opErr)

	require.NoError(t, client.Notify(ctx, "calc", "Add(int,int)", 1, 2))

	_, err = client.Stream(ctx, "feed", "Count(int)", 1)
	assert.ErrorIs(t, err, ErrNotificationsUnsupported)
	_, err = client.Ingest(ctx, "ingest", "Sum()", 1)
	assert.ErrorIs(t, err, ErrNotificationsUnsupported)

	client.Close()
	assert.ErrorIs(t, client.Invoke(ctx, "calc", "Add(int,int)", nil, 1, 2), ErrClientQuit)
}

func TestHTTPValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL, "text/plain", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, err = http.Post(ts.URL, contentType, strings.NewReader(`{"type":"operation_invoke","id":"x","payload":`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env, err := wire.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "x", env.ID)
	assert.Equal(t, errcodeParse, env.ErrorCode())
}

func TestClientWebsocket(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
	defer ts.Close()

	wsURL := "ws:" + strings.TrimPrefix(ts.URL, "http:")
	client, err := DialOptions(context.Background(), wsURL, WithHeader("User-Agent", "duplex-test"))
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	sum, err := calcStub{client}.Add(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	var info PeerInfo
	require.NoError(t, client.Invoke(ctx, "calc", "Peer()", &info))
	assert.Equal(t, "ws", info.Transport)
	assert.Equal(t, "duplex-test", info.HTTP.UserAgent)

	s, err := client.Stream(ctx, "feed", "CountAcked(int)", 3)
	require.NoError(t, err)
	n := 0
	for range s.Items(ctx) {
		n++
	}
	assert.Equal(t, 3, n)
	assert.NoError(t, s.Err())
}

func TestWebsocketOriginCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.WebsocketHandler([]string{"http://allowed.example"}))
	defer ts.Close()

	wsURL := "ws:" + strings.TrimPrefix(ts.URL, "http:")
	_, err := DialOptions(context.Background(), wsURL, WithHeader("Origin", "http://evil.example"))
	require.Error(t, err)
	var herr wsHandshakeError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "403 Forbidden", herr.status)

	client, err := DialOptions(context.Background(), wsURL, WithHeader("Origin", "http://allowed.example"))
	require.NoError(t, err)
	client.Close()
}
