package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// rawPeer speaks the wire protocol directly to a server.
type rawPeer struct {
	t     *testing.T
	conn  net.Conn
	codec *streamCodec
	in    chan *wire.Envelope
}

func newRawPeer(t *testing.T, srv *Server) *rawPeer {
	t.Helper()
	p1, p2 := net.Pipe()
	go srv.ServeCodec(newStreamCodec(p1, "inproc", srv.cfg.MaxMessageSize, srv.cfg.WriteTimeout))

	p := &rawPeer{
		t:     t,
		conn:  p2,
		codec: newStreamCodec(p2, "test", 1<<20, time.Second),
		in:    make(chan *wire.Envelope, 100),
	}
	go func() {
		defer close(p.in)
		for {
			env, err := p.codec.Read()
			if err != nil {
				var derr *wire.DecodeError
				if errors.As(err, &derr) {
					continue
				}
				return
			}
			p.in <- env
		}
	}()
	t.Cleanup(p.codec.Close)
	return p
}

func (p *rawPeer) handshake() string {
	p.send(wire.NewConnectionInit())
	ack := p.expect(wire.KindConnectionAck)
	require.NotEmpty(p.t, ack.ID)
	return ack.ID
}

func (p *rawPeer) send(env *wire.Envelope) {
	p.t.Helper()
	require.NoError(p.t, p.codec.Write(context.Background(), env))
}

func (p *rawPeer) sendRaw(frame string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(frame + "\n"))
	require.NoError(p.t, err)
}

func (p *rawPeer) request(kind wire.Kind, id, contractName, op string, args ...any) {
	p.t.Helper()
	req, err := newRequest(contractName, op, args)
	require.NoError(p.t, err)
	env, err := wire.NewRequest(kind, id, req)
	require.NoError(p.t, err)
	p.send(env)
}

func (p *rawPeer) next() *wire.Envelope {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		if !ok {
			p.t.Fatal("connection closed")
		}
		return env
	case <-time.After(2 * time.Second):
		p.t.Fatal("timed out waiting for message")
	}
	return nil
}

func (p *rawPeer) expect(kind wire.Kind) *wire.Envelope {
	p.t.Helper()
	env := p.next()
	require.Equal(p.t, kind, env.Type, "unexpected message %v", env)
	return env
}

// quiet asserts that nothing arrives within d.
func (p *rawPeer) quiet(d time.Duration) {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		if ok {
			p.t.Fatalf("unexpected message %v", env)
		}
	case <-time.After(d):
	}
}

func (p *rawPeer) waitClosed() {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.in:
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("connection not closed")
		}
	}
}

func TestServerHandshake(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	id := p.handshake()

	p.send(wire.NewPing("p-1"))
	pong := p.expect(wire.KindPong)
	assert.Equal(t, "p-1", pong.ID)

	// a repeated init is ignored
	p.send(wire.NewConnectionInit())
	p.send(wire.NewPing("p-2"))
	assert.Equal(t, "p-2", p.expect(wire.KindPong).ID)
	assert.NotEmpty(t, id)
}

func TestServerRejectsMessageBeforeInit(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)

	p.request(wire.KindInvoke, "r1", "calc", "Add(int,int)", 1, 2)
	p.waitClosed()
}

func TestServerHandshakeTimeout(t *testing.T) {
	srv, _ := newTestServer(t, WithConfig(Config{HandshakeTimeout: 50 * time.Millisecond}))
	p := newRawPeer(t, srv)
	p.waitClosed()
}

func TestServerInvoke(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindInvoke, "r1", "calc", "Add(int,int)", 2, 3)
	resp := p.expect(wire.KindResponse)
	assert.Equal(t, "r1", resp.ID)
	assert.JSONEq(t, "5", string(resp.Result))
	assert.True(t, resp.Response().Success)

	// the short signature and a search across contracts resolve the same operation
	d := &contract.Descriptor{Name: "Add", Params: contract.Params(contract.Tag[int](), contract.Tag[int]())}
	p.request(wire.KindInvoke, "r2", "calc", d.ShortSignature(), 4, 5)
	assert.JSONEq(t, "9", string(p.expect(wire.KindResponse).Result))
	p.request(wire.KindInvoke, "r3", "", "Add(int,int)", 1, 1)
	assert.JSONEq(t, "2", string(p.expect(wire.KindResponse).Result))
}

func TestServerInvokeFailures(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	tests := []struct {
		op   string
		args []any
		want string
	}{
		{"Missing()", nil, "operation calc.Missing() not found"},
		{"Add(int,int)", []any{1}, "expected 2 arguments, got 1"},
		{"Add(int,int)", []any{"x", 1}, "invalid argument 0"},
		{"Fail(string)", []any{"secret detail"}, genericFailure},
		{"Panic()", nil, genericFailure},
	}
	for i, tt := range tests {
		id := string(rune('a' + i))
		p.request(wire.KindInvoke, id, "calc", tt.op, tt.args...)
		resp := p.expect(wire.KindResponse)
		require.Equal(t, id, resp.ID)
		r := resp.Response()
		assert.False(t, r.Success, tt.op)
		assert.Contains(t, r.Error, tt.want, tt.op)
	}
	// the connection survives failed operations
	p.send(wire.NewPing("alive"))
	p.expect(wire.KindPong)
}

func TestServerKindMismatch(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindStreamInit, "s1", "calc", "Add(int,int)", 1, 2)
	env := p.expect(wire.KindError)
	assert.Equal(t, "s1", env.ID)
	assert.Equal(t, errcodeInvalidParams, env.ErrorCode())

	p.request(wire.KindInvoke, "r1", "feed", "Count(int)", 1)
	assert.False(t, p.expect(wire.KindResponse).Response().Success)
}

func TestServerMalformedMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.sendRaw(`{"type":"operation_invoke","id":"bad-1","payload":{`)
	env := p.expect(wire.KindError)
	assert.Equal(t, "bad-1", env.ID)
	assert.Equal(t, errcodeParse, env.ErrorCode())

	// without a recoverable id the message is dropped
	p.sendRaw(`not json`)
	// unknown kinds are ignored
	p.sendRaw(`{"type":"telepathy","id":"t1"}`)

	p.send(wire.NewPing("alive"))
	assert.Equal(t, "alive", p.expect(wire.KindPong).ID)
}

func TestServerDuplicateCorrelationID(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindInvoke, "dup", "calc", sleepSig, 200*time.Millisecond)
	p.request(wire.KindInvoke, "dup", "calc", "Add(int,int)", 1, 2)

	first := p.expect(wire.KindResponse)
	assert.Equal(t, "dup", first.ID)
	assert.Contains(t, first.Response().Error, errDuplicateID.Error())
	second := p.expect(wire.KindResponse)
	assert.JSONEq(t, `"done"`, string(second.Result))
}

func TestServerCancelInvocation(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindInvoke, "slow", "calc", sleepSig, time.Minute)
	time.Sleep(20 * time.Millisecond)
	p.send(wire.NewControl(wire.KindCancel, "slow"))

	resp := p.expect(wire.KindResponse)
	assert.False(t, resp.Response().Success)
}

func TestServerStream(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindStreamInit, "s1", "feed", "Count(int)", 3)
	for i := 0; i < 3; i++ {
		env := p.expect(wire.KindStreamData)
		assert.Equal(t, "s1", env.ID)
		var v int
		require.NoError(t, json.Unmarshal(env.Data, &v))
		assert.Equal(t, i, v)
	}
	assert.Equal(t, "s1", p.expect(wire.KindStreamComplete).ID)

	p.request(wire.KindStreamInit, "s2", "feed", "Broken(int)", 1)
	p.expect(wire.KindStreamData)
	env := p.expect(wire.KindError)
	assert.Equal(t, "s2", env.ID)
	assert.Equal(t, "producer broke", env.Error)
	assert.Equal(t, errcodeInternal, env.ErrorCode())
}

func TestServerSubscriptionCancel(t *testing.T) {
	srv, svc := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindSubscriptionInit, "sub", "feed", tickerSig, 5*time.Millisecond)
	p.expect(wire.KindSubscriptionData)
	p.send(wire.NewControl(wire.KindSubscriptionCancel, "sub"))

	// items emitted before the cancellation was observed may still arrive
	for {
		env := p.next()
		if env.Type == wire.KindSubscriptionComplete {
			assert.Equal(t, "sub", env.ID)
			break
		}
		require.Equal(t, wire.KindSubscriptionData, env.Type)
	}
	p.quiet(50 * time.Millisecond)

	select {
	case err := <-svc.cancelled:
		assert.ErrorIs(t, err, ErrFlowCancelled)
	case <-time.After(time.Second):
		t.Fatal("producer not cancelled")
	}
}

func TestServerMaxFlows(t *testing.T) {
	srv, _ := newTestServer(t, WithConfig(Config{MaxFlows: 1}))
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindSubscriptionInit, "sub1", "feed", tickerSig, time.Hour)
	p.request(wire.KindSubscriptionInit, "sub2", "feed", tickerSig, time.Hour)
	env := p.expect(wire.KindError)
	assert.Equal(t, "sub2", env.ID)
	assert.Equal(t, ErrTooManyFlows.Error(), env.Error)

	// invocations do not count against the limit
	p.request(wire.KindInvoke, "r1", "calc", "Add(int,int)", 1, 2)
	p.expect(wire.KindResponse)
}

func TestServerAckedStreamRetransmits(t *testing.T) {
	srv, _ := newTestServer(t, WithConfig(Config{AckRetries: 3, AckTimeout: 300 * time.Millisecond}))
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindStreamInit, "s1", "feed", "CountAcked(int)", 1)
	first := p.expect(wire.KindStreamDataWithAck)
	require.NotEmpty(t, first.AckID)
	second := p.expect(wire.KindStreamDataWithAck)
	assert.Equal(t, first.AckID, second.AckID)

	p.send(wire.NewAck(wire.KindAck, first.AckID))
	for {
		env := p.next()
		if env.Type == wire.KindStreamComplete {
			assert.Equal(t, "s1", env.ID)
			return
		}
		// a retry may cross the acknowledgement
		require.Equal(t, first.AckID, env.AckID)
	}
}

func TestServerAckedStreamExhausted(t *testing.T) {
	srv, _ := newTestServer(t, WithConfig(Config{AckRetries: 1, AckTimeout: 100 * time.Millisecond}))
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindStreamInit, "s1", "feed", "CountAcked(int)", 1)
	for {
		env := p.next()
		if env.Type == wire.KindError {
			assert.Equal(t, "s1", env.ID)
			assert.Equal(t, errcodeTimeout, env.ErrorCode())
			return
		}
		require.Equal(t, wire.KindStreamDataWithAck, env.Type)
	}
}

func TestServerIngestRaw(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	req, err := newRequest("ingest", "Sum()", nil)
	require.NoError(t, err)
	req.Flows = []string{"f1", "f2"}
	env, err := wire.NewRequest(wire.KindIngestInit, "ing", req)
	require.NoError(t, err)
	p.send(env)
	assert.Equal(t, "ing", p.expect(wire.KindIngestInitAck).ID)

	p.send(wire.NewData(wire.KindIngestData, "f1", json.RawMessage("1")))
	p.send(wire.NewDataWithAck(wire.KindIngestDataWithAck, "f2", "a1", json.RawMessage("10")))
	assert.Equal(t, "a1", p.expect(wire.KindIngestDataAck).ID)
	// a redelivery is acknowledged again but not counted
	p.send(wire.NewDataWithAck(wire.KindIngestDataWithAck, "f2", "a1", json.RawMessage("10")))
	assert.Equal(t, "a1", p.expect(wire.KindIngestDataAck).ID)
	p.send(wire.NewControl(wire.KindIngestComplete, "f1"))
	p.send(wire.NewControl(wire.KindIngestComplete, "f2"))

	resp := p.expect(wire.KindResponse)
	assert.Equal(t, "ing", resp.ID)
	assert.JSONEq(t, "11", string(resp.Result))
}

func TestServerIngestDuplicateFlows(t *testing.T) {
	srv, _ := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	req, err := newRequest("ingest", "Sum()", nil)
	require.NoError(t, err)
	req.Flows = []string{"f1", "f1"}
	env, err := wire.NewRequest(wire.KindIngestInit, "ing", req)
	require.NoError(t, err)
	p.send(env)

	resp := p.expect(wire.KindResponse)
	assert.Equal(t, "ing", resp.ID)
	assert.False(t, resp.Response().Success)
}

func TestServerHeartbeatTimeout(t *testing.T) {
	srv, _ := newTestServer(t, WithConfig(Config{HeartbeatTimeout: 100 * time.Millisecond}))
	p := newRawPeer(t, srv)
	p.handshake()

	start := time.Now()
	p.waitClosed()
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestServerStop(t *testing.T) {
	srv, svc := newTestServer(t)
	p := newRawPeer(t, srv)
	p.handshake()

	p.request(wire.KindSubscriptionInit, "sub", "feed", tickerSig, time.Millisecond)
	p.expect(wire.KindSubscriptionData)
	srv.Stop()
	p.waitClosed()

	select {
	case err := <-svc.cancelled:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer not cancelled on stop")
	}

	// a stopped server refuses new connections
	p2 := newRawPeer(t, srv)
	p2.waitClosed()
}
