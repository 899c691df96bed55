package rpc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
)

// testService backs the operations of the test contracts. The channels let
// tests observe producer side effects.
type testService struct {
	cancelled chan error    // cause seen by Ticker when its context ends
	started   chan struct{} // Ticker produced its first item
}

func (s *testService) stopped(err error) {
	select {
	case s.cancelled <- err:
	default:
	}
}

func newTestService() *testService {
	return &testService{
		cancelled: make(chan error, 1),
		started:   make(chan struct{}, 1),
	}
}

type echoArgs struct {
	S string
	I int
}

func (s *testService) register(reg *contract.Registry) {
	reg.Contract("calc").
		Must("Add", contract.Func2(func(_ context.Context, a, b int) (int, error) {
			return a + b, nil
		})).
		Must("Echo", contract.Func1(func(_ context.Context, args echoArgs) (echoArgs, error) {
			return args, nil
		})).
		Must("Fail", contract.Func1(func(_ context.Context, msg string) (int, error) {
			return 0, errors.New(msg)
		})).
		Must("Panic", contract.Func0(func(context.Context) (int, error) {
			panic("boom")
		})).
		Must("Sleep", contract.Func1(func(ctx context.Context, d time.Duration) (string, error) {
			select {
			case <-time.After(d):
				return "done", nil
			case <-ctx.Done():
				return "", context.Cause(ctx)
			}
		})).
		Must("Peer", contract.Func0(func(ctx context.Context) (PeerInfo, error) {
			return PeerInfoFromContext(ctx), nil
		}))

	reg.Contract("feed").
		Must("Count", contract.Stream1(func(ctx context.Context, n int, out contract.Sink[int]) error {
			for i := 0; i < n; i++ {
				if err := out.Emit(ctx, i); err != nil {
					return err
				}
			}
			return nil
		})).
		Must("CountAcked", contract.Stream1(func(ctx context.Context, n int, out contract.Sink[int]) error {
			for i := 0; i < n; i++ {
				if err := out.EmitAcked(ctx, i); err != nil {
					return err
				}
			}
			return nil
		})).
		Must("Broken", contract.Stream1(func(ctx context.Context, after int, out contract.Sink[int]) error {
			for i := 0; i < after; i++ {
				if err := out.Emit(ctx, i); err != nil {
					return err
				}
			}
			return &middleware.Fault{Message: "producer broke"}
		})).
		Must("Ticker", contract.Subscription1(func(ctx context.Context, interval time.Duration, out contract.Sink[int]) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					s.stopped(context.Cause(ctx))
					return nil
				case <-ticker.C:
				}
				if err := out.Emit(ctx, i); err != nil {
					// a cancelled flow refuses items before the producer sees ctx
					if ctx.Err() != nil {
						err = context.Cause(ctx)
					}
					s.stopped(err)
					return nil
				}
				if i == 0 {
					select {
					case s.started <- struct{}{}:
					default:
					}
				}
			}
		}))

	reg.Contract("ingest").
		Must("Sum", contract.Ingest0(func(ctx context.Context, in []contract.Input) (int, error) {
			sum := 0
			for _, flow := range in {
				for {
					v, err := contract.NextAs[int](ctx, flow)
					if errors.Is(err, io.EOF) {
						break
					} else if err != nil {
						return 0, err
					}
					sum += v
				}
			}
			return sum, nil
		}))
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *testService) {
	t.Helper()
	reg := contract.NewRegistry()
	svc := newTestService()
	svc.register(reg)
	srv := NewServer(reg, opts...)
	t.Cleanup(srv.Stop)
	return srv, svc
}

func dialTestServer(t *testing.T, srv *Server, opts ...ClientOption) *Client {
	t.Helper()
	c, err := DialInProc(srv, opts...)
	if err != nil {
		t.Fatal("can't dial in-process server:", err)
	}
	t.Cleanup(c.Close)
	return c
}

// sig returns the full signature of an operation.
func sig(name string, params ...contract.TypeTag) string {
	return (&contract.Descriptor{Name: name, Params: params}).Signature()
}

var (
	sleepSig  = sig("Sleep", contract.Tag[time.Duration]())
	tickerSig = sig("Ticker", contract.Tag[time.Duration]())
)

// calcStub is a hand-written stub of the calc contract.
type calcStub struct {
	c *Client
}

func (s calcStub) Add(ctx context.Context, a, b int) (int, error) {
	var sum int
	err := s.c.Invoke(ctx, "calc", "Add(int,int)", &sum, a, b)
	return sum, err
}

func (s calcStub) Echo(ctx context.Context, args echoArgs) (echoArgs, error) {
	var res echoArgs
	err := s.c.Invoke(ctx, "calc", sig("Echo", contract.Tag[echoArgs]()), &res, args)
	return res, err
}

func (s calcStub) Fail(ctx context.Context, msg string) error {
	return s.c.Invoke(ctx, "calc", "Fail(string)", nil, msg)
}
