package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

var addOp = &contract.Descriptor{
	Contract: "Calculator",
	Name:     "Add",
	Params:   contract.Params(contract.Tag[int](), contract.Tag[int]()),
}

// recorder appends its name before and after next.
type recorder struct {
	mu    sync.Mutex
	trace []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.trace = append(r.trace, s)
	r.mu.Unlock()
}

func (r *recorder) mw(name string) Middleware {
	return Func(func(c *Call, next Next) error {
		r.add(name)
		err := next()
		r.add("/" + name)
		return err
	})
}

func (r *recorder) terminal(result any) Terminal {
	return func(c *Call) error {
		r.add("handler")
		c.Result = result
		return nil
	}
}

func TestPipelineOrdering(t *testing.T) {
	tests := []struct {
		globalFirst bool
		want        []string
	}{
		{true, []string{"A", "B", "C", "handler", "/C", "/B", "/A"}},
		{false, []string{"C", "A", "B", "handler", "/B", "/A", "/C"}},
	}
	for _, tt := range tests {
		rec := new(recorder)
		p := NewPipelines(Options{
			Global:                    []Middleware{rec.mw("A"), rec.mw("B")},
			Local:                     map[string][]Middleware{"Calculator": {rec.mw("C")}},
			UseGlobalMiddlewaresFirst: tt.globalFirst,
		})
		c := &Call{Operation: addOp, CorrelationID: "1"}
		require.NoError(t, p.Execute(c, rec.terminal(5)))
		assert.Equal(t, tt.want, rec.trace, "globalFirst=%v", tt.globalFirst)
		assert.Equal(t, 5, c.Result)
		assert.Equal(t, 3, p.Chain("Calculator").Len())
		assert.Equal(t, 2, p.Chain("Other").Len())
	}
}

func TestShortCircuit(t *testing.T) {
	rec := new(recorder)
	deny := errors.New("denied")
	ch := NewChain(rec.mw("A"), Func(func(c *Call, next Next) error { return deny }), rec.mw("B"))

	err := ch.Execute(&Call{Operation: addOp}, rec.terminal(1))
	assert.ErrorIs(t, err, deny)
	assert.Equal(t, []string{"A", "/A"}, rec.trace)
}

func TestNextCalledTwice(t *testing.T) {
	var calls int
	ch := NewChain(Func(func(c *Call, next Next) error {
		if err := next(); err != nil {
			return err
		}
		return next()
	}))
	err := ch.Execute(&Call{Operation: addOp}, func(c *Call) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrNextCalledTwice)
	assert.Equal(t, 1, calls)
}

func TestHandlerPanic(t *testing.T) {
	ch := NewChain()
	err := ch.Execute(&Call{Operation: addOp}, func(c *Call) error {
		panic("boom")
	})
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.True(t, herr.Panic)
	assert.NotEmpty(t, herr.Stack)
	assert.Equal(t, "Calculator.Add(int,int)", herr.Operation)
}

func TestErrorPropagation(t *testing.T) {
	appErr := errors.New("division by zero")
	terminal := func(c *Call) error { return appErr }

	// without Recover the error reaches the caller
	err := NewChain(Logging(nil)).Execute(&Call{Operation: addOp}, terminal)
	assert.ErrorIs(t, err, appErr)

	// with Recover it becomes a failed result
	c := &Call{Operation: addOp}
	require.NoError(t, NewChain(Recover(), Logging(nil)).Execute(c, terminal))
	var fault *Fault
	require.ErrorAs(t, c.Result.(error), &fault)
	assert.Equal(t, "division by zero", fault.Message)
	assert.ErrorIs(t, fault, appErr)

	// panics are reported without their value
	c = &Call{Operation: addOp}
	require.NoError(t, NewChain(Recover()).Execute(c, func(*Call) error { panic("secret") }))
	assert.Equal(t, "operation handler crashed", c.Result.(*Fault).Message)
}

func TestMiddlewareSeesError(t *testing.T) {
	appErr := errors.New("fail")
	var seen error
	ch := NewChain(Func(func(c *Call, next Next) error {
		err := next()
		seen = c.Err
		return err
	}))
	_ = ch.Execute(&Call{Operation: addOp}, func(*Call) error { return appErr })
	assert.ErrorIs(t, seen, appErr)
}

func TestCallItems(t *testing.T) {
	ch := NewChain(Func(func(c *Call, next Next) error {
		c.Set("user", "alice")
		return next()
	}))
	var user any
	require.NoError(t, ch.Execute(&Call{Operation: addOp}, func(c *Call) error {
		user, _ = c.Get("user")
		return nil
	}))
	assert.Equal(t, "alice", user)
}

func TestAuthorize(t *testing.T) {
	auth := AuthorizerFunc(func(ctx context.Context, op *contract.Descriptor) error {
		if op.Name == "Add" {
			return errors.New("no adding")
		}
		return nil
	})
	ch := NewChain(Authorize(auth))

	err := ch.Execute(&Call{Operation: addOp}, func(*Call) error { return nil })
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "Calculator.Add(int,int)", denied.Operation)

	sub := &contract.Descriptor{Contract: "Calculator", Name: "Sub"}
	assert.NoError(t, ch.Execute(&Call{Operation: sub}, func(*Call) error { return nil }))
}

func TestRateLimit(t *testing.T) {
	ch := NewChain(RateLimit(rate.Every(time.Hour), 2))
	noop := func(*Call) error { return nil }

	assert.NoError(t, ch.Execute(&Call{Operation: addOp}, noop))
	assert.NoError(t, ch.Execute(&Call{Operation: addOp}, noop))
	assert.ErrorIs(t, ch.Execute(&Call{Operation: addOp}, noop), ErrRateLimited)
}

func TestFaultMessage(t *testing.T) {
	assert.Equal(t, "plain", FaultMessage(errors.New("plain")))
	assert.Equal(t, "inner", FaultMessage(&HandlerError{Operation: "x", Err: errors.New("inner")}))
	assert.Equal(t, panicMessage, FaultMessage(&HandlerError{Operation: "x", Err: errors.New("panic: boom"), Panic: true}))
}
