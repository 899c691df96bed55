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

// Package middleware implements the ordered chain of cross-cutting handlers
// wrapped around every dispatched operation.
//
// A middleware receives the invocation context and a next function. Calling
// next runs the rest of the chain and returns its error; not calling it
// short-circuits the chain, and calling it a second time is rejected with
// ErrNextCalledTwice. Errors are plain return values: the chain does not swallow
// them on its own. Recover is the middleware that turns errors into failed
// results; without it Execute returns the handler's error to the caller.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

// ErrNextCalledTwice is returned by next when a middleware calls it again.
var ErrNextCalledTwice = errors.New("middleware called next more than once")

// Call is the invocation context passed along the chain.
type Call struct {
	// Context is the request context. Middlewares may replace it (e.g. to
	// attach a span) before calling next; the handler sees the final value.
	Context context.Context

	Operation     *contract.Descriptor
	CorrelationID string
	Args          contract.Args

	// Result is the handler's result once next returned. A *Fault result
	// marks a failure translated by Recover.
	Result any

	// Err is the error returned by the inner chain, nil until next returned.
	Err error

	items sync.Map
}

// Set stores a value for later middlewares.
func (c *Call) Set(key string, v any) { c.items.Store(key, v) }

// Get returns a value stored with Set.
func (c *Call) Get(key string) (any, bool) { return c.items.Load(key) }

// Next continues the chain.
type Next func() error

// Middleware wraps the invocation of an operation.
type Middleware interface {
	Handle(c *Call, next Next) error
}

// Func adapts a function to the Middleware interface.
type Func func(c *Call, next Next) error

func (f Func) Handle(c *Call, next Next) error { return f(c, next) }

// Terminal invokes the operation handler at the end of the chain.
type Terminal func(c *Call) error

// HandlerError is an error raised by application code, including panics.
type HandlerError struct {
	Operation string
	Err       error
	Panic     bool
	Stack     string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Fault is the result of a failed operation after translation. The dispatcher
// reports its Message to the caller.
type Fault struct {
	Message string
	Err     error
}

func (f *Fault) Error() string { return f.Message }

func (f *Fault) Unwrap() error { return f.Err }

// Chain is an immutable, ordered list of middlewares.
type Chain struct {
	mws []Middleware
}

// NewChain builds a chain running mws in order, outermost first.
func NewChain(mws ...Middleware) *Chain {
	return &Chain{mws: append([]Middleware(nil), mws...)}
}

// Len returns the number of middlewares in the chain.
func (ch *Chain) Len() int { return len(ch.mws) }

// Execute runs the chain around terminal.
func (ch *Chain) Execute(c *Call, terminal Terminal) error {
	if c.Context == nil {
		c.Context = context.Background()
	}
	return ch.run(0, c, terminal)
}

func (ch *Chain) run(i int, c *Call, terminal Terminal) error {
	if i == len(ch.mws) {
		return invoke(c, terminal)
	}
	var called atomic.Bool
	next := func() error {
		if !called.CompareAndSwap(false, true) {
			log.Error("Middleware configuration error", "op", c.Operation.FullName(), "index", i, "err", ErrNextCalledTwice)
			return ErrNextCalledTwice
		}
		err := ch.run(i+1, c, terminal)
		c.Err = err
		return err
	}
	return ch.mws[i].Handle(c, next)
}

// invoke calls the handler, converting panics and errors into HandlerErrors.
func invoke(c *Call, terminal Terminal) (err error) {
	name := c.Operation.FullName()
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Error("Operation handler crashed", "op", name, "err", r, "stack", string(buf))
			err = &HandlerError{Operation: name, Err: fmt.Errorf("panic: %v", r), Panic: true, Stack: string(buf)}
		}
	}()
	if err := terminal(c); err != nil {
		var herr *HandlerError
		if errors.As(err, &herr) {
			return err
		}
		return &HandlerError{Operation: name, Err: err}
	}
	return nil
}

// Options configures the chains of a server.
type Options struct {
	// Global middlewares apply to every contract.
	Global []Middleware

	// Local middlewares apply to the named contract only.
	Local map[string][]Middleware

	// UseGlobalMiddlewaresFirst places the global middlewares outside the
	// contract-local ones. When false the local ones run first.
	UseGlobalMiddlewaresFirst bool
}

// Pipelines builds and caches one chain per contract.
type Pipelines struct {
	opts   Options
	chains sync.Map // contract name -> *Chain
}

// NewPipelines creates the chain cache for opts.
func NewPipelines(opts Options) *Pipelines {
	return &Pipelines{opts: opts}
}

// Chain returns the chain of the named contract, building it on first use.
func (p *Pipelines) Chain(contractName string) *Chain {
	if ch, ok := p.chains.Load(contractName); ok {
		return ch.(*Chain)
	}
	local := p.opts.Local[contractName]
	mws := make([]Middleware, 0, len(p.opts.Global)+len(local))
	if p.opts.UseGlobalMiddlewaresFirst {
		mws = append(append(mws, p.opts.Global...), local...)
	} else {
		mws = append(append(mws, local...), p.opts.Global...)
	}
	ch, _ := p.chains.LoadOrStore(contractName, NewChain(mws...))
	return ch.(*Chain)
}

// Execute runs the chain of the call's contract.
func (p *Pipelines) Execute(c *Call, terminal Terminal) error {
	return p.Chain(c.Operation.Contract).Execute(c, terminal)
}
