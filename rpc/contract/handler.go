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

package contract

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// CallFunc serves a Call operation.
type CallFunc func(ctx context.Context, args Args) (any, error)

// StreamFunc serves Stream and Subscription operations. It produces items
// through out and returns when the flow is complete. ctx is cancelled when the
// consumer cancels or the connection goes away.
type StreamFunc func(ctx context.Context, args Args, out Emitter) error

// IngestFunc serves an Ingest operation consuming several input flows.
type IngestFunc func(ctx context.Context, args Args, in []Input) (any, error)

// Emitter sends items of a stream or subscription to the consumer.
type Emitter interface {
	// Emit sends an item without acknowledgement.
	Emit(ctx context.Context, item any) error

	// EmitAcked sends an item that the consumer must acknowledge and waits for
	// the acknowledgement, retrying within the configured budget.
	EmitAcked(ctx context.Context, item any) error
}

// Input is one client to server flow of an ingest operation.
type Input interface {
	// ID returns the flow id.
	ID() string

	// Next returns the next item. It returns io.EOF after the producer
	// completed the flow and the flow's error if the producer failed it.
	Next(ctx context.Context) (json.RawMessage, error)
}

// Handler holds the function serving an operation. Exactly one field is set,
// matching the operation kind.
type Handler struct {
	Call   CallFunc
	Stream StreamFunc
	Ingest IngestFunc
}

// Operation is a handler together with its declared shape, ready to be
// registered under a name. Registering the same Operation value twice under
// one name is a no-op; a second declaration for the same signature is
// rejected, even when it wraps the same function.
type Operation struct {
	Kind    OperationKind
	Params  []TypeTag
	Handler Handler

	origin uint64 // identity of this declaration, shared by its copies
}

var nextOrigin atomic.Uint64

func declare(op Operation) Operation {
	op.origin = nextOrigin.Add(1)
	return op
}

// NewCall declares a Call operation with an explicit parameter shape.
func NewCall(params []TypeTag, fn CallFunc) Operation {
	return declare(Operation{Kind: Call, Params: params, Handler: Handler{Call: fn}})
}

// NewStream declares a Stream operation with an explicit parameter shape.
func NewStream(params []TypeTag, fn StreamFunc) Operation {
	return declare(Operation{Kind: Stream, Params: params, Handler: Handler{Stream: fn}})
}

// NewSubscription declares a Subscription operation with an explicit parameter shape.
func NewSubscription(params []TypeTag, fn StreamFunc) Operation {
	return declare(Operation{Kind: Subscription, Params: params, Handler: Handler{Stream: fn}})
}

// NewIngest declares an Ingest operation with an explicit parameter shape.
func NewIngest(params []TypeTag, fn IngestFunc) Operation {
	return declare(Operation{Kind: Ingest, Params: params, Handler: Handler{Ingest: fn}})
}

// The typed constructors below derive the parameter shape from their type
// parameters and decode positional arguments before calling fn.

func Func0[R any](fn func(context.Context) (R, error)) Operation {
	return NewCall(nil, func(ctx context.Context, args Args) (any, error) {
		if err := args.Decode(); err != nil {
			return nil, err
		}
		return fn(ctx)
	})
}

func Func1[A, R any](fn func(context.Context, A) (R, error)) Operation {
	return NewCall(Params(Tag[A]()), func(ctx context.Context, args Args) (any, error) {
		var a A
		if err := args.Decode(&a); err != nil {
			return nil, err
		}
		return fn(ctx, a)
	})
}

func Func2[A, B, R any](fn func(context.Context, A, B) (R, error)) Operation {
	return NewCall(Params(Tag[A](), Tag[B]()), func(ctx context.Context, args Args) (any, error) {
		var (
			a A
			b B
		)
		if err := args.Decode(&a, &b); err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	})
}

func Func3[A, B, C, R any](fn func(context.Context, A, B, C) (R, error)) Operation {
	return NewCall(Params(Tag[A](), Tag[B](), Tag[C]()), func(ctx context.Context, args Args) (any, error) {
		var (
			a A
			b B
			c C
		)
		if err := args.Decode(&a, &b, &c); err != nil {
			return nil, err
		}
		return fn(ctx, a, b, c)
	})
}

// Proc0 declares a parameterless Call operation without a result.
func Proc0(fn func(context.Context) error) Operation {
	return NewCall(nil, func(ctx context.Context, args Args) (any, error) {
		if err := args.Decode(); err != nil {
			return nil, err
		}
		return nil, fn(ctx)
	})
}

// Proc1 declares a Call operation without a result, typically invoked
// fire-and-forget.
func Proc1[A any](fn func(context.Context, A) error) Operation {
	return NewCall(Params(Tag[A]()), func(ctx context.Context, args Args) (any, error) {
		var a A
		if err := args.Decode(&a); err != nil {
			return nil, err
		}
		return nil, fn(ctx, a)
	})
}

func Proc2[A, B any](fn func(context.Context, A, B) error) Operation {
	return NewCall(Params(Tag[A](), Tag[B]()), func(ctx context.Context, args Args) (any, error) {
		var (
			a A
			b B
		)
		if err := args.Decode(&a, &b); err != nil {
			return nil, err
		}
		return nil, fn(ctx, a, b)
	})
}

// Sink is a typed view of an Emitter.
type Sink[T any] struct {
	out Emitter
}

// NewSink wraps out.
func NewSink[T any](out Emitter) Sink[T] { return Sink[T]{out} }

func (s Sink[T]) Emit(ctx context.Context, item T) error      { return s.out.Emit(ctx, item) }
func (s Sink[T]) EmitAcked(ctx context.Context, item T) error { return s.out.EmitAcked(ctx, item) }

func Stream0[T any](fn func(context.Context, Sink[T]) error) Operation {
	return NewStream(nil, func(ctx context.Context, args Args, out Emitter) error {
		if err := args.Decode(); err != nil {
			return err
		}
		return fn(ctx, NewSink[T](out))
	})
}

func Stream1[A, T any](fn func(context.Context, A, Sink[T]) error) Operation {
	return NewStream(Params(Tag[A]()), stream1(fn))
}

func Stream2[A, B, T any](fn func(context.Context, A, B, Sink[T]) error) Operation {
	return NewStream(Params(Tag[A](), Tag[B]()), func(ctx context.Context, args Args, out Emitter) error {
		var (
			a A
			b B
		)
		if err := args.Decode(&a, &b); err != nil {
			return err
		}
		return fn(ctx, a, b, NewSink[T](out))
	})
}

func Subscription0[T any](fn func(context.Context, Sink[T]) error) Operation {
	op := Stream0(fn)
	op.Kind = Subscription
	return op
}

func Subscription1[A, T any](fn func(context.Context, A, Sink[T]) error) Operation {
	return NewSubscription(Params(Tag[A]()), stream1(fn))
}

func stream1[A, T any](fn func(context.Context, A, Sink[T]) error) StreamFunc {
	return func(ctx context.Context, args Args, out Emitter) error {
		var a A
		if err := args.Decode(&a); err != nil {
			return err
		}
		return fn(ctx, a, NewSink[T](out))
	}
}

func Ingest0[R any](fn func(context.Context, []Input) (R, error)) Operation {
	return NewIngest(nil, func(ctx context.Context, args Args, in []Input) (any, error) {
		if err := args.Decode(); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	})
}

func Ingest1[A, R any](fn func(context.Context, A, []Input) (R, error)) Operation {
	return NewIngest(Params(Tag[A]()), func(ctx context.Context, args Args, in []Input) (any, error) {
		var a A
		if err := args.Decode(&a); err != nil {
			return nil, err
		}
		return fn(ctx, a, in)
	})
}

// NextAs reads the next item of in and decodes it into a T.
func NextAs[T any](ctx context.Context, in Input) (T, error) {
	var v T
	raw, err := in.Next(ctx)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &ValidationError{Operation: in.ID(), Err: err}
	}
	return v, nil
}
