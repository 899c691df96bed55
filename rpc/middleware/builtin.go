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

package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
	"github.com/sunyihoo/duplexrpc/rpc/contract"
)

// Logging records the start and end of every operation. It never alters the
// outcome.
func Logging(logger log.Logger) Middleware {
	if logger == nil {
		logger = log.Root()
	}
	return Func(func(c *Call, next Next) error {
		start := time.Now()
		op := c.Operation.FullName()
		logger.Trace("Operation started", "op", op, "reqid", c.CorrelationID)

		err := next()

		ctx := []interface{}{"op", op, "reqid", c.CorrelationID, "duration", time.Since(start)}
		var fault *Fault
		switch {
		case err != nil:
			logger.Debug("Served "+c.Operation.Signature(), append(ctx, "err", err)...)
		case errors.As(asError(c.Result), &fault):
			logger.Debug("Served "+c.Operation.Signature(), append(ctx, "err", fault.Message)...)
		default:
			logger.Debug("Served "+c.Operation.Signature(), ctx...)
		}
		return err
	})
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// panicMessage is reported to callers instead of panic values.
const panicMessage = "operation handler crashed"

// Recover translates errors of the inner chain into a *Fault result carrying
// the error message, so the caller receives a failed response instead of the
// error reaching the transport.
func Recover() Middleware {
	return Func(func(c *Call, next Next) error {
		err := next()
		if err == nil {
			return nil
		}
		c.Result = &Fault{Message: FaultMessage(err), Err: err}
		return nil
	})
}

// FaultMessage returns the message reported for err. Handler errors report the
// application's own message, panics a generic one.
func FaultMessage(err error) string {
	var herr *HandlerError
	if errors.As(err, &herr) {
		if herr.Panic {
			return panicMessage
		}
		return herr.Err.Error()
	}
	return err.Error()
}

var (
	servedCounter = metrics.NewRegisteredCounter("rpc/served", nil)
	faultCounter  = metrics.NewRegisteredCounter("rpc/faults", nil)
)

// Metrics records per-operation serving times under
// rpc/duration/<contract>/<operation>/{success,failure}.
func Metrics() Middleware {
	return Func(func(c *Call, next Next) error {
		start := time.Now()
		err := next()

		note := "success"
		if err != nil || asError(c.Result) != nil {
			note = "failure"
			faultCounter.Inc(1)
		}
		servedCounter.Inc(1)
		name := fmt.Sprintf("rpc/duration/%s/%s/%s", c.Operation.Contract, c.Operation.Name, note)
		metrics.GetOrRegisterTimer(name, nil).UpdateSince(start)
		return err
	})
}

// Authorizer decides whether an operation may run. Authentication happens in
// the hosting layer; implementations typically read the peer from ctx.
type Authorizer interface {
	Authorize(ctx context.Context, op *contract.Descriptor) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, op *contract.Descriptor) error

func (f AuthorizerFunc) Authorize(ctx context.Context, op *contract.Descriptor) error {
	return f(ctx, op)
}

// AccessDeniedError is returned when the authorizer rejects a call.
type AccessDeniedError struct {
	Operation string
	Err       error
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access to %s denied: %v", e.Operation, e.Err)
}

func (e *AccessDeniedError) Unwrap() error { return e.Err }

// Authorize short-circuits calls the authorizer rejects.
func Authorize(a Authorizer) Middleware {
	return Func(func(c *Call, next Next) error {
		if err := a.Authorize(c.Context, c.Operation); err != nil {
			return &AccessDeniedError{Operation: c.Operation.FullName(), Err: err}
		}
		return next()
	})
}

// ErrRateLimited is returned when a call exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit admits at most r operations per second with the given burst. The
// limiter is shared by every chain the middleware is part of.
func RateLimit(r rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(r, burst)
	return Func(func(c *Call, next Next) error {
		if !limiter.Allow() {
			return ErrRateLimited
		}
		return next()
	})
}
