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

import "runtime/trace"

// ExecutionTrace marks every operation as a task of the Go execution tracer,
// so `go tool trace` groups goroutines and regions by operation. It costs a
// single check while no trace is being recorded.
func ExecutionTrace() Middleware {
	return Func(func(c *Call, next Next) error {
		if !trace.IsEnabled() {
			return next()
		}
		ctx, task := trace.NewTask(c.Context, c.Operation.FullName())
		defer task.End()
		trace.Log(ctx, "id", c.CorrelationID)

		c.Context = ctx
		err := next()
		if err != nil {
			trace.Log(ctx, "error", err.Error())
		}
		return err
	})
}
