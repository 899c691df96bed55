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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sunyihoo/duplexrpc/rpc"

// Tracing opens a server span per operation. A nil tracer uses the global
// tracer provider.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return Func(func(c *Call, next Next) error {
		ctx, span := tracer.Start(c.Context, c.Operation.FullName(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "duplex"),
				attribute.String("rpc.service", c.Operation.Contract),
				attribute.String("rpc.method", c.Operation.Signature()),
				attribute.String("rpc.duplex.kind", c.Operation.Kind.String()),
				attribute.String("rpc.duplex.id", c.CorrelationID),
			),
		)
		defer span.End()

		c.Context = ctx
		err := next()
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case asError(c.Result) != nil:
			span.SetStatus(codes.Error, asError(c.Result).Error())
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	})
}
