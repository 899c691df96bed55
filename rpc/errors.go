// Copyright 2015 The go-ethereum Authors
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

package rpc

import (
	"errors"
	"fmt"

	"github.com/sunyihoo/duplexrpc/rpc/contract"
	"github.com/sunyihoo/duplexrpc/rpc/heartbeat"
	"github.com/sunyihoo/duplexrpc/rpc/middleware"
	"github.com/sunyihoo/duplexrpc/rpc/reliable"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// HTTPError is returned by client operations when the HTTP status code of the
// response is not a 2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (err HTTPError) Error() string {
	if len(err.Body) == 0 {
		return err.Status
	}
	return fmt.Sprintf("%v: %s", err.Status, err.Body)
}

// Error wraps RPC errors, which contain an error code in addition to the message.
type Error interface {
	Error() string  // returns the message
	ErrorCode() int // returns the code
}

// A DataError contains some data in addition to the error message.
type DataError interface {
	Error() string          // returns the message
	ErrorData() interface{} // returns the error data
}

const (
	errcodeParse          = -32700
	errcodeInvalidRequest = -32600
	errcodeNotFound       = -32601
	errcodeInvalidParams  = -32602
	errcodeInternal       = -32603
	errcodeDefault        = -32000
	errcodeTimeout        = -32002
	errcodeUnauthorized   = -32004
	errcodeRateLimited    = -32005
)

var (
	// ErrClientQuit is returned by client operations after Close.
	ErrClientQuit = errors.New("client is closed")

	// ErrConnClosed is the teardown reason of a connection closed on request.
	ErrConnClosed = errors.New("connection closed")

	// ErrDisconnected is returned when the client gave up reconnecting.
	ErrDisconnected = errors.New("connection lost")

	// ErrNotificationsUnsupported is returned for flows on transports that
	// cannot carry them, i.e. HTTP.
	ErrNotificationsUnsupported = notificationsUnsupportedError{}

	// ErrProtocolViolation tears down a connection that broke the handshake.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrFlowClosed is returned by emitters once the flow is no longer active.
	ErrFlowClosed = errors.New("flow closed")

	// ErrFlowOverflow ends a flow whose receiver fell too far behind.
	ErrFlowOverflow = errors.New("flow buffer overflow")

	// ErrFlowCancelled is the error of a stream cancelled by the peer.
	ErrFlowCancelled = errors.New("flow cancelled")

	// ErrTooManyFlows rejects flows beyond the configured limit.
	ErrTooManyFlows = errors.New("too many concurrent flows")

	errServerStopped = errors.New("server stopped")
	errDuplicateID   = errors.New("duplicate correlation id")
)

type notificationsUnsupportedError struct{}

func (notificationsUnsupportedError) Error() string  { return "notifications not supported" }
func (notificationsUnsupportedError) ErrorCode() int { return errcodeNotFound }

// OperationError is returned by Client.Invoke and Client.Ingest when the
// server answered with a failed operation response.
type OperationError struct {
	Operation string
	Message   string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// FlowError is the error of a stream, subscription or ingest flow failed by
// the peer through an error envelope.
type FlowError struct {
	ID      string
	Code    int
	Message string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s: %s", e.ID, e.Message)
}

func (e *FlowError) ErrorCode() int { return e.Code }

// errorCode maps the error taxonomy onto the code space of error envelopes.
func errorCode(err error) int {
	var (
		verr   *contract.ValidationError
		nf     *contract.RouteNotFoundError
		derr   *wire.DecodeError
		denied *middleware.AccessDeniedError
		ackErr *reliable.AckTimeoutError
		herr   *middleware.HandlerError
		coded  Error
	)
	switch {
	case errors.As(err, &derr):
		return errcodeParse
	case errors.As(err, &nf):
		return errcodeNotFound
	case errors.As(err, &verr):
		return errcodeInvalidParams
	case errors.As(err, &denied):
		return errcodeUnauthorized
	case errors.Is(err, middleware.ErrRateLimited):
		return errcodeRateLimited
	case errors.As(err, &ackErr), errors.Is(err, heartbeat.ErrTimeout):
		return errcodeTimeout
	case errors.Is(err, errDuplicateID):
		return errcodeInvalidRequest
	case errors.As(err, &herr):
		return errcodeInternal
	case errors.As(err, &coded):
		return coded.ErrorCode()
	}
	return errcodeDefault
}
