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

/*
Package rpc implements duplex operation invocation over one physical
connection per peer.

A Server serves the operations of a contract.Registry. Every connection starts
with a connection_init / connection_ack handshake, after which both peers may
send any number of concurrent requests and flows, each identified by its
correlation id:

	operation_invoke   call and wait for the operation_response
	operation_call     fire-and-forget call
	stream_init        finite server to client sequence
	subscription_init  server push until either side cancels
	ingest_init        one or more client to server input flows

Operations are registered with their parameter shape and invoked by signature:

	reg := contract.NewRegistry()
	reg.Contract("Calculator").Must("Add", contract.Func2(func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	}))
	srv := rpc.NewServer(reg, rpc.WithPipelines(middleware.Options{
		Global: []middleware.Middleware{middleware.Recover(), middleware.Logging(nil)},
	}))
	http.Handle("/ws", srv.WebsocketHandler([]string{"*"}))

On the client side, the invocation is a single call:

	client, err := rpc.Dial("ws://localhost:8546/ws")
	...
	var sum int
	err = client.Invoke(ctx, "Calculator", "Add(int,int)", &sum, 2, 3)

# Liveness

Both peers exchange ping/pong envelopes while the connection is idle. A
connection that sees no liveness signal for HeartbeatTimeout is torn down:
pending acknowledgements fail, every flow is cancelled and in-flight calls see
their context cancelled.

# Reliable delivery

Items emitted with EmitAcked (and ingest items sent with SendAcked) are
retransmitted with the same ack id until the peer acknowledges them, at most
AckRetries+1 times within AckTimeout. Receivers drop redelivered ids.

# Transports

Websocket and raw stream connections (TCP, unix sockets, in-process pipes)
carry the full protocol. HTTP POST carries a single operation_invoke or
operation_call per request and no flows.
*/
package rpc
