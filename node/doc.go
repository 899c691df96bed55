// Copyright 2016 The go-ethereum Authors
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
Package node hosts an RPC server on HTTP and websocket endpoints.

In the model exposed by this package, a node is a collection of services which register
contracts in a shared registry. The node serves those contracts on its endpoints and owns
the broker that subscription handlers publish on.

# Node Lifecycle

The Node object has a lifecycle consisting of three basic states, INITIALIZING, RUNNING
and CLOSED.

	●───────┐
	     New()
	        │
	        ▼
	  INITIALIZING ────Start()─┐
	        │                  │
	        │                  ▼
	    Close()             RUNNING
	        │                  │
	        ▼                  │
	     CLOSED ◀──────Close()─┘

Creating a Node allocates the registry, the RPC server and the broker and returns the node
in its INITIALIZING state. Lifecycle objects and HTTP handlers can be registered in this
state. Contracts can be added to the registry in any state.

Once everything is registered, the node can be started, which moves it into the RUNNING
state. Starting the node opens the HTTP and websocket endpoints and then starts all
registered Lifecycle objects. Note that no additional Lifecycles or handlers can be
registered while the node is running.

Closing the node releases all held resources. If the node was RUNNING, closing it also
stops all Lifecycle objects in reverse order, shuts down the endpoints and tears down every
open connection.

You must always call Close on Node, even if the node was not started.

# Endpoints

HTTP and websocket may share one listener when they are configured with the same host
and port. Requests carrying a websocket upgrade are routed to the websocket handler, all
other requests to the HTTP handler. On the HTTP side, requests pass a CORS handler and a
virtual host filter. When a JWT secret is configured, both endpoints require a bearer
token signed with it; the verified claims are visible to operation handlers through
rpc.PeerInfo.
*/
package node
