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

package rpc

import (
	"context"
	"net"
)

// DialInProc attaches an in-process connection to the given RPC server.
// Every dial, including reconnects, opens a fresh pipe served by srv.
func DialInProc(srv *Server, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)
	return newClient(context.Background(), cfg, func(context.Context) (Codec, error) {
		p1, p2 := net.Pipe()
		go srv.ServeCodec(newStreamCodec(p1, "inproc", srv.cfg.MaxMessageSize, srv.cfg.WriteTimeout))
		return newStreamCodec(p2, "inproc", cfg.rpc.MaxMessageSize, cfg.rpc.WriteTimeout), nil
	})
}
