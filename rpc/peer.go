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

package rpc

import (
	"context"
	"net/http"
)

// PeerInfo contains information about the remote end of the network connection.
//
// This is available within operation handlers through the context. Call
// PeerInfoFromContext to get information about the connection related to the
// current invocation.
type PeerInfo struct {
	// Transport is name of the protocol used by the client.
	// This can be "http", "ws", "stream" or "inproc".
	Transport string

	// ConnID is the session id announced in connection_ack. It is empty for HTTP.
	ConnID string

	// Address of client. This will usually contain the IP address and port.
	RemoteAddr string

	// Additional information for HTTP and WebSocket connections.
	HTTP struct {
		// Protocol version, i.e. "HTTP/1.1". This is not set for WebSocket.
		Version string
		// Header values sent by the client.
		UserAgent string
		Origin    string
		Host      string
	}

	// Auth holds the verified credentials of the request that opened the
	// connection, e.g. JWT claims, when the hosting layer validated any.
	Auth any
}

type peerInfoContextKey struct{}

type authContextKey struct{}

// PeerInfoFromContext returns information about the client's network connection.
// Use this with the context passed to operation handlers.
//
// The zero value is returned if no connection info is present in ctx.
func PeerInfoFromContext(ctx context.Context) PeerInfo {
	info, _ := ctx.Value(peerInfoContextKey{}).(PeerInfo)
	return info
}

func withPeerInfo(ctx context.Context, info PeerInfo) context.Context {
	return context.WithValue(ctx, peerInfoContextKey{}, info)
}

// ContextWithAuth attaches verified credentials to a request context. The
// websocket and HTTP handlers copy them into PeerInfo.Auth.
func ContextWithAuth(ctx context.Context, auth any) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

func authFromContext(ctx context.Context) any {
	return ctx.Value(authContextKey{})
}

// httpPeerInfo describes the peer of an HTTP request.
func httpPeerInfo(transport string, r *http.Request) PeerInfo {
	info := PeerInfo{Transport: transport, RemoteAddr: r.RemoteAddr, Auth: authFromContext(r.Context())}
	if transport == "http" {
		info.HTTP.Version = r.Proto
	}
	info.HTTP.Host = r.Host
	info.HTTP.Origin = r.Header.Get("Origin")
	info.HTTP.UserAgent = r.Header.Get("User-Agent")
	return info
}

type mdHeaderKey struct{}

// NewContextWithHeaders wraps the given context, adding HTTP headers. These
// headers are sent by the HTTP transport of Client for calls made with the
// returned context.
func NewContextWithHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	merged := h.Clone()
	if prev, ok := ctx.Value(mdHeaderKey{}).(http.Header); ok {
		merged = setHeaders(prev.Clone(), h)
	}
	return context.WithValue(ctx, mdHeaderKey{}, merged)
}

func headersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(mdHeaderKey{}).(http.Header)
	return h
}

// setHeaders copies src into dst with canonical keys.
func setHeaders(dst http.Header, src http.Header) http.Header {
	for key, values := range src {
		dst[http.CanonicalHeaderKey(key)] = values
	}
	return dst
}
