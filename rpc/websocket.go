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
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
)

var wsBufferPool = new(sync.Pool)

// WebsocketHandler returns a handler that serves duplex connections over
// websocket. Credentials attached to the request context with
// ContextWithAuth are exposed on the PeerInfo of the connection.
func (s *Server) WebsocketHandler(allowedOrigins []string) http.Handler {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     wsHandshakeValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		info := httpPeerInfo("ws", r)
		info.RemoteAddr = conn.RemoteAddr().String()
		codec := newWebsocketCodec(conn, info, s.cfg.MaxMessageSize, s.cfg.WriteTimeout)
		s.ServeCodec(codec)
	})
}

// wsHandshakeValidator returns a handler that verifies the origin during the
// websocket upgrade process. When a '*' is specified as an allowed origins all
// connections are accepted.
func wsHandshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(origin)
		}
	}
	// allow localhost if no allowedOrigins are specified.
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + hostname)
		}
	}
	log.Debug(fmt.Sprintf("Allowed origin(s) for WS interface %v", origins.ToSlice()))

	return func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. The origin check
		// is supposed to protect against browser based attacks. Browsers always set
		// Origin. Non-browser software can put anything in origin and checking it doesn't
		// provide additional security.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		// Verify origin against allow list.
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAllOrigins || originIsAllowed(origins, origin) {
			return true
		}
		log.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}
}

type wsHandshakeError struct {
	err    error
	status string
}

func (e wsHandshakeError) Error() string {
	s := e.err.Error()
	if e.status != "" {
		s += " (HTTP status " + e.status + ")"
	}
	return s
}

func (e wsHandshakeError) Unwrap() error {
	return e.err
}

func originIsAllowed(allowedOrigins mapset.Set[string], browserOrigin string) bool {
	for origin := range allowedOrigins.Iter() {
		if ruleAllowsOrigin(origin, browserOrigin) {
			return true
		}
	}
	return false
}

func ruleAllowsOrigin(allowedOrigin string, browserOrigin string) bool {
	allowedScheme, allowedHostname, allowedPort, err := parseOriginURL(allowedOrigin)
	if err != nil {
		log.Warn("Error parsing allowed origin specification", "spec", allowedOrigin, "error", err)
		return false
	}
	browserScheme, browserHostname, browserPort, err := parseOriginURL(browserOrigin)
	if err != nil {
		log.Warn("Error parsing browser 'Origin' field", "Origin", browserOrigin, "error", err)
		return false
	}
	switch {
	case allowedScheme != "" && allowedScheme != browserScheme:
		return false
	case allowedHostname != "" && allowedHostname != browserHostname:
		return false
	case allowedPort != "" && allowedPort != browserPort:
		return false
	}
	return true
}

// parseOriginURL splits an origin into scheme, hostname and port. Origins
// without a scheme are accepted as "host" or "host:port".
func parseOriginURL(origin string) (string, string, string, error) {
	parsedURL, err := url.Parse(strings.ToLower(origin))
	if err != nil {
		return "", "", "", err
	}
	var scheme, hostname, port string
	if strings.Contains(origin, "://") {
		scheme = parsedURL.Scheme
		hostname = parsedURL.Hostname()
		port = parsedURL.Port()
	} else {
		scheme = ""
		hostname = parsedURL.Scheme
		port = parsedURL.Opaque
		if hostname == "" {
			hostname = origin
		}
	}
	return scheme, hostname, port, nil
}

// newClientTransportWS returns a dial function opening websocket connections
// to endpoint. Headers and authentication are applied on every dial so that a
// reconnect presents fresh credentials.
func newClientTransportWS(endpoint string, cfg *clientConfig) (dialFunc, error) {
	dialer := cfg.wsDialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			WriteBufferPool: wsBufferPool,
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	dialURL, header, err := wsClientHeaders(endpoint, "")
	if err != nil {
		return nil, err
	}
	for key, values := range cfg.httpHeaders {
		header[key] = values
	}

	connect := func(ctx context.Context) (Codec, error) {
		header := header.Clone()
		if cfg.httpAuth != nil {
			if err := cfg.httpAuth(header); err != nil {
				return nil, err
			}
		}
		conn, resp, err := dialer.DialContext(ctx, dialURL, header)
		if err != nil {
			hErr := wsHandshakeError{err: err}
			if resp != nil {
				hErr.status = resp.Status
			}
			return nil, hErr
		}
		limit := cfg.rpc.MaxMessageSize
		if cfg.wsMessageSizeLimit != nil && *cfg.wsMessageSizeLimit >= 0 {
			limit = *cfg.wsMessageSizeLimit
		}
		info := PeerInfo{Transport: "ws", RemoteAddr: conn.RemoteAddr().String()}
		info.HTTP.Host = conn.RemoteAddr().String()
		return newWebsocketCodec(conn, info, limit, cfg.rpc.WriteTimeout), nil
	}
	return connect, nil
}

func wsClientHeaders(endpoint, origin string) (string, http.Header, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return endpoint, nil, err
	}
	header := make(http.Header)
	if origin != "" {
		header.Add("origin", origin)
	}
	if endpointURL.User != nil {
		b64auth := base64.StdEncoding.EncodeToString([]byte(endpointURL.User.String()))
		header.Add("authorization", "Basic "+b64auth)
		endpointURL.User = nil
	}
	return endpointURL.String(), header, nil
}

// websocketCodec carries one envelope per text frame.
type websocketCodec struct {
	conn *websocket.Conn
	info PeerInfo

	encMu        sync.Mutex // guards writes
	writeTimeout time.Duration

	closer  sync.Once
	closeCh chan struct{}
}

func newWebsocketCodec(conn *websocket.Conn, info PeerInfo, readLimit int64, writeTimeout time.Duration) *websocketCodec {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &websocketCodec{
		conn:         conn,
		info:         info,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
	}
}

func (wc *websocketCodec) Read() (*wire.Envelope, error) {
	for {
		typ, data, err := wc.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		return wire.Decode(data)
	}
}

func (wc *websocketCodec) Write(ctx context.Context, env *wire.Envelope) error {
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}
	wc.encMu.Lock()
	defer wc.encMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wc.writeTimeout)
	}
	wc.conn.SetWriteDeadline(deadline)
	return wc.conn.WriteMessage(websocket.TextMessage, frame)
}

func (wc *websocketCodec) Close() {
	wc.closer.Do(func() {
		close(wc.closeCh)
		wc.conn.Close()
	})
}

func (wc *websocketCodec) Closed() <-chan struct{} { return wc.closeCh }

func (wc *websocketCodec) PeerInfo() PeerInfo { return wc.info }
