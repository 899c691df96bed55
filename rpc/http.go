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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

const contentType = "application/json"

// https://www.jsonrpc.org/historical/json-rpc-over-http.html#id13
var acceptedContentTypes = []string{contentType, "application/json-rpc", "application/jsonrequest"}

// httpConn posts single request envelopes. HTTP carries no flows and no
// heartbeat, so it does not implement Codec.
type httpConn struct {
	client  *http.Client
	url     string
	mu      sync.Mutex // protects headers
	headers http.Header
	auth    HTTPAuth
}

func newClientTransportHTTP(endpoint string, cfg *clientConfig) *httpConn {
	headers := make(http.Header, 2+len(cfg.httpHeaders))
	headers.Set("accept", contentType)
	headers.Set("content-type", contentType)
	for key, values := range cfg.httpHeaders {
		headers[key] = values
	}

	client := cfg.httpClient
	if client == nil {
		client = new(http.Client)
	}
	return &httpConn{
		client:  client,
		headers: headers,
		url:     endpoint,
		auth:    cfg.httpAuth,
	}
}

// doRequest posts env. It returns nil for requests the server accepted
// without a response, i.e. operation_call.
func (hc *httpConn) doRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	body, err := wire.Encode(env)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.url, io.NopCloser(bytes.NewReader(body)))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	// set headers
	hc.mu.Lock()
	req.Header = hc.headers.Clone()
	hc.mu.Unlock()
	setHeaders(req.Header, headersFromContext(ctx))

	if hc.auth != nil {
		if err := hc.auth(req.Header); err != nil {
			return nil, err
		}
	}

	// do request
	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		var body []byte
		if _, err := buf.ReadFrom(resp.Body); err == nil {
			body = bytes.TrimSpace(buf.Bytes())
		}
		return nil, HTTPError{
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil, nil
	}
	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return wire.Decode(frame)
}

// ServeHTTP serves a single operation_invoke or operation_call per POST
// request. Invocations are answered with their operation_response; calls are
// acknowledged with 202 Accepted and run after the response was written.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Permit dumb empty requests for remote health-checks (AWS)
	if r.Method == http.MethodGet && r.ContentLength == 0 && r.URL.RawQuery == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if code, err := s.validateRequest(r); err != nil {
		http.Error(w, err.Error(), code)
		return
	}
	if !s.run.Load() {
		http.Error(w, errServerStopped.Error(), http.StatusServiceUnavailable)
		return
	}
	frame, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxMessageSize))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	w.Header().Set("content-type", contentType)

	env, err := wire.Decode(frame)
	if err != nil {
		var id string
		if derr := (*wire.DecodeError)(nil); errors.As(err, &derr) {
			id = derr.ID
		}
		decodeErrorMeter.Inc(1)
		writeEnvelope(w, http.StatusBadRequest, wire.NewError(id, errcodeParse, err.Error()))
		return
	}
	switch env.Type {
	case wire.KindInvoke, wire.KindCall:
	case wire.KindStreamInit, wire.KindSubscriptionInit, wire.KindIngestInit:
		writeEnvelope(w, http.StatusBadRequest, wire.NewError(env.ID, ErrNotificationsUnsupported.ErrorCode(), ErrNotificationsUnsupported.Error()))
		return
	default:
		writeEnvelope(w, http.StatusBadRequest, wire.NewError(env.ID, errcodeInvalidRequest, fmt.Sprintf("%s not supported over HTTP", env.Type)))
		return
	}

	b, req, err := resolve(s.reg, env)
	if err != nil {
		if env.Type == wire.KindCall {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeEnvelope(w, http.StatusOK, wire.NewFailure(env.ID, failureMessage(err)))
		return
	}

	info := httpPeerInfo("http", r)
	ctx := pubsub.NewContext(withPeerInfo(r.Context(), info), s.broker)
	if env.Type == wire.KindCall {
		w.WriteHeader(http.StatusAccepted)
		go func() {
			if _, err := s.serveCall(context.WithoutCancel(ctx), b, env.ID, req.Args); err != nil {
				s.log.Debug("Operation failed", "op", b.Descriptor.FullName(), "err", err)
			}
		}()
		return
	}

	result, err := s.serveCall(ctx, b, env.ID, req.Args)
	if err != nil {
		s.log.Debug("Operation failed", "op", b.Descriptor.FullName(), "reqid", env.ID, "err", err)
		writeEnvelope(w, http.StatusOK, wire.NewFailure(env.ID, failureMessage(err)))
		return
	}
	resp, err := wire.NewResponse(env.ID, result)
	if err != nil {
		s.log.Error("Failed to encode operation result", "op", b.Descriptor.FullName(), "err", err)
		resp = wire.NewFailure(env.ID, "result encoding failed")
	}
	writeEnvelope(w, http.StatusOK, resp)
}

func writeEnvelope(w http.ResponseWriter, status int, env *wire.Envelope) {
	frame, err := wire.Encode(env)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(frame)
}

// validateRequest returns a non-zero response code and error message if the
// request is invalid.
func (s *Server) validateRequest(r *http.Request) (int, error) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, errors.New("method not allowed")
	}
	if r.ContentLength > s.cfg.MaxMessageSize {
		err := fmt.Errorf("content length too large (%d>%d)", r.ContentLength, s.cfg.MaxMessageSize)
		return http.StatusRequestEntityTooLarge, err
	}
	// Check content-type
	if mt, _, err := mime.ParseMediaType(r.Header.Get("content-type")); err == nil {
		for _, accepted := range acceptedContentTypes {
			if accepted == mt {
				return 0, nil
			}
		}
	}
	// Invalid content-type
	err := fmt.Errorf("invalid content type, only %s is supported", contentType)
	return http.StatusUnsupportedMediaType, err
}
