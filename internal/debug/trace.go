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

package debug

import (
	"errors"
	"os"
	"runtime/trace"
	"time"

	"github.com/sunyihoo/duplexrpc/log"
)

var (
	errTraceActive   = errors.New("trace already in progress")
	errTraceInactive = errors.New("trace not in progress")
)

// StartGoTrace turns on the Go execution tracer, writing to the given file.
// Operations served while it runs show up as tasks named after the operation.
func (h *HandlerT) StartGoTrace(file string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.traceW != nil {
		return errTraceActive
	}
	f, err := os.Create(expandHome(file))
	if err != nil {
		return err
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return err
	}
	h.traceW, h.traceFile, h.traceStart = f, file, time.Now()
	log.Info("Go execution trace started", "dump", file)
	return nil
}

// StopGoTrace stops a trace started with StartGoTrace and closes its file.
func (h *HandlerT) StopGoTrace() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.traceW == nil {
		return errTraceInactive
	}
	trace.Stop()
	err := h.traceW.Close()
	log.Info("Done writing Go execution trace", "dump", h.traceFile, "elapsed", time.Since(h.traceStart))
	h.traceW, h.traceFile = nil, ""
	return err
}
