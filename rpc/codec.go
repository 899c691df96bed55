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
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sunyihoo/duplexrpc/rpc/wire"
)

// Codec reads and writes the envelopes of one physical connection.
//
// Read is only called from the connection's receive loop. Write may be called
// concurrently; implementations serialize frames so that they never interleave.
// A malformed frame is reported as a *wire.DecodeError and does not end the
// connection; any other read error does.
type Codec interface {
	Read() (*wire.Envelope, error)
	Write(ctx context.Context, env *wire.Envelope) error
	Close()
	Closed() <-chan struct{}
	PeerInfo() PeerInfo
}

// Conn is a subset of the methods of net.Conn which are sufficient for NewCodec.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(time.Time) error
}

// ConnRemoteAddr wraps the RemoteAddr operation, which returns a description
// of the peer address of a connection. If a Conn also implements
// ConnRemoteAddr, this description is used in log messages.
type ConnRemoteAddr interface {
	RemoteAddr() string
}

// streamCodec frames envelopes as newline separated JSON objects.
type streamCodec struct {
	info    PeerInfo
	conn    Conn
	scanner *bufio.Scanner

	encMu        sync.Mutex // guards writes
	writeTimeout time.Duration

	closer  sync.Once
	closeCh chan struct{}
}

// NewCodec creates a codec exchanging newline separated JSON envelopes on conn.
func NewCodec(conn Conn) Codec {
	return newStreamCodec(conn, "stream", DefaultConfig.MaxMessageSize, DefaultConfig.WriteTimeout)
}

func newStreamCodec(conn Conn, transport string, maxSize int64, writeTimeout time.Duration) *streamCodec {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), int(maxSize))

	c := &streamCodec{
		conn:         conn,
		scanner:      scanner,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		info:         PeerInfo{Transport: transport},
	}
	switch ra := conn.(type) {
	case ConnRemoteAddr:
		c.info.RemoteAddr = ra.RemoteAddr()
	case net.Conn:
		if addr := ra.RemoteAddr(); addr != nil {
			c.info.RemoteAddr = addr.String()
		}
	}
	return c
}

func (c *streamCodec) Read() (*wire.Envelope, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// the scanner reuses its buffer
		frame := append([]byte(nil), line...)
		return wire.Decode(frame)
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *streamCodec) Write(ctx context.Context, env *wire.Envelope) error {
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}
	frame = append(frame, '\n')

	c.encMu.Lock()
	defer c.encMu.Unlock()

	select {
	case <-c.closeCh:
		return net.ErrClosed
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	c.conn.SetWriteDeadline(deadline)
	_, err = c.conn.Write(frame)
	return err
}

func (c *streamCodec) Close() {
	c.closer.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}

func (c *streamCodec) Closed() <-chan struct{} { return c.closeCh }

func (c *streamCodec) PeerInfo() PeerInfo { return c.info }

// isClosedErr reports whether err results from reading a closed connection.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
