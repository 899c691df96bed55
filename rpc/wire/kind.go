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

// Package wire defines the envelopes exchanged between duplex peers and their
// JSON encoding.
//
// Every frame is a single JSON object with a "type" discriminator. Apart from
// the session messages (connection_init, connection_ack, ping, pong) each
// envelope carries the correlation id of the invocation, stream, subscription
// or ingest flow it belongs to.
package wire

// Kind is the discriminator carried in the "type" field of every envelope.
type Kind string

const (
	KindConnectionInit Kind = "connection_init"
	KindConnectionAck  Kind = "connection_ack"
	KindPing           Kind = "ping"
	KindPong           Kind = "pong"

	KindInvoke   Kind = "operation_invoke"
	KindResponse Kind = "operation_response"
	KindCall     Kind = "operation_call"

	KindStreamInit        Kind = "stream_init"
	KindStreamComplete    Kind = "stream_complete"
	KindStreamData        Kind = "stream_data"
	KindStreamDataWithAck Kind = "stream_data_with_ack"

	KindSubscriptionInit        Kind = "subscription_init"
	KindSubscriptionCancel      Kind = "subscription_cancel"
	KindSubscriptionComplete    Kind = "subscription_complete"
	KindSubscriptionData        Kind = "subscription_data"
	KindSubscriptionDataWithAck Kind = "subscription_data_with_ack"

	KindIngestInit        Kind = "ingest_init"
	KindIngestInitAck     Kind = "ingest_init_ack"
	KindIngestData        Kind = "ingest_data"
	KindIngestDataAck     Kind = "ingest_data_ack"
	KindIngestComplete    Kind = "ingest_complete"
	KindIngestDataWithAck Kind = "ingest_data_with_ack"

	KindAck    Kind = "ack"
	KindError  Kind = "error"
	KindCancel Kind = "cancel"
)

// Kinds lists every kind of the protocol in table order.
var Kinds = []Kind{
	KindConnectionInit, KindConnectionAck, KindPing, KindPong,
	KindInvoke, KindResponse, KindCall,
	KindStreamInit, KindStreamComplete, KindStreamData, KindStreamDataWithAck,
	KindSubscriptionInit, KindSubscriptionCancel, KindSubscriptionComplete,
	KindSubscriptionData, KindSubscriptionDataWithAck,
	KindIngestInit, KindIngestInitAck, KindIngestData, KindIngestDataAck,
	KindIngestComplete, KindIngestDataWithAck,
	KindAck, KindError, KindCancel,
}

var known = func() map[Kind]bool {
	m := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		m[k] = true
	}
	return m
}()

// Known reports whether k is part of the protocol. Envelopes of unknown kinds
// still decode so that newer peers can talk to older ones.
func (k Kind) Known() bool { return known[k] }

// Connection reports whether k is a session level message. Those carry a fresh
// id per message instead of a correlation id.
func (k Kind) Connection() bool {
	switch k {
	case KindConnectionInit, KindConnectionAck, KindPing, KindPong:
		return true
	}
	return false
}

// NeedsAck reports whether the receiver must acknowledge the envelope.
func (k Kind) NeedsAck() bool {
	switch k {
	case KindStreamDataWithAck, KindSubscriptionDataWithAck, KindIngestDataWithAck:
		return true
	}
	return false
}

// Acknowledgement reports whether k completes a pending reliable delivery.
func (k Kind) Acknowledgement() bool {
	return k == KindAck || k == KindIngestDataAck
}

// AckKind returns the kind a receiver answers an acked data message with.
func (k Kind) AckKind() Kind {
	if k == KindIngestDataWithAck {
		return KindIngestDataAck
	}
	return KindAck
}
