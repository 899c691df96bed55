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

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is a single protocol message. Which fields are meaningful depends on
// Type; see the constructors below. Envelopes are treated as immutable once
// built, the transport may hand the same value to several goroutines.
//
// The raw fields hold compact JSON. The constructors compact their input;
// Encode compacts too, so a hand-built envelope with insignificant
// whitespace in Payload, Data or Result decodes to the compact form.
type Envelope struct {
	Type    Kind            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Request is the transport agnostic operation request carried in the payload
// of operation_invoke, operation_call, stream_init, subscription_init and
// ingest_init. Operation accepts both the full and the short signature form.
type Request struct {
	Contract  string          `json:"contract,omitempty"`
	Operation string          `json:"op"`
	Args      json.RawMessage `json:"args,omitempty"`

	// Flows names the input flow ids of an ingest operation.
	Flows []string `json:"flows,omitempty"`
}

// Response is the operation response view of an operation_response envelope.
// Success implies Error is empty.
type Response struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// ErrorPayload rides in the payload of error envelopes.
type ErrorPayload struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *Envelope) String() string {
	if e.ID == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s{id=%s}", e.Type, e.ID)
}

// Request decodes the operation request from the payload.
func (e *Envelope) Request() (*Request, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%s without payload", e.Type)
	}
	var req Request
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	if req.Operation == "" {
		return nil, fmt.Errorf("%s payload lacks operation", e.Type)
	}
	return &req, nil
}

// Response returns the operation response carried by an operation_response.
func (e *Envelope) Response() Response {
	if e.Error != "" {
		return Response{Success: false, Error: e.Error}
	}
	return Response{Success: true, Data: e.Result}
}

// ErrorCode returns the numeric code of an error envelope, zero if absent.
func (e *Envelope) ErrorCode() int {
	if e.Type != KindError || len(e.Payload) == 0 {
		return 0
	}
	var p ErrorPayload
	if json.Unmarshal(e.Payload, &p) != nil {
		return 0
	}
	return p.Code
}

// NewConnectionInit opens a session.
func NewConnectionInit() *Envelope {
	return &Envelope{Type: KindConnectionInit}
}

// NewConnectionAck accepts a session; id is fresh and names the session.
func NewConnectionAck(id string) *Envelope {
	return &Envelope{Type: KindConnectionAck, ID: id}
}

func NewPing(id string) *Envelope { return &Envelope{Type: KindPing, ID: id} }
func NewPong(id string) *Envelope { return &Envelope{Type: KindPong, ID: id} }

// NewRequest builds one of the request carrying kinds.
func NewRequest(kind Kind, id string, req *Request) (*Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: kind, ID: id, Payload: payload}, nil
}

// NewResponse builds a successful operation_response.
func NewResponse(id string, result any) (*Envelope, error) {
	raw, err := marshalValue(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: KindResponse, ID: id, Result: raw}, nil
}

// NewFailure builds a failed operation_response.
func NewFailure(id, message string) *Envelope {
	if message == "" {
		message = "operation failed"
	}
	return &Envelope{Type: KindResponse, ID: id, Error: message}
}

// NewData builds a stream, subscription or ingest item. kind is one of the
// *_data kinds.
func NewData(kind Kind, id string, data json.RawMessage) *Envelope {
	return &Envelope{Type: kind, ID: id, Data: compact(data)}
}

// NewDataWithAck builds an item that has to be acknowledged with ackID.
func NewDataWithAck(kind Kind, id, ackID string, data json.RawMessage) *Envelope {
	return &Envelope{Type: kind, ID: id, AckID: ackID, Data: compact(data)}
}

// NewAck acknowledges the acked message ackID. kind is ack or ingest_data_ack.
func NewAck(kind Kind, ackID string) *Envelope {
	return &Envelope{Type: kind, ID: ackID}
}

// NewError reports a failed operation or flow.
func NewError(id string, code int, message string) *Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code})
	return &Envelope{Type: KindError, ID: id, Error: message, Payload: payload}
}

// NewControl builds the id-only control messages: cancel, subscription_cancel,
// the *_complete kinds and ingest_init_ack.
func NewControl(kind Kind, id string) *Envelope {
	return &Envelope{Type: kind, ID: id}
}

func marshalValue(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(x) == 0 {
			return json.RawMessage("null"), nil
		}
		return compact(x), nil
	}
	return json.Marshal(v)
}

// compact strips insignificant whitespace from raw. Invalid JSON is returned
// unchanged and rejected by Encode.
func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	if buf.Len() == len(raw) {
		return raw
	}
	return buf.Bytes()
}

// Marshal encodes an application value for the data or result field.
func Marshal(v any) (json.RawMessage, error) {
	return marshalValue(v)
}
