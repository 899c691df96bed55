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
	"errors"
	"fmt"
	"regexp"
)

// DecodeError is returned for frames that are not a valid envelope. ID holds
// the correlation id if it could be salvaged from the frame, in which case the
// receiver answers with an error envelope; otherwise the frame is dropped.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed envelope (id %s): %v", e.ID, e.Err)
	}
	return "malformed envelope: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errMissingType = errors.New("missing type")
	errEmptyFrame  = errors.New("empty frame")
)

// Encode serializes an envelope.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil || env.Type == "" {
		return nil, errMissingType
	}
	return json.Marshal(env)
}

// Decode parses a frame. Frames whose type is not part of the protocol decode
// fine; callers check Type.Known.
func Decode(frame []byte) (*Envelope, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, &DecodeError{Err: errEmptyFrame}
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{ID: recoverID(frame), Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{ID: env.ID, Err: errMissingType}
	}
	env.Payload, env.Data, env.Result = compact(env.Payload), compact(env.Data), compact(env.Result)
	return &env, nil
}

// idPattern finds a string id member in frames too broken for encoding/json.
var idPattern = regexp.MustCompile(`"id"\s*:\s*"((?:[^"\\]|\\.)*)"`)

func recoverID(frame []byte) string {
	var partial struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(frame, &partial) == nil && len(partial.ID) > 0 {
		var id string
		if json.Unmarshal(partial.ID, &id) == nil {
			return id
		}
		// Numeric ids are not part of the protocol but are worth echoing.
		return string(partial.ID)
	}
	if m := idPattern.FindSubmatch(frame); m != nil {
		var id string
		if json.Unmarshal(append(append([]byte{'"'}, m[1]...), '"'), &id) == nil {
			return id
		}
	}
	return ""
}
