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

package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Args holds the positional arguments of a call as a JSON array.
type Args json.RawMessage

// NewArgs encodes values as positional arguments.
func NewArgs(values ...any) (Args, error) {
	if values == nil {
		values = []any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return Args(raw), nil
}

// Raw returns the array encoding.
func (a Args) Raw() json.RawMessage {
	if len(a) == 0 {
		return json.RawMessage("[]")
	}
	return json.RawMessage(a)
}

// Split returns the encoded elements of the array. Missing or null arguments
// yield an empty list.
func (a Args) Split() ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(a)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, &ValidationError{Err: errors.New("non-array args")}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("invalid args: %w", err)}
	}
	return elems, nil
}

// Decode unmarshals the arguments into the given pointers. The number of
// arguments must match exactly.
func (a Args) Decode(targets ...any) error {
	elems, err := a.Split()
	if err != nil {
		return err
	}
	if len(elems) != len(targets) {
		return &ValidationError{Err: fmt.Errorf("expected %d arguments, got %d", len(targets), len(elems))}
	}
	for i, elem := range elems {
		if err := json.Unmarshal(elem, targets[i]); err != nil {
			return &ValidationError{Err: fmt.Errorf("invalid argument %d: %w", i, err)}
		}
	}
	return nil
}
