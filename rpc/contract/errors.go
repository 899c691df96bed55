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
	"errors"
	"fmt"
)

var (
	// ErrDuplicateOperation is returned when a signature is registered twice
	// with a different handler or kind.
	ErrDuplicateOperation = errors.New("operation already registered")

	// ErrSignatureCollision is returned when two distinct signatures of a
	// contract map to the same short signature.
	ErrSignatureCollision = errors.New("short signature collision")
)

// ValidationError reports a malformed registration or call. At registration it
// is a configuration error; while serving it fails only the offending call.
type ValidationError struct {
	Operation string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Operation == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RouteNotFoundError is returned when no operation matches a request.
type RouteNotFoundError struct {
	Contract  string
	Operation string
	Ambiguous bool // the bare signature matches operations of several contracts
}

func (e *RouteNotFoundError) Error() string {
	switch {
	case e.Ambiguous:
		return fmt.Sprintf("operation %s is ambiguous, specify the contract", e.Operation)
	case e.Contract == "":
		return fmt.Sprintf("operation %s not found", e.Operation)
	}
	return fmt.Sprintf("operation %s.%s not found", e.Contract, e.Operation)
}
