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
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// OperationKind classifies how an operation exchanges data.
type OperationKind int

const (
	// Call is a request/response operation. Fire-and-forget calls use the same kind.
	Call OperationKind = iota
	// Stream pushes a finite sequence of items to the caller.
	Stream
	// Subscription pushes events to the caller until either side cancels.
	Subscription
	// Ingest consumes one or more client to server flows.
	Ingest
)

func (k OperationKind) String() string {
	switch k {
	case Call:
		return "call"
	case Stream:
		return "stream"
	case Subscription:
		return "subscription"
	case Ingest:
		return "ingest"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// shortHashLen is the number of hex characters kept in short signatures.
const shortHashLen = 6

// Descriptor describes one registered operation. Descriptors are created at
// registration and never modified afterwards.
type Descriptor struct {
	Contract string
	Name     string
	Params   []TypeTag
	Kind     OperationKind
}

func (d *Descriptor) paramList() string {
	var b strings.Builder
	for i, p := range d.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(p))
	}
	return b.String()
}

// Signature returns the readable signature, e.g. "Add(int,int)". It is used
// for diagnostics and accepted on the wire.
func (d *Descriptor) Signature() string {
	return d.Name + "(" + d.paramList() + ")"
}

// ShortSignature returns the compact wire identifier: the operation name
// followed by six hex characters of the Keccak-256 digest of the parameter
// list, e.g. "Add_a1b2c3".
func (d *Descriptor) ShortSignature() string {
	sum := keccak256([]byte(d.paramList()))
	return d.Name + "_" + hex.EncodeToString(sum)[:shortHashLen]
}

// ID returns a stable identity of the operation within a process and across
// builds: the hex Keccak-256 of contract, name and parameter shape.
func (d *Descriptor) ID() string {
	return hex.EncodeToString(keccak256([]byte(d.Contract + "." + d.Signature())))
}

// FullName returns "Contract.Signature".
func (d *Descriptor) FullName() string {
	return d.Contract + "." + d.Signature()
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s", d.Kind, d.FullName())
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
