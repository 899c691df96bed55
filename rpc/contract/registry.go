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
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Binding is a registered operation: its descriptor and the handler serving it.
type Binding struct {
	Descriptor *Descriptor
	Handler    Handler

	origin uint64
}

type contractTable struct {
	name    string
	bySig   map[string]*Binding // full signature
	byShort map[string]*Binding // short signature
}

func (t *contractTable) clone() *contractTable {
	c := &contractTable{
		name:    t.name,
		bySig:   make(map[string]*Binding, len(t.bySig)+1),
		byShort: make(map[string]*Binding, len(t.byShort)+1),
	}
	for k, v := range t.bySig {
		c.bySig[k] = v
	}
	for k, v := range t.byShort {
		c.byShort[k] = v
	}
	return c
}

// routes is an immutable view of the registry. Writers build a new view and
// swap it in; readers never lock.
type routes struct {
	contracts map[string]*contractTable
	global    map[string][]*Binding // either signature form, across contracts
}

// Registry maps operation signatures to handlers. It is built once at startup
// (and may be extended later); lookups are lock free.
// Registry 保存所有已注册的操作，查找时无需加锁。
type Registry struct {
	mu     sync.Mutex // serializes writers
	routes atomic.Pointer[routes]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := new(Registry)
	r.routes.Store(&routes{
		contracts: make(map[string]*contractTable),
		global:    make(map[string][]*Binding),
	})
	return r
}

// Contract returns a handle for registering operations of the named contract.
func (r *Registry) Contract(name string) *ContractBuilder {
	return &ContractBuilder{reg: r, name: name}
}

// ContractBuilder registers the operations of one contract.
type ContractBuilder struct {
	reg  *Registry
	name string
}

// Name returns the contract name.
func (c *ContractBuilder) Name() string { return c.name }

// Register adds op under name.
func (c *ContractBuilder) Register(name string, op Operation) error {
	desc := &Descriptor{Contract: c.name, Name: name, Params: op.Params, Kind: op.Kind}
	origin := op.origin
	if origin == 0 {
		origin = nextOrigin.Add(1)
	}
	return c.reg.register(desc, op.Handler, origin)
}

// Must is Register for static registration tables; it panics on error.
func (c *ContractBuilder) Must(name string, op Operation) *ContractBuilder {
	if err := c.Register(name, op); err != nil {
		panic(err)
	}
	return c
}

// Register adds a binding. Any reuse of a signature fails, as does a
// collision of short signatures. Use ContractBuilder.Register with an
// Operation for idempotent registration.
func (r *Registry) Register(desc *Descriptor, h Handler) error {
	return r.register(desc, h, nextOrigin.Add(1))
}

func (r *Registry) register(desc *Descriptor, h Handler, origin uint64) error {
	if err := validate(desc, h); err != nil {
		return err
	}
	d := *desc
	d.Params = append([]TypeTag(nil), desc.Params...)
	b := &Binding{Descriptor: &d, Handler: h, origin: origin}
	sig, short := d.Signature(), d.ShortSignature()

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.routes.Load()
	table := old.contracts[d.Contract]
	if table == nil {
		table = &contractTable{name: d.Contract, bySig: map[string]*Binding{}, byShort: map[string]*Binding{}}
	}
	if existing, ok := table.bySig[sig]; ok {
		if existing.Descriptor.Kind == d.Kind && existing.origin == origin {
			return nil
		}
		return &ValidationError{Operation: d.FullName(), Err: ErrDuplicateOperation}
	}
	if existing, ok := table.byShort[short]; ok {
		return &ValidationError{
			Operation: d.FullName(),
			Err:       fmt.Errorf("%w: %s and %s both map to %s", ErrSignatureCollision, existing.Descriptor.Signature(), sig, short),
		}
	}
	table = table.clone()
	table.bySig[sig] = b
	table.byShort[short] = b

	next := &routes{
		contracts: make(map[string]*contractTable, len(old.contracts)+1),
		global:    make(map[string][]*Binding, len(old.global)+2),
	}
	for k, v := range old.contracts {
		next.contracts[k] = v
	}
	next.contracts[d.Contract] = table
	for k, v := range old.global {
		next.global[k] = v
	}
	for _, key := range []string{sig, short} {
		next.global[key] = append(append([]*Binding(nil), old.global[key]...), b)
	}
	r.routes.Store(next)
	return nil
}

func validate(d *Descriptor, h Handler) error {
	fail := func(msg string) error {
		return &ValidationError{Operation: d.FullName(), Err: errors.New(msg)}
	}
	switch {
	case d.Contract == "":
		return fail("missing contract name")
	case d.Name == "":
		return fail("missing operation name")
	}
	for i, p := range d.Params {
		if p == "" {
			return fail(fmt.Sprintf("parameter %d has no type tag", i))
		}
	}
	set := 0
	for _, fn := range []any{h.Call, h.Stream, h.Ingest} {
		if !reflect.ValueOf(fn).IsNil() {
			set++
		}
	}
	if set != 1 {
		return fail("exactly one handler function must be set")
	}
	switch d.Kind {
	case Call:
		if h.Call == nil {
			return fail("call operation without call handler")
		}
	case Stream, Subscription:
		if h.Stream == nil {
			return fail(d.Kind.String() + " operation without stream handler")
		}
	case Ingest:
		if h.Ingest == nil {
			return fail("ingest operation without ingest handler")
		}
	default:
		return fail("unknown operation kind")
	}
	return nil
}

// Resolve finds the binding for an operation. op is either the full or the
// short signature. An empty contract searches all contracts and fails if the
// signature is not unique.
func (r *Registry) Resolve(contract, op string) (*Binding, error) {
	rt := r.routes.Load()
	if contract == "" {
		matches := rt.global[op]
		switch len(matches) {
		case 0:
			return nil, &RouteNotFoundError{Operation: op}
		case 1:
			return matches[0], nil
		}
		return nil, &RouteNotFoundError{Operation: op, Ambiguous: true}
	}
	if t := rt.contracts[contract]; t != nil {
		if b := t.bySig[op]; b != nil {
			return b, nil
		}
		if b := t.byShort[op]; b != nil {
			return b, nil
		}
	}
	return nil, &RouteNotFoundError{Contract: contract, Operation: op}
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	n := 0
	for _, t := range r.routes.Load().contracts {
		n += len(t.bySig)
	}
	return n
}

// OperationInfo describes a registered operation for diagnostics.
type OperationInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Signature string `json:"signature"`
	Short     string `json:"short"`
}

// ContractInfo lists the operations of a contract.
type ContractInfo struct {
	Name       string          `json:"name"`
	Operations []OperationInfo `json:"operations"`
}

// Contracts returns every contract with its operations, sorted by name.
func (r *Registry) Contracts() []ContractInfo {
	rt := r.routes.Load()
	infos := make([]ContractInfo, 0, len(rt.contracts))
	for _, t := range rt.contracts {
		ci := ContractInfo{Name: t.name}
		for _, b := range t.bySig {
			d := b.Descriptor
			ci.Operations = append(ci.Operations, OperationInfo{
				Name:      d.Name,
				Kind:      d.Kind.String(),
				Signature: d.Signature(),
				Short:     d.ShortSignature(),
			})
		}
		sort.Slice(ci.Operations, func(i, j int) bool {
			return ci.Operations[i].Signature < ci.Operations[j].Signature
		})
		infos = append(infos, ci)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
