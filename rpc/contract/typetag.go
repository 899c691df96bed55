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
	"fmt"
	"reflect"
	"strings"
)

// TypeTag is the canonical name of a parameter type. Tags of named types are
// qualified with their package path; composite types are spelled out
// recursively, generic arguments included.
//
//	int                                   int
//	[]string                              []string
//	map[string][]*shop.Order              map[string][]*github.com/acme/shop.Order
//	shop.Page[shop.Order]                 github.com/acme/shop.Page[github.com/acme/shop.Order]
type TypeTag string

// Tag returns the tag of T. It is meant for registration time; the router
// never inspects types while serving.
func Tag[T any]() TypeTag {
	return TagOf(reflect.TypeFor[T]())
}

// TagOf returns the tag of t.
func TagOf(t reflect.Type) TypeTag {
	var b strings.Builder
	writeType(&b, t)
	return TypeTag(b.String())
}

// Params collects tags into an ordered parameter shape.
func Params(tags ...TypeTag) []TypeTag {
	return tags
}

func writeType(b *strings.Builder, t reflect.Type) {
	if t == nil {
		b.WriteString("nil")
		return
	}
	if name := t.Name(); name != "" {
		// Instantiated generics carry their qualified arguments in Name.
		if pkg := t.PkgPath(); pkg != "" {
			b.WriteString(pkg)
			b.WriteByte('.')
		}
		b.WriteString(name)
		return
	}
	switch t.Kind() {
	case reflect.Pointer:
		b.WriteByte('*')
		writeType(b, t.Elem())
	case reflect.Slice:
		b.WriteString("[]")
		writeType(b, t.Elem())
	case reflect.Array:
		fmt.Fprintf(b, "[%d]", t.Len())
		writeType(b, t.Elem())
	case reflect.Map:
		b.WriteString("map[")
		writeType(b, t.Key())
		b.WriteByte(']')
		writeType(b, t.Elem())
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			b.WriteString("<-chan ")
		case reflect.SendDir:
			b.WriteString("chan<- ")
		default:
			b.WriteString("chan ")
		}
		writeType(b, t.Elem())
	case reflect.Func:
		b.WriteString("func(")
		for i := 0; i < t.NumIn(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if t.IsVariadic() && i == t.NumIn()-1 {
				b.WriteString("...")
				writeType(b, t.In(i).Elem())
				continue
			}
			writeType(b, t.In(i))
		}
		b.WriteByte(')')
		if t.NumOut() > 0 {
			b.WriteString("(")
			for i := 0; i < t.NumOut(); i++ {
				if i > 0 {
					b.WriteByte(',')
				}
				writeType(b, t.Out(i))
			}
			b.WriteString(")")
		}
	case reflect.Struct:
		b.WriteString("struct{")
		for i := 0; i < t.NumField(); i++ {
			if i > 0 {
				b.WriteByte(';')
			}
			f := t.Field(i)
			if !f.Anonymous {
				b.WriteString(f.Name)
				b.WriteByte(' ')
			}
			writeType(b, f.Type)
			if f.Tag != "" {
				fmt.Fprintf(b, " %q", f.Tag)
			}
		}
		b.WriteByte('}')
	case reflect.Interface:
		if t.NumMethod() == 0 {
			b.WriteString("any")
			return
		}
		b.WriteString("interface{")
		for i := 0; i < t.NumMethod(); i++ {
			if i > 0 {
				b.WriteByte(';')
			}
			m := t.Method(i)
			b.WriteString(m.Name)
			b.WriteString(strings.TrimPrefix(string(TagOf(m.Type)), "func"))
		}
		b.WriteByte('}')
	default:
		b.WriteString(t.String())
	}
}
