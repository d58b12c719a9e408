// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apexvalue

import (
	"context"
	"strconv"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Builder assembles a Value from optional metadata and one terminal call.
//
// Description:
//
//	Metadata setters return the builder so calls chain. Terminal methods
//	(String, Integer, List, ...) produce the value. Container terminals
//	store their elements in the provider's heap and fail without one.
//
// Example:
//
//	v, err := apexvalue.NewBuilder(frame).Declaration(decl).Type("String").String("abc")
//
// Thread Safety: Not safe for concurrent use.
type Builder struct {
	provider     SymbolProvider
	decl         *graph.Vertex
	origin       *graph.Vertex
	status       Status
	typ          string
	name         string
	returnedFrom *Value
	invocable    *graph.Vertex
	chain        []*Value
	err          error
}

// NewBuilder creates a builder. provider may be nil for scalar values.
func NewBuilder(provider SymbolProvider) *Builder {
	return &Builder{provider: provider}
}

// Declaration sets the declaring vertex.
func (b *Builder) Declaration(v *graph.Vertex) *Builder {
	b.decl = v
	return b
}

// Origin sets the vertex that produced the value.
func (b *Builder) Origin(v *graph.Vertex) *Builder {
	b.origin = v
	return b
}

// Status overrides the status of a payload-carrying terminal.
func (b *Builder) Status(s Status) *Builder {
	b.status = s
	return b
}

// Type sets the declared type.
func (b *Builder) Type(t string) *Builder {
	b.typ = t
	return b
}

// Name sets the variable name.
func (b *Builder) Name(n string) *Builder {
	b.name = n
	return b
}

// Chain sets the receiver chain, outermost first.
func (b *Builder) Chain(vals ...*Value) *Builder {
	b.chain = append([]*Value(nil), vals...)
	return b
}

// ReturnedFrom records the value and call site this value was returned
// from. A chain of returnedFrom links that loops back is rejected when the
// terminal is called.
func (b *Builder) ReturnedFrom(v *Value, invocable *graph.Vertex) *Builder {
	seen := make(map[*Value]bool)
	for cur := v; cur != nil; cur = cur.returnedFrom {
		if seen[cur] {
			b.err = failure.Newf("apexvalue.Builder.ReturnedFrom", vertexID(invocable), failure.ErrCircularReference,
				"returnedFrom chain of %s loops", DisplayName(v))
			return b
		}
		seen[cur] = true
	}
	b.returnedFrom = v
	b.invocable = invocable
	return b
}

func (b *Builder) base(kind Kind, typ string) (*Value, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.typ != "" {
		typ = b.typ
	}
	return &Value{
		kind:         kind,
		status:       b.status,
		typ:          typ,
		name:         b.name,
		decl:         b.decl,
		origin:       b.origin,
		returnedFrom: b.returnedFrom,
		invocable:    b.invocable,
		chain:        b.chain,
	}, nil
}

func (b *Builder) scalar(kind Kind, typ string, p payload) (*Value, error) {
	v, err := b.base(kind, typ)
	if err != nil {
		return nil, err
	}
	if v.status == Initialized {
		v.payload = p
	}
	return v, nil
}

// String builds a determinate string.
func (b *Builder) String(s string) (*Value, error) {
	return b.scalar(KindString, "String", stringPayload(s))
}

// Integer builds a determinate integer.
func (b *Builder) Integer(n int64) (*Value, error) {
	return b.scalar(KindInteger, "Integer", integerPayload(n))
}

// Decimal builds a determinate decimal from its source text.
func (b *Builder) Decimal(text string) (*Value, error) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, failure.Newf("apexvalue.Builder.Decimal", vertexID(b.origin), failure.ErrUnresolvable,
			"bad decimal literal %q", text)
	}
	return b.scalar(KindDecimal, "Decimal", decimalPayload{f: f, text: text})
}

// Boolean builds a determinate boolean.
func (b *Builder) Boolean(x bool) (*Value, error) {
	return b.scalar(KindBoolean, "Boolean", booleanPayload(x))
}

// Null builds a determinate null of the builder's type.
func (b *Builder) Null() (*Value, error) {
	v, err := b.base(KindForType(b.typ), "")
	if err != nil {
		return nil, err
	}
	v.status = Initialized
	v.null = true
	return v, nil
}

// Indeterminate builds a value with a known type and unknown contents.
func (b *Builder) Indeterminate() (*Value, error) {
	v, err := b.base(KindForType(b.typ), "")
	if err != nil {
		return nil, err
	}
	v.status = Indeterminate
	return v, nil
}

// Uninitialized builds the value of a declared, unassigned variable.
func (b *Builder) Uninitialized() (*Value, error) {
	v, err := b.base(KindForType(b.typ), "")
	if err != nil {
		return nil, err
	}
	v.status = Uninitialized
	return v, nil
}

// Generic builds an indeterminate value of a type the engine does not model.
func (b *Builder) Generic() (*Value, error) {
	v, err := b.base(KindGeneric, "")
	if err != nil {
		return nil, err
	}
	v.status = Indeterminate
	return v, nil
}

// List builds a determinate list of items.
func (b *Builder) List(items ...*Value) (*Value, error) {
	return b.collection(KindList, "List<Object>", items)
}

// Set builds a determinate set; duplicate determinate items are dropped.
func (b *Builder) Set(items ...*Value) (*Value, error) {
	return b.collection(KindSet, "Set<Object>", items)
}

// ForLoop builds the value of a loop variable over known elements.
func (b *Builder) ForLoop(items ...*Value) (*Value, error) {
	return b.collection(KindForLoop, "", items)
}

func (b *Builder) collection(kind Kind, typ string, items []*Value) (*Value, error) {
	h, err := b.heap()
	if err != nil {
		return nil, err
	}
	v, err := b.base(kind, typ)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(items))
outer:
	for _, it := range items {
		if kind == KindSet {
			for _, r := range refs {
				if SamePayload(h.Load(r), it) {
					continue outer
				}
			}
		}
		r, err := h.Alloc(it)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	if kind == KindForLoop {
		v.payload = &forLoopPayload{items: refs}
	} else {
		v.payload = &collectionPayload{items: refs}
	}
	if _, err := h.Alloc(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Map builds a determinate map from alternating keys and values.
func (b *Builder) Map(kv ...*Value) (*Value, error) {
	if len(kv)%2 != 0 {
		return nil, failure.Newf("apexvalue.Builder.Map", vertexID(b.origin), failure.ErrUnresolvable,
			"odd number of key/value operands: %d", len(kv))
	}
	v, err := b.properties(KindMap, "Map<Object,Object>")
	if err != nil {
		return nil, err
	}
	h := b.provider.Heap()
	for i := 0; i < len(kv); i += 2 {
		if err := h.Put(context.Background(), v, kv[i], kv[i+1]); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Object builds an instance with no fields set yet.
func (b *Builder) Object() (*Value, error) {
	return b.properties(KindObject, "Object")
}

func (b *Builder) properties(kind Kind, typ string) (*Value, error) {
	h, err := b.heap()
	if err != nil {
		return nil, err
	}
	v, err := b.base(kind, typ)
	if err != nil {
		return nil, err
	}
	v.payload = &propertiesPayload{props: &Properties{}}
	if _, err := h.Alloc(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (b *Builder) heap() (*Heap, error) {
	if b.provider == nil || b.provider.Heap() == nil {
		return nil, failure.Newf("apexvalue.Builder", vertexID(b.origin), failure.ErrUnresolvable,
			"container values need a symbol provider")
	}
	return b.provider.Heap(), nil
}

func vertexID(v *graph.Vertex) int64 {
	if v == nil {
		return 0
	}
	return int64(v.ID)
}
