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
	"sort"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// SymbolProvider answers name lookups against a live scope.
type SymbolProvider interface {
	// Lookup returns the current value of a variable, field or static
	// field visible from the scope.
	Lookup(name string) (*Value, bool)

	// DeclaredType returns the declared type of a name.
	DeclaredType(name string) (string, bool)

	// This returns the receiver of the current activation.
	This() (*Value, bool)

	// Class returns the defining type of the current activation.
	Class() string

	// Heap returns the heap generation the scope reads and writes.
	Heap() *Heap
}

type binding struct {
	name string
	typ  string
	decl *graph.Vertex
	ref  Ref
}

// Frame is one activation scope: local variables, the receiver and the
// enclosing class. Names are case-insensitive.
//
// Description:
//
//	Lookup searches locals (innermost frame first), then fields of this,
//	then static fields of the class and its outer classes. Frames never
//	share binding maps; Fork copies them onto a new heap generation.
//
// Thread Safety: Not safe for concurrent use.
type Frame struct {
	heap   *Heap
	parent *Frame
	class  string
	this   Ref
	vars   map[string]*binding
}

var _ SymbolProvider = (*Frame)(nil)

// NewFrame creates a top-level frame for an activation of class.
func NewFrame(h *Heap, class string) *Frame {
	return &Frame{heap: h, class: class, vars: make(map[string]*binding)}
}

// Child creates a nested scope that shares this frame's receiver.
func (f *Frame) Child() *Frame {
	return &Frame{heap: f.heap, parent: f, class: f.class, this: f.this, vars: make(map[string]*binding)}
}

// Heap implements SymbolProvider.
func (f *Frame) Heap() *Heap { return f.heap }

// Class implements SymbolProvider.
func (f *Frame) Class() string { return f.class }

// SetThis binds the receiver, allocating it if needed.
func (f *Frame) SetThis(v *Value) error {
	ref, err := f.heap.Alloc(v)
	if err != nil {
		return err
	}
	for cur := f; cur != nil; cur = cur.parent {
		cur.this = ref
	}
	return nil
}

// This implements SymbolProvider.
func (f *Frame) This() (*Value, bool) {
	if f.this == 0 {
		return nil, false
	}
	v := f.heap.Load(f.this)
	return v, v != nil
}

// Declare binds a new local. A nil value declares it uninitialized.
func (f *Frame) Declare(name, typ string, decl *graph.Vertex, v *Value) error {
	if v == nil {
		var err error
		v, err = NewBuilder(f).Declaration(decl).Type(typ).Name(name).Uninitialized()
		if err != nil {
			return err
		}
	}
	ref, err := f.heap.Alloc(v)
	if err != nil {
		return err
	}
	f.vars[strings.ToLower(name)] = &binding{name: name, typ: typ, decl: decl, ref: ref}
	return nil
}

func (f *Frame) local(name string) (*Frame, *binding) {
	key := strings.ToLower(name)
	for cur := f; cur != nil; cur = cur.parent {
		if b, ok := cur.vars[key]; ok {
			return cur, b
		}
	}
	return nil, nil
}

// Lookup implements SymbolProvider.
func (f *Frame) Lookup(name string) (*Value, bool) {
	if name == "" {
		return nil, false
	}
	if strings.EqualFold(name, "this") {
		return f.This()
	}
	if _, b := f.local(name); b != nil {
		v := f.heap.Load(b.ref)
		return v, v != nil
	}
	if this, ok := f.This(); ok {
		if v, ok := f.heap.Field(this, name); ok {
			return v, true
		}
	}
	for _, class := range enclosingClasses(f.class) {
		if holder := f.staticHolder(class); holder != nil {
			if v, ok := f.heap.Field(holder, name); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// DeclaredType implements SymbolProvider.
func (f *Frame) DeclaredType(name string) (string, bool) {
	if _, b := f.local(name); b != nil && b.typ != "" {
		return b.typ, true
	}
	if v, ok := f.Lookup(name); ok && v.typ != "" {
		return v.typ, true
	}
	return "", false
}

// Assign rebinds a local, or stores a field of this or a static field.
//
// Errors:
//
//	Structural ErrUnresolvable when no local, field or static field of that
//	name exists.
func (f *Frame) Assign(ctx context.Context, name string, v *Value) error {
	if _, b := f.local(name); b != nil {
		ref, err := f.heap.Alloc(v)
		if err != nil {
			return err
		}
		b.ref = ref
		return nil
	}
	if this, ok := f.This(); ok {
		if _, ok := f.heap.Field(this, name); ok {
			return f.heap.PutField(ctx, this, name, v)
		}
	}
	for _, class := range enclosingClasses(f.class) {
		if holder := f.staticHolder(class); holder != nil {
			if _, ok := f.heap.Field(holder, name); ok {
				return f.heap.PutField(ctx, holder, name, v)
			}
		}
	}
	return failure.Newf("apexvalue.Frame.Assign", vertexOf(v), failure.ErrUnresolvable, "no variable %q in scope", name)
}

// LookupForUpdate returns the value bound to name, owned by the current
// generation so it may be mutated.
func (f *Frame) LookupForUpdate(ctx context.Context, name string) (*Value, error) {
	v, ok := f.Lookup(name)
	if !ok {
		return nil, failure.Newf("apexvalue.Frame.LookupForUpdate", 0, failure.ErrUnresolvable, "no variable %q in scope", name)
	}
	if v.ref == 0 {
		return v, nil
	}
	return f.heap.Own(ctx, v.ref)
}

// OwnProperty stores key -> value on the owner in the current generation.
func (f *Frame) OwnProperty(ctx context.Context, owner, key, value *Value) error {
	return f.heap.Put(ctx, owner, key, value)
}

// DeclareStatic registers a static field of class.
func (f *Frame) DeclareStatic(ctx context.Context, class, name string, v *Value) error {
	holder, err := f.heap.Static(class)
	if err != nil {
		return err
	}
	return f.heap.PutField(ctx, holder, name, v)
}

// Static returns the static field holder of class if it was initialized.
func (f *Frame) Static(class string) (*Value, bool) {
	h := f.staticHolder(class)
	return h, h != nil
}

func (f *Frame) staticHolder(class string) *Value {
	key := strings.ToLower(class)
	for cur := f.heap; cur != nil; cur = cur.parent {
		if ref, ok := cur.statics[key]; ok {
			return f.heap.Load(ref)
		}
	}
	return nil
}

// Names returns the visible local names, sorted.
func (f *Frame) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for cur := f; cur != nil; cur = cur.parent {
		for _, b := range cur.vars {
			key := strings.ToLower(b.name)
			if !seen[key] {
				seen[key] = true
				out = append(out, b.name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Fork freezes the current heap generation and returns a copy of the frame
// chain bound to a new generation.
//
// Errors:
//
//	Cancelled when ctx is done while bindings are copied.
func (f *Frame) Fork(ctx context.Context) (*Frame, error) {
	h, err := f.heap.Fork(ctx)
	if err != nil {
		return nil, err
	}
	return f.rebind(ctx, h)
}

// Rebind copies the frame chain onto h, which must be a descendant
// generation of the frame's heap.
func (f *Frame) Rebind(ctx context.Context, h *Heap) (*Frame, error) {
	return f.rebind(ctx, h)
}

func (f *Frame) rebind(ctx context.Context, h *Heap) (*Frame, error) {
	var parent *Frame
	if f.parent != nil {
		p, err := f.parent.rebind(ctx, h)
		if err != nil {
			return nil, err
		}
		parent = p
	}
	out := &Frame{heap: h, parent: parent, class: f.class, this: f.this, vars: make(map[string]*binding, len(f.vars))}
	for k, b := range f.vars {
		if err := failure.Check(ctx, "apexvalue.Frame.Fork"); err != nil {
			return nil, err
		}
		cp := *b
		out.vars[k] = &cp
	}
	return out, nil
}

// enclosingClasses returns class followed by each outer class of a dotted
// inner-class name: "A.B.C" -> ["A.B.C", "A.B", "A"].
func enclosingClasses(class string) []string {
	var out []string
	for c := class; c != ""; {
		out = append(out, c)
		i := strings.LastIndexByte(c, '.')
		if i < 0 {
			break
		}
		c = c[:i]
	}
	return out
}
