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
	"strings"
	"sync/atomic"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
)

// Ref addresses a heap slot. The zero Ref means "not allocated".
type Ref uint32

// arena holds counters shared by every generation forked from one root.
type arena struct {
	nextRef atomic.Uint32
	nextGen atomic.Uint32
}

// Heap is one generation of the value arena.
//
// Description:
//
//	A generation owns the slots written since it was forked and reads
//	everything else through its parent. Fork freezes the receiver: its
//	slots never change again, so sibling generations may read it
//	concurrently. Own copies a slot into the current generation on first
//	mutation; later mutations in the same generation hit the copy.
//
// Thread Safety:
//
//	A frozen Heap is safe for concurrent reads. A live Heap must be used by
//	one goroutine.
type Heap struct {
	arena   *arena
	gen     uint32
	parent  *Heap
	frozen  atomic.Bool
	slots   map[Ref]*Value
	statics map[string]Ref
}

// NewHeap creates the root generation.
func NewHeap() *Heap {
	a := &arena{}
	return &Heap{
		arena:   a,
		gen:     a.nextGen.Add(1),
		slots:   make(map[Ref]*Value),
		statics: make(map[string]Ref),
	}
}

// Generation returns the generation number.
func (h *Heap) Generation() uint32 { return h.gen }

// Frozen reports whether the heap has been forked.
func (h *Heap) Frozen() bool { return h.frozen.Load() }

// Fork freezes h and returns a new generation reading through to it.
// A frozen heap may be forked any number of times, once per branch.
func (h *Heap) Fork(ctx context.Context) (*Heap, error) {
	if err := failure.Check(ctx, "apexvalue.Heap.Fork"); err != nil {
		return nil, err
	}
	h.frozen.Store(true)
	return &Heap{
		arena:   h.arena,
		gen:     h.arena.nextGen.Add(1),
		parent:  h,
		slots:   make(map[Ref]*Value),
		statics: make(map[string]Ref),
	}, nil
}

func (h *Heap) writable(op string) error {
	if h.frozen.Load() {
		return failure.Newf(op, 0, failure.ErrSharedMutation, "heap generation %d is frozen", h.gen)
	}
	return nil
}

// Alloc stores v in a new slot and returns it. A value that already has a
// slot keeps it, so storing one value twice creates an alias.
func (h *Heap) Alloc(v *Value) (Ref, error) {
	if v == nil {
		return 0, failure.Newf("apexvalue.Heap.Alloc", 0, failure.ErrUnresolvable, "nil value")
	}
	if v.ref != 0 {
		return v.ref, nil
	}
	if err := h.writable("apexvalue.Heap.Alloc"); err != nil {
		return 0, err
	}
	ref := Ref(h.arena.nextRef.Add(1))
	v.ref, v.gen = ref, h.gen
	h.slots[ref] = v
	return ref, nil
}

// Load returns the current value of a slot, nil when absent.
func (h *Heap) Load(ref Ref) *Value {
	if ref == 0 {
		return nil
	}
	for cur := h; cur != nil; cur = cur.parent {
		if v, ok := cur.slots[ref]; ok {
			return v
		}
	}
	return nil
}

// Current returns the latest version of v visible from h. Values handed out
// before a mutation are stale; Current re-reads them by slot.
func (h *Heap) Current(v *Value) *Value {
	if v == nil || v.ref == 0 {
		return v
	}
	if cur := h.Load(v.ref); cur != nil {
		return cur
	}
	return v
}

// Own returns a version of the slot that this generation may mutate,
// copying it from an older generation on first use.
//
// Errors:
//
//	Structural ErrSharedMutation when h is frozen. Cancelled when ctx is
//	done while the payload is copied.
func (h *Heap) Own(ctx context.Context, ref Ref) (*Value, error) {
	if err := h.writable("apexvalue.Heap.Own"); err != nil {
		return nil, err
	}
	if v, ok := h.slots[ref]; ok {
		return v, nil
	}
	old := h.Load(ref)
	if old == nil {
		return nil, failure.Newf("apexvalue.Heap.Own", 0, failure.ErrUnresolvable, "slot %d not found", ref)
	}
	cp := *old
	cp.gen = h.gen
	cp.chain = append([]*Value(nil), old.chain...)
	if old.payload != nil {
		p, err := old.payload.clone(ctx)
		if err != nil {
			return nil, err
		}
		cp.payload = p
	}
	h.slots[ref] = &cp
	return &cp, nil
}

// mutable owns ref and checks the result belongs to this generation.
func (h *Heap) mutable(ctx context.Context, op string, ref Ref) (*Value, error) {
	v, err := h.Own(ctx, ref)
	if err != nil {
		return nil, err
	}
	if v.gen != h.gen {
		return nil, failure.Newf(op, 0, failure.ErrSharedMutation,
			"slot %d belongs to generation %d, not %d", ref, v.gen, h.gen)
	}
	return v, nil
}

// Add appends item to a list or set. Sets skip items whose determinate
// payload is already present.
//
// Errors:
//
//	Structural ErrCircularReference when item contains the collection.
func (h *Heap) Add(ctx context.Context, coll *Value, item *Value) error {
	const op = "apexvalue.Heap.Add"
	if coll == nil || coll.ref == 0 {
		return failure.Newf(op, 0, failure.ErrUnresolvable, "collection is not allocated")
	}
	itemRef, err := h.Alloc(item)
	if err != nil {
		return err
	}
	if h.reaches(itemRef, coll.ref) {
		return failure.Newf(op, vertexOf(coll), failure.ErrCircularReference,
			"%s would contain itself", DisplayName(coll))
	}
	owned, err := h.mutable(ctx, op, coll.ref)
	if err != nil {
		return err
	}
	p, ok := owned.payload.(*collectionPayload)
	if !ok {
		return failure.Newf(op, vertexOf(coll), failure.ErrUnresolvable, "%s is not a collection", owned.kind)
	}
	if owned.kind == KindSet {
		for _, r := range p.items {
			if SamePayload(h.Load(r), item) {
				return nil
			}
		}
	}
	p.items = append(p.items, itemRef)
	return nil
}

// Put stores key -> value in a map or object, replacing a matching key.
//
// Errors:
//
//	Structural ErrCircularReference when value contains the owner.
func (h *Heap) Put(ctx context.Context, owner, key, value *Value) error {
	const op = "apexvalue.Heap.Put"
	if owner == nil || owner.ref == 0 {
		return failure.Newf(op, 0, failure.ErrUnresolvable, "owner is not allocated")
	}
	valRef, err := h.Alloc(value)
	if err != nil {
		return err
	}
	if h.reaches(valRef, owner.ref) {
		return failure.Newf(op, vertexOf(owner), failure.ErrCircularReference,
			"%s would contain itself", DisplayName(owner))
	}
	owned, err := h.mutable(ctx, op, owner.ref)
	if err != nil {
		return err
	}
	p, ok := owned.payload.(*propertiesPayload)
	if !ok {
		return failure.Newf(op, vertexOf(owner), failure.ErrUnresolvable, "%s has no properties", owned.kind)
	}
	if i := p.props.find(h, key); i >= 0 {
		p.props.entries[i].value = valRef
		return nil
	}
	// Only a new entry takes a slot for its key.
	keyRef, err := h.Alloc(key)
	if err != nil {
		return err
	}
	p.props.entries = append(p.props.entries, propEntry{key: keyRef, value: valRef})
	return nil
}

// PutField stores an object field. Field names are case-insensitive.
func (h *Heap) PutField(ctx context.Context, owner *Value, name string, value *Value) error {
	return h.Put(ctx, owner, fieldKey(name), value)
}

// Constrain records c on the value's slot in this generation.
func (h *Heap) Constrain(ctx context.Context, v *Value, c Constraint) (*Value, error) {
	if v == nil || v.ref == 0 {
		return nil, failure.Newf("apexvalue.Heap.Constrain", 0, failure.ErrUnresolvable, "value is not allocated")
	}
	owned, err := h.mutable(ctx, "apexvalue.Heap.Constrain", v.ref)
	if err != nil {
		return nil, err
	}
	owned.constraints |= c
	return owned, nil
}

// Forget makes the slot indeterminate in this generation. It is used when a
// container is changed in a way the engine does not follow.
func (h *Heap) Forget(ctx context.Context, v *Value) error {
	if v == nil || v.ref == 0 {
		return failure.Newf("apexvalue.Heap.Forget", 0, failure.ErrUnresolvable, "value is not allocated")
	}
	owned, err := h.mutable(ctx, "apexvalue.Heap.Forget", v.ref)
	if err != nil {
		return err
	}
	owned.status = Indeterminate
	owned.null = false
	owned.payload = nil
	return nil
}

// Items returns the elements of a determinate list, set or for-loop value.
func (h *Heap) Items(v *Value) []*Value {
	var refs []Ref
	switch p := h.Current(v).known().(type) {
	case *collectionPayload:
		refs = p.items
	case *forLoopPayload:
		refs = p.items
	default:
		return nil
	}
	out := make([]*Value, 0, len(refs))
	for _, r := range refs {
		out = append(out, h.Load(r))
	}
	return out
}

// Properties returns the entries of a determinate map or object, in
// insertion order.
func (h *Heap) Properties(v *Value) []Property {
	p, ok := h.Current(v).known().(*propertiesPayload)
	if !ok {
		return nil
	}
	out := make([]Property, 0, len(p.props.entries))
	for _, e := range p.props.entries {
		out = append(out, Property{Key: h.Load(e.key), Value: h.Load(e.value)})
	}
	return out
}

// Get returns the value stored under key in a map or object.
func (h *Heap) Get(v *Value, key *Value) (*Value, bool) {
	p, ok := h.Current(v).known().(*propertiesPayload)
	if !ok {
		return nil, false
	}
	i := p.props.find(h, key)
	if i < 0 {
		return nil, false
	}
	return h.Load(p.props.entries[i].value), true
}

// Field returns an object field by case-insensitive name.
func (h *Heap) Field(v *Value, name string) (*Value, bool) {
	return h.Get(v, fieldKey(name))
}

// Static returns the holder object of a class's static fields, creating it
// in this generation on first use.
func (h *Heap) Static(class string) (*Value, error) {
	key := strings.ToLower(class)
	for cur := h; cur != nil; cur = cur.parent {
		if ref, ok := cur.statics[key]; ok {
			return h.Load(ref), nil
		}
	}
	if err := h.writable("apexvalue.Heap.Static"); err != nil {
		return nil, err
	}
	holder := newObject(class)
	ref, err := h.Alloc(holder)
	if err != nil {
		return nil, err
	}
	h.statics[key] = ref
	return holder, nil
}

// reaches reports whether target is reachable from ref through container
// payloads.
func (h *Heap) reaches(ref, target Ref) bool {
	seen := make(map[Ref]bool)
	stack := []Ref{ref}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r == target {
			return true
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		if v := h.Load(r); v != nil && v.payload != nil {
			stack = append(stack, v.payload.refs()...)
		}
	}
	return false
}

func fieldKey(name string) *Value {
	return &Value{kind: KindString, typ: "String", payload: stringPayload(strings.ToLower(name))}
}

func newObject(typ string) *Value {
	return &Value{kind: KindObject, typ: typ, payload: &propertiesPayload{props: &Properties{}}}
}

func vertexOf(v *Value) int64 {
	if v != nil && v.origin != nil {
		return int64(v.origin.ID)
	}
	return 0
}
