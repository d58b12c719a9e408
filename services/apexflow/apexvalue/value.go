// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apexvalue models symbolic Apex values and the scopes that hold
// them.
//
// A Value is either determinate (its payload is known), indeterminate (only
// its type is known) or uninitialized. Values live in a Heap: an arena of
// slots addressed by Ref. Forking a heap freezes it and starts a new
// generation that reads through to its parent; the first mutation of an
// older value clones it into the current generation. Branches therefore
// never observe each other's writes, and aliasing (two names referring to
// the same list) is preserved because references are by slot.
//
// # Thread Safety
//
// A frozen Heap and every Value it holds may be read from any goroutine.
// A live (unfrozen) Heap and its Frames belong to one goroutine.
package apexvalue

import (
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Status is the evaluation state of a value.
type Status int

const (
	// Initialized values carry a known payload or a determinate null.
	Initialized Status = iota

	// Indeterminate values have a known type but unknown contents.
	Indeterminate

	// Uninitialized values were declared and never assigned.
	Uninitialized
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Indeterminate:
		return "indeterminate"
	case Uninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

// Kind is the payload family of a value.
type Kind int

const (
	KindGeneric Kind = iota
	KindString
	KindInteger
	KindDecimal
	KindBoolean
	KindList
	KindSet
	KindMap
	KindObject
	KindForLoop
)

var kindNames = [...]string{
	KindGeneric: "generic",
	KindString:  "string",
	KindInteger: "integer",
	KindDecimal: "decimal",
	KindBoolean: "boolean",
	KindList:    "list",
	KindSet:     "set",
	KindMap:     "map",
	KindObject:  "object",
	KindForLoop: "for_loop",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsCollection reports whether the kind holds ordered items.
func (k Kind) IsCollection() bool {
	return k == KindList || k == KindSet
}

// Constraint is a set of facts recorded about a value on one path.
type Constraint uint8

const (
	// NotNull records that the value was compared != null and the path
	// took the branch where that held.
	NotNull Constraint = 1 << iota

	// Null records the opposite fact.
	Null
)

// Has reports whether all bits of c2 are set.
func (c Constraint) Has(c2 Constraint) bool { return c&c2 == c2 }

// Value is one symbolic value.
//
// Description:
//
//	Values are created by Builder and are immutable to callers. A value
//	that is not yet stored in a Heap has Ref 0; storing it allocates a slot.
//	Container payloads refer to their elements by Ref, so element access
//	goes through the Heap (Items, Properties, Field).
type Value struct {
	ref Ref
	gen uint32

	kind         Kind
	status       Status
	typ          string
	name         string
	decl         *graph.Vertex
	origin       *graph.Vertex
	returnedFrom *Value
	invocable    *graph.Vertex
	chain        []*Value
	null         bool
	constraints  Constraint

	payload payload
}

// Ref returns the heap slot of the value, 0 when unallocated.
func (v *Value) Ref() Ref { return v.ref }

// Kind returns the payload family.
func (v *Value) Kind() Kind { return v.kind }

// Status returns the evaluation state.
func (v *Value) Status() Status { return v.status }

// Type returns the declared static type, "" when unknown.
func (v *Value) Type() string { return v.typ }

// Name returns the variable name the value was bound to when built.
func (v *Value) Name() string { return v.name }

// Declaration returns the declaring vertex, nil when unknown.
func (v *Value) Declaration() *graph.Vertex { return v.decl }

// Origin returns the vertex that produced the value.
func (v *Value) Origin() *graph.Vertex { return v.origin }

// ReturnedFrom returns the value this one was returned from, if any.
func (v *Value) ReturnedFrom() *Value { return v.returnedFrom }

// Invocable returns the call site that returned this value, if any.
func (v *Value) Invocable() *graph.Vertex { return v.invocable }

// Chain returns the ordered ancestor values (receiver chain).
func (v *Value) Chain() []*Value {
	out := make([]*Value, len(v.chain))
	copy(out, v.chain)
	return out
}

// Constraints returns the facts recorded on this path.
func (v *Value) Constraints() Constraint { return v.constraints }

// IsDeterminate reports whether the payload (or nullness) is known.
func (v *Value) IsDeterminate() bool { return v.status == Initialized }

// IsIndeterminate reports whether the value is indeterminate.
func (v *Value) IsIndeterminate() bool { return v.status == Indeterminate }

// IsNull reports whether the value is determinately null.
func (v *Value) IsNull() bool { return v.status == Initialized && v.null }

// Text returns the string payload of a determinate, non-null string value.
func (v *Value) Text() (string, bool) {
	if p, ok := v.known().(stringPayload); ok {
		return string(p), true
	}
	return "", false
}

// Int returns the integer payload.
func (v *Value) Int() (int64, bool) {
	if p, ok := v.known().(integerPayload); ok {
		return int64(p), true
	}
	return 0, false
}

// Decimal returns the decimal payload.
func (v *Value) Decimal() (float64, bool) {
	switch p := v.known().(type) {
	case decimalPayload:
		return p.f, true
	case integerPayload:
		return float64(p), true
	}
	return 0, false
}

// Bool returns the boolean payload.
func (v *Value) Bool() (bool, bool) {
	if p, ok := v.known().(booleanPayload); ok {
		return bool(p), true
	}
	return false, false
}

// Len returns the number of elements of a determinate container.
func (v *Value) Len() (int, bool) {
	switch p := v.known().(type) {
	case *collectionPayload:
		return len(p.items), true
	case *propertiesPayload:
		return len(p.props.entries), true
	case *forLoopPayload:
		return len(p.items), true
	}
	return 0, false
}

// known returns the payload only when the value may expose it.
func (v *Value) known() payload {
	if v == nil || v.status != Initialized || v.null {
		return nil
	}
	return v.payload
}

// Equal reports whether two values are behaviorally equal: same
// declaration, status, kind, type, nullness and payload. Container payloads
// compare by element slot, not by element contents.
func Equal(a, b *Value) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.decl != b.decl && (a.decl == nil || b.decl == nil || a.decl.ID != b.decl.ID) {
		return false
	}
	if a.status != b.status || a.kind != b.kind || a.null != b.null {
		return false
	}
	if !strings.EqualFold(a.typ, b.typ) {
		return false
	}
	if a.status != Initialized {
		return true
	}
	return payloadEqual(a.payload, b.payload)
}

// SamePayload reports whether two determinate scalar values carry equal
// payloads, ignoring declaration and type. Indeterminate values never match.
func SamePayload(a, b *Value) bool {
	if a == nil || b == nil || !a.IsDeterminate() || !b.IsDeterminate() {
		return false
	}
	if a.null || b.null {
		return a.null && b.null
	}
	if af, ok := a.Decimal(); ok {
		bf, ok := b.Decimal()
		return ok && af == bf
	}
	return payloadEqual(a.payload, b.payload)
}

// DisplayName derives a name for end-user messages: the declared static
// type, then the variable name, then the label of the producing vertex.
func DisplayName(v *Value) string {
	switch {
	case v == nil:
		return ""
	case v.typ != "":
		return v.typ
	case v.name != "":
		return v.name
	case v.origin != nil:
		return v.origin.Label
	default:
		return ""
	}
}

// KindForType maps a declared Apex type to a payload family.
func KindForType(typ string) Kind {
	t := strings.ToLower(strings.TrimSpace(typ))
	switch {
	case t == "":
		return KindGeneric
	case t == "string" || t == "id":
		return KindString
	case t == "integer" || t == "long":
		return KindInteger
	case t == "decimal" || t == "double":
		return KindDecimal
	case t == "boolean":
		return KindBoolean
	case strings.HasPrefix(t, "list<") || strings.HasSuffix(t, "[]"):
		return KindList
	case strings.HasPrefix(t, "set<"):
		return KindSet
	case strings.HasPrefix(t, "map<"):
		return KindMap
	case t == "object" || strings.HasPrefix(t, "schema.") || strings.HasPrefix(t, "system."):
		return KindGeneric
	default:
		return KindObject
	}
}

// ElementType returns T for List<T>, Set<T> and T[], "" otherwise.
func ElementType(typ string) string {
	t := strings.TrimSpace(typ)
	if strings.HasSuffix(t, "[]") {
		return strings.TrimSpace(strings.TrimSuffix(t, "[]"))
	}
	open := strings.IndexByte(t, '<')
	if open < 0 || !strings.HasSuffix(t, ">") {
		return ""
	}
	switch strings.ToLower(t[:open]) {
	case "list", "set":
		return strings.TrimSpace(t[open+1 : len(t)-1])
	}
	return ""
}
