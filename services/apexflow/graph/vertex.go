// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// VertexID is the stable integer identity of a vertex.
type VertexID int64

// Vertex is one AST node.
//
// Description:
//
//	Vertices are immutable once the owning graph is frozen. Two vertices are
//	the same vertex iff their IDs are equal; pointers handed out by a Graph
//	are stable for its lifetime.
//
// Thread Safety: Safe for concurrent reads after Freeze().
type Vertex struct {
	// ID is the stable identity of the vertex.
	ID VertexID `json:"id"`

	// Label is the node kind (see Label* constants).
	Label string `json:"label"`

	// Props holds the node's properties. Values are string, int64 or bool.
	Props map[string]any `json:"props,omitempty"`

	parent   VertexID
	children []VertexID
	childIdx int
}

// String returns "Label#ID".
func (v *Vertex) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", v.Label, v.ID)
}

// Is reports whether the vertex carries one of the given labels.
func (v *Vertex) Is(labels ...string) bool {
	if v == nil {
		return false
	}
	for _, l := range labels {
		if v.Label == l {
			return true
		}
	}
	return false
}

// Str returns a string property or "".
func (v *Vertex) Str(key string) string {
	if v == nil {
		return ""
	}
	switch val := v.Props[key].(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// Int returns an integer property or 0.
func (v *Vertex) Int(key string) int64 {
	if v == nil {
		return 0
	}
	switch val := v.Props[key].(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

// Bool returns a boolean property or false.
func (v *Vertex) Bool(key string) bool {
	if v == nil {
		return false
	}
	switch val := v.Props[key].(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true")
	default:
		return false
	}
}

// Strings returns a comma separated property as a slice.
func (v *Vertex) Strings(key string) []string {
	raw := v.Str(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChildIndex returns the position of the vertex among its parent's children.
func (v *Vertex) ChildIndex() int {
	return v.childIdx
}

// Name returns PropName.
func (v *Vertex) Name() string { return v.Str(PropName) }

// DefiningType returns PropDefiningType.
func (v *Vertex) DefiningType() string { return v.Str(PropDefiningType) }

// Line returns PropBeginLine.
func (v *Vertex) Line() int { return int(v.Int(PropBeginLine)) }
