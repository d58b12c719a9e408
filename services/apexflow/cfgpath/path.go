// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfgpath

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Polarity is the resolved branch outcome of a condition on one path.
type Polarity int

const (
	// Unknown means the path does not leave the condition.
	Unknown Polarity = iota

	// Positive means the path took the then branch.
	Positive

	// Negative means the path took the else branch or fell through.
	Negative
)

// String returns the polarity name.
func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "unknown"
	}
}

// Expansion records the callee path substituted for one call site.
type Expansion struct {
	// Statement is the path vertex that contains the call site.
	Statement *graph.Vertex

	// CallSite is the invocable expression.
	CallSite *graph.Vertex

	// Path is the callee path, itself possibly expanded.
	Path *Path
}

// Path is one concrete route through a method's CFG.
//
// Description:
//
//	Vertices are ordered in execution order for both forward and backward
//	enumeration. The vertex slice is shared between clones and must not be
//	modified; polarities and expansions are copied on Clone.
//
// Thread Safety: Immutable once returned by the enumerator or expander.
type Path struct {
	// Method is the method that owns the path.
	Method *graph.Vertex

	// Vertices are the CFG vertices in execution order.
	Vertices []*graph.Vertex

	// EndsInException is set when the last vertex is a throw statement.
	EndsInException bool

	// ThrowVertex is the terminal throw statement, nil otherwise.
	ThrowVertex *graph.Vertex

	// Synthetic marks a single-vertex path for a method without a body.
	Synthetic bool

	polarities map[graph.VertexID]Polarity
	conditions []graph.VertexID
	expansions []Expansion
}

// Len returns the number of vertices.
func (p *Path) Len() int { return len(p.Vertices) }

// Last returns the final vertex, or nil for an empty path.
func (p *Path) Last() *graph.Vertex {
	if len(p.Vertices) == 0 {
		return nil
	}
	return p.Vertices[len(p.Vertices)-1]
}

// IndexOf returns the position of the vertex with id, or -1.
func (p *Path) IndexOf(id graph.VertexID) int {
	for i, v := range p.Vertices {
		if v.ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the path visits the vertex with id.
func (p *Path) Contains(id graph.VertexID) bool {
	return p.IndexOf(id) >= 0
}

// Polarity returns the polarity assigned to a condition on this path.
func (p *Path) Polarity(cond graph.VertexID) Polarity {
	return p.polarities[cond]
}

// Conditions returns the conditions with an assigned polarity, in path order.
func (p *Path) Conditions() []graph.VertexID {
	out := make([]graph.VertexID, len(p.conditions))
	copy(out, p.conditions)
	return out
}

// SetPolarity assigns a polarity to cond.
//
// Errors:
//
//	Returns a Structural failure wrapping failure.ErrPolarityReassigned when
//	cond already carries a different polarity.
func (p *Path) SetPolarity(cond graph.VertexID, pol Polarity) error {
	if p.polarities == nil {
		p.polarities = make(map[graph.VertexID]Polarity)
	}
	if existing, ok := p.polarities[cond]; ok {
		if existing == pol {
			return nil
		}
		return failure.Newf("cfgpath.SetPolarity", int64(cond), failure.ErrPolarityReassigned,
			"%s then %s", existing, pol)
	}
	p.polarities[cond] = pol
	p.conditions = append(p.conditions, cond)
	return nil
}

// Expansions returns the substituted call sites in discovery order.
func (p *Path) Expansions() []Expansion {
	out := make([]Expansion, len(p.expansions))
	copy(out, p.expansions)
	return out
}

// Expansion returns the callee path substituted for a call site.
func (p *Path) Expansion(callSite graph.VertexID) (*Path, bool) {
	for _, e := range p.expansions {
		if e.CallSite.ID == callSite {
			return e.Path, true
		}
	}
	return nil, false
}

// WithExpansion returns a clone of p with one more substituted call site.
func (p *Path) WithExpansion(e Expansion) *Path {
	c := p.Clone()
	c.expansions = append(c.expansions, e)
	return c
}

// Clone returns a copy that shares the vertex slice.
func (p *Path) Clone() *Path {
	c := *p
	c.polarities = make(map[graph.VertexID]Polarity, len(p.polarities))
	for k, v := range p.polarities {
		c.polarities[k] = v
	}
	c.conditions = append([]graph.VertexID(nil), p.conditions...)
	c.expansions = append([]Expansion(nil), p.expansions...)
	return &c
}

// Truncate returns a clone holding the first n vertices. Polarities and
// expansions of dropped vertices are removed.
func (p *Path) Truncate(n int) *Path {
	if n >= len(p.Vertices) {
		return p.Clone()
	}
	c := p.Clone()
	c.Vertices = p.Vertices[:n:n]
	c.polarities = make(map[graph.VertexID]Polarity)
	c.conditions = c.conditions[:0]
	for _, id := range p.conditions {
		if c.Contains(id) {
			c.polarities[id] = p.polarities[id]
			c.conditions = append(c.conditions, id)
		}
	}
	c.expansions = c.expansions[:0]
	for _, e := range p.expansions {
		if e.Statement == nil || c.Contains(e.Statement.ID) {
			c.expansions = append(c.expansions, e)
		}
	}
	return c
}

// Flatten returns the vertices of the path with every expanded callee path
// inlined before the statement that contains its call site.
func (p *Path) Flatten() []*graph.Vertex {
	out := make([]*graph.Vertex, 0, len(p.Vertices))
	for _, v := range p.Vertices {
		for _, e := range p.expansions {
			if e.Statement != nil && e.Statement.ID == v.ID {
				out = append(out, e.Path.Flatten()...)
			}
		}
		out = append(out, v)
	}
	return out
}

// String renders the path as "Method#id[v1 v2 ...]".
func (p *Path) String() string {
	var sb strings.Builder
	sb.WriteString(p.Method.String())
	sb.WriteByte('[')
	for i, v := range p.Vertices {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.String())
		if pol, ok := p.polarities[v.ID]; ok {
			fmt.Fprintf(&sb, "(%s)", pol)
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// Reaching filters paths to those that reach target.
//
// Description:
//
//	For a throw statement only paths terminating in exactly that throw are
//	kept; unrelated throws on other paths do not count. For any other
//	vertex the path must visit it, or the statement that contains it. A
//	path that ends in an exception before getting there never visits it.
func Reaching(g *graph.Graph, paths []*Path, target *graph.Vertex) []*Path {
	var out []*Path
	for _, p := range paths {
		if target.Label == graph.LabelThrowStatement {
			if p.ThrowVertex != nil && p.ThrowVertex.ID == target.ID {
				out = append(out, p)
			}
			continue
		}
		if anchorIndex(g, p, target) >= 0 {
			out = append(out, p)
		}
	}
	return out
}

// anchorIndex finds target, or the CFG statement that contains it, on p.
func anchorIndex(g *graph.Graph, p *Path, target *graph.Vertex) int {
	for cur := target; cur != nil; cur = g.Parent(cur) {
		if idx := p.IndexOf(cur.ID); idx >= 0 {
			return idx
		}
		if g.HasCFG(cur) || cur.Label == graph.LabelMethod {
			break
		}
	}
	return -1
}
