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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Default builder configuration values.
const (
	// DefaultMaxVertices is the default vertex capacity of a builder.
	DefaultMaxVertices = 2_000_000
)

// EdgeType identifies the kind of relationship between two vertices.
type EdgeType int

const (
	// EdgeTypeParent links a vertex to its AST parent.
	EdgeTypeParent EdgeType = iota

	// EdgeTypeChild links a vertex to one of its ordered AST children.
	EdgeTypeChild

	// EdgeTypeCFGPath links two statements in control-flow order.
	EdgeTypeCFGPath
)

// String returns the edge label used by the front-end.
func (e EdgeType) String() string {
	switch e {
	case EdgeTypeParent:
		return "PARENT"
	case EdgeTypeChild:
		return "CHILD"
	case EdgeTypeCFGPath:
		return "CFG_PATH"
	default:
		return "UNKNOWN"
	}
}

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// Root is a human-readable name for the analyzed source set.
	Root string

	// MaxVertices caps the number of vertices. Default: DefaultMaxVertices.
	MaxVertices int
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithRoot sets the source set name recorded on the frozen graph.
func WithRoot(root string) BuilderOption {
	return func(o *BuilderOptions) {
		o.Root = root
	}
}

// WithMaxVertices sets the vertex capacity.
func WithMaxVertices(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxVertices = n
	}
}

// Builder assembles a Graph. The front-end owns the builder; the engine
// only ever sees the frozen result.
//
// Thread Safety: NOT safe for concurrent use.
type Builder struct {
	options  BuilderOptions
	vertices map[VertexID]*Vertex
	cfgOut   map[VertexID][]VertexID
	cfgIn    map[VertexID][]VertexID
	nextID   VertexID
	edges    int
	frozen   bool
}

// NewBuilder creates an empty Builder.
//
// Example:
//
//	b := graph.NewBuilder(graph.WithRoot("force-app"))
//	cls, _ := b.AddVertex(graph.LabelUserClass, map[string]any{graph.PropDefiningType: "Foo"})
func NewBuilder(opts ...BuilderOption) *Builder {
	options := BuilderOptions{MaxVertices: DefaultMaxVertices}
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{
		options:  options,
		vertices: make(map[VertexID]*Vertex),
		cfgOut:   make(map[VertexID][]VertexID),
		cfgIn:    make(map[VertexID][]VertexID),
		nextID:   1,
	}
}

// AddVertex adds a vertex with the next free ID.
func (b *Builder) AddVertex(label string, props map[string]any) (VertexID, error) {
	id := b.nextID
	if err := b.AddVertexWithID(id, label, props); err != nil {
		return 0, err
	}
	return id, nil
}

// AddVertexWithID adds a vertex with a caller-chosen ID. Used when
// reconstructing a graph from a snapshot.
func (b *Builder) AddVertexWithID(id VertexID, label string, props map[string]any) error {
	if b.frozen {
		return ErrGraphFrozen
	}
	if label == "" {
		return fmt.Errorf("%w: vertex %d", ErrInvalidLabel, id)
	}
	if len(b.vertices) >= b.options.MaxVertices {
		return fmt.Errorf("vertex capacity %d exceeded", b.options.MaxVertices)
	}
	if _, exists := b.vertices[id]; exists {
		return fmt.Errorf("duplicate vertex id %d", id)
	}
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	b.vertices[id] = &Vertex{ID: id, Label: label, Props: cp}
	if id >= b.nextID {
		b.nextID = id + 1
	}
	return nil
}

// AddChild appends child to parent's ordered children.
func (b *Builder) AddChild(parent, child VertexID) error {
	if b.frozen {
		return ErrGraphFrozen
	}
	p, ok := b.vertices[parent]
	if !ok {
		return fmt.Errorf("%w: parent %d", ErrVertexNotFound, parent)
	}
	c, ok := b.vertices[child]
	if !ok {
		return fmt.Errorf("%w: child %d", ErrVertexNotFound, child)
	}
	if c.parent != 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateChild, child)
	}
	c.parent = parent
	c.childIdx = len(p.children)
	p.children = append(p.children, child)
	b.edges += 2
	return nil
}

// AddCFGEdge adds a CFG_PATH edge from -> to.
func (b *Builder) AddCFGEdge(from, to VertexID) error {
	if b.frozen {
		return ErrGraphFrozen
	}
	if _, ok := b.vertices[from]; !ok {
		return fmt.Errorf("%w: cfg source %d", ErrVertexNotFound, from)
	}
	if _, ok := b.vertices[to]; !ok {
		return fmt.Errorf("%w: cfg target %d", ErrVertexNotFound, to)
	}
	for _, existing := range b.cfgOut[from] {
		if existing == to {
			return fmt.Errorf("%w: %d -> %d", ErrDuplicateEdge, from, to)
		}
	}
	b.cfgOut[from] = append(b.cfgOut[from], to)
	b.cfgIn[to] = append(b.cfgIn[to], from)
	b.edges++
	return nil
}

// Freeze validates the builder contents and returns the immutable graph.
//
// Description:
//
//	Builds the case-insensitive class index. Classes are keyed by their
//	DefiningType (inner classes as "Outer.Inner"), falling back to Name.
//	After Freeze the builder rejects further modifications.
//
// Outputs:
//
//	*Graph - The frozen graph.
//	error - Non-nil when two classes collide case-insensitively.
func (b *Builder) Freeze() (*Graph, error) {
	if b.frozen {
		return nil, ErrGraphFrozen
	}
	g := &Graph{
		Root:         b.options.Root,
		BuiltAtMilli: time.Now().UnixMilli(),
		vertices:     b.vertices,
		cfgOut:       b.cfgOut,
		cfgIn:        b.cfgIn,
		classes:      make(map[string]VertexID),
		edges:        b.edges,
	}
	for id, v := range b.vertices {
		if !v.Is(LabelUserClass, LabelUserInterface) {
			continue
		}
		name := v.DefiningType()
		if name == "" {
			name = v.Name()
		}
		key := strings.ToLower(name)
		if other, exists := g.classes[key]; exists && other != id {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, name)
		}
		g.classes[key] = id
	}
	g.order = make([]VertexID, 0, len(b.vertices))
	for id := range b.vertices {
		g.order = append(g.order, id)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })
	b.frozen = true
	return g, nil
}

// Graph is the frozen vertex graph.
//
// Thread Safety: Safe for concurrent reads.
type Graph struct {
	// Root is the source set name.
	Root string

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was frozen.
	BuiltAtMilli int64

	vertices map[VertexID]*Vertex
	order    []VertexID
	cfgOut   map[VertexID][]VertexID
	cfgIn    map[VertexID][]VertexID
	classes  map[string]VertexID
	edges    int
}

// VertexCount returns the number of vertices.
func (g *Graph) VertexCount() int { return len(g.vertices) }

// EdgeCount returns the number of PARENT, CHILD and CFG_PATH edges.
func (g *Graph) EdgeCount() int { return g.edges }

// Vertex returns the vertex with the given ID.
func (g *Graph) Vertex(id VertexID) (*Vertex, bool) {
	v, ok := g.vertices[id]
	return v, ok
}

// Vertices returns all vertices ordered by ID.
func (g *Graph) Vertices() []*Vertex {
	out := make([]*Vertex, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.vertices[id])
	}
	return out
}

// Parent returns the AST parent, or nil for roots.
func (g *Graph) Parent(v *Vertex) *Vertex {
	if v == nil || v.parent == 0 {
		return nil
	}
	return g.vertices[v.parent]
}

// Children returns the ordered AST children.
func (g *Graph) Children(v *Vertex) []*Vertex {
	if v == nil || len(v.children) == 0 {
		return nil
	}
	out := make([]*Vertex, len(v.children))
	for i, id := range v.children {
		out[i] = g.vertices[id]
	}
	return out
}

// Child returns the i-th child or nil.
func (g *Graph) Child(v *Vertex, i int) *Vertex {
	if v == nil || i < 0 || i >= len(v.children) {
		return nil
	}
	return g.vertices[v.children[i]]
}

// ChildrenByLabel returns the children carrying label, in order.
func (g *Graph) ChildrenByLabel(v *Vertex, label string) []*Vertex {
	var out []*Vertex
	for _, c := range g.Children(v) {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

// FirstChildByLabel returns the first child carrying label, or nil.
func (g *Graph) FirstChildByLabel(v *Vertex, label string) *Vertex {
	if v == nil {
		return nil
	}
	for _, id := range v.children {
		if c := g.vertices[id]; c.Label == label {
			return c
		}
	}
	return nil
}

// NextSibling returns the sibling following v, or nil.
func (g *Graph) NextSibling(v *Vertex) *Vertex {
	p := g.Parent(v)
	if p == nil {
		return nil
	}
	return g.Child(p, v.childIdx+1)
}

// PrevSibling returns the sibling preceding v, or nil.
func (g *Graph) PrevSibling(v *Vertex) *Vertex {
	p := g.Parent(v)
	if p == nil {
		return nil
	}
	return g.Child(p, v.childIdx-1)
}

// CFGOut returns the CFG successors of v in insertion order.
func (g *Graph) CFGOut(v *Vertex) []*Vertex {
	return g.resolveIDs(g.cfgOut[v.ID])
}

// CFGIn returns the CFG predecessors of v in insertion order.
func (g *Graph) CFGIn(v *Vertex) []*Vertex {
	return g.resolveIDs(g.cfgIn[v.ID])
}

// HasCFG reports whether v has any CFG edge.
func (g *Graph) HasCFG(v *Vertex) bool {
	return len(g.cfgOut[v.ID]) > 0 || len(g.cfgIn[v.ID]) > 0
}

func (g *Graph) resolveIDs(ids []VertexID) []*Vertex {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		if v, ok := g.vertices[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// ClassByName looks up a class or interface case-insensitively.
func (g *Graph) ClassByName(name string) (*Vertex, bool) {
	id, ok := g.classes[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return g.vertices[id], true
}

// Classes returns every class and interface vertex ordered by ID.
func (g *Graph) Classes() []*Vertex {
	ids := make([]VertexID, 0, len(g.classes))
	for _, id := range g.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return g.resolveIDs(ids)
}

// Ancestor returns the closest strict ancestor carrying one of labels.
func (g *Graph) Ancestor(v *Vertex, labels ...string) *Vertex {
	for cur := g.Parent(v); cur != nil; cur = g.Parent(cur) {
		if cur.Is(labels...) {
			return cur
		}
	}
	return nil
}

// Descendants returns every descendant of v carrying label, in pre-order.
func (g *Graph) Descendants(v *Vertex, label string) []*Vertex {
	var out []*Vertex
	var walk func(*Vertex)
	walk = func(cur *Vertex) {
		for _, c := range g.Children(cur) {
			if c.Label == label {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(v)
	return out
}

// Hash returns a deterministic digest of the graph structure.
//
// Complexity: O(V + E).
func (g *Graph) Hash() string {
	h := sha256.New()
	for _, id := range g.order {
		v := g.vertices[id]
		fmt.Fprintf(h, "v:%d:%s:%d:", v.ID, v.Label, v.parent)
		keys := make([]string, 0, len(v.Props))
		for k := range v.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v;", k, v.Props[k])
		}
		for _, to := range g.cfgOut[id] {
			fmt.Fprintf(h, "cfg:%d;", to)
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
