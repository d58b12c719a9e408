// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cfgpath enumerates control-flow paths and materializes branch
// polarity.
//
// Each distinct walk along CFG_PATH edges from a start vertex becomes one
// Path. Polarity of a StandardCondition is decided structurally: the path is
// Positive at a condition when the vertex that follows it in execution order
// is the condition's next sibling (the then block), and Negative otherwise.
// No value is evaluated to decide polarity.
package cfgpath

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Direction selects which CFG edges are followed.
type Direction int

const (
	// Forward follows outgoing CFG_PATH edges from the start vertex.
	Forward Direction = iota

	// Backward follows incoming CFG_PATH edges and reverses the result.
	Backward
)

// String returns "forward" or "backward".
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// RejectionKind classifies why a candidate path was rejected.
type RejectionKind string

const (
	RejectCollapsed  RejectionKind = "collapsed"
	RejectExcluded   RejectionKind = "excluded"
	RejectNullAccess RejectionKind = "null_access"
	RejectPathLimit  RejectionKind = "path_limit_exceeded"
	RejectDepthLimit RejectionKind = "depth_limit_exceeded"
)

// Rejection records one rejected candidate. Rejections are returned next to
// accepted paths and never dropped.
type Rejection struct {
	// Kind is the rejection category.
	Kind RejectionKind

	// Message is a human-readable detail.
	Message string

	// VertexID is the vertex that triggered the rejection, 0 if none.
	VertexID graph.VertexID

	// Collapser names the policy that rejected the path, if any.
	Collapser string

	// Path is the rejected candidate, nil when no candidate was built.
	Path *Path
}

// String implements fmt.Stringer.
func (r Rejection) String() string {
	if r.Collapser != "" {
		return fmt.Sprintf("%s by %s at vertex %d: %s", r.Kind, r.Collapser, r.VertexID, r.Message)
	}
	return fmt.Sprintf("%s at vertex %d: %s", r.Kind, r.VertexID, r.Message)
}

// Result is the outcome of an enumeration or expansion.
type Result struct {
	Accepted []*Path
	Rejected []Rejection
}

// Options configures an Enumerator.
type Options struct {
	// MaxPaths caps accepted paths per enumeration. 0 means unlimited.
	MaxPaths int

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for NewEnumerator.
type Option func(*Options)

// WithMaxPaths caps the number of accepted paths per enumeration.
func WithMaxPaths(n int) Option {
	return func(o *Options) {
		o.MaxPaths = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Enumerator walks CFG_PATH edges of a frozen graph.
//
// Thread Safety: Safe for concurrent use; each call keeps its own state.
type Enumerator struct {
	g    *graph.Graph
	opts Options
}

// NewEnumerator creates an enumerator over g.
func NewEnumerator(g *graph.Graph, opts ...Option) *Enumerator {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Enumerator{g: g, opts: o}
}

// EnumerateMethod returns every path through a method.
//
// Description:
//
//	Enumeration starts at the method's body block. A method without a body
//	and without CFG edges (an interface method or a synthesized default
//	constructor) yields a single synthetic path holding only the method
//	vertex.
func (e *Enumerator) EnumerateMethod(ctx context.Context, method *graph.Vertex) (*Result, error) {
	if method == nil || method.Label != graph.LabelMethod {
		return nil, failure.Newf("cfgpath.EnumerateMethod", 0, failure.ErrUnresolvable, "not a method: %v", method)
	}
	body := e.g.FirstChildByLabel(method, graph.LabelBlockStatement)
	if body == nil && !e.g.HasCFG(method) {
		p := &Path{Method: method, Vertices: []*graph.Vertex{method}, Synthetic: true}
		pathsEnumeratedTotal.WithLabelValues(Forward.String()).Inc()
		return &Result{Accepted: []*Path{p}}, nil
	}
	start := body
	if start == nil {
		start = method
	}
	return e.enumerate(ctx, method, start, Forward)
}

// Enumerate returns every path from start in the given direction.
//
// Description:
//
//	Forward paths begin at start and end at a vertex without successors.
//	Backward paths end at start and begin at a vertex without predecessors;
//	they are reported in execution order.
//
// Errors:
//
//	Structural failure wrapping failure.ErrMalformedCFG when a walk revisits
//	a vertex. Cancelled failure when ctx is done.
func (e *Enumerator) Enumerate(ctx context.Context, start *graph.Vertex, dir Direction) (*Result, error) {
	if start == nil {
		return nil, failure.Newf("cfgpath.Enumerate", 0, failure.ErrUnresolvable, "nil start vertex")
	}
	method := start
	if start.Label != graph.LabelMethod {
		method = e.g.Ancestor(start, graph.LabelMethod)
	}
	return e.enumerate(ctx, method, start, dir)
}

func (e *Enumerator) enumerate(ctx context.Context, method, start *graph.Vertex, dir Direction) (*Result, error) {
	ctx, span := tracer.Start(ctx, "cfgpath.Enumerator.Enumerate",
		trace.WithAttributes(
			attribute.Int64("start_id", int64(start.ID)),
			attribute.String("direction", dir.String()),
		),
	)
	defer span.End()

	w := &walk{
		ctx:    ctx,
		g:      e.g,
		method: method,
		start:  start,
		dir:    dir,
		max:    e.opts.MaxPaths,
		onPath: make(map[graph.VertexID]bool),
		result: &Result{},
	}
	if err := w.visit(start); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pathsEnumeratedTotal.WithLabelValues(dir.String()).Add(float64(len(w.result.Accepted)))
	for _, r := range w.result.Rejected {
		pathRejectionsTotal.WithLabelValues(string(r.Kind)).Inc()
	}
	span.SetAttributes(
		attribute.Int("accepted", len(w.result.Accepted)),
		attribute.Int("rejected", len(w.result.Rejected)),
	)
	e.opts.Logger.Debug("paths enumerated",
		slog.String("start", start.String()),
		slog.String("direction", dir.String()),
		slog.Int("accepted", len(w.result.Accepted)),
		slog.Int("rejected", len(w.result.Rejected)),
	)
	return w.result, nil
}

type walk struct {
	ctx    context.Context
	g      *graph.Graph
	method *graph.Vertex
	start  *graph.Vertex
	dir    Direction
	max    int

	stack  []*graph.Vertex
	onPath map[graph.VertexID]bool
	full   bool
	result *Result
}

func (w *walk) next(v *graph.Vertex) []*graph.Vertex {
	if w.dir == Backward {
		return w.g.CFGIn(v)
	}
	return w.g.CFGOut(v)
}

func (w *walk) visit(v *graph.Vertex) error {
	if err := failure.Check(w.ctx, "cfgpath.Enumerate"); err != nil {
		return err
	}
	if w.onPath[v.ID] {
		return failure.Newf("cfgpath.Enumerate", int64(v.ID), failure.ErrMalformedCFG,
			"walk from %s revisits %s", w.start, v)
	}
	w.onPath[v.ID] = true
	w.stack = append(w.stack, v)
	defer func() {
		w.stack = w.stack[:len(w.stack)-1]
		delete(w.onPath, v.ID)
	}()

	succ := w.next(v)
	if len(succ) == 0 {
		return w.emit()
	}
	for _, n := range succ {
		if w.full {
			return nil
		}
		if err := w.visit(n); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) emit() error {
	if w.max > 0 && len(w.result.Accepted) >= w.max {
		w.full = true
		w.result.Rejected = append(w.result.Rejected, Rejection{
			Kind:     RejectPathLimit,
			Message:  fmt.Sprintf("more than %d paths from %s; remaining paths not enumerated", w.max, w.start),
			VertexID: w.start.ID,
		})
		return nil
	}

	vertices := make([]*graph.Vertex, len(w.stack))
	copy(vertices, w.stack)
	if w.dir == Backward {
		for i, j := 0, len(vertices)-1; i < j; i, j = i+1, j-1 {
			vertices[i], vertices[j] = vertices[j], vertices[i]
		}
	}

	p := &Path{Method: w.method, Vertices: vertices}
	if err := materialize(w.g, p); err != nil {
		return err
	}
	w.result.Accepted = append(w.result.Accepted, p)
	return nil
}

// materialize assigns polarities and exception tags. Vertices are in
// execution order, so the successor of a condition is always the next
// element regardless of the walk direction.
func materialize(g *graph.Graph, p *Path) error {
	for i, v := range p.Vertices {
		if v.Label != graph.LabelStandardCondition {
			continue
		}
		pol := Unknown
		if i+1 < len(p.Vertices) {
			pol = Negative
			if then := g.NextSibling(v); then != nil && then.ID == p.Vertices[i+1].ID {
				pol = Positive
			}
		}
		if err := p.SetPolarity(v.ID, pol); err != nil {
			return err
		}
	}
	if last := p.Last(); last != nil && last.Label == graph.LabelThrowStatement {
		p.EndsInException = true
		p.ThrowVertex = last
	}
	return nil
}
