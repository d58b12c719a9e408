// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expand

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
)

// SkipPath is returned by a Visitor to stop walking the current path
// without reporting an error.
var SkipPath = errors.New("skip path")

// Visitor receives each vertex of a walked path after it executed.
type Visitor interface {
	Visit(ctx context.Context, v *graph.Vertex, scope *Scope) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(ctx context.Context, v *graph.Vertex, scope *Scope) error

// Visit implements Visitor.
func (f VisitorFunc) Visit(ctx context.Context, v *graph.Vertex, scope *Scope) error {
	return f(ctx, v, scope)
}

// Scope is the live state at a visited vertex. It is only valid during the
// Visit call.
type Scope struct {
	// Method owns the path being executed; a callee for expanded calls.
	Method *graph.Vertex

	// Path is the path being executed.
	Path *cfgpath.Path

	// Depth is 0 for the walked path and grows by one per expanded call.
	Depth int

	env *interp.Env
}

// Value returns the current value of a variable, field of this or static
// field visible from the vertex.
func (s *Scope) Value(name string) (*apexvalue.Value, bool) {
	return s.env.Frame.Lookup(name)
}

// Frame returns the live frame.
func (s *Scope) Frame() *apexvalue.Frame { return s.env.Frame }

// CallResult returns the value an expanded call site evaluated to.
func (s *Scope) CallResult(site graph.VertexID) (*apexvalue.Value, bool) {
	v, ok := s.env.Calls[site]
	return v, ok
}

// Text renders a variable's value for messages.
func (s *Scope) Text(name string) string {
	v, ok := s.Value(name)
	if !ok {
		return ""
	}
	return s.env.Heap().DisplayText(v)
}

// Walker replays materialized paths for visitors.
//
// Description:
//
//	A walk executes the path again in a fresh entry environment. Expanded
//	call sites run the recorded callee path and its vertices are visited
//	before the statement that contains the call; other call sites evaluate
//	to indeterminate values. Collapsers are not applied.
//
// Thread Safety: Safe for concurrent use; each Walk owns its environment.
type Walker struct {
	e      *Expander
	policy interp.Policy
}

// NewWalker creates a walker that shares e's resolver and interpreter.
func NewWalker(e *Expander, policy interp.Policy) *Walker {
	return &Walker{e: e, policy: policy}
}

// Walk replays path and calls visitor for each executed vertex.
//
// Errors:
//
//	The first error returned by visitor, except SkipPath. Structural or
//	Cancelled failures from evaluation. A Rejection failure when the path
//	dereferences a determinate null, which an accepted path never does.
func (w *Walker) Walk(ctx context.Context, path *cfgpath.Path, visitor Visitor) error {
	if path == nil || path.Method == nil {
		return failure.Newf("expand.Walk", 0, failure.ErrUnresolvable, "path has no method")
	}
	if visitor == nil {
		visitor = VisitorFunc(func(context.Context, *graph.Vertex, *Scope) error { return nil })
	}
	ctx, span := tracer.Start(ctx, "expand.Walker.Walk",
		trace.WithAttributes(
			attribute.Int64("method_id", int64(path.Method.ID)),
			attribute.Int("vertices", path.Len()),
		),
	)
	defer span.End()

	env, err := w.e.in.EntryEnv(ctx, path.Method, w.policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	x := newExecution(w.e, Config{ExpandCalls: true, Unsupported: w.policy})
	x.replay = true
	x.visitor = countingVisitor{next: visitor}

	_, err = x.run(ctx, path, env, 0)
	switch {
	case errors.Is(err, SkipPath):
		return nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.e.opts.Logger.Debug("walk aborted",
			slog.String("path", path.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

type countingVisitor struct {
	next Visitor
}

func (c countingVisitor) Visit(ctx context.Context, v *graph.Vertex, scope *Scope) error {
	visitedTotal.Inc()
	return c.next.Visit(ctx, v, scope)
}
