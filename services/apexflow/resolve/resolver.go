// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve maps call sites to the method or constructor they invoke.
//
// Resolution walks the receiver's type hierarchy one level at a time. At the
// first level that declares methods of the right name and arity, a single
// candidate wins outright; several candidates are ranked by the summed
// hierarchy distance from each argument type to the parameter type.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Options configures a Resolver.
type Options struct {
	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for New.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Resolver resolves call sites against one analysis run's cache.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	c    *cache.VertexCache
	g    *graph.Graph
	opts Options
}

// New creates a resolver backed by c.
func New(c *cache.VertexCache, opts ...Option) *Resolver {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Resolver{c: c, g: c.Graph(), opts: o}
}

// Resolve returns the declaration invoked by call.
//
// Description:
//
//	call is a MethodCallExpression, NewObjectExpression,
//	ThisMethodCallExpression or SuperMethodCallExpression. scope supplies
//	variable types and the receiver; it may be nil, in which case local
//	types are read from declarations in the enclosing method.
//
// Outputs:
//
//	*MethodDeclaration - nil with a nil error when no user-defined method
//	matches (builtins, unknown receivers).
//
// Errors:
//
//	Structural ErrAmbiguousOverload when two candidates tie and neither is
//	more specific. Structural ErrUnresolvable when call is not a call site.
func (r *Resolver) Resolve(ctx context.Context, call *graph.Vertex, scope apexvalue.SymbolProvider) (*MethodDeclaration, error) {
	if call == nil || !graph.IsInvocableLabel(call.Label) {
		return nil, failure.Newf("resolve.Resolve", vertexID(call), failure.ErrUnresolvable, "not a call site: %v", call)
	}
	ctx, span := tracer.Start(ctx, "resolve.Resolver.Resolve",
		trace.WithAttributes(
			attribute.Int64("call_id", int64(call.ID)),
			attribute.String("label", call.Label),
		),
	)
	defer span.End()

	kind := "method"
	var (
		decl *MethodDeclaration
		err  error
	)
	switch call.Label {
	case graph.LabelMethodCallExpression:
		decl, err = r.resolveMethod(ctx, call, scope)
	default:
		kind = "constructor"
		decl, err = r.resolveConstructor(ctx, call, scope)
	}

	switch {
	case err != nil:
		result := "error"
		if errors.Is(err, failure.ErrAmbiguousOverload) {
			result = "ambiguous"
		}
		resolutionsTotal.WithLabelValues(kind, result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	case decl == nil:
		resolutionsTotal.WithLabelValues(kind, "not_found").Inc()
	default:
		resolutionsTotal.WithLabelValues(kind, "resolved").Inc()
		span.SetAttributes(attribute.String("resolved", decl.String()))
	}
	return decl, nil
}

func (r *Resolver) contextClass(ctx context.Context, call *graph.Vertex, scope apexvalue.SymbolProvider) string {
	if cls := r.c.EnclosingClass(ctx, call); cls != nil {
		return cls.DefiningType()
	}
	if scope != nil {
		return scope.Class()
	}
	return ""
}

// receiverClass returns the runtime class of `this` when the scope knows
// it and it is a subtype of the lexical class, else the lexical class.
func (r *Resolver) receiverClass(ctx context.Context, lexical string, scope apexvalue.SymbolProvider) string {
	if scope == nil {
		return lexical
	}
	this, ok := scope.This()
	if !ok || this.Type() == "" {
		return lexical
	}
	if _, isClass := r.c.Class(ctx, this.Type()); !isClass {
		return lexical
	}
	if r.Hierarchy(ctx, this.Type()).Contains(lexical) {
		return this.Type()
	}
	return lexical
}

func (r *Resolver) resolveMethod(ctx context.Context, call *graph.Vertex, scope apexvalue.SymbolProvider) (*MethodDeclaration, error) {
	name := call.Str(graph.PropMethodName)
	children := r.g.Children(call)
	var recv *graph.Vertex
	var args []*graph.Vertex
	if len(children) > 0 {
		recv, args = children[0], children[1:]
	}
	cls := r.contextClass(ctx, call, scope)

	switch {
	case recv == nil || recv.Label == graph.LabelEmptyReferenceExpression:
		start := r.receiverClass(ctx, cls, scope)
		if decl, err := r.search(ctx, call, start, name, args, scope); decl != nil || err != nil {
			return decl, err
		}
		// Unqualified calls from an inner class may target an outer class.
		for i, outer := range outerClasses(cls) {
			if i == 0 {
				continue
			}
			if decl, err := r.search(ctx, call, outer, name, args, scope); decl != nil || err != nil {
				return decl, err
			}
		}
		return nil, nil

	case recv.Label == graph.LabelThisVariableExpression:
		return r.search(ctx, call, r.receiverClass(ctx, cls, scope), name, args, scope)

	case recv.Label == graph.LabelSuperVariableExpression:
		sup, err := r.c.SuperType(ctx, cls)
		if err != nil || sup == "" {
			return nil, err
		}
		return r.search(ctx, call, r.canonical(ctx, sup, cls), name, args, scope)

	default:
		typ := r.ArgumentType(ctx, recv, scope)
		if typ == "" {
			return nil, nil
		}
		return r.search(ctx, call, typ, name, args, scope)
	}
}

func (r *Resolver) resolveConstructor(ctx context.Context, call *graph.Vertex, scope apexvalue.SymbolProvider) (*MethodDeclaration, error) {
	cls := r.contextClass(ctx, call, scope)
	var target string
	switch call.Label {
	case graph.LabelNewObjectExpression:
		target = r.canonical(ctx, call.Str(graph.PropType), cls)
	case graph.LabelThisMethodCallExpression:
		target = cls
	case graph.LabelSuperMethodCallExpression:
		sup, err := r.c.SuperType(ctx, cls)
		if err != nil {
			return nil, err
		}
		if sup != "" {
			target = r.canonical(ctx, sup, cls)
		}
	}
	if target == "" {
		return nil, nil
	}
	if _, ok := r.c.Class(ctx, target); !ok {
		return nil, nil
	}
	args := r.g.Children(call)
	cands, err := r.c.Constructors(ctx, target, len(args))
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	return r.rank(ctx, call, cands, args, scope)
}

// search walks the hierarchy of typ and resolves at the first level that
// declares a matching method.
func (r *Resolver) search(ctx context.Context, call *graph.Vertex, typ, name string, args []*graph.Vertex, scope apexvalue.SymbolProvider) (*MethodDeclaration, error) {
	for _, level := range r.Hierarchy(ctx, typ).Types {
		if err := failure.Check(ctx, "resolve.search"); err != nil {
			return nil, err
		}
		cands, err := r.c.Methods(ctx, level, name, len(args))
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			continue
		}
		// A level whose overloads are all incompatible falls through to
		// the supertype.
		decl, err := r.rank(ctx, call, cands, args, scope)
		if err != nil || decl != nil {
			return decl, err
		}
	}
	return nil, nil
}

type scored struct {
	decl  *MethodDeclaration
	types []string
	cost  int
}

// rank scores candidates by summed argument-to-parameter distance.
// A null or untyped argument costs 0 at any position.
func (r *Resolver) rank(ctx context.Context, site *graph.Vertex, cands []*graph.Vertex, args []*graph.Vertex, scope apexvalue.SymbolProvider) (*MethodDeclaration, error) {
	candidatesRanked.Observe(float64(len(cands)))
	argTypes := make([]string, len(args))
	for i, a := range args {
		if !isNullLiteral(a) {
			argTypes[i] = r.ArgumentType(ctx, a, scope)
		}
	}

	var ok []scored
	for _, m := range cands {
		decl := Declaration(r.g, m)
		s := scored{decl: decl, types: make([]string, len(decl.Params))}
		compatible := true
		for i, p := range decl.Params {
			s.types[i] = r.canonical(ctx, p.Type, decl.DefiningType)
			if i >= len(argTypes) || argTypes[i] == "" {
				continue
			}
			d, found := r.Hierarchy(ctx, argTypes[i]).Distance(s.types[i])
			if !found {
				compatible = false
				break
			}
			s.cost += d
		}
		if compatible {
			ok = append(ok, s)
		}
	}
	if len(ok) == 0 {
		return nil, nil
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].cost < ok[j].cost })
	best := ok[:1]
	for _, s := range ok[1:] {
		if s.cost == ok[0].cost {
			best = append(best, s)
		}
	}
	if len(best) == 1 {
		return best[0].decl, nil
	}
	if winner := r.mostSpecific(ctx, best); winner != nil {
		return winner, nil
	}

	names := make([]string, len(best))
	for i, s := range best {
		names[i] = s.decl.String()
	}
	r.opts.Logger.Debug("ambiguous overload",
		slog.Int64("call_id", vertexID(site)),
		slog.Int("candidates", len(best)),
		slog.String("tied", strings.Join(names, "; ")),
	)
	return nil, failure.Newf("resolve.rank", vertexID(site), failure.ErrAmbiguousOverload,
		"%d candidates tie at cost %d: %s", len(best), best[0].cost, strings.Join(names, "; "))
}

// mostSpecific returns the one candidate whose every parameter type is a
// subtype of (or equal to) the matching parameter of every other candidate.
func (r *Resolver) mostSpecific(ctx context.Context, tied []scored) *MethodDeclaration {
	var winner *MethodDeclaration
	for i, a := range tied {
		dominates := true
		for j, b := range tied {
			if i == j {
				continue
			}
			for k := range a.types {
				if !r.Hierarchy(ctx, a.types[k]).Contains(b.types[k]) {
					dominates = false
					break
				}
			}
			if !dominates {
				break
			}
		}
		if dominates {
			if winner != nil {
				return nil
			}
			winner = a.decl
		}
	}
	return winner
}

func isNullLiteral(v *graph.Vertex) bool {
	return v != nil && v.Label == graph.LabelLiteralExpression && v.Str(graph.PropLiteralType) == graph.LiteralNull
}

func vertexID(v *graph.Vertex) int64 {
	if v == nil {
		return 0
	}
	return int64(v.ID)
}
