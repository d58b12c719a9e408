// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apexflow is the entry point of the path-sensitive Apex analysis
// engine.
//
// An Engine wraps a frozen code graph and answers path questions about it:
// which control-flow paths run through a method, which paths start or end
// at a vertex, how those paths look after user-defined calls are spliced
// in, and which method a call site invokes. Rule code consumes accepted
// paths by walking them with a Visitor.
//
// One Engine corresponds to one analysis run. Its vertex cache lives as
// long as the Engine; create a new Engine for a new graph.
package apexflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/config"
	"github.com/AleutianAI/apexflow/services/apexflow/expand"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// Options configures an Engine.
type Options struct {
	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Config holds the engine tunables. Default: config.Default().
	Config *config.EngineConfig
}

// Option is a functional option for New.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg config.EngineConfig) Option {
	return func(o *Options) {
		o.Config = &cfg
	}
}

// VisitorFactory creates the visitor for one path of WalkAll. It is called
// from the goroutine that walks the path.
type VisitorFactory func(path *cfgpath.Path) expand.Visitor

// Engine answers path queries over one frozen graph.
//
// Description:
//
//	The engine owns the per-run vertex cache and shares it between the
//	resolver, the interpreter and the expander. Path queries are memoized
//	per method in that cache.
//
// Thread Safety:
//
//	Safe for concurrent use. Each query keeps its own evaluation state; the
//	vertex cache is the only shared mutable state.
type Engine struct {
	runID     string
	g         *graph.Graph
	cache     *cache.VertexCache
	resolver  *resolve.Resolver
	expander  *expand.Expander
	walker    *expand.Walker
	enum      *cfgpath.Enumerator
	cfg       config.EngineConfig
	expandCfg expand.Config
	logger    *slog.Logger
}

// New creates an engine for g.
//
// Inputs:
//
//	g - The frozen graph. Must not be nil.
//	opts - Optional logger and configuration.
//
// Outputs:
//
//	*Engine - Ready for queries.
//	error - Non-nil when g is nil or the configuration is invalid.
func New(g *graph.Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("apexflow.New: graph must not be nil")
	}
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	cfg := config.Default()
	if o.Config != nil {
		cfg = *o.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("apexflow.New: %w", err)
	}
	expandCfg, err := cfg.ExpandConfig()
	if err != nil {
		return nil, fmt.Errorf("apexflow.New: %w", err)
	}

	runID := uuid.NewString()
	logger := o.Logger.With(slog.String("run_id", runID))

	c := cache.New(g, cache.WithLogger(logger))
	r := resolve.New(c, resolve.WithLogger(logger))
	in := interp.New(c, r, interp.WithLogger(logger))
	x := expand.New(c, r, in, expand.WithLogger(logger))

	e := &Engine{
		runID:     runID,
		g:         g,
		cache:     c,
		resolver:  r,
		expander:  x,
		walker:    expand.NewWalker(x, expandCfg.Unsupported),
		enum:      cfgpath.NewEnumerator(g, cfgpath.WithMaxPaths(cfg.MaxPaths), cfgpath.WithLogger(logger)),
		cfg:       cfg,
		expandCfg: expandCfg,
		logger:    logger,
	}
	logger.Info("engine created",
		slog.Int("vertices", g.VertexCount()),
		slog.Bool("expand_calls", cfg.ExpandCalls),
		slog.Int("max_paths", cfg.MaxPaths),
		slog.Int("max_expansion_depth", cfg.MaxExpansionDepth),
	)
	return e, nil
}

// NewFromSnapshot creates an engine over the latest snapshot saved for root.
func NewFromSnapshot(ctx context.Context, m *graph.SnapshotManager, root string, opts ...Option) (*Engine, error) {
	g, meta, err := m.Latest(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("apexflow.NewFromSnapshot: %w", err)
	}
	e, err := New(g, opts...)
	if err != nil {
		return nil, err
	}
	e.logger.Info("graph loaded from snapshot", slog.String("snapshot_id", meta.SnapshotID))
	return e, nil
}

// RunID identifies this engine in logs and spans.
func (e *Engine) RunID() string { return e.runID }

// Graph returns the analyzed graph.
func (e *Engine) Graph() *graph.Graph { return e.g }

// Config returns the effective configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// ExpandConfig returns the expansion configuration derived from Config.
func (e *Engine) ExpandConfig() expand.Config { return e.expandCfg }

// CacheStats reports vertex cache activity for this run.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// Method finds a method by class, name and arity.
//
// Description:
//
//	Class and method names match case-insensitively. Constructors are
//	looked up under the name of their class.
//
// Errors:
//
//	Structural ErrUnresolvable when nothing matches. Structural
//	ErrAmbiguousOverload when several overloads share the arity.
func (e *Engine) Method(ctx context.Context, class, name string, arity int) (*graph.Vertex, error) {
	cls, ok := e.cache.Class(ctx, class)
	if !ok {
		return nil, failure.Newf("apexflow.Method", 0, failure.ErrUnresolvable, "unknown class %q", class)
	}
	found, err := e.cache.Methods(ctx, cls.DefiningType(), name, arity)
	if err == nil && len(found) == 0 && (strings.EqualFold(name, cls.Name()) || name == "<init>") {
		found, err = e.cache.Constructors(ctx, cls.DefiningType(), arity)
	}
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, failure.Newf("apexflow.Method", int64(cls.ID), failure.ErrUnresolvable,
			"no method %s.%s with %d parameters", class, name, arity)
	case 1:
		return found[0], nil
	}
	return nil, failure.Newf("apexflow.Method", int64(found[0].ID), failure.ErrAmbiguousOverload,
		"%d methods %s.%s with %d parameters", len(found), class, name, arity)
}

// MethodPaths enumerates the intra-method paths of class.method.
func (e *Engine) MethodPaths(ctx context.Context, class, name string, arity int) (*cfgpath.Result, error) {
	ctx, span := e.start(ctx, "apexflow.Engine.MethodPaths", attribute.String("method", class+"."+name))
	defer span.End()

	m, err := e.Method(ctx, class, name, arity)
	if err != nil {
		return nil, e.fail(span, "MethodPaths", err)
	}
	res, err := e.expander.MethodPaths(ctx, m, e.cfg.MaxPaths)
	if err != nil {
		return nil, e.fail(span, "MethodPaths", err)
	}
	e.done(span, "MethodPaths", res)
	return res, nil
}

// PathsFrom enumerates forward paths starting at v.
func (e *Engine) PathsFrom(ctx context.Context, v *graph.Vertex) (*cfgpath.Result, error) {
	return e.directed(ctx, "PathsFrom", v, cfgpath.Forward)
}

// PathsTo enumerates paths ending at v, in execution order.
func (e *Engine) PathsTo(ctx context.Context, v *graph.Vertex) (*cfgpath.Result, error) {
	return e.directed(ctx, "PathsTo", v, cfgpath.Backward)
}

func (e *Engine) directed(ctx context.Context, op string, v *graph.Vertex, dir cfgpath.Direction) (*cfgpath.Result, error) {
	if v == nil {
		return nil, failure.Newf("apexflow."+op, 0, failure.ErrUnresolvable, "nil vertex")
	}
	ctx, span := e.start(ctx, "apexflow.Engine."+op, attribute.Int64("vertex_id", int64(v.ID)))
	defer span.End()

	res, err := e.enum.Enumerate(ctx, v, dir)
	if err != nil {
		return nil, e.fail(span, op, err)
	}
	e.done(span, op, res)
	return res, nil
}

// ExpandedPaths enumerates the paths of method and expands each one.
//
// Description:
//
//	Rejections from enumeration and from every expansion are merged into
//	one result. When max_paths is set, accepted paths beyond it become
//	path_limit_exceeded rejections.
//
// Errors:
//
//	Structural and Cancelled failures abort the query. Unimplemented
//	failures surface when unsupported_policy is "fail".
func (e *Engine) ExpandedPaths(ctx context.Context, method *graph.Vertex) (*cfgpath.Result, error) {
	if method == nil {
		return nil, failure.Newf("apexflow.ExpandedPaths", 0, failure.ErrUnresolvable, "nil method")
	}
	ctx, span := e.start(ctx, "apexflow.Engine.ExpandedPaths",
		attribute.Int64("method_id", int64(method.ID)),
		attribute.String("method", method.String()),
	)
	defer span.End()

	raw, err := e.expander.MethodPaths(ctx, method, e.cfg.MaxPaths)
	if err != nil {
		return nil, e.fail(span, "ExpandedPaths", err)
	}
	out := &cfgpath.Result{Rejected: append([]cfgpath.Rejection(nil), raw.Rejected...)}
	for _, p := range raw.Accepted {
		res, err := e.expander.Expand(ctx, p, e.expandCfg)
		if err != nil {
			return nil, e.fail(span, "ExpandedPaths", err)
		}
		out.Accepted = append(out.Accepted, res.Accepted...)
		out.Rejected = append(out.Rejected, res.Rejected...)
	}
	if limit := e.cfg.MaxPaths; limit > 0 && len(out.Accepted) > limit {
		for _, p := range out.Accepted[limit:] {
			out.Rejected = append(out.Rejected, cfgpath.Rejection{
				Kind:     cfgpath.RejectPathLimit,
				Message:  fmt.Sprintf("more than %d expanded paths", limit),
				VertexID: method.ID,
				Path:     p,
			})
		}
		out.Accepted = out.Accepted[:limit:limit]
	}
	e.done(span, "ExpandedPaths", out)
	return out, nil
}

// Walk replays one path for visitor. See expand.Walker.Walk.
func (e *Engine) Walk(ctx context.Context, path *cfgpath.Path, visitor expand.Visitor) error {
	ctx, span := e.start(ctx, "apexflow.Engine.Walk")
	defer span.End()
	if err := e.walker.Walk(ctx, path, visitor); err != nil {
		return e.fail(span, "Walk", err)
	}
	queriesTotal.WithLabelValues("Walk", "ok").Inc()
	return nil
}

// WalkAll walks every path with a visitor from newVisitor.
//
// Description:
//
//	Up to walk_parallelism walks run at once; the default of 1 walks the
//	paths in order on one goroutine. The first failing walk cancels the
//	rest.
//
// Outputs:
//
//	error - The first walk error, nil when every walk finished.
func (e *Engine) WalkAll(ctx context.Context, paths []*cfgpath.Path, newVisitor VisitorFactory) error {
	ctx, span := e.start(ctx, "apexflow.Engine.WalkAll",
		attribute.Int("paths", len(paths)),
		attribute.Int("parallelism", e.cfg.WalkParallelism),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.WalkParallelism)
	for _, p := range paths {
		g.Go(func() error {
			if err := failure.Check(gctx, "apexflow.WalkAll"); err != nil {
				return err
			}
			return e.walker.Walk(gctx, p, newVisitor(p))
		})
	}
	if err := g.Wait(); err != nil {
		return e.fail(span, "WalkAll", err)
	}
	queriesTotal.WithLabelValues("WalkAll", "ok").Inc()
	return nil
}

// ResolveCall resolves the method or constructor invoked at call. scope may
// be nil, in which case only lexical information is used.
func (e *Engine) ResolveCall(ctx context.Context, call *graph.Vertex, scope apexvalue.SymbolProvider) (*resolve.MethodDeclaration, error) {
	return e.resolver.Resolve(ctx, call, scope)
}

func (e *Engine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("run_id", e.runID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	queriesTotal.WithLabelValues(op, failure.KindOf(err).String()).Inc()
	e.logger.Warn("query failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return err
}

func (e *Engine) done(span trace.Span, op string, res *cfgpath.Result) {
	span.SetAttributes(
		attribute.Int("accepted", len(res.Accepted)),
		attribute.Int("rejected", len(res.Rejected)),
	)
	queriesTotal.WithLabelValues(op, "ok").Inc()
	e.logger.Debug("query finished",
		slog.String("op", op),
		slog.Int("accepted", len(res.Accepted)),
		slog.Int("rejected", len(res.Rejected)),
	)
}
