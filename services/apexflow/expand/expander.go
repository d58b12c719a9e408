// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expand splices callee paths into a method path.
//
// An expansion runs a path vertex by vertex against a symbolic environment.
// At each call site the invoked method is resolved, its own paths are
// enumerated through the vertex cache and each one is executed in a forked
// environment. The caller candidate splits once per surviving callee
// outcome, so the result is the cross-product over every call site on the
// path. Collapsers prune that product:
//
//   - ConditionCollapser runs at each condition and may exclude a candidate.
//   - CallCollapser runs over the outcomes of one call site and may merge them.
//   - PathCollapser runs over the completed candidates.
//
// Every candidate moves Pending -> Expanded -> Accepted or Rejected. Rejected
// candidates are reported next to the accepted ones with a reason; a
// rejection never aborts sibling candidates. Structural failures abort the
// whole expansion.
//
// Thread Safety:
//
//	An Expander is safe for concurrent use. Each Expand call owns its
//	environments; the vertex cache is the only shared state.
package expand

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// State is the lifecycle position of one candidate.
type State int

const (
	// Pending candidates still have vertices to execute.
	Pending State = iota

	// Expanded candidates reached the end of their path.
	Expanded

	// Accepted candidates survived every path collapser and the path limit.
	Accepted

	// Rejected candidates carry a Rejection.
	Rejected
)

// String returns the state name used in metric labels.
func (s State) String() string {
	switch s {
	case Expanded:
		return "expanded"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Config controls one expansion.
type Config struct {
	// ExpandCalls enables call-site expansion. When false, calls evaluate
	// to indeterminate values and only conditions are checked.
	ExpandCalls bool

	// Collapsers are applied in order at their hook points.
	Collapsers []Collapser

	// MaxPaths caps accepted paths and the callee paths enumerated per
	// method. 0 means unlimited.
	MaxPaths int

	// MaxDepth caps nested call expansion. 0 means unlimited; recursive
	// calls are never expanded.
	MaxDepth int

	// Unsupported decides what happens at constructs the interpreter does
	// not model.
	Unsupported interp.Policy
}

// DefaultConfig expands calls and excludes contradicting conditions.
func DefaultConfig() Config {
	return Config{
		ExpandCalls: true,
		Collapsers:  []Collapser{BooleanConditionExcluder{}, NullConstrainer{}},
		MaxDepth:    8,
	}
}

// Options configures an Expander.
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

// Expander splices callee paths into method paths.
//
// Thread Safety: Safe for concurrent use.
type Expander struct {
	c    *cache.VertexCache
	g    *graph.Graph
	r    *resolve.Resolver
	in   *interp.Interpreter
	opts Options
}

// New creates an expander over the cache's graph.
func New(c *cache.VertexCache, r *resolve.Resolver, in *interp.Interpreter, opts ...Option) *Expander {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Expander{c: c, g: c.Graph(), r: r, in: in, opts: o}
}

// MethodPaths enumerates the paths of method through the vertex cache.
// Results are shared per method and maxPaths for the lifetime of the cache.
func (e *Expander) MethodPaths(ctx context.Context, method *graph.Vertex, maxPaths int) (*cfgpath.Result, error) {
	if method == nil {
		return nil, failure.Newf("expand.MethodPaths", 0, failure.ErrUnresolvable, "nil method")
	}
	key := strconv.FormatInt(int64(method.ID), 10) + "/" + strconv.Itoa(maxPaths)
	return cache.Get(ctx, e.c, cache.QueryMethodPaths, key, func(ctx context.Context) (*cfgpath.Result, error) {
		en := cfgpath.NewEnumerator(e.g, cfgpath.WithMaxPaths(maxPaths), cfgpath.WithLogger(e.opts.Logger))
		return en.EnumerateMethod(ctx, method)
	})
}

// Expand executes path and returns every expanded candidate.
//
// Description:
//
//	The path starts in an entry environment of its method: parameters and
//	receiver fields are indeterminate. Call sites are expanded when
//	cfg.ExpandCalls is set; conditions are checked by the configured
//	condition collapsers using the polarity recorded on the path.
//
// Inputs:
//
//	ctx  - Cancellation and tracing context.
//	path - A path produced by the enumerator.
//	cfg  - Expansion settings.
//
// Outputs:
//
//	*cfgpath.Result - Accepted expanded paths and every rejection.
//
// Errors:
//
//	Structural failures (ambiguous overloads, circular values, malformed
//	callee CFGs) abort the expansion. Cancelled when ctx is done. An
//	Unimplemented failure when cfg.Unsupported is interp.Fail and an
//	unsupported construct is reached.
func (e *Expander) Expand(ctx context.Context, path *cfgpath.Path, cfg Config) (*cfgpath.Result, error) {
	if path == nil || path.Method == nil {
		return nil, failure.Newf("expand.Expand", 0, failure.ErrUnresolvable, "path has no method")
	}
	ctx, span := tracer.Start(ctx, "expand.Expander.Expand",
		trace.WithAttributes(
			attribute.Int64("method_id", int64(path.Method.ID)),
			attribute.Int("vertices", path.Len()),
			attribute.Bool("expand_calls", cfg.ExpandCalls),
		),
	)
	defer span.End()
	start := time.Now()

	res, err := e.expand(ctx, path, cfg)
	expandDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.opts.Logger.Warn("expansion aborted",
			slog.String("path", path.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	candidatesTotal.WithLabelValues(Accepted.String()).Add(float64(len(res.Accepted)))
	for _, r := range res.Rejected {
		rejectionsTotal.WithLabelValues(string(r.Kind)).Inc()
		if r.Path != nil {
			candidatesTotal.WithLabelValues(Rejected.String()).Inc()
		}
	}
	span.SetAttributes(
		attribute.Int("accepted", len(res.Accepted)),
		attribute.Int("rejected", len(res.Rejected)),
	)
	e.opts.Logger.Debug("path expanded",
		slog.String("method", path.Method.String()),
		slog.Int("accepted", len(res.Accepted)),
		slog.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

func (e *Expander) expand(ctx context.Context, path *cfgpath.Path, cfg Config) (*cfgpath.Result, error) {
	env, err := e.in.EntryEnv(ctx, path.Method, cfg.Unsupported)
	if err != nil {
		return nil, err
	}
	x := newExecution(e, cfg)
	// The entry method is on the stack, so a self call is recursion.
	x.active[path.Method.ID]++
	ends, err := x.run(ctx, path, env, 0)
	if err != nil {
		return nil, err
	}

	paths := make([]*cfgpath.Path, 0, len(ends))
	for _, s := range ends {
		paths = append(paths, s.path)
	}
	for _, c := range cfg.Collapsers {
		pc, ok := c.(PathCollapser)
		if !ok || len(paths) < 2 {
			continue
		}
		keep, err := pc.CollapsePaths(ctx, paths)
		if err != nil {
			return nil, err
		}
		paths = x.retain(paths, keep, pc.Name())
	}

	if cfg.MaxPaths > 0 && len(paths) > cfg.MaxPaths {
		for _, p := range paths[cfg.MaxPaths:] {
			x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
				Kind:     cfgpath.RejectPathLimit,
				Message:  fmt.Sprintf("more than %d expanded paths", cfg.MaxPaths),
				VertexID: path.Method.ID,
				Path:     p,
			})
		}
		paths = paths[:cfg.MaxPaths]
	}
	x.result.Accepted = paths
	return x.result, nil
}

// retain keeps paths[keep] in their original order and rejects the rest as
// collapsed by the named collapser.
func (x *execution) retain(paths []*cfgpath.Path, keep []int, name string) []*cfgpath.Path {
	kept := make(map[int]bool, len(keep))
	for _, i := range keep {
		kept[i] = true
	}
	out := make([]*cfgpath.Path, 0, len(keep))
	for i, p := range paths {
		if kept[i] {
			out = append(out, p)
			continue
		}
		x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
			Kind:      cfgpath.RejectCollapsed,
			Message:   "equivalent to an accepted path",
			VertexID:  p.Method.ID,
			Collapser: name,
			Path:      p,
		})
	}
	return out
}
