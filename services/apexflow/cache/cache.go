// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache memoizes graph queries for one analysis run.
//
// A VertexCache is created per run and passed explicitly to every component
// that needs it. Entries are pure functions of (graph, key), so a cached
// result is shared by every caller and must be treated as read-only.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent misses on the same key
// are collapsed with singleflight so the underlying query runs once.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Query names a memoized query kind. Used in keys and metric labels.
type Query string

const (
	QueryClass           Query = "class"
	QueryMethods         Query = "methods"
	QueryConstructors    Query = "constructors"
	QuerySuperType       Query = "super_type"
	QueryInterfaces      Query = "interfaces"
	QueryFields          Query = "fields"
	QueryEnclosingClass  Query = "enclosing_class"
	QueryEnclosingMethod Query = "enclosing_method"
	QueryMethodPaths     Query = "method_paths"
	QueryHierarchy       Query = "hierarchy"
)

// Stats reports cache activity.
type Stats struct {
	// Hits is the number of lookups served from the cache.
	Hits int64

	// Misses is the number of lookups not found in the cache.
	Misses int64

	// Queries is the number of underlying query executions.
	Queries int64
}

// Options configures a VertexCache.
type Options struct {
	Logger *slog.Logger
}

// Option is a functional option for New.
type Option func(*Options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// VertexCache memoizes graph queries for one analysis run.
//
// Thread Safety: Safe for concurrent use.
type VertexCache struct {
	g      *graph.Graph
	logger *slog.Logger

	entries sync.Map
	group   singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	queries atomic.Int64
}

// New creates an empty cache over a frozen graph.
func New(g *graph.Graph, opts ...Option) *VertexCache {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &VertexCache{g: g, logger: o.Logger}
}

// Graph returns the graph the cache reads from.
func (c *VertexCache) Graph() *graph.Graph {
	return c.g
}

// Stats returns a snapshot of the cache counters.
func (c *VertexCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Queries: c.queries.Load(),
	}
}

// Get returns the cached value for (q, key), running load on a miss.
//
// Description:
//
//	Lookups are double-checked inside the singleflight group so a miss that
//	races with another miss for the same key never runs load twice. Errors
//	are returned to every waiter and are not cached.
//
// Errors:
//
//	Returns the loader's error, a Cancelled failure if ctx is done before
//	the load starts, or a Structural failure if a cached entry has an
//	unexpected type.
func Get[T any](ctx context.Context, c *VertexCache, q Query, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.load(ctx, q, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, failure.New("cache.Get", 0, fmt.Errorf("unexpected type %T for %s entry %q", v, q, key))
	}
	return typed, nil
}

func (c *VertexCache) load(ctx context.Context, q Query, key string, fn func(context.Context) (any, error)) (any, error) {
	k := string(q) + "\x00" + key
	if v, ok := c.entries.Load(k); ok {
		c.hits.Add(1)
		recordLookup(q, true)
		return v, nil
	}
	c.misses.Add(1)
	recordLookup(q, false)

	v, err, _ := c.group.Do(k, func() (any, error) {
		if v, ok := c.entries.Load(k); ok {
			return v, nil
		}
		if err := failure.Check(ctx, "cache."+string(q)); err != nil {
			return nil, err
		}

		ctx, span := tracer.Start(ctx, "cache.VertexCache.query",
			trace.WithAttributes(
				attribute.String("query", string(q)),
				attribute.String("key", key),
			),
		)
		defer span.End()

		start := time.Now()
		c.queries.Add(1)
		v, err := fn(ctx)
		recordQuery(q, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Debug("cache query failed",
				slog.String("query", string(q)),
				slog.String("key", key),
				slog.Any("error", err),
			)
			return nil, err
		}
		c.entries.Store(k, v)
		return v, nil
	})
	return v, err
}

func typeKey(name string) string {
	return strings.ToLower(name)
}

// pure adapts an infallible query. A result computed after ctx is done may
// be incomplete, so it is reported as cancelled and never stored.
func pure[T any](fn func() T) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		v := fn()
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, failure.Interrupted("cache.query", err)
		}
		return v, nil
	}
}

// Class looks up a class or interface vertex by case-insensitive name.
func (c *VertexCache) Class(ctx context.Context, name string) (*graph.Vertex, bool) {
	v, err := Get(ctx, c, QueryClass, typeKey(name), pure(func() *graph.Vertex {
		cls, _ := c.g.ClassByName(name)
		return cls
	}))
	return v, err == nil && v != nil
}

// Methods returns the non-constructor methods declared directly on
// definingType with the given name and arity, in declaration order.
// The error is non-nil only when ctx ends before the lookup completes.
func (c *VertexCache) Methods(ctx context.Context, definingType, name string, arity int) ([]*graph.Vertex, error) {
	key := typeKey(definingType) + "#" + strings.ToLower(name) + "/" + strconv.Itoa(arity)
	return Get(ctx, c, QueryMethods, key, pure(func() []*graph.Vertex {
		return c.declared(ctx, definingType, func(m *graph.Vertex) bool {
			return !m.Bool(graph.PropConstructor) && strings.EqualFold(m.Name(), name) && Arity(c.g, m) == arity
		})
	}))
}

// Constructors returns the constructors declared on definingType with the
// given arity.
func (c *VertexCache) Constructors(ctx context.Context, definingType string, arity int) ([]*graph.Vertex, error) {
	key := typeKey(definingType) + "/" + strconv.Itoa(arity)
	return Get(ctx, c, QueryConstructors, key, pure(func() []*graph.Vertex {
		return c.declared(ctx, definingType, func(m *graph.Vertex) bool {
			return m.Bool(graph.PropConstructor) && Arity(c.g, m) == arity
		})
	}))
}

func (c *VertexCache) declared(ctx context.Context, definingType string, keep func(*graph.Vertex) bool) []*graph.Vertex {
	cls, ok := c.Class(ctx, definingType)
	if !ok {
		return nil
	}
	var out []*graph.Vertex
	for _, m := range c.g.ChildrenByLabel(cls, graph.LabelMethod) {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// SuperType returns the declared superclass name of definingType, or "".
func (c *VertexCache) SuperType(ctx context.Context, definingType string) (string, error) {
	return Get(ctx, c, QuerySuperType, typeKey(definingType), pure(func() string {
		cls, ok := c.Class(ctx, definingType)
		if !ok {
			return ""
		}
		return cls.Str(graph.PropSuperClassName)
	}))
}

// Interfaces returns the interface names declared by definingType.
func (c *VertexCache) Interfaces(ctx context.Context, definingType string) ([]string, error) {
	return Get(ctx, c, QueryInterfaces, typeKey(definingType), pure(func() []string {
		cls, ok := c.Class(ctx, definingType)
		if !ok {
			return nil
		}
		return cls.Strings(graph.PropInterfaceNames)
	}))
}

// Fields returns the FieldDeclaration vertices of definingType in
// declaration order.
func (c *VertexCache) Fields(ctx context.Context, definingType string) []*graph.Vertex {
	out, _ := Get(ctx, c, QueryFields, typeKey(definingType), pure(func() []*graph.Vertex {
		cls, ok := c.Class(ctx, definingType)
		if !ok {
			return nil
		}
		var fields []*graph.Vertex
		for _, stmts := range c.g.ChildrenByLabel(cls, graph.LabelFieldDeclarationStatements) {
			fields = append(fields, c.g.ChildrenByLabel(stmts, graph.LabelFieldDeclaration)...)
		}
		return fields
	}))
	return out
}

// EnclosingClass returns the closest class or interface containing v.
func (c *VertexCache) EnclosingClass(ctx context.Context, v *graph.Vertex) *graph.Vertex {
	if v == nil {
		return nil
	}
	out, _ := Get(ctx, c, QueryEnclosingClass, strconv.FormatInt(int64(v.ID), 10), pure(func() *graph.Vertex {
		return c.g.Ancestor(v, graph.LabelUserClass, graph.LabelUserInterface)
	}))
	return out
}

// EnclosingMethod returns the method containing v, or v itself when v is a
// method.
func (c *VertexCache) EnclosingMethod(ctx context.Context, v *graph.Vertex) *graph.Vertex {
	if v == nil {
		return nil
	}
	if v.Label == graph.LabelMethod {
		return v
	}
	out, _ := Get(ctx, c, QueryEnclosingMethod, strconv.FormatInt(int64(v.ID), 10), pure(func() *graph.Vertex {
		return c.g.Ancestor(v, graph.LabelMethod)
	}))
	return out
}

// Arity returns the declared arity of a method vertex, counting Parameter
// children when the property is absent.
func Arity(g *graph.Graph, m *graph.Vertex) int {
	if _, ok := m.Props[graph.PropArity]; ok {
		return int(m.Int(graph.PropArity))
	}
	return len(g.ChildrenByLabel(m, graph.LabelParameter))
}
