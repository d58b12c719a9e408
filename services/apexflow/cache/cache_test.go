// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	gt "github.com/AleutianAI/apexflow/services/apexflow/graph/graphtest"
)

func buildFixture(t *testing.T) *gt.Built {
	t.Helper()
	return gt.MustBuild(t,
		gt.Class("Base",
			gt.Method("greet", "String", gt.Params(gt.Param("String", "name")), gt.Return(gt.Var("name"))),
		),
		gt.Class("Foo",
			gt.Field("Integer", "count", gt.Int(0)),
			gt.Field("String", "label", nil),
			gt.Constructor(nil).Tag("ctor0"),
			gt.Constructor(gt.Params(gt.Param("Integer", "n"))).Tag("ctor1"),
			gt.Method("greet", "String", nil, gt.Return(gt.Str("hi")).Tag("ret")).Tag("greet0"),
			gt.Method("greet", "String", gt.Params(gt.Param("Object", "o"))).Tag("greet1obj"),
			gt.Method("GREET", "String", gt.Params(gt.Param("String", "s"))).Tag("greet1str"),
		).Extends("Base").Implements("Greeter", "Comparable"),
	)
}

func TestVertexCache_ClassIdentity(t *testing.T) {
	b := buildFixture(t)
	c := New(b.Graph)
	ctx := context.Background()

	first, ok := c.Class(ctx, "Foo")
	require.True(t, ok)
	second, ok := c.Class(ctx, "fOO")
	require.True(t, ok)

	assert.Same(t, first, second)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Queries, "hit must not re-run the query")
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)

	_, ok = c.Class(ctx, "Missing")
	assert.False(t, ok)
	_, ok = c.Class(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.Stats().Queries, "negative results are cached too")
}

func TestVertexCache_MethodsAndConstructors(t *testing.T) {
	b := buildFixture(t)
	c := New(b.Graph)
	ctx := context.Background()

	zero, err := c.Methods(ctx, "foo", "Greet", 0)
	require.NoError(t, err)
	require.Len(t, zero, 1)
	assert.Equal(t, b.ID("greet0"), zero[0].ID)

	one, err := c.Methods(ctx, "Foo", "greet", 1)
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, b.ID("greet1obj"), one[0].ID)
	assert.Equal(t, b.ID("greet1str"), one[1].ID)

	again, err := c.Methods(ctx, "FOO", "GREET", 1)
	require.NoError(t, err)
	assert.Same(t, &one[0], &again[0])

	none, err := c.Methods(ctx, "Foo", "greet", 2)
	require.NoError(t, err)
	assert.Empty(t, none)
	none, err = c.Methods(ctx, "Nope", "greet", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	ctors, err := c.Constructors(ctx, "Foo", 1)
	require.NoError(t, err)
	require.Len(t, ctors, 1)
	assert.Equal(t, b.ID("ctor1"), ctors[0].ID)
}

func TestVertexCache_TypeQueries(t *testing.T) {
	b := buildFixture(t)
	c := New(b.Graph)
	ctx := context.Background()

	sup, err := c.SuperType(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "Base", sup)
	sup, err = c.SuperType(ctx, "Base")
	require.NoError(t, err)
	assert.Equal(t, "", sup)
	ifaces, err := c.Interfaces(ctx, "Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Greeter", "Comparable"}, ifaces)

	fields := c.Fields(ctx, "Foo")
	require.Len(t, fields, 2)
	assert.Equal(t, "count", fields[0].Name())
	assert.Equal(t, "label", fields[1].Name())

	ret := b.V("ret")
	assert.Equal(t, b.ID("greet0"), c.EnclosingMethod(ctx, ret).ID)
	cls := c.EnclosingClass(ctx, ret)
	require.NotNil(t, cls)
	assert.Equal(t, "Foo", cls.DefiningType())
	assert.Equal(t, b.ID("greet0"), c.EnclosingMethod(ctx, b.V("greet0")).ID)
	assert.Nil(t, c.EnclosingMethod(ctx, nil))
}

func TestGet_ConcurrentMissesRunOnce(t *testing.T) {
	b := buildFixture(t)
	c := New(b.Graph)
	ctx := context.Background()

	var runs atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*int, error) {
		runs.Add(1)
		<-release
		v := 42
		return &v, nil
	}

	const workers = 8
	results := make([]*int, workers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := Get(ctx, c, QueryMethodPaths, "42", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, err := Get(ctx, c, QueryHierarchy, "k", load)
	require.ErrorIs(t, err, boom)
	v, err := Get(ctx, c, QueryHierarchy, "k", load)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestGet_Cancelled(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Get(ctx, c, QueryHierarchy, "k", func(context.Context) (int, error) { return 1, nil })
	require.Error(t, err)
	assert.True(t, failure.IsCancelled(err))
	assert.Equal(t, int64(0), c.Stats().Queries)
}

func TestVertexCache_TypedQueriesReportCancellation(t *testing.T) {
	b := buildFixture(t)
	c := New(b.Graph)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	methods, err := c.Methods(ctx, "Foo", "greet", 1)
	assert.True(t, failure.IsCancelled(err), "a cancelled lookup is not an empty result")
	assert.Empty(t, methods)
	_, err = c.Constructors(ctx, "Foo", 1)
	assert.True(t, failure.IsCancelled(err))
	_, err = c.SuperType(ctx, "Foo")
	assert.True(t, failure.IsCancelled(err))
	_, err = c.Interfaces(ctx, "Foo")
	assert.True(t, failure.IsCancelled(err))

	methods, err = c.Methods(context.Background(), "Foo", "greet", 1)
	require.NoError(t, err)
	assert.Len(t, methods, 2, "the cancelled miss was not cached")
}

func TestGet_TypeMismatch(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	_, err := Get(ctx, c, QueryHierarchy, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	_, err = Get(ctx, c, QueryHierarchy, "k", func(context.Context) (string, error) { return "", nil })
	require.Error(t, err)
	assert.True(t, failure.IsStructural(err))
}

func TestArity_FallsBackToParameters(t *testing.T) {
	bld := graph.NewBuilder()
	m, _ := bld.AddVertex(graph.LabelMethod, map[string]any{graph.PropName: "m"})
	p, _ := bld.AddVertex(graph.LabelParameter, map[string]any{graph.PropName: "x"})
	require.NoError(t, bld.AddChild(m, p))
	g, err := bld.Freeze()
	require.NoError(t, err)

	mv, _ := g.Vertex(m)
	assert.Equal(t, 1, Arity(g, mv))
}
