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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	gt "github.com/AleutianAI/apexflow/services/apexflow/graph/graphtest"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

func setup(t *testing.T, roots ...*gt.Node) (*Expander, *gt.Built) {
	t.Helper()
	b := gt.MustBuild(t, roots...)
	c := cache.New(b.Graph)
	r := resolve.New(c)
	return New(c, r, interp.New(c, r)), b
}

// expandAll enumerates a method and expands every raw path.
func expandAll(t *testing.T, e *Expander, b *gt.Built, class, method string, cfg Config) *cfgpath.Result {
	t.Helper()
	ctx := context.Background()
	m := b.Method(class, method)
	require.NotNil(t, m, "%s.%s", class, method)
	raw, err := cfgpath.NewEnumerator(b.Graph).EnumerateMethod(ctx, m)
	require.NoError(t, err)
	out := &cfgpath.Result{}
	for _, p := range raw.Accepted {
		res, err := e.Expand(ctx, p, cfg)
		require.NoError(t, err)
		out.Accepted = append(out.Accepted, res.Accepted...)
		out.Rejected = append(out.Rejected, res.Rejected...)
	}
	return out
}

func kinds(rs []cfgpath.Rejection) []cfgpath.RejectionKind {
	out := make([]cfgpath.RejectionKind, len(rs))
	for i, r := range rs {
		out[i] = r.Kind
	}
	return out
}

// pickFixture calls a two-path method twice from a single-path method.
func pickFixture() *gt.Node {
	return gt.Class("Foo",
		gt.Method("pick", "String", gt.Params(gt.Param("Boolean", "f")),
			gt.If(gt.Var("f"),
				gt.Block(gt.Return(gt.Str("a"))),
				gt.Block(gt.Return(gt.Str("b"))),
			),
		),
		gt.Method("run", "void", gt.Params(gt.Param("Boolean", "x")),
			gt.Decl("String", "s", gt.Invoke("pick", gt.Var("x")).Tag("first")),
			gt.Decl("String", "t", gt.Invoke("pick", gt.Var("x")).Tag("second")),
			gt.Expr(gt.StaticCall("System", "debug", gt.Plus(gt.Var("s"), gt.Var("t")))),
		),
	)
}

func TestExpand_CrossProduct(t *testing.T) {
	e, b := setup(t, pickFixture())
	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())

	require.Len(t, res.Accepted, 4, "2 callee paths at each of 2 call sites")
	assert.Empty(t, res.Rejected)
	for _, p := range res.Accepted {
		assert.Len(t, p.Expansions(), 2)
		_, ok := p.Expansion(b.ID("first"))
		assert.True(t, ok)
		_, ok = p.Expansion(b.ID("second"))
		assert.True(t, ok)
	}
}

func TestExpand_ExpandCallsDisabled(t *testing.T) {
	e, b := setup(t, pickFixture())
	cfg := DefaultConfig()
	cfg.ExpandCalls = false
	res := expandAll(t, e, b, "Foo", "run", cfg)

	require.Len(t, res.Accepted, 1)
	assert.Empty(t, res.Accepted[0].Expansions())
}

func TestExpand_PathLimit(t *testing.T) {
	e, b := setup(t, pickFixture())
	cfg := DefaultConfig()
	cfg.MaxPaths = 3
	res := expandAll(t, e, b, "Foo", "run", cfg)

	assert.Len(t, res.Accepted, 3)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, cfgpath.RejectPathLimit, res.Rejected[0].Kind)
	assert.NotNil(t, res.Rejected[0].Path, "the dropped candidate is reported")
}

func TestExpand_ReturnValueCollapser(t *testing.T) {
	fixture := gt.Class("Foo",
		gt.Method("label", "String", gt.Params(gt.Param("Boolean", "f")),
			gt.If(gt.Var("f"),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("x")))),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("y")))),
			),
			gt.Return(gt.Str("same")),
		),
		gt.Method("run", "void", gt.Params(gt.Param("Boolean", "x")),
			gt.Decl("String", "s", gt.Invoke("label", gt.Var("x")).Tag("call")),
		),
	)

	t.Run("without", func(t *testing.T) {
		e, b := setup(t, fixture)
		res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
		assert.Len(t, res.Accepted, 2)
		assert.Empty(t, res.Rejected)
	})

	t.Run("with", func(t *testing.T) {
		e, b := setup(t, fixture)
		cfg := DefaultConfig()
		cfg.Collapsers = append(cfg.Collapsers, ReturnValueCollapser{})
		res := expandAll(t, e, b, "Foo", "run", cfg)

		assert.Len(t, res.Accepted, 1)
		require.Len(t, res.Rejected, 1)
		r := res.Rejected[0]
		assert.Equal(t, cfgpath.RejectCollapsed, r.Kind)
		assert.Equal(t, ReturnValueName, r.Collapser)
		assert.Equal(t, b.ID("call"), r.VertexID)
	})
}

func TestExpand_ConditionDecidedByCallee(t *testing.T) {
	fixture := gt.Class("Foo",
		gt.Method("flag", "Boolean", nil, gt.Return(gt.Bool(true))),
		gt.Method("run", "void", gt.Params(gt.Param("Account", "acct")),
			gt.Decl("Boolean", "f", gt.Invoke("flag")),
			gt.If(gt.Var("f"),
				gt.Block(gt.Insert(gt.Var("acct")).Tag("insert")),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("no")))),
			),
		),
	)
	e, b := setup(t, fixture)

	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
	require.Len(t, res.Accepted, 1)
	assert.True(t, res.Accepted[0].Contains(b.ID("insert")))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, cfgpath.RejectExcluded, res.Rejected[0].Kind)
	assert.Equal(t, BooleanConditionName, res.Rejected[0].Collapser)
	assert.Contains(t, res.Rejected[0].Message, "always true")

	cfg := DefaultConfig()
	cfg.ExpandCalls = false
	res = expandAll(t, e, b, "Foo", "run", cfg)
	assert.Len(t, res.Accepted, 2, "an unexpanded call leaves the condition open")
}

func TestExpand_NullAccessRejectsOnlyThatCandidate(t *testing.T) {
	e, b := setup(t, gt.Class("Foo",
		gt.Method("describe", "String", gt.Params(gt.Param("Boolean", "f")),
			gt.If(gt.Var("f"),
				gt.Block(gt.Return(gt.Null())),
				gt.Block(gt.Return(gt.Str("x"))),
			),
		),
		gt.Method("run", "void", gt.Params(gt.Param("Boolean", "f")),
			gt.Decl("String", "s", gt.Invoke("describe", gt.Var("f"))),
			gt.Decl("Integer", "n", gt.Call(gt.Var("s"), "length")).Tag("deref"),
		),
	))

	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
	assert.Len(t, res.Accepted, 1, "the non-null sibling survives")
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, cfgpath.RejectNullAccess, res.Rejected[0].Kind)
	assert.Equal(t, b.ID("deref"), res.Rejected[0].VertexID)
	assert.NotNil(t, res.Rejected[0].Path)
}

func TestExpand_NullConstraintsAcrossConditions(t *testing.T) {
	fixture := gt.Class("Foo",
		gt.Method("run", "void", gt.Params(gt.Param("Account", "a")),
			gt.If(gt.Cmp("!=", gt.Var("a"), gt.Null()),
				gt.Block(gt.Insert(gt.Var("a"))),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("none")))),
			),
			gt.If(gt.Cmp("==", gt.Var("a"), gt.Null()),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("again")))),
				gt.Block(gt.Update(gt.Var("a"))),
			),
		),
	)

	tests := []struct {
		name       string
		collapsers []Collapser
		rejectedBy string
	}{
		{"excluder decides constrained comparison", []Collapser{BooleanConditionExcluder{}, NullConstrainer{}}, BooleanConditionName},
		{"constrainer alone", []Collapser{NullConstrainer{}}, NullConstrainerName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, b := setup(t, fixture)
			cfg := DefaultConfig()
			cfg.Collapsers = tt.collapsers
			res := expandAll(t, e, b, "Foo", "run", cfg)

			assert.Len(t, res.Accepted, 2)
			require.Len(t, res.Rejected, 2)
			for _, r := range res.Rejected {
				assert.Equal(t, cfgpath.RejectExcluded, r.Kind)
				assert.Equal(t, tt.rejectedBy, r.Collapser)
			}
		})
	}

	t.Run("no collapsers", func(t *testing.T) {
		e, b := setup(t, fixture)
		res := expandAll(t, e, b, "Foo", "run", Config{ExpandCalls: true})
		assert.Len(t, res.Accepted, 4)
	})
}

func TestExpand_ConstructorRunsInitializersAndBody(t *testing.T) {
	e, b := setup(t,
		gt.Class("Acct",
			gt.Field("String", "name", gt.Str("init")),
			gt.Field("Integer", "n", nil),
			gt.Constructor(gt.Params(gt.Param("Integer", "k")),
				gt.Expr(gt.Assign(gt.FieldOf(gt.This(), "n"), gt.Var("k"))),
			),
		),
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Decl("Acct", "a", gt.New("Acct", gt.Int(5)).Tag("new")),
				gt.Expr(gt.StaticCall("System", "debug", gt.FieldOf(gt.Var("a"), "n"))).Tag("debug"),
			),
		),
	)
	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
	require.Len(t, res.Accepted, 1)
	p := res.Accepted[0]
	_, ok := p.Expansion(b.ID("new"))
	require.True(t, ok, "constructor call is expanded")

	var n, name string
	err := NewWalker(e, interp.Indeterminate).Walk(context.Background(), p,
		VisitorFunc(func(_ context.Context, v *graph.Vertex, scope *Scope) error {
			if v.ID != b.ID("debug") {
				return nil
			}
			a, ok := scope.Value("a")
			require.True(t, ok)
			h := scope.Frame().Heap()
			if f, ok := h.Field(a, "n"); ok {
				n = h.DisplayText(f)
			}
			if f, ok := h.Field(a, "name"); ok {
				name = h.DisplayText(f)
			}
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, "5", n)
	assert.Equal(t, "init", name)
}

func TestExpand_CalleeThrowEndsCandidate(t *testing.T) {
	e, b := setup(t, gt.Class("Foo",
		gt.Method("check", "void", gt.Params(gt.Param("Boolean", "f")),
			gt.If(gt.Var("f"),
				gt.Block(gt.Throw(gt.New("MyException")).Tag("throw")),
				gt.Block(gt.Expr(gt.StaticCall("System", "debug", gt.Str("ok")))),
			),
		),
		gt.Method("run", "void", gt.Params(gt.Param("Boolean", "f"), gt.Param("Account", "acct")),
			gt.Expr(gt.Invoke("check", gt.Var("f"))).Tag("call"),
			gt.Insert(gt.Var("acct")).Tag("insert"),
		),
	))
	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
	require.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)

	var thrown, normal *cfgpath.Path
	for _, p := range res.Accepted {
		if p.EndsInException {
			thrown = p
		} else {
			normal = p
		}
	}
	require.NotNil(t, thrown)
	require.NotNil(t, normal)
	assert.Equal(t, b.ID("call"), thrown.Last().ID)
	assert.Equal(t, b.ID("throw"), thrown.ThrowVertex.ID)
	assert.False(t, thrown.Contains(b.ID("insert")))
	assert.True(t, normal.Contains(b.ID("insert")))
}

func TestExpand_RecursionAndDepthLimit(t *testing.T) {
	t.Run("recursion", func(t *testing.T) {
		e, b := setup(t, gt.Class("Foo",
			gt.Method("fact", "Integer", gt.Params(gt.Param("Integer", "n")),
				gt.Return(gt.Invoke("fact", gt.Var("n")).Tag("inner")),
			),
			gt.Method("run", "void", nil,
				gt.Decl("Integer", "x", gt.Invoke("fact", gt.Int(3)).Tag("outer")),
			),
		))
		res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
		require.Len(t, res.Accepted, 1)
		require.Len(t, res.Rejected, 1)
		r := res.Rejected[0]
		assert.Equal(t, cfgpath.RejectDepthLimit, r.Kind)
		assert.Equal(t, b.ID("inner"), r.VertexID)
		assert.Nil(t, r.Path, "the candidate continues")

		callee, ok := res.Accepted[0].Expansion(b.ID("outer"))
		require.True(t, ok)
		assert.Empty(t, callee.Expansions())

		self := expandAll(t, e, b, "Foo", "fact", DefaultConfig())
		require.Len(t, self.Accepted, 1)
		require.Len(t, self.Rejected, 1)
		assert.Equal(t, b.ID("inner"), self.Rejected[0].VertexID, "the entry method counts as active")
		_, ok = self.Accepted[0].Expansion(b.ID("inner"))
		assert.False(t, ok)
	})

	t.Run("max depth", func(t *testing.T) {
		e, b := setup(t, gt.Class("Foo",
			gt.Method("c", "void", nil, gt.Expr(gt.StaticCall("System", "debug", gt.Str("c")))),
			gt.Method("b", "void", nil, gt.Expr(gt.Invoke("c")).Tag("callC")),
			gt.Method("a", "void", nil, gt.Expr(gt.Invoke("b")).Tag("callB")),
			gt.Method("run", "void", nil, gt.Expr(gt.Invoke("a")).Tag("callA")),
		))
		cfg := DefaultConfig()
		cfg.MaxDepth = 1
		res := expandAll(t, e, b, "Foo", "run", cfg)
		require.Len(t, res.Accepted, 1)
		assert.Equal(t, []cfgpath.RejectionKind{cfgpath.RejectDepthLimit}, kinds(res.Rejected))
		assert.Equal(t, b.ID("callB"), res.Rejected[0].VertexID)

		a, ok := res.Accepted[0].Expansion(b.ID("callA"))
		require.True(t, ok)
		_, ok = a.Expansion(b.ID("callB"))
		assert.False(t, ok)

		cfg.MaxDepth = 0
		res = expandAll(t, e, b, "Foo", "run", cfg)
		assert.Empty(t, res.Rejected)
		a, _ = res.Accepted[0].Expansion(b.ID("callA"))
		bp, ok := a.Expansion(b.ID("callB"))
		require.True(t, ok)
		_, ok = bp.Expansion(b.ID("callC"))
		assert.True(t, ok)
	})
}

func TestExpand_UnsupportedPolicy(t *testing.T) {
	e, b := setup(t, gt.Class("Foo",
		gt.Method("run", "void", nil,
			gt.Decl("List<SObject>", "rows", gt.Soql("SELECT Id FROM Account, Contact")),
		),
	))
	res := expandAll(t, e, b, "Foo", "run", DefaultConfig())
	assert.Len(t, res.Accepted, 1)

	raw, err := cfgpath.NewEnumerator(b.Graph).EnumerateMethod(context.Background(), b.Method("Foo", "run"))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Unsupported = interp.Fail
	_, err = e.Expand(context.Background(), raw.Accepted[0], cfg)
	require.Error(t, err)
	assert.True(t, failure.IsUnimplemented(err))
}

func TestExpand_Cancelled(t *testing.T) {
	e, b := setup(t, pickFixture())
	raw, err := cfgpath.NewEnumerator(b.Graph).EnumerateMethod(context.Background(), b.Method("Foo", "run"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Expand(ctx, raw.Accepted[0], DefaultConfig())
	require.Error(t, err)
	assert.True(t, failure.IsCancelled(err))
}
