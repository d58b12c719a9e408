// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	gt "github.com/AleutianAI/apexflow/services/apexflow/graph/graphtest"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

func newInterp(t *testing.T, roots ...*gt.Node) (*Interpreter, *gt.Built) {
	t.Helper()
	b := gt.MustBuild(t, roots...)
	c := cache.New(b.Graph)
	return New(c, resolve.New(c)), b
}

// runBody executes the top-level statements of a method body in order.
func runBody(t *testing.T, in *Interpreter, b *gt.Built, class, method string, policy Policy) (*Env, error) {
	t.Helper()
	ctx := context.Background()
	m := b.Method(class, method)
	require.NotNil(t, m, "%s.%s", class, method)
	env, err := in.EntryEnv(ctx, m, policy)
	require.NoError(t, err)
	body := b.Graph.FirstChildByLabel(m, graph.LabelBlockStatement)
	for _, st := range b.Graph.Children(body) {
		if _, err := in.Exec(ctx, st, env); err != nil {
			return env, err
		}
	}
	return env, nil
}

func mustRun(t *testing.T, in *Interpreter, b *gt.Built, class, method string) *Env {
	t.Helper()
	env, err := runBody(t, in, b, class, method, Indeterminate)
	require.NoError(t, err)
	return env
}

func lookup(t *testing.T, env *Env, name string) *apexvalue.Value {
	t.Helper()
	v, ok := env.Frame.Lookup(name)
	require.True(t, ok, "no variable %q", name)
	return v
}

func text(t *testing.T, env *Env, name string) string {
	t.Helper()
	s, ok := lookup(t, env, name).Text()
	require.True(t, ok, "%s is not a determinate string", name)
	return s
}

func integer(t *testing.T, env *Env, name string) int64 {
	t.Helper()
	n, ok := lookup(t, env, name).Int()
	require.True(t, ok, "%s is not a determinate integer", name)
	return n
}

func TestEval_Concatenation(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("String", "p")),
				gt.Decl("String", "ab", gt.Plus(gt.Str("a"), gt.Str("b"))),
				gt.Decl("String", "abc", gt.Plus(gt.Var("ab"), gt.Int(3))),
				gt.Decl("String", "open", gt.Plus(gt.Str("a"), gt.Var("p"))),
				gt.Decl("String", "n", gt.Null()),
				gt.Decl("String", "withNull", gt.Plus(gt.Str("a"), gt.Var("n"))),
				gt.Decl("String", "dec", gt.Plus(gt.Str("v"), gt.Decimal("1.50"))),
				gt.Decl("String", "literal", gt.Plus(gt.Str("a"), gt.Null())),
				gt.Decl("Object", "o", gt.Null()),
				gt.Decl("String", "object", gt.Plus(gt.Var("o"), gt.Str("!"))),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")
	assert.Equal(t, "anull", text(t, env, "literal"), "an untyped null literal concatenates as null")
	assert.Equal(t, "null!", text(t, env, "object"))

	assert.Equal(t, "ab", text(t, env, "ab"))
	assert.Equal(t, "ab3", text(t, env, "abc"))
	assert.Equal(t, "anull", text(t, env, "withNull"), "a null string concatenates as null")
	assert.Equal(t, "v1.50", text(t, env, "dec"), "decimals keep their source text")

	open := lookup(t, env, "open")
	assert.True(t, open.IsIndeterminate())
	assert.Equal(t, "String", open.Type())
}

func TestEval_Arithmetic(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("Integer", "p")),
				gt.Decl("Integer", "i", gt.Bin("*", gt.Int(6), gt.Int(7))),
				gt.Decl("Long", "l", gt.Plus(gt.Long(1), gt.Int(2))),
				gt.Decl("Decimal", "d", gt.Plus(gt.Decimal("1.5"), gt.Int(1))),
				gt.Decl("Integer", "u", gt.Plus(gt.Var("p"), gt.Int(1))),
				gt.Decl("Integer", "k", gt.Int(1)),
				gt.Expr(gt.Postfix("++", gt.Var("k"))),
				gt.Expr(gt.Prefix("++", gt.Var("k"))),
				gt.Expr(gt.AssignOp("+=", gt.Var("k"), gt.Int(10))),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")

	assert.Equal(t, int64(42), integer(t, env, "i"))
	assert.Equal(t, int64(3), integer(t, env, "l"))
	assert.Equal(t, "Long", lookup(t, env, "l").Type())
	d, ok := lookup(t, env, "d").Decimal()
	require.True(t, ok)
	assert.InDelta(t, 2.5, d, 1e-9)
	assert.True(t, lookup(t, env, "u").IsIndeterminate())
	assert.Equal(t, int64(13), integer(t, env, "k"))
}

func TestEval_Booleans(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("String", "p")),
				gt.Decl("Boolean", "lt", gt.Cmp("&&", gt.Cmp("<", gt.Int(1), gt.Int(2)), gt.Bool(true))),
				gt.Decl("Boolean", "eqFold", gt.Cmp("==", gt.Str("ABC"), gt.Str("abc"))),
				gt.Decl("Boolean", "short", gt.Cmp("||", gt.Bool(true), gt.Var("p"))),
				gt.Decl("Boolean", "open", gt.Cmp("==", gt.Var("p"), gt.Null())),
				gt.Decl("Boolean", "not", gt.Not(gt.Bool(false))),
				gt.Decl("String", "pick", gt.Ternary(gt.Bool(false), gt.Str("a"), gt.Str("b"))),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")

	for _, name := range []string{"lt", "eqFold", "short", "not"} {
		x, ok := lookup(t, env, name).Bool()
		require.True(t, ok, name)
		assert.True(t, x, name)
	}
	assert.True(t, lookup(t, env, "open").IsIndeterminate(), "comparing an unknown parameter with null is undecided")
	assert.Equal(t, "b", text(t, env, "pick"))
}

func TestEval_NullConstraintDecidesComparison(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("String", "p")),
				gt.Expr(gt.Cmp("!=", gt.Var("p"), gt.Null()).Tag("cmp")),
			),
		),
	)
	ctx := context.Background()
	env, err := in.EntryEnv(ctx, b.Method("Foo", "run"), Indeterminate)
	require.NoError(t, err)

	p := lookup(t, env, "p")
	_, err = env.Heap().Constrain(ctx, p, apexvalue.NotNull)
	require.NoError(t, err)

	v, err := in.Eval(ctx, b.V("cmp"), env)
	require.NoError(t, err)
	x, ok := v.Bool()
	require.True(t, ok)
	assert.True(t, x)
}

func TestEval_NullAccessIsRejection(t *testing.T) {
	tests := []struct {
		name string
		stmt *gt.Node
	}{
		{"method call", gt.Decl("Integer", "n", gt.Call(gt.Var("s"), "length"))},
		{"field read", gt.Decl("String", "f", gt.FieldOf(gt.Var("s"), "name"))},
		{"dml", gt.Insert(gt.Var("s"))},
		{"loop", gt.ForEach("String", "x", gt.Var("s"))},
		{"arithmetic", gt.Decl("Integer", "n", gt.Bin("-", gt.Var("i"), gt.Int(1)))},
		{"concatenating a null record", gt.Decl("String", "t", gt.Plus(gt.Str("Id: "), gt.Var("a")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, b := newInterp(t,
				gt.Class("Foo",
					gt.Method("run", "void", nil,
						gt.Decl("String", "s", gt.Null()),
						gt.Decl("Integer", "i", gt.Null()),
						gt.Decl("Account", "a", gt.Null()),
						tt.stmt,
					),
				),
			)
			_, err := runBody(t, in, b, "Foo", "run", Indeterminate)
			require.Error(t, err)
			assert.True(t, failure.IsRejection(err))
			assert.True(t, errors.Is(err, failure.ErrNullAccess))
		})
	}
}

func TestEval_Collections(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("List<String>", "unknown")),
				gt.Decl("List<String>", "l", gt.New("List<String>")),
				gt.Expr(gt.Call(gt.Var("l"), "add", gt.Str("x"))),
				gt.Expr(gt.Call(gt.Var("l"), "add", gt.Str("y"))),
				gt.Decl("Integer", "size", gt.Call(gt.Var("l"), "size")),
				gt.Decl("String", "second", gt.Call(gt.Var("l"), "get", gt.Int(1))),
				gt.Decl("Set<String>", "s", gt.SetOf("Set<String>", gt.Str("a"), gt.Str("a"), gt.Str("b"))),
				gt.Decl("Integer", "setSize", gt.Call(gt.Var("s"), "size")),
				gt.Decl("Boolean", "has", gt.Call(gt.Var("s"), "contains", gt.Str("b"))),
				gt.Decl("Map<String,Integer>", "m", gt.MapOf("Map<String,Integer>", gt.Str("k"), gt.Int(1))),
				gt.Expr(gt.Call(gt.Var("m"), "put", gt.Str("j"), gt.Int(2))),
				gt.Decl("Integer", "j", gt.Call(gt.Var("m"), "get", gt.Str("j"))),
				gt.Decl("Integer", "missing", gt.Call(gt.Var("m"), "get", gt.Str("z"))),
				gt.Decl("Integer", "openSize", gt.Call(gt.Var("unknown"), "size")),
				gt.Decl("List<String>", "copy", gt.New("List<String>", gt.Var("l"))),
				gt.Expr(gt.Call(gt.Var("copy"), "addAll", gt.Var("unknown"))),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")

	assert.Equal(t, int64(2), integer(t, env, "size"))
	assert.Equal(t, "y", text(t, env, "second"))
	assert.Equal(t, int64(2), integer(t, env, "setSize"))
	has, ok := lookup(t, env, "has").Bool()
	require.True(t, ok)
	assert.True(t, has)
	assert.Equal(t, int64(2), integer(t, env, "j"))
	assert.True(t, lookup(t, env, "missing").IsNull(), "a key absent from a determinate map reads null")
	assert.True(t, lookup(t, env, "openSize").IsIndeterminate())
	assert.True(t, lookup(t, env, "copy").IsIndeterminate(), "addAll of an unknown list forgets the contents")
	n, _ := lookup(t, env, "l").Len()
	assert.Equal(t, 2, n, "copying a list does not alias it")
}

func TestEval_PlatformStatics(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Expr(gt.StaticCall("System", "debug", gt.Str("hi"))),
				gt.Decl("String", "v", gt.StaticCall("String", "valueOf", gt.Int(7))),
				gt.Decl("Boolean", "blank", gt.StaticCall("String", "isBlank", gt.Str("  "))),
				gt.Decl("String", "lower", gt.Call(gt.Str("ABC"), "toLowerCase")),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")

	assert.Equal(t, "7", text(t, env, "v"))
	blank, ok := lookup(t, env, "blank").Bool()
	require.True(t, ok)
	assert.True(t, blank)
	assert.Equal(t, "abc", text(t, env, "lower"))
}

func TestEval_FieldsAndStatics(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Acct",
			gt.Field("String", "PREFIX", gt.Str("p")).Static(),
			gt.Field("String", "name", gt.Str("x")),
			gt.Field("Integer", "count", nil),
			gt.Method("run", "void", nil,
				gt.Decl("String", "q", gt.Plus(gt.Var("PREFIX"), gt.Str("q"))),
				gt.Expr(gt.Assign(gt.FieldOf(gt.This(), "count"), gt.Int(5))),
				gt.Decl("Acct", "a", gt.New("Acct")),
				gt.Decl("String", "fresh", gt.FieldOf(gt.Var("a"), "name")),
				gt.Decl("Integer", "unset", gt.FieldOf(gt.Var("a"), "count")),
				gt.Expr(gt.Assign(gt.Ref("Acct", "PREFIX"), gt.Str("z"))),
			),
		),
	)
	env := mustRun(t, in, b, "Acct", "run")

	assert.Equal(t, "pq", text(t, env, "q"))
	assert.Equal(t, int64(5), integer(t, env, "count"), "this.count was assigned")
	assert.Equal(t, "x", text(t, env, "fresh"), "new runs field initializers")
	assert.True(t, lookup(t, env, "unset").IsNull(), "fields without initializer start null")
	assert.Equal(t, "z", text(t, env, "PREFIX"), "static fields are assignable through the class")

	this, ok := env.Frame.This()
	require.True(t, ok)
	name, ok := env.Heap().Field(this, "name")
	require.True(t, ok)
	assert.True(t, name.IsIndeterminate(), "entry receivers have unknown fields")
}

func TestExec_ForEachBindsLoopValue(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("List<Account>", "accts")),
				gt.Decl("List<String>", "l", gt.ListOf("List<String>", gt.Str("a"), gt.Str("b"))),
				gt.ForEach("String", "s", gt.Var("l")),
				gt.ForEach("Account", "acct", gt.Var("accts")),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")

	s := lookup(t, env, "s")
	assert.Equal(t, apexvalue.KindForLoop, s.Kind())
	assert.Equal(t, "a, b", env.Heap().DisplayText(s))

	acct := lookup(t, env, "acct")
	assert.True(t, acct.IsIndeterminate())
	assert.Equal(t, "Account", acct.Type())
}

func TestExec_Outcomes(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("f", "String", nil,
				gt.If(gt.Bool(true).Tag("cond"), gt.Return(gt.Str("r")).Tag("ret"), gt.Throw(gt.New("MyException")).Tag("throw")),
			),
		),
	)
	ctx := context.Background()
	env, err := in.EntryEnv(ctx, b.Method("Foo", "f"), Indeterminate)
	require.NoError(t, err)

	out, err := in.Exec(ctx, b.Graph.Parent(b.V("cond")), env)
	require.NoError(t, err)
	x, ok := out.Condition.Bool()
	require.True(t, ok)
	assert.True(t, x)

	out, err = in.Exec(ctx, b.V("ret"), env)
	require.NoError(t, err)
	assert.True(t, out.Returned)
	s, _ := out.Value.Text()
	assert.Equal(t, "r", s)

	out, err = in.Exec(ctx, b.V("throw"), env)
	require.NoError(t, err)
	assert.True(t, out.Thrown)
}

func TestEval_UnsupportedPolicy(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Decl("List<SObject>", "rows", gt.Soql("SELECT Id FROM Account, Contact")),
			),
		),
	)

	env, err := runBody(t, in, b, "Foo", "run", Indeterminate)
	require.NoError(t, err)
	rows := lookup(t, env, "rows")
	assert.True(t, rows.IsIndeterminate())

	_, err = runBody(t, in, b, "Foo", "run", Fail)
	require.Error(t, err)
	assert.True(t, failure.IsUnimplemented(err))
}

func TestEval_SoqlResultIsNotNull(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Decl("List<Account>", "rows", gt.Soql("SELECT Id FROM Account")),
				gt.Decl("Boolean", "isNull", gt.Cmp("==", gt.Var("rows"), gt.Null())),
			),
		),
	)
	env := mustRun(t, in, b, "Foo", "run")
	assert.Equal(t, "List<Account>", lookup(t, env, "rows").Type())
	x, ok := lookup(t, env, "isNull").Bool()
	require.True(t, ok)
	assert.False(t, x)
}

func TestInvocables_EvaluationOrder(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Expr(gt.Invoke("f",
					gt.Invoke("g").Tag("g"),
					gt.Call(gt.Var("a"), "h", gt.New("Bar").Tag("new")).Tag("h"),
				).Tag("f")).Tag("stmt"),
				gt.If(gt.Invoke("cond").Tag("cond"), gt.Expr(gt.Invoke("inThen")), nil).Tag("if"),
			),
		),
	)

	var got []graph.VertexID
	for _, v := range in.Invocables(b.V("stmt")) {
		got = append(got, v.ID)
	}
	assert.Equal(t, []graph.VertexID{b.ID("g"), b.ID("new"), b.ID("h"), b.ID("f")}, got)

	assert.Empty(t, in.Invocables(b.V("if")), "if wrappers evaluate nothing themselves")
	cond := b.Graph.Parent(b.V("cond"))
	require.Len(t, in.Invocables(cond), 1)
}

func TestEval_ExpandedCallResultsShortCircuit(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("g", "Integer", gt.Params(gt.Param("Integer", "x")), gt.Return(gt.Var("x"))),
			gt.Method("run", "void", nil,
				gt.Decl("Integer", "i", gt.Int(0)),
				gt.Decl("Integer", "r", gt.Invoke("g", gt.Postfix("++", gt.Var("i"))).Tag("call")),
			),
		),
	)
	ctx := context.Background()
	env, err := in.EntryEnv(ctx, b.Method("Foo", "run"), Indeterminate)
	require.NoError(t, err)

	ret, err := apexvalue.NewBuilder(env.Frame).Integer(99)
	require.NoError(t, err)
	env.Calls[b.ID("call")] = ret

	body := b.Graph.FirstChildByLabel(b.Method("Foo", "run"), graph.LabelBlockStatement)
	for _, st := range b.Graph.Children(body) {
		_, err := in.Exec(ctx, st, env)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(99), integer(t, env, "r"))
	assert.Equal(t, int64(0), integer(t, env, "i"), "arguments of an expanded call are not evaluated again")
}

func TestCalleeEnv_BindsParametersAndReceiver(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Field("String", "name", gt.Str("n")),
			gt.Method("g", "void", gt.Params(gt.Param("String", "a"), gt.Param("List<String>", "l"))).Tag("g"),
			gt.Method("run", "void", nil),
		),
	)
	ctx := context.Background()
	env, err := in.EntryEnv(ctx, b.Method("Foo", "run"), Indeterminate)
	require.NoError(t, err)

	this, err := in.NewInstance(ctx, "Foo", b.V("g"), env, true)
	require.NoError(t, err)
	arg, err := apexvalue.NewBuilder(env.Frame).String("v")
	require.NoError(t, err)

	callee, err := in.CalleeEnv(ctx, env, resolve.Declaration(b.Graph, b.V("g")), this, []*apexvalue.Value{arg})
	require.NoError(t, err)

	assert.Equal(t, "v", text(t, callee, "a"))
	l := lookup(t, callee, "l")
	assert.True(t, l.IsIndeterminate(), "missing arguments are unknown")
	assert.Equal(t, "List<String>", l.Type())
	assert.Equal(t, "n", text(t, callee, "name"), "fields of this are visible")
	assert.Same(t, env.Heap(), callee.Heap())
}

func TestEnv_ForkIsolatesBranches(t *testing.T) {
	in, b := newInterp(t,
		gt.Class("Foo",
			gt.Method("run", "void", nil,
				gt.Decl("List<String>", "l", gt.New("List<String>")),
			),
			gt.Method("push", "void", nil,
				gt.Expr(gt.Call(gt.Var("l"), "add", gt.Str("x")).Tag("add")),
			),
		),
	)
	ctx := context.Background()
	env := mustRun(t, in, b, "Foo", "run")

	left, err := env.Fork(ctx)
	require.NoError(t, err)
	right, err := env.Fork(ctx)
	require.NoError(t, err)

	_, err = in.Eval(ctx, b.V("add"), left)
	require.NoError(t, err)

	n, _ := lookup(t, left, "l").Len()
	assert.Equal(t, 1, n)
	n, _ = lookup(t, right, "l").Len()
	assert.Equal(t, 0, n)
	assert.True(t, env.Heap().Frozen())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("FAIL")
	require.NoError(t, err)
	assert.Equal(t, Fail, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, p)

	_, err = ParsePolicy("explode")
	assert.Error(t, err)
}
