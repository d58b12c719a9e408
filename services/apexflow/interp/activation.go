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

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// Invocables lists the call sites a path vertex evaluates, in evaluation
// order: receivers and arguments come before the call that consumes them.
// Structural vertices and loop bodies contribute nothing; a for-each
// contributes the calls of its collection expression.
func (in *Interpreter) Invocables(v *graph.Vertex) []*graph.Vertex {
	var roots []*graph.Vertex
	switch v.Label {
	case graph.LabelStandardCondition, graph.LabelExpressionStatement,
		graph.LabelReturnStatement, graph.LabelThrowStatement,
		graph.LabelDmlInsertStatement, graph.LabelDmlUpdateStatement,
		graph.LabelDmlDeleteStatement, graph.LabelDmlUpsertStatement:
		roots = in.g.Children(v)
	case graph.LabelVariableDeclarationStatements:
		for _, d := range in.g.ChildrenByLabel(v, graph.LabelVariableDeclaration) {
			roots = append(roots, in.g.Children(d)...)
		}
	case graph.LabelForEachStatement:
		if c := in.g.Child(v, 0); c != nil {
			roots = append(roots, c)
		}
	}

	var out []*graph.Vertex
	var walk func(*graph.Vertex)
	walk = func(x *graph.Vertex) {
		for _, c := range in.g.Children(x) {
			walk(c)
		}
		if graph.IsInvocableLabel(x.Label) {
			out = append(out, x)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// CallArgs evaluates the receiver and arguments of a call site. recv is
// nil for unqualified calls and for constructors.
//
// Errors:
//
//	Rejection wrapping ErrNullAccess when the receiver is a determinate
//	null.
func (in *Interpreter) CallArgs(ctx context.Context, call *graph.Vertex, env *Env) (recv *apexvalue.Value, args []*apexvalue.Value, err error) {
	children := in.g.Children(call)
	if call.Label == graph.LabelMethodCallExpression && len(children) > 0 {
		if r := children[0]; r.Label != graph.LabelEmptyReferenceExpression {
			if recv, err = in.Eval(ctx, r, env); err != nil {
				return nil, nil, err
			}
			if recv.IsNull() {
				return nil, nil, nullAccess(call, "call of %s on %s", call.Str(graph.PropMethodName), apexvalue.DisplayName(recv))
			}
		}
		children = children[1:]
	}
	args = make([]*apexvalue.Value, 0, len(children))
	for _, c := range children {
		v, err := in.Eval(ctx, c, env)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, v)
	}
	return recv, args, nil
}

// CalleeEnv creates the activation of decl on env's heap: a fresh frame
// of the declaring class with this bound (instance members only) and the
// parameters bound to args. Missing arguments become indeterminate.
func (in *Interpreter) CalleeEnv(ctx context.Context, env *Env, decl *resolve.MethodDeclaration, this *apexvalue.Value, args []*apexvalue.Value) (*Env, error) {
	frame := apexvalue.NewFrame(env.Heap(), decl.DefiningType)
	if this != nil && !decl.Static {
		if err := frame.SetThis(this); err != nil {
			return nil, err
		}
	}
	callee := &Env{Frame: frame, Calls: make(CallResults), Policy: env.Policy}
	params := in.g.ChildrenByLabel(decl.Vertex, graph.LabelParameter)
	for i, p := range decl.Params {
		if p.Name == "" {
			continue
		}
		var pv *graph.Vertex
		if i < len(params) {
			pv = params[i]
		}
		var val *apexvalue.Value
		if i < len(args) {
			val = args[i]
		}
		var err error
		if val == nil {
			val, err = apexvalue.NewBuilder(frame).Declaration(pv).Origin(pv).Name(p.Name).Type(p.Type).Indeterminate()
		} else {
			val, err = in.coerce(callee, val, p.Type, pv, p.Name)
		}
		if err != nil {
			return nil, err
		}
		if err := frame.Declare(p.Name, p.Type, pv, val); err != nil {
			return nil, err
		}
	}
	return callee, nil
}

// EntryEnv creates the environment of a path that starts at method:
// parameters and fields of this are indeterminate, except that a
// constructor runs its field initializers.
func (in *Interpreter) EntryEnv(ctx context.Context, method *graph.Vertex, policy Policy) (*Env, error) {
	decl := resolve.Declaration(in.g, method)
	if decl == nil {
		return nil, failure.Newf("interp.EntryEnv", int64(method.ID), failure.ErrUnresolvable, "%s is not a method", method.Label)
	}
	if decl.DefiningType == "" {
		if cls := in.c.EnclosingClass(ctx, method); cls != nil {
			decl.DefiningType = cls.DefiningType()
		}
	}
	env := NewEnv(apexvalue.NewFrame(apexvalue.NewHeap(), decl.DefiningType), policy)
	var this *apexvalue.Value
	if !decl.Static {
		var err error
		if this, err = in.NewInstance(ctx, decl.DefiningType, method, env, decl.Constructor); err != nil {
			return nil, err
		}
	}
	callee, err := in.CalleeEnv(ctx, env, decl, this, nil)
	if err != nil {
		return nil, err
	}
	callee.Policy = policy
	return callee, nil
}

// NewInstance allocates an object of class with every instance field of
// its hierarchy, base classes first. With initialize set, fields take their
// initializer or null; otherwise they are indeterminate.
func (in *Interpreter) NewInstance(ctx context.Context, class string, origin *graph.Vertex, env *Env, initialize bool) (*apexvalue.Value, error) {
	obj, err := apexvalue.NewBuilder(env.Frame).Origin(origin).Type(class).Object()
	if err != nil {
		return nil, err
	}
	types := in.r.Hierarchy(ctx, class).Types
	for i := len(types) - 1; i >= 0; i-- {
		level := types[i]
		if _, ok := in.c.Class(ctx, level); !ok {
			continue
		}
		for _, f := range in.c.Fields(ctx, level) {
			if isStatic(in.g, f) {
				continue
			}
			var val *apexvalue.Value
			if initialize {
				val, err = in.fieldInit(ctx, f, level, obj, env)
			} else {
				val, err = apexvalue.NewBuilder(env.Frame).Declaration(f).Origin(f).Name(f.Name()).
					Type(f.Str(graph.PropType)).Indeterminate()
			}
			if err != nil {
				return nil, err
			}
			if err := env.Heap().PutField(ctx, obj, f.Name(), val); err != nil {
				return nil, err
			}
		}
	}
	return env.Heap().Current(obj), nil
}
