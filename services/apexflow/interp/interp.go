// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interp evaluates path vertices symbolically.
//
// Exec runs one statement vertex of a path against an Env; Eval computes
// the value of an expression. Values the interpreter cannot compute become
// indeterminate values of the best known static type, so a path can always
// continue. Dereferencing a determinate null is a Rejection failure that
// discards the path being evaluated and nothing else.
package interp

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// Options configures an Interpreter.
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

// Interpreter evaluates statements and expressions of one graph.
//
// Thread Safety: Safe for concurrent use with distinct Envs.
type Interpreter struct {
	c    *cache.VertexCache
	g    *graph.Graph
	r    *resolve.Resolver
	opts Options
}

// New creates an interpreter. r types expressions and resolves calls that
// were not expanded.
func New(c *cache.VertexCache, r *resolve.Resolver, opts ...Option) *Interpreter {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Interpreter{c: c, g: c.Graph(), r: r, opts: o}
}

// Exec executes one path vertex.
//
// Description:
//
//	Structural vertices (blocks, if/else wrappers, loop headers) have no
//	effect. Conditions report their value; declarations bind locals;
//	return and throw report how the activation ends. Call sites already
//	present in env.Calls are not re-evaluated.
//
// Errors:
//
//	Rejection wrapping ErrNullAccess when a determinate null is
//	dereferenced. Unimplemented when env.Policy is Fail and the vertex is
//	not modeled. Cancelled when ctx is done.
func (in *Interpreter) Exec(ctx context.Context, v *graph.Vertex, env *Env) (Outcome, error) {
	if err := failure.Check(ctx, "interp.Exec"); err != nil {
		return Outcome{}, err
	}
	switch v.Label {
	case graph.LabelMethod, graph.LabelBlockStatement, graph.LabelIfElseBlockStatement,
		graph.LabelIfBlockStatement, graph.LabelWhileLoopStatement:
		return Outcome{}, nil

	case graph.LabelStandardCondition:
		val, err := in.ConditionValue(ctx, v, env)
		return Outcome{Condition: val}, err

	case graph.LabelExpressionStatement:
		_, err := in.Eval(ctx, in.g.Child(v, 0), env)
		return Outcome{}, err

	case graph.LabelVariableDeclarationStatements:
		for _, d := range in.g.ChildrenByLabel(v, graph.LabelVariableDeclaration) {
			if err := in.declare(ctx, d, env); err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{}, nil

	case graph.LabelReturnStatement:
		out := Outcome{Returned: true}
		if e := in.g.Child(v, 0); e != nil {
			val, err := in.Eval(ctx, e, env)
			if err != nil {
				return Outcome{}, err
			}
			out.Value = val
		}
		return out, nil

	case graph.LabelThrowStatement:
		if e := in.g.Child(v, 0); e != nil {
			if _, err := in.Eval(ctx, e, env); err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{Thrown: true}, nil

	case graph.LabelForEachStatement:
		return Outcome{}, in.bindLoop(ctx, v, env)

	case graph.LabelDmlInsertStatement, graph.LabelDmlUpdateStatement,
		graph.LabelDmlDeleteStatement, graph.LabelDmlUpsertStatement:
		target, err := in.Eval(ctx, in.g.Child(v, 0), env)
		if err != nil {
			return Outcome{}, err
		}
		if target.IsNull() {
			return Outcome{}, nullAccess(v, "%s of %s", strings.TrimSuffix(strings.TrimPrefix(v.Label, "Dml"), "Statement"), apexvalue.DisplayName(target))
		}
		return Outcome{}, nil
	}
	_, err := in.unsupported(ctx, v, env)
	return Outcome{}, err
}

// ConditionValue evaluates the expression of a StandardCondition.
func (in *Interpreter) ConditionValue(ctx context.Context, cond *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	return in.Eval(ctx, in.g.Child(cond, 0), env)
}

// Eval computes the value of an expression.
//
// Errors:
//
//	Same as Exec.
func (in *Interpreter) Eval(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	if e == nil {
		return nil, failure.Newf("interp.Eval", 0, failure.ErrUnresolvable, "missing expression")
	}
	if err := failure.Check(ctx, "interp.Eval"); err != nil {
		return nil, err
	}
	switch e.Label {
	case graph.LabelLiteralExpression:
		return in.literal(ctx, e, env)
	case graph.LabelVariableExpression:
		return in.variable(ctx, e, env)
	case graph.LabelReferenceExpression:
		return in.reference(ctx, e, strings.Split(e.Str(graph.PropNames), "."), env)
	case graph.LabelThisVariableExpression, graph.LabelSuperVariableExpression:
		if this, ok := env.Frame.This(); ok {
			return this, nil
		}
		return apexvalue.NewBuilder(env.Frame).Origin(e).Type(env.Frame.Class()).Indeterminate()
	case graph.LabelBinaryExpression:
		l, r, err := in.operands(ctx, e, env)
		if err != nil {
			return nil, err
		}
		return in.combine(ctx, e, e.Str(graph.PropOperator), l, r, env)
	case graph.LabelBooleanExpression:
		return in.boolean(ctx, e, env)
	case graph.LabelPrefixExpression:
		return in.prefix(ctx, e, env)
	case graph.LabelPostfixExpression:
		return in.step(ctx, e, in.g.Child(e, 0), e.Str(graph.PropOperator), false, env)
	case graph.LabelTernaryExpression:
		return in.ternary(ctx, e, env)
	case graph.LabelAssignmentExpression:
		return in.assign(ctx, e, env)
	case graph.LabelCastExpression:
		val, err := in.Eval(ctx, in.g.Child(e, 0), env)
		if err != nil {
			return nil, err
		}
		return in.coerce(env, val, e.Str(graph.PropType), nil, "")
	case graph.LabelMethodCallExpression:
		return in.call(ctx, e, env)
	case graph.LabelNewObjectExpression:
		return in.newObject(ctx, e, env)
	case graph.LabelNewListLiteralExpression, graph.LabelNewSetLiteralExpression:
		return in.collectionLiteral(ctx, e, env)
	case graph.LabelNewMapLiteralExpression:
		return in.mapLiteral(ctx, e, env)
	case graph.LabelSoqlExpression:
		return in.soql(ctx, e, env)
	case graph.LabelThisMethodCallExpression, graph.LabelSuperMethodCallExpression:
		if v, ok := env.Calls[e.ID]; ok {
			return v, nil
		}
		for _, a := range in.g.Children(e) {
			if _, err := in.Eval(ctx, a, env); err != nil {
				return nil, err
			}
		}
		return apexvalue.NewBuilder(env.Frame).Origin(e).Type("void").Generic()
	}
	return in.unsupported(ctx, e, env)
}

func (in *Interpreter) unsupported(ctx context.Context, v *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	unsupportedTotal.WithLabelValues(v.Label).Inc()
	if env.Policy == Fail {
		return nil, failure.Newf("interp.Eval", int64(v.ID), failure.ErrUnimplemented, "%s is not modeled", v.Label)
	}
	in.opts.Logger.Debug("unsupported construct",
		slog.Int64("vertex_id", int64(v.ID)),
		slog.String("label", v.Label),
	)
	return in.indeterminate(ctx, v, env, "")
}

// indeterminate builds an unknown value of typ, or of the static type of e
// when typ is empty.
func (in *Interpreter) indeterminate(ctx context.Context, e *graph.Vertex, env *Env, typ string) (*apexvalue.Value, error) {
	if typ == "" {
		typ = in.r.ArgumentType(ctx, e, env.Frame)
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	if typ == "" {
		return b.Generic()
	}
	return b.Type(typ).Indeterminate()
}

func (in *Interpreter) literal(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	text := e.Str(graph.PropValue)
	switch e.Str(graph.PropLiteralType) {
	case graph.LiteralString:
		return b.String(text)
	case graph.LiteralInteger, graph.LiteralLong:
		n, err := strconv.ParseInt(strings.TrimRight(text, "lL"), 10, 64)
		if err != nil {
			return nil, failure.Newf("interp.literal", int64(e.ID), failure.ErrUnresolvable, "bad integer literal %q", text)
		}
		if e.Str(graph.PropLiteralType) == graph.LiteralLong {
			b.Type("Long")
		}
		return b.Integer(n)
	case graph.LiteralDecimal:
		return b.Decimal(text)
	case graph.LiteralDouble:
		return b.Type("Double").Decimal(strings.TrimRight(text, "dD"))
	case graph.LiteralTrue:
		return b.Boolean(true)
	case graph.LiteralFalse:
		return b.Boolean(false)
	case graph.LiteralNull:
		return b.Null()
	}
	return in.unsupported(ctx, e, env)
}

// coerce gives an untyped null or unknown value the declared type of the
// slot it is stored in.
func (in *Interpreter) coerce(env *Env, val *apexvalue.Value, typ string, decl *graph.Vertex, name string) (*apexvalue.Value, error) {
	if val == nil || typ == "" || val.Type() != "" {
		return val, nil
	}
	b := apexvalue.NewBuilder(env.Frame).Declaration(decl).Name(name).Type(typ).Origin(val.Origin())
	switch {
	case val.IsNull():
		return b.Null()
	case val.IsIndeterminate():
		return b.Indeterminate()
	}
	return val, nil
}

func (in *Interpreter) declare(ctx context.Context, d *graph.Vertex, env *Env) error {
	typ, name := d.Str(graph.PropType), d.Name()
	init := in.g.Child(d, 0)
	if init == nil {
		return env.Frame.Declare(name, typ, d, nil)
	}
	val, err := in.Eval(ctx, init, env)
	if err != nil {
		return err
	}
	if val, err = in.coerce(env, val, typ, d, name); err != nil {
		return err
	}
	return env.Frame.Declare(name, typ, d, val)
}

func (in *Interpreter) bindLoop(ctx context.Context, v *graph.Vertex, env *Env) error {
	typ, name := v.Str(graph.PropType), v.Str(graph.PropVariableName)
	coll, err := in.Eval(ctx, in.g.Child(v, 0), env)
	if err != nil {
		return err
	}
	if coll.IsNull() {
		return nullAccess(v, "loop over %s", apexvalue.DisplayName(coll))
	}
	b := apexvalue.NewBuilder(env.Frame).Declaration(v).Origin(v).Name(name).Type(typ)
	var loopVar *apexvalue.Value
	if _, known := coll.Len(); known && coll.Kind().IsCollection() {
		loopVar, err = b.ForLoop(env.Heap().Items(coll)...)
	} else {
		loopVar, err = b.Indeterminate()
	}
	if err != nil {
		return err
	}
	return env.Frame.Declare(name, typ, v, loopVar)
}

// lookup resolves a simple name, initializing static fields of the
// current class and its outer classes on first use.
func (in *Interpreter) lookup(ctx context.Context, name string, env *Env) (*apexvalue.Value, bool, error) {
	if v, ok := env.Frame.Lookup(name); ok {
		return v, true, nil
	}
	initialized := false
	for _, cls := range enclosing(env.Frame.Class()) {
		if _, done := env.Frame.Static(cls); done {
			continue
		}
		if _, ok := in.c.Class(ctx, cls); !ok {
			continue
		}
		if _, err := in.statics(ctx, cls, env); err != nil {
			return nil, false, err
		}
		initialized = true
	}
	if !initialized {
		return nil, false, nil
	}
	v, ok := env.Frame.Lookup(name)
	return v, ok, nil
}

func (in *Interpreter) variable(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	recv := in.g.Child(e, 0)
	if recv == nil || recv.Label == graph.LabelEmptyReferenceExpression {
		v, ok, err := in.lookup(ctx, e.Name(), env)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
		return in.indeterminate(ctx, e, env, "")
	}
	owner, err := in.Eval(ctx, recv, env)
	if err != nil {
		return nil, err
	}
	return in.member(ctx, e, owner, e.Name(), env)
}

func (in *Interpreter) member(ctx context.Context, e *graph.Vertex, owner *apexvalue.Value, name string, env *Env) (*apexvalue.Value, error) {
	if owner.IsNull() {
		return nil, nullAccess(e, "read of %s on %s", name, apexvalue.DisplayName(owner))
	}
	if v, ok := env.Heap().Field(owner, name); ok {
		return v, nil
	}
	return in.indeterminate(ctx, e, env, "")
}

// reference evaluates a dotted name: a variable followed by fields, or a
// class followed by static fields.
func (in *Interpreter) reference(ctx context.Context, e *graph.Vertex, parts []string, env *Env) (*apexvalue.Value, error) {
	v, ok, err := in.lookup(ctx, parts[0], env)
	if err != nil {
		return nil, err
	}
	rest := parts[1:]
	if !ok {
		for i := len(parts); i > 0 && !ok; i-- {
			cls, found := in.r.Class(ctx, strings.Join(parts[:i], "."), env.Frame.Class())
			if !found {
				continue
			}
			if v, err = in.statics(ctx, cls.DefiningType(), env); err != nil {
				return nil, err
			}
			ok, rest = true, parts[i:]
		}
	}
	if !ok {
		return in.indeterminate(ctx, e, env, "")
	}
	for _, name := range rest {
		if v, err = in.member(ctx, e, v, name, env); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// statics returns the static field holder of class, running the static
// field initializers the first time.
func (in *Interpreter) statics(ctx context.Context, class string, env *Env) (*apexvalue.Value, error) {
	if holder, ok := env.Frame.Static(class); ok {
		return holder, nil
	}
	holder, err := env.Heap().Static(class)
	if err != nil {
		return nil, err
	}
	for _, f := range in.c.Fields(ctx, class) {
		if !isStatic(in.g, f) {
			continue
		}
		val, err := in.fieldInit(ctx, f, class, nil, env)
		if err != nil {
			return nil, err
		}
		if err := env.Heap().PutField(ctx, holder, f.Name(), val); err != nil {
			return nil, err
		}
	}
	return env.Heap().Current(holder), nil
}

// fieldInit evaluates a field initializer in a frame of class, or returns
// null when the field has none.
func (in *Interpreter) fieldInit(ctx context.Context, f *graph.Vertex, class string, this *apexvalue.Value, env *Env) (*apexvalue.Value, error) {
	typ := f.Str(graph.PropType)
	init := in.g.Child(f, 0)
	if init == nil {
		return apexvalue.NewBuilder(env.Frame).Declaration(f).Name(f.Name()).Type(typ).Null()
	}
	frame := apexvalue.NewFrame(env.Heap(), class)
	if this != nil {
		if err := frame.SetThis(this); err != nil {
			return nil, err
		}
	}
	val, err := in.Eval(ctx, init, &Env{Frame: frame, Calls: env.Calls, Policy: env.Policy})
	if err != nil {
		return nil, err
	}
	return in.coerce(env, val, typ, f, f.Name())
}

func (in *Interpreter) operands(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, *apexvalue.Value, error) {
	l, err := in.Eval(ctx, in.g.Child(e, 0), env)
	if err != nil {
		return nil, nil, err
	}
	r, err := in.Eval(ctx, in.g.Child(e, 1), env)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// combine applies an arithmetic operator. `+` with a string operand
// concatenates.
func (in *Interpreter) combine(ctx context.Context, e *graph.Vertex, op string, l, r *apexvalue.Value, env *Env) (*apexvalue.Value, error) {
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	if op == "+" && (isText(l) || isText(r)) {
		ls, lok, err := apexvalue.ConcatText(l)
		if err != nil {
			return nil, err
		}
		rs, rok, err := apexvalue.ConcatText(r)
		if err != nil {
			return nil, err
		}
		if lok && rok {
			return b.String(ls + rs)
		}
		return b.Type("String").Indeterminate()
	}
	if l.IsNull() || r.IsNull() {
		return nil, nullAccess(e, "arithmetic %s on null", op)
	}

	li, lInt := l.Int()
	ri, rInt := r.Int()
	if lInt && rInt {
		typ := "Integer"
		if isType(l, "long") || isType(r, "long") {
			typ = "Long"
		}
		var n int64
		switch op {
		case "+":
			n = li + ri
		case "-":
			n = li - ri
		case "*":
			n = li * ri
		case "/":
			if ri == 0 {
				return b.Type(typ).Indeterminate()
			}
			n = li / ri
		case "%":
			if ri == 0 {
				return b.Type(typ).Indeterminate()
			}
			n = li % ri
		default:
			return in.indeterminate(ctx, e, env, typ)
		}
		return b.Type(typ).Integer(n)
	}

	lf, lok := l.Decimal()
	rf, rok := r.Decimal()
	if lok && rok {
		typ := "Decimal"
		if isType(l, "double") || isType(r, "double") {
			typ = "Double"
		}
		var f float64
		switch op {
		case "+":
			f = lf + rf
		case "-":
			f = lf - rf
		case "*":
			f = lf * rf
		case "/":
			if rf == 0 {
				return b.Type(typ).Indeterminate()
			}
			f = lf / rf
		default:
			return in.indeterminate(ctx, e, env, typ)
		}
		return b.Type(typ).Decimal(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return in.indeterminate(ctx, e, env, "")
}

func (in *Interpreter) boolean(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	op := e.Str(graph.PropOperator)
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	l, err := in.Eval(ctx, in.g.Child(e, 0), env)
	if err != nil {
		return nil, err
	}

	if op == "&&" || op == "||" {
		lb, lok := l.Bool()
		if lok && lb == (op == "||") {
			return b.Boolean(lb)
		}
		r, err := in.Eval(ctx, in.g.Child(e, 1), env)
		if err != nil {
			return nil, err
		}
		rb, rok := r.Bool()
		switch {
		case lok && rok:
			return b.Boolean(rb)
		case rok && rb == (op == "||"):
			return b.Boolean(rb)
		}
		return b.Type("Boolean").Indeterminate()
	}

	r, err := in.Eval(ctx, in.g.Child(e, 1), env)
	if err != nil {
		return nil, err
	}
	switch op {
	case "==", "===", "!=", "!==", "<>":
		eq, known := equals(l, r)
		if !known {
			return b.Type("Boolean").Indeterminate()
		}
		if op == "==" || op == "===" {
			return b.Boolean(eq)
		}
		return b.Boolean(!eq)
	case "<", ">", "<=", ">=":
		cmp, known := compare(l, r)
		if !known {
			return b.Type("Boolean").Indeterminate()
		}
		switch op {
		case "<":
			return b.Boolean(cmp < 0)
		case ">":
			return b.Boolean(cmp > 0)
		case "<=":
			return b.Boolean(cmp <= 0)
		}
		return b.Boolean(cmp >= 0)
	}
	return in.unsupported(ctx, e, env)
}

// equals decides l == r when the values allow it. Apex string equality
// ignores case.
func equals(l, r *apexvalue.Value) (eq bool, known bool) {
	if l.Ref() != 0 && l.Ref() == r.Ref() {
		return true, true
	}
	if l.IsNull() || r.IsNull() {
		other := r
		if r.IsNull() {
			other = l
		}
		switch {
		case other.IsNull():
			return true, true
		case other.IsDeterminate():
			return false, true
		case other.Constraints().Has(apexvalue.NotNull):
			return false, true
		case other.Constraints().Has(apexvalue.Null):
			return true, true
		}
		return false, false
	}
	if !l.IsDeterminate() || !r.IsDeterminate() {
		return false, false
	}
	if ls, ok := l.Text(); ok {
		if rs, ok := r.Text(); ok {
			return strings.EqualFold(ls, rs), true
		}
	}
	if lf, ok := l.Decimal(); ok {
		if rf, ok := r.Decimal(); ok {
			return lf == rf, true
		}
	}
	if lb, ok := l.Bool(); ok {
		if rb, ok := r.Bool(); ok {
			return lb == rb, true
		}
	}
	if l.Kind() != r.Kind() {
		return false, true
	}
	return false, false
}

func compare(l, r *apexvalue.Value) (int, bool) {
	if lf, ok := l.Decimal(); ok {
		if rf, ok := r.Decimal(); ok {
			switch {
			case lf < rf:
				return -1, true
			case lf > rf:
				return 1, true
			}
			return 0, true
		}
	}
	if ls, ok := l.Text(); ok {
		if rs, ok := r.Text(); ok {
			return strings.Compare(ls, rs), true
		}
	}
	return 0, false
}

func (in *Interpreter) prefix(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	op := e.Str(graph.PropOperator)
	if op == "++" || op == "--" {
		return in.step(ctx, e, in.g.Child(e, 0), op, true, env)
	}
	v, err := in.Eval(ctx, in.g.Child(e, 0), env)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nullAccess(e, "%s applied to null", op)
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	switch op {
	case "!":
		if x, ok := v.Bool(); ok {
			return b.Boolean(!x)
		}
		return b.Type("Boolean").Indeterminate()
	case "-":
		if n, ok := v.Int(); ok {
			return b.Type(v.Type()).Integer(-n)
		}
		if f, ok := v.Decimal(); ok {
			return b.Type(v.Type()).Decimal(strconv.FormatFloat(-f, 'f', -1, 64))
		}
		return b.Type(v.Type()).Indeterminate()
	case "+":
		return v, nil
	}
	return in.unsupported(ctx, e, env)
}

// step implements ++ and --. Prefix forms return the new value.
func (in *Interpreter) step(ctx context.Context, e, target *graph.Vertex, op string, prefix bool, env *Env) (*apexvalue.Value, error) {
	old, err := in.Eval(ctx, target, env)
	if err != nil {
		return nil, err
	}
	if old.IsNull() {
		return nil, nullAccess(e, "%s applied to null", op)
	}
	delta := int64(1)
	if op == "--" {
		delta = -1
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e).Type(old.Type())
	var next *apexvalue.Value
	if n, ok := old.Int(); ok {
		next, err = b.Integer(n + delta)
	} else if f, ok := old.Decimal(); ok {
		next, err = b.Decimal(strconv.FormatFloat(f+float64(delta), 'f', -1, 64))
	} else {
		next, err = b.Indeterminate()
	}
	if err != nil {
		return nil, err
	}
	if err := in.store(ctx, target, next, env); err != nil {
		return nil, err
	}
	if prefix {
		return next, nil
	}
	return old, nil
}

func (in *Interpreter) ternary(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	c, err := in.Eval(ctx, in.g.Child(e, 0), env)
	if err != nil {
		return nil, err
	}
	if x, ok := c.Bool(); ok {
		if x {
			return in.Eval(ctx, in.g.Child(e, 1), env)
		}
		return in.Eval(ctx, in.g.Child(e, 2), env)
	}
	return in.indeterminate(ctx, e, env, "")
}

func (in *Interpreter) assign(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	target := in.g.Child(e, 0)
	val, err := in.Eval(ctx, in.g.Child(e, 1), env)
	if err != nil {
		return nil, err
	}
	if op := e.Str(graph.PropOperator); op != "" && op != "=" {
		cur, err := in.Eval(ctx, target, env)
		if err != nil {
			return nil, err
		}
		if val, err = in.combine(ctx, e, strings.TrimSuffix(op, "="), cur, val, env); err != nil {
			return nil, err
		}
	}
	if err := in.store(ctx, target, val, env); err != nil {
		return nil, err
	}
	return val, nil
}

// store writes val to an assignable expression. Writes into indeterminate
// owners are dropped.
func (in *Interpreter) store(ctx context.Context, target *graph.Vertex, val *apexvalue.Value, env *Env) error {
	var (
		owner *apexvalue.Value
		name  string
		err   error
	)
	switch target.Label {
	case graph.LabelVariableExpression:
		name = target.Name()
		recv := in.g.Child(target, 0)
		if recv == nil || recv.Label == graph.LabelEmptyReferenceExpression {
			return in.storeName(ctx, target, name, val, env)
		}
		if owner, err = in.Eval(ctx, recv, env); err != nil {
			return err
		}
	case graph.LabelReferenceExpression:
		parts := strings.Split(target.Str(graph.PropNames), ".")
		if len(parts) == 1 {
			return in.storeName(ctx, target, parts[0], val, env)
		}
		name = parts[len(parts)-1]
		if owner, err = in.reference(ctx, target, parts[:len(parts)-1], env); err != nil {
			return err
		}
	default:
		_, err := in.unsupported(ctx, target, env)
		return err
	}
	if owner.IsNull() {
		return nullAccess(target, "write of %s on %s", name, apexvalue.DisplayName(owner))
	}
	if owner.Kind() != apexvalue.KindObject || !owner.IsDeterminate() {
		return nil
	}
	return env.Heap().PutField(ctx, owner, name, val)
}

func (in *Interpreter) storeName(ctx context.Context, target *graph.Vertex, name string, val *apexvalue.Value, env *Env) error {
	if _, ok, err := in.lookup(ctx, name, env); err != nil {
		return err
	} else if !ok {
		return env.Frame.Declare(name, val.Type(), target, val)
	}
	return env.Frame.Assign(ctx, name, val)
}

func (in *Interpreter) newObject(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	if v, ok := env.Calls[e.ID]; ok {
		return v, nil
	}
	args := make([]*apexvalue.Value, 0, len(in.g.Children(e)))
	for _, a := range in.g.Children(e) {
		v, err := in.Eval(ctx, a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	typ := e.Str(graph.PropType)
	b := apexvalue.NewBuilder(env.Frame).Origin(e).Type(typ)
	switch kind := apexvalue.KindForType(typ); kind {
	case apexvalue.KindList, apexvalue.KindSet:
		var items []*apexvalue.Value
		if len(args) > 0 {
			if _, known := args[0].Len(); !known || !args[0].Kind().IsCollection() {
				return b.Indeterminate()
			}
			items = env.Heap().Items(args[0])
		}
		if kind == apexvalue.KindSet {
			return b.Set(items...)
		}
		return b.List(items...)
	case apexvalue.KindMap:
		if len(args) == 0 {
			return b.Map()
		}
		return b.Indeterminate()
	}
	if cls, ok := in.r.Class(ctx, typ, env.Frame.Class()); ok {
		return in.NewInstance(ctx, cls.DefiningType(), e, env, true)
	}
	return b.Object()
}

func (in *Interpreter) collectionLiteral(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	var items []*apexvalue.Value
	for _, c := range in.g.Children(e) {
		v, err := in.Eval(ctx, c, env)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e).Type(e.Str(graph.PropType))
	if e.Label == graph.LabelNewSetLiteralExpression {
		return b.Set(items...)
	}
	return b.List(items...)
}

func (in *Interpreter) mapLiteral(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	var kv []*apexvalue.Value
	for _, c := range in.g.Children(e) {
		v, err := in.Eval(ctx, c, env)
		if err != nil {
			return nil, err
		}
		kv = append(kv, v)
	}
	return apexvalue.NewBuilder(env.Frame).Origin(e).Type(e.Str(graph.PropType)).Map(kv...)
}

// soql types a query by its FROM object. The result list is never null.
// Queries over several objects are not modeled.
func (in *Interpreter) soql(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	objs := resolve.QueryObjects(e.Str(graph.PropQuery))
	if len(objs) != 1 {
		return in.unsupported(ctx, e, env)
	}
	v, err := apexvalue.NewBuilder(env.Frame).Origin(e).Type("List<" + objs[0] + ">").Indeterminate()
	if err != nil {
		return nil, err
	}
	if _, err := env.Heap().Alloc(v); err != nil {
		return nil, err
	}
	return env.Heap().Constrain(ctx, v, apexvalue.NotNull)
}

func nullAccess(v *graph.Vertex, format string, args ...any) error {
	nullAccessTotal.Inc()
	return failure.Newf("interp", int64(v.ID), failure.ErrNullAccess, format, args...)
}

func isText(v *apexvalue.Value) bool {
	return v.Kind() == apexvalue.KindString || isType(v, "string") || isType(v, "id")
}

func isType(v *apexvalue.Value, normalized string) bool {
	return resolve.NormalizeType(v.Type()) == normalized
}

func isStatic(g *graph.Graph, f *graph.Vertex) bool {
	return f.Bool(graph.PropStatic) || g.Parent(f).Bool(graph.PropStatic)
}

// enclosing returns class and its outer classes, innermost first.
func enclosing(class string) []string {
	var out []string
	for c := class; c != ""; {
		out = append(out, c)
		i := strings.LastIndexByte(c, '.')
		if i < 0 {
			break
		}
		c = c[:i]
	}
	return out
}
