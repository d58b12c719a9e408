// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

var literalTypes = map[string]string{
	graph.LiteralString:  "String",
	graph.LiteralInteger: "Integer",
	graph.LiteralLong:    "Long",
	graph.LiteralDecimal: "Decimal",
	graph.LiteralDouble:  "Double",
	graph.LiteralTrue:    "Boolean",
	graph.LiteralFalse:   "Boolean",
}

// ArgumentType returns the most specific static type known for an
// expression, or "" when it cannot be determined.
//
// Description:
//
//	Literals, collection literals, casts, `new` and SOQL carry their type
//	directly. A ternary takes the type of its first branch; prefix and
//	postfix operators take the type of their operand. Names are looked up
//	in scope (the value's type, then the declared type), falling back to
//	declarations in the enclosing method and fields of the class. Method
//	calls take the declared return type of the resolved method.
func (r *Resolver) ArgumentType(ctx context.Context, e *graph.Vertex, scope apexvalue.SymbolProvider) string {
	if e == nil {
		return ""
	}
	switch e.Label {
	case graph.LabelLiteralExpression:
		return literalTypes[e.Str(graph.PropLiteralType)]

	case graph.LabelTernaryExpression:
		return r.ArgumentType(ctx, r.g.Child(e, 1), scope)

	case graph.LabelPrefixExpression:
		if e.Str(graph.PropOperator) == "!" {
			return "Boolean"
		}
		return r.ArgumentType(ctx, r.g.Child(e, 0), scope)

	case graph.LabelPostfixExpression:
		return r.ArgumentType(ctx, r.g.Child(e, 0), scope)

	case graph.LabelNewObjectExpression, graph.LabelNewListLiteralExpression,
		graph.LabelNewSetLiteralExpression, graph.LabelNewMapLiteralExpression,
		graph.LabelCastExpression:
		return e.Str(graph.PropType)

	case graph.LabelSoqlExpression:
		if objs := QueryObjects(e.Str(graph.PropQuery)); len(objs) == 1 {
			return "List<" + objs[0] + ">"
		}
		return "List<" + SObjectType + ">"

	case graph.LabelBooleanExpression:
		return "Boolean"

	case graph.LabelBinaryExpression:
		return arithmeticType(
			r.ArgumentType(ctx, r.g.Child(e, 0), scope),
			r.ArgumentType(ctx, r.g.Child(e, 1), scope),
		)

	case graph.LabelAssignmentExpression:
		return r.ArgumentType(ctx, r.g.Child(e, 0), scope)

	case graph.LabelThisVariableExpression:
		return r.receiverClass(ctx, r.contextClass(ctx, e, scope), scope)

	case graph.LabelReferenceExpression:
		return r.referenceType(ctx, e, e.Str(graph.PropNames), scope)

	case graph.LabelVariableExpression:
		recv := r.g.Child(e, 0)
		if recv == nil {
			return r.nameType(ctx, e, e.Name(), scope)
		}
		if recv.Label == graph.LabelSuperVariableExpression || recv.Label == graph.LabelThisVariableExpression {
			return r.fieldType(ctx, r.contextClass(ctx, e, scope), e.Name())
		}
		return r.fieldType(ctx, r.ArgumentType(ctx, recv, scope), e.Name())

	case graph.LabelMethodCallExpression:
		decl, err := r.Resolve(ctx, e, scope)
		if err != nil || decl == nil {
			return ""
		}
		return decl.ReturnType
	}
	return ""
}

// referenceType types a dotted name: a variable followed by field names,
// or a class name.
func (r *Resolver) referenceType(ctx context.Context, at *graph.Vertex, names string, scope apexvalue.SymbolProvider) string {
	parts := strings.Split(names, ".")
	if typ := r.nameType(ctx, at, parts[0], scope); typ != "" {
		for _, p := range parts[1:] {
			if typ = r.fieldType(ctx, typ, p); typ == "" {
				return ""
			}
		}
		return typ
	}
	cls := r.contextClass(ctx, at, scope)
	if c, ok := r.c.Class(ctx, r.canonical(ctx, names, cls)); ok {
		return c.DefiningType()
	}
	return ""
}

// nameType types a simple name from scope, enclosing declarations, or
// fields of the enclosing class.
func (r *Resolver) nameType(ctx context.Context, at *graph.Vertex, name string, scope apexvalue.SymbolProvider) string {
	if scope != nil {
		if v, ok := scope.Lookup(name); ok && v.Type() != "" && v.Status() != apexvalue.Uninitialized {
			return v.Type()
		}
		if t, ok := scope.DeclaredType(name); ok {
			return t
		}
	}
	if m := r.c.EnclosingMethod(ctx, at); m != nil {
		for _, p := range r.g.ChildrenByLabel(m, graph.LabelParameter) {
			if strings.EqualFold(p.Name(), name) {
				return p.Str(graph.PropType)
			}
		}
		for _, d := range r.g.Descendants(m, graph.LabelVariableDeclaration) {
			if strings.EqualFold(d.Name(), name) {
				return d.Str(graph.PropType)
			}
		}
		for _, fe := range r.g.Descendants(m, graph.LabelForEachStatement) {
			if strings.EqualFold(fe.Str(graph.PropVariableName), name) {
				return fe.Str(graph.PropType)
			}
		}
	}
	for _, cls := range outerClasses(r.contextClass(ctx, at, scope)) {
		if t := r.fieldType(ctx, cls, name); t != "" {
			return t
		}
	}
	return ""
}

// fieldType returns the declared type of a field of typ or its supertypes.
func (r *Resolver) fieldType(ctx context.Context, typ, name string) string {
	if typ == "" {
		return ""
	}
	for _, level := range r.Hierarchy(ctx, typ).Types {
		for _, f := range r.c.Fields(ctx, level) {
			if strings.EqualFold(f.Name(), name) {
				return f.Str(graph.PropType)
			}
		}
	}
	return ""
}

// arithmeticType applies Apex promotion: any String operand makes a
// String; otherwise the widest numeric type wins.
func arithmeticType(l, r string) string {
	nl, nr := NormalizeType(l), NormalizeType(r)
	switch {
	case nl == "string" || nr == "string" || nl == "id" || nr == "id":
		return "String"
	case nl == "double" || nr == "double":
		return "Double"
	case nl == "decimal" || nr == "decimal":
		return "Decimal"
	case nl == "long" || nr == "long":
		return "Long"
	case nl == "integer" && nr == "integer":
		return "Integer"
	}
	return ""
}
