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
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// call evaluates a method call that was not expanded: platform methods
// are modeled directly, anything else yields an indeterminate value of
// the declared return type.
func (in *Interpreter) call(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	if v, ok := env.Calls[e.ID]; ok {
		return v, nil
	}
	children := in.g.Children(e)
	var recvV *graph.Vertex
	var argVs []*graph.Vertex
	if len(children) > 0 {
		recvV, argVs = children[0], children[1:]
	}
	name := strings.ToLower(e.Str(graph.PropMethodName))

	qualifier := in.platformQualifier(ctx, recvV, env)
	var recv *apexvalue.Value
	if qualifier == "" && recvV != nil && recvV.Label != graph.LabelEmptyReferenceExpression {
		var err error
		if recv, err = in.Eval(ctx, recvV, env); err != nil {
			return nil, err
		}
	}
	args := make([]*apexvalue.Value, 0, len(argVs))
	for _, a := range argVs {
		v, err := in.Eval(ctx, a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if recv != nil && recv.IsNull() {
		return nil, nullAccess(e, "call of %s on %s", e.Str(graph.PropMethodName), apexvalue.DisplayName(recv))
	}

	var (
		v    *apexvalue.Value
		done bool
		err  error
	)
	switch {
	case qualifier != "":
		v, done, err = in.platformStatic(e, qualifier, name, args, env)
	case recv != nil && isText(recv):
		v, done, err = in.stringMethod(e, recv, name, args, env)
	case recv != nil && (recv.Kind() == apexvalue.KindList || recv.Kind() == apexvalue.KindSet):
		v, done, err = in.collectionMethod(ctx, e, recv, name, args, env)
	case recv != nil && recv.Kind() == apexvalue.KindMap:
		v, done, err = in.mapMethod(ctx, e, recv, name, args, env)
	}
	if done || err != nil {
		return v, err
	}
	return in.returnValue(ctx, e, env)
}

// returnValue stands in for the result of a call whose body is not on
// the path.
func (in *Interpreter) returnValue(ctx context.Context, e *graph.Vertex, env *Env) (*apexvalue.Value, error) {
	typ := ""
	if decl, err := in.r.Resolve(ctx, e, env.Frame); err == nil && decl != nil {
		typ = decl.ReturnType
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e).ReturnedFrom(nil, e)
	if typ == "" || strings.EqualFold(typ, "void") {
		return b.Type(typ).Generic()
	}
	return b.Type(typ).Indeterminate()
}

// platformQualifier returns the class name of a static call on a platform
// class (System.debug, String.valueOf), or "" for anything else.
func (in *Interpreter) platformQualifier(ctx context.Context, recv *graph.Vertex, env *Env) string {
	if recv == nil || recv.Label != graph.LabelReferenceExpression {
		return ""
	}
	names := recv.Str(graph.PropNames)
	first, _, _ := strings.Cut(names, ".")
	if _, ok := env.Frame.Lookup(first); ok {
		return ""
	}
	if _, ok := in.r.Class(ctx, first, env.Frame.Class()); ok {
		return ""
	}
	return names
}

func (in *Interpreter) void(e *graph.Vertex, env *Env) (*apexvalue.Value, bool, error) {
	v, err := apexvalue.NewBuilder(env.Frame).Origin(e).Type("void").Generic()
	return v, true, err
}

func handled(v *apexvalue.Value, err error) (*apexvalue.Value, bool, error) {
	return v, true, err
}

func (in *Interpreter) platformStatic(e *graph.Vertex, qualifier, name string, args []*apexvalue.Value, env *Env) (*apexvalue.Value, bool, error) {
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	switch strings.ToLower(qualifier) + "." + name {
	case "system.debug", "system.assert", "system.assertequals", "system.assertnotequals":
		return in.void(e, env)

	case "string.valueof":
		if len(args) != 1 {
			return nil, false, nil
		}
		if args[0].IsNull() {
			return handled(b.String("null"))
		}
		s, ok, err := apexvalue.ConcatText(args[0])
		if err != nil {
			return nil, true, err
		}
		if ok {
			return handled(b.String(s))
		}
		return handled(b.Type("String").Indeterminate())

	case "string.isblank", "string.isnotblank", "string.isempty", "string.isnotempty":
		if len(args) != 1 {
			return nil, false, nil
		}
		negate := strings.HasPrefix(name, "isnot")
		if args[0].IsNull() {
			return handled(b.Boolean(!negate))
		}
		s, ok := args[0].Text()
		if !ok {
			return handled(b.Type("Boolean").Indeterminate())
		}
		empty := s == ""
		if strings.HasSuffix(name, "blank") {
			empty = strings.TrimSpace(s) == ""
		}
		return handled(b.Boolean(empty != negate))
	}
	return nil, false, nil
}

var stringResults = map[string]string{
	"tolowercase":      "String",
	"touppercase":      "String",
	"trim":             "String",
	"length":           "Integer",
	"equals":           "Boolean",
	"equalsignorecase": "Boolean",
	"contains":         "Boolean",
	"startswith":       "Boolean",
	"endswith":         "Boolean",
}

func (in *Interpreter) stringMethod(e *graph.Vertex, recv *apexvalue.Value, name string, args []*apexvalue.Value, env *Env) (*apexvalue.Value, bool, error) {
	typ, ok := stringResults[name]
	if !ok {
		return nil, false, nil
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	s, known := recv.Text()
	var arg string
	argKnown := false
	if len(args) == 1 {
		arg, argKnown = args[0].Text()
	}
	if !known {
		return handled(b.Type(typ).Indeterminate())
	}
	switch name {
	case "tolowercase":
		return handled(b.String(strings.ToLower(s)))
	case "touppercase":
		return handled(b.String(strings.ToUpper(s)))
	case "trim":
		return handled(b.String(strings.TrimSpace(s)))
	case "length":
		return handled(b.Integer(int64(len([]rune(s)))))
	case "equals", "equalsignorecase":
		if len(args) == 1 && args[0].IsNull() {
			return handled(b.Boolean(false))
		}
		if !argKnown {
			break
		}
		if name == "equals" {
			return handled(b.Boolean(s == arg))
		}
		return handled(b.Boolean(strings.EqualFold(s, arg)))
	case "contains":
		if argKnown {
			return handled(b.Boolean(strings.Contains(s, arg)))
		}
	case "startswith":
		if argKnown {
			return handled(b.Boolean(strings.HasPrefix(s, arg)))
		}
	case "endswith":
		if argKnown {
			return handled(b.Boolean(strings.HasSuffix(s, arg)))
		}
	}
	return handled(b.Type(typ).Indeterminate())
}

func (in *Interpreter) collectionMethod(ctx context.Context, e *graph.Vertex, recv *apexvalue.Value, name string, args []*apexvalue.Value, env *Env) (*apexvalue.Value, bool, error) {
	h := env.Heap()
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	n, known := recv.Len()
	isSet := recv.Kind() == apexvalue.KindSet

	switch name {
	case "add":
		switch {
		case known && len(args) == 1:
			if err := h.Add(ctx, recv, args[0]); err != nil {
				return nil, true, err
			}
		case known:
			if err := h.Forget(ctx, recv); err != nil {
				return nil, true, err
			}
		}
		if isSet {
			return handled(b.Type("Boolean").Indeterminate())
		}
		return in.void(e, env)

	case "addall":
		if known && len(args) == 1 {
			if _, srcKnown := args[0].Len(); srcKnown && args[0].Kind().IsCollection() {
				for _, it := range h.Items(args[0]) {
					if err := h.Add(ctx, recv, it); err != nil {
						return nil, true, err
					}
				}
			} else if err := h.Forget(ctx, recv); err != nil {
				return nil, true, err
			}
		}
		if isSet {
			return handled(b.Type("Boolean").Indeterminate())
		}
		return in.void(e, env)

	case "remove", "clear", "sort", "removeall", "retainall":
		if known {
			if err := h.Forget(ctx, recv); err != nil {
				return nil, true, err
			}
		}
		if name == "remove" && !isSet {
			return handled(b.Type(apexvalue.ElementType(recv.Type())).Indeterminate())
		}
		if name == "clear" || name == "sort" {
			return in.void(e, env)
		}
		return handled(b.Type("Boolean").Indeterminate())

	case "size":
		if known {
			return handled(b.Integer(int64(n)))
		}
		return handled(b.Type("Integer").Indeterminate())

	case "isempty":
		if known {
			return handled(b.Boolean(n == 0))
		}
		return handled(b.Type("Boolean").Indeterminate())

	case "get":
		if !isSet && known && len(args) == 1 {
			if i, ok := args[0].Int(); ok && i >= 0 && i < int64(n) {
				return h.Items(recv)[i], true, nil
			}
		}
		return handled(b.Type(apexvalue.ElementType(recv.Type())).Indeterminate())

	case "contains":
		if known && len(args) == 1 {
			if found, decided := contains(h.Items(recv), args[0]); decided {
				return handled(b.Boolean(found))
			}
		}
		return handled(b.Type("Boolean").Indeterminate())
	}
	return nil, false, nil
}

func (in *Interpreter) mapMethod(ctx context.Context, e *graph.Vertex, recv *apexvalue.Value, name string, args []*apexvalue.Value, env *Env) (*apexvalue.Value, bool, error) {
	h := env.Heap()
	b := apexvalue.NewBuilder(env.Frame).Origin(e)
	n, known := recv.Len()
	keyType, valueType := mapTypes(recv.Type())

	keys := func() []*apexvalue.Value {
		props := h.Properties(recv)
		out := make([]*apexvalue.Value, len(props))
		for i, p := range props {
			out[i] = p.Key
		}
		return out
	}

	switch name {
	case "put":
		if known && len(args) == 2 {
			if err := h.Put(ctx, recv, args[0], args[1]); err != nil {
				return nil, true, err
			}
		}
		return handled(b.Type(valueType).Indeterminate())

	case "putall", "remove", "clear":
		if known {
			if err := h.Forget(ctx, recv); err != nil {
				return nil, true, err
			}
		}
		if name == "clear" {
			return in.void(e, env)
		}
		return handled(b.Type(valueType).Indeterminate())

	case "get", "containskey":
		if known && len(args) == 1 {
			if v, found := h.Get(recv, args[0]); found {
				if name == "get" {
					return v, true, nil
				}
				return handled(b.Boolean(true))
			}
			if _, decided := contains(keys(), args[0]); decided {
				if name == "get" {
					return handled(b.Type(valueType).Null())
				}
				return handled(b.Boolean(false))
			}
		}
		if name == "get" {
			return handled(b.Type(valueType).Indeterminate())
		}
		return handled(b.Type("Boolean").Indeterminate())

	case "keyset":
		b.Type("Set<" + keyType + ">")
		if known {
			return handled(b.Set(keys()...))
		}
		return handled(b.Indeterminate())

	case "values":
		b.Type("List<" + valueType + ">")
		if known {
			props := h.Properties(recv)
			vals := make([]*apexvalue.Value, len(props))
			for i, p := range props {
				vals[i] = p.Value
			}
			return handled(b.List(vals...))
		}
		return handled(b.Indeterminate())

	case "size":
		if known {
			return handled(b.Integer(int64(n)))
		}
		return handled(b.Type("Integer").Indeterminate())

	case "isempty":
		if known {
			return handled(b.Boolean(n == 0))
		}
		return handled(b.Type("Boolean").Indeterminate())
	}
	return nil, false, nil
}

// contains reports whether x is among items. decided is false when an
// indeterminate element or search value leaves the answer open.
func contains(items []*apexvalue.Value, x *apexvalue.Value) (found bool, decided bool) {
	open := !x.IsDeterminate()
	for _, it := range items {
		if apexvalue.SamePayload(it, x) {
			return true, true
		}
		if !it.IsDeterminate() || it.Kind().IsCollection() || it.Kind() == apexvalue.KindObject {
			open = true
		}
	}
	return false, !open
}

// mapTypes splits "Map<K,V>" into K and V. Nested generics are kept whole.
func mapTypes(typ string) (string, string) {
	open := strings.IndexByte(typ, '<')
	if open < 0 || !strings.HasSuffix(typ, ">") {
		return "", ""
	}
	inner := typ[open+1 : len(typ)-1]
	depth := 0
	for i, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+1:])
			}
		}
	}
	return "", ""
}
