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
	"regexp"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// ObjectType is the root of every hierarchy.
const ObjectType = "Object"

// SObjectType is the common supertype of database objects.
const SObjectType = "SObject"

// TypeHierarchy lists a type followed by its supertypes, closest first,
// ending at Object. Names keep their declared spelling; comparisons are
// case-insensitive.
type TypeHierarchy struct {
	Types []string
	index map[string]int
}

func newHierarchy(types []string) *TypeHierarchy {
	h := &TypeHierarchy{index: make(map[string]int, len(types)+1)}
	for _, t := range types {
		h.add(t)
	}
	h.add(ObjectType)
	return h
}

// add appends t unless an equivalent name is already present.
func (h *TypeHierarchy) add(t string) {
	if t == "" {
		return
	}
	key := NormalizeType(t)
	if _, dup := h.index[key]; dup {
		return
	}
	h.index[key] = len(h.Types)
	h.Types = append(h.Types, t)
}

// Distance returns how many levels up the hierarchy typ sits, and false
// when typ is not a supertype.
func (h *TypeHierarchy) Distance(typ string) (int, bool) {
	d, ok := h.index[NormalizeType(typ)]
	return d, ok
}

// Contains reports whether typ is in the hierarchy.
func (h *TypeHierarchy) Contains(typ string) bool {
	_, ok := h.Distance(typ)
	return ok
}

// NormalizeType returns the comparison key of a type name: lower case, no
// whitespace, arrays as lists, and the System namespace dropped.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.Join(strings.Fields(t), ""))
	t = strings.TrimPrefix(t, "system.")
	if strings.HasSuffix(t, "[]") {
		t = "list<" + strings.TrimSuffix(t, "[]") + ">"
	}
	return t
}

var scalarSupers = map[string][]string{
	"integer":  {"Integer", "Long", "Decimal", "Double"},
	"long":     {"Long", "Decimal", "Double"},
	"decimal":  {"Decimal", "Double"},
	"double":   {"Double", "Decimal"},
	"id":       {"Id", "String"},
	"string":   {"String"},
	"boolean":  {"Boolean"},
	"date":     {"Date"},
	"datetime": {"Datetime"},
	"object":   {},
	"sobject":  {SObjectType},
}

var standardObjects = map[string]bool{
	"account": true, "asset": true, "attachment": true, "campaign": true,
	"case": true, "contact": true, "contentdocument": true, "contentversion": true,
	"contract": true, "event": true, "group": true, "lead": true, "note": true,
	"opportunity": true, "opportunitylineitem": true, "order": true,
	"organization": true, "permissionset": true, "pricebook2": true,
	"product2": true, "profile": true, "quote": true, "recordtype": true,
	"task": true, "user": true,
}

// IsSObject reports whether typ names a database object.
func IsSObject(typ string) bool {
	t := NormalizeType(typ)
	if standardObjects[t] || t == "sobject" {
		return true
	}
	for _, suffix := range []string{"__c", "__mdt", "__e", "__x", "__share", "__history"} {
		if strings.HasSuffix(t, suffix) {
			return true
		}
	}
	return false
}

// splitGeneric splits "List<Account>" into ("List", "Account").
func splitGeneric(t string) (string, string, bool) {
	t = strings.TrimSpace(t)
	if strings.HasSuffix(t, "[]") {
		return "List", strings.TrimSpace(strings.TrimSuffix(t, "[]")), true
	}
	open := strings.IndexByte(t, '<')
	if open < 0 || !strings.HasSuffix(t, ">") {
		return "", "", false
	}
	return strings.TrimSpace(t[:open]), strings.TrimSpace(t[open+1 : len(t)-1]), true
}

// splitMapArgs splits "String, List<Account>" at its top-level comma.
func splitMapArgs(args string) (string, string, bool) {
	depth := 0
	for i, r := range args {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+1:]), true
			}
		}
	}
	return "", "", false
}

// Hierarchy returns the cached hierarchy of typ.
//
// Description:
//
//	User classes list the superclass chain, then the interfaces of each
//	class in that chain. Numeric scalars widen Integer -> Long -> Decimal
//	-> Double, Id widens to String, database objects to SObject,
//	List<T> / Set<T> widen to the same collection of each supertype of T,
//	and Map<K,V> widens its value type the same way.
func (r *Resolver) Hierarchy(ctx context.Context, typ string) *TypeHierarchy {
	key := NormalizeType(typ)
	h, err := cache.Get(ctx, r.c, cache.QueryHierarchy, key, func(ctx context.Context) (*TypeHierarchy, error) {
		h, err := r.buildHierarchy(ctx, typ)
		if err != nil {
			return nil, err
		}
		return h, failure.Check(ctx, "resolve.Hierarchy")
	})
	if err != nil || h == nil {
		return newHierarchy([]string{typ})
	}
	return h
}

func (r *Resolver) buildHierarchy(ctx context.Context, typ string) (*TypeHierarchy, error) {
	typ = strings.TrimSpace(typ)
	if coll, elem, ok := splitGeneric(typ); ok {
		switch strings.ToLower(coll) {
		case "list", "set":
			var types []string
			for _, s := range r.Hierarchy(ctx, elem).Types {
				types = append(types, coll+"<"+s+">")
			}
			return newHierarchy(types), nil
		case "map":
			if key, val, ok := splitMapArgs(elem); ok {
				var types []string
				for _, s := range r.Hierarchy(ctx, val).Types {
					types = append(types, coll+"<"+key+","+s+">")
				}
				return newHierarchy(types), nil
			}
		}
		return newHierarchy([]string{typ}), nil
	}

	if supers, ok := scalarSupers[NormalizeType(typ)]; ok {
		return newHierarchy(supers), nil
	}

	if cls, ok := r.c.Class(ctx, typ); ok {
		chain, err := r.classChain(ctx, cls.DefiningType())
		if err != nil {
			return nil, err
		}
		return newHierarchy(chain), nil
	}
	if IsSObject(typ) {
		return newHierarchy([]string{typ, SObjectType}), nil
	}
	return newHierarchy([]string{typ}), nil
}

// classChain walks superclasses first, then collects interfaces (and the
// interfaces they extend) breadth-first. Cycles stop the walk.
func (r *Resolver) classChain(ctx context.Context, start string) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)
	for cur := start; cur != ""; {
		name := r.canonical(ctx, cur, start)
		key := NormalizeType(name)
		if seen[key] {
			break
		}
		seen[key] = true
		chain = append(chain, name)
		sup, err := r.c.SuperType(ctx, name)
		if err != nil {
			return nil, err
		}
		cur = sup
	}

	queue := make([]string, 0)
	for _, c := range chain {
		ifaces, err := r.c.Interfaces(ctx, c)
		if err != nil {
			return nil, err
		}
		queue = append(queue, ifaces...)
	}
	for len(queue) > 0 {
		name := r.canonical(ctx, queue[0], start)
		queue = queue[1:]
		key := NormalizeType(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		chain = append(chain, name)
		ifaces, err := r.c.Interfaces(ctx, name)
		if err != nil {
			return nil, err
		}
		queue = append(queue, ifaces...)
		sup, err := r.c.SuperType(ctx, name)
		if err != nil {
			return nil, err
		}
		if sup != "" {
			queue = append(queue, sup)
		}
	}
	return chain, nil
}

// Class returns the user class that name denotes when referenced from
// inside class from, trying inner classes of from and its outer classes.
func (r *Resolver) Class(ctx context.Context, name, from string) (*graph.Vertex, bool) {
	return r.c.Class(ctx, r.canonical(ctx, name, from))
}

// canonical returns the declared name of a class referenced from inside
// from, trying the outer classes of from as qualifiers. Unknown names are
// returned unchanged.
func (r *Resolver) canonical(ctx context.Context, name, from string) string {
	if cls, ok := r.c.Class(ctx, name); ok {
		return cls.DefiningType()
	}
	for _, outer := range outerClasses(from) {
		if cls, ok := r.c.Class(ctx, outer+"."+name); ok {
			return cls.DefiningType()
		}
	}
	return name
}

// outerClasses returns class and each enclosing class, innermost first.
func outerClasses(class string) []string {
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

var soqlFrom = regexp.MustCompile(`(?is)\bfrom\s+([A-Za-z_][A-Za-z0-9_]*(?:\s*,\s*[A-Za-z_][A-Za-z0-9_]*)*)`)

// QueryObjects returns the object names of the outermost FROM clause of a
// SOQL query. A query with more than one object returns all of them.
func QueryObjects(query string) []string {
	m := soqlFrom.FindStringSubmatch(stripSubqueries(query))
	if m == nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(m[1], ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripSubqueries removes parenthesized text so relationship subqueries
// do not contribute FROM clauses.
func stripSubqueries(q string) string {
	var b strings.Builder
	depth := 0
	for _, r := range q {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
