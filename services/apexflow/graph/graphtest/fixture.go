// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphtest builds Apex-shaped vertex graphs for tests.
//
// Fixtures are declared as a tree of Node values mirroring the Apex AST and
// frozen with Build. CFG_PATH edges are derived from statement structure the
// same way the front-end lays them out:
//
//	body → IfElseBlockStatement → IfBlockStatement → StandardCondition
//	StandardCondition → then BlockStatement (first edge, positive)
//	StandardCondition → else BlockStatement or next statement (negative)
//
// Return and throw statements have no CFG successor. Loops are unrolled once
// so the CFG stays acyclic.
//
// Example:
//
//	b := graphtest.MustBuild(t,
//	    graphtest.Class("Foo",
//	        graphtest.Method("run", "void", nil,
//	            graphtest.If(graphtest.Var("cond"),
//	                graphtest.Block(graphtest.Delete(graphtest.Var("x")).Tag("delete")),
//	                graphtest.Block(graphtest.Expr(graphtest.StaticCall("System", "debug", graphtest.Str("no")))),
//	            ),
//	        ),
//	    ),
//	)
//	del := b.V("delete")
package graphtest

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// ConstructorName is the method name given to constructors.
const ConstructorName = "<init>"

// Node is one AST node of a fixture.
type Node struct {
	Label    string
	Props    map[string]any
	Children []*Node

	tag string
}

// Tag names the node so its vertex can be looked up after Build.
func (n *Node) Tag(name string) *Node {
	n.tag = name
	return n
}

// Set sets a property and returns the node.
func (n *Node) Set(key string, value any) *Node {
	if n.Props == nil {
		n.Props = make(map[string]any)
	}
	n.Props[key] = value
	return n
}

// Extends sets the superclass of a class node.
func (n *Node) Extends(super string) *Node {
	return n.Set(graph.PropSuperClassName, super)
}

// Implements sets the interfaces of a class node.
func (n *Node) Implements(names ...string) *Node {
	return n.Set(graph.PropInterfaceNames, strings.Join(names, ","))
}

// Static marks a method or field as static.
func (n *Node) Static() *Node {
	return n.Set(graph.PropStatic, true)
}

func node(label string, props map[string]any, children ...*Node) *Node {
	kept := children[:0:0]
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	if props == nil {
		props = make(map[string]any)
	}
	return &Node{Label: label, Props: props, Children: kept}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Class declares a user class with methods, fields and inner classes.
func Class(name string, members ...*Node) *Node {
	return node(graph.LabelUserClass, map[string]any{graph.PropName: name}, members...)
}

// Interface declares a user interface.
func Interface(name string, members ...*Node) *Node {
	return node(graph.LabelUserInterface, map[string]any{graph.PropName: name}, members...)
}

// Param declares a method parameter.
func Param(typ, name string) *Node {
	return node(graph.LabelParameter, map[string]any{graph.PropName: name, graph.PropType: typ})
}

// Params is a readability helper for parameter lists.
func Params(p ...*Node) []*Node { return p }

// Method declares a method with a body made of stmts.
func Method(name, returnType string, params []*Node, stmts ...*Node) *Node {
	children := append(append([]*Node{}, params...), Block(stmts...))
	return node(graph.LabelMethod, map[string]any{
		graph.PropName:       name,
		graph.PropReturnType: returnType,
		graph.PropArity:      int64(len(params)),
	}, children...)
}

// AbstractMethod declares a method without a body.
func AbstractMethod(name, returnType string, params ...*Node) *Node {
	return node(graph.LabelMethod, map[string]any{
		graph.PropName:       name,
		graph.PropReturnType: returnType,
		graph.PropArity:      int64(len(params)),
	}, params...)
}

// Constructor declares a constructor with a body made of stmts.
func Constructor(params []*Node, stmts ...*Node) *Node {
	return Method(ConstructorName, "void", params, stmts...).Set(graph.PropConstructor, true)
}

// DefaultConstructor declares a synthesized constructor with no body.
func DefaultConstructor() *Node {
	return AbstractMethod(ConstructorName, "void").Set(graph.PropConstructor, true)
}

// Field declares a field with an optional initializer.
func Field(typ, name string, init *Node) *Node {
	decl := node(graph.LabelFieldDeclaration, map[string]any{graph.PropName: name, graph.PropType: typ}, init)
	return node(graph.LabelFieldDeclarationStatements, map[string]any{graph.PropType: typ}, decl)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Block groups statements.
func Block(stmts ...*Node) *Node {
	return node(graph.LabelBlockStatement, nil, stmts...)
}

// Expr wraps an expression as a statement.
func Expr(e *Node) *Node {
	return node(graph.LabelExpressionStatement, nil, e)
}

// Decl declares a local variable with an optional initializer.
func Decl(typ, name string, init *Node) *Node {
	decl := node(graph.LabelVariableDeclaration, map[string]any{graph.PropName: name, graph.PropType: typ}, init)
	return node(graph.LabelVariableDeclarationStatements, map[string]any{graph.PropType: typ}, decl)
}

// If builds an if statement. then and els are wrapped in a block when they
// are not blocks already; els may be nil.
func If(cond, then, els *Node) *Node {
	ifBlock := node(graph.LabelIfBlockStatement, nil,
		node(graph.LabelStandardCondition, nil, cond),
		asBlock(then),
	)
	var elseBlock *Node
	if els != nil {
		elseBlock = asBlock(els)
	}
	return node(graph.LabelIfElseBlockStatement, nil, ifBlock, elseBlock)
}

// Return builds a return statement; e may be nil.
func Return(e *Node) *Node {
	return node(graph.LabelReturnStatement, nil, e)
}

// Throw builds a throw statement.
func Throw(e *Node) *Node {
	return node(graph.LabelThrowStatement, nil, e)
}

// ForEach builds `for (typ name : coll) { body }`.
func ForEach(typ, name string, coll *Node, body ...*Node) *Node {
	return node(graph.LabelForEachStatement, map[string]any{
		graph.PropType:         typ,
		graph.PropVariableName: name,
	}, coll, Block(body...))
}

// While builds `while (cond) { body }`.
func While(cond *Node, body ...*Node) *Node {
	return node(graph.LabelWhileLoopStatement, nil,
		node(graph.LabelStandardCondition, nil, cond),
		Block(body...),
	)
}

// Insert builds a DML insert statement.
func Insert(e *Node) *Node { return node(graph.LabelDmlInsertStatement, nil, e) }

// Update builds a DML update statement.
func Update(e *Node) *Node { return node(graph.LabelDmlUpdateStatement, nil, e) }

// Delete builds a DML delete statement.
func Delete(e *Node) *Node { return node(graph.LabelDmlDeleteStatement, nil, e) }

// Upsert builds a DML upsert statement.
func Upsert(e *Node) *Node { return node(graph.LabelDmlUpsertStatement, nil, e) }

func asBlock(n *Node) *Node {
	if n == nil || n.Label == graph.LabelBlockStatement {
		return n
	}
	return Block(n)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func literal(typ string, value any) *Node {
	return node(graph.LabelLiteralExpression, map[string]any{graph.PropLiteralType: typ, graph.PropValue: value})
}

// Str is a string literal.
func Str(s string) *Node { return literal(graph.LiteralString, s) }

// Int is an integer literal.
func Int(n int64) *Node { return literal(graph.LiteralInteger, strconv.FormatInt(n, 10)) }

// Long is a long literal.
func Long(n int64) *Node { return literal(graph.LiteralLong, strconv.FormatInt(n, 10)) }

// Decimal is a decimal literal.
func Decimal(s string) *Node { return literal(graph.LiteralDecimal, s) }

// Bool is a boolean literal.
func Bool(b bool) *Node {
	if b {
		return literal(graph.LiteralTrue, "true")
	}
	return literal(graph.LiteralFalse, "false")
}

// Null is the null literal.
func Null() *Node { return literal(graph.LiteralNull, "null") }

// Var references a variable, parameter or field by simple name.
func Var(name string) *Node {
	return node(graph.LabelVariableExpression, map[string]any{graph.PropName: name})
}

// FieldOf reads a member of recv.
func FieldOf(recv *Node, name string) *Node {
	return node(graph.LabelVariableExpression, map[string]any{graph.PropName: name}, recv)
}

// Ref is a dotted reference such as a class name qualifier.
func Ref(names ...string) *Node {
	return node(graph.LabelReferenceExpression, map[string]any{graph.PropNames: strings.Join(names, ".")})
}

// This is `this`.
func This() *Node { return node(graph.LabelThisVariableExpression, nil) }

// Super is `super`.
func Super() *Node { return node(graph.LabelSuperVariableExpression, nil) }

// Call invokes name on recv. A nil recv is an unqualified call.
func Call(recv *Node, name string, args ...*Node) *Node {
	if recv == nil {
		recv = node(graph.LabelEmptyReferenceExpression, nil)
	}
	children := append([]*Node{recv}, args...)
	return node(graph.LabelMethodCallExpression, map[string]any{graph.PropMethodName: name}, children...)
}

// Invoke is an unqualified call.
func Invoke(name string, args ...*Node) *Node { return Call(nil, name, args...) }

// StaticCall invokes className.name(args).
func StaticCall(className, name string, args ...*Node) *Node {
	return Call(Ref(className), name, args...)
}

// New is `new typ(args)`.
func New(typ string, args ...*Node) *Node {
	return node(graph.LabelNewObjectExpression, map[string]any{graph.PropType: typ}, args...)
}

// ThisCall is the constructor chain `this(args)`.
func ThisCall(args ...*Node) *Node {
	return node(graph.LabelThisMethodCallExpression, nil, args...)
}

// SuperCall is the constructor chain `super(args)`.
func SuperCall(args ...*Node) *Node {
	return node(graph.LabelSuperMethodCallExpression, nil, args...)
}

// ListOf is `new List<T>{elems}`; typ is the full collection type.
func ListOf(typ string, elems ...*Node) *Node {
	return node(graph.LabelNewListLiteralExpression, map[string]any{graph.PropType: typ}, elems...)
}

// SetOf is `new Set<T>{elems}`.
func SetOf(typ string, elems ...*Node) *Node {
	return node(graph.LabelNewSetLiteralExpression, map[string]any{graph.PropType: typ}, elems...)
}

// MapOf is `new Map<K,V>{k => v, ...}`; kvs alternate key and value.
func MapOf(typ string, kvs ...*Node) *Node {
	return node(graph.LabelNewMapLiteralExpression, map[string]any{graph.PropType: typ}, kvs...)
}

// Bin is an arithmetic binary expression.
func Bin(op string, l, r *Node) *Node {
	return node(graph.LabelBinaryExpression, map[string]any{graph.PropOperator: op}, l, r)
}

// Plus is `l + r`.
func Plus(l, r *Node) *Node { return Bin("+", l, r) }

// Cmp is a boolean binary expression (==, !=, <, &&, ...).
func Cmp(op string, l, r *Node) *Node {
	return node(graph.LabelBooleanExpression, map[string]any{graph.PropOperator: op}, l, r)
}

// Not is `!e`.
func Not(e *Node) *Node {
	return node(graph.LabelPrefixExpression, map[string]any{graph.PropOperator: "!"}, e)
}

// Prefix is a prefix expression such as `-e` or `++e`.
func Prefix(op string, e *Node) *Node {
	return node(graph.LabelPrefixExpression, map[string]any{graph.PropOperator: op}, e)
}

// Postfix is a postfix expression such as `e++`.
func Postfix(op string, e *Node) *Node {
	return node(graph.LabelPostfixExpression, map[string]any{graph.PropOperator: op}, e)
}

// Ternary is `c ? a : b`.
func Ternary(c, a, b *Node) *Node {
	return node(graph.LabelTernaryExpression, nil, c, a, b)
}

// Assign is `target = value`.
func Assign(target, value *Node) *Node {
	return node(graph.LabelAssignmentExpression, map[string]any{graph.PropOperator: "="}, target, value)
}

// AssignOp is a compound assignment such as `target += value`.
func AssignOp(op string, target, value *Node) *Node {
	return node(graph.LabelAssignmentExpression, map[string]any{graph.PropOperator: op}, target, value)
}

// Cast is `(typ) e`.
func Cast(typ string, e *Node) *Node {
	return node(graph.LabelCastExpression, map[string]any{graph.PropType: typ}, e)
}

// Soql is an inline SOQL query.
func Soql(query string) *Node {
	return node(graph.LabelSoqlExpression, map[string]any{graph.PropQuery: query})
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Built is a frozen fixture.
type Built struct {
	Graph *graph.Graph
	tags  map[string]graph.VertexID
}

// ID returns the vertex ID of a tagged node. Panics on unknown tags.
func (b *Built) ID(tag string) graph.VertexID {
	id, ok := b.tags[tag]
	if !ok {
		panic(fmt.Sprintf("graphtest: unknown tag %q", tag))
	}
	return id
}

// V returns the vertex of a tagged node. Panics on unknown tags.
func (b *Built) V(tag string) *graph.Vertex {
	v, _ := b.Graph.Vertex(b.ID(tag))
	return v
}

// Method returns the first method named name declared directly on class.
// Returns nil when there is none.
func (b *Built) Method(class, name string) *graph.Vertex {
	cls, ok := b.Graph.ClassByName(class)
	if !ok {
		return nil
	}
	for _, m := range b.Graph.ChildrenByLabel(cls, graph.LabelMethod) {
		if strings.EqualFold(m.Name(), name) {
			return m
		}
	}
	return nil
}

// MustBuild builds the fixture and fails the test on error.
func MustBuild(tb testing.TB, roots ...*Node) *Built {
	tb.Helper()
	b, err := Build(roots...)
	if err != nil {
		tb.Fatalf("graphtest: %v", err)
	}
	return b
}

// Build converts node trees into a frozen graph.
func Build(roots ...*Node) (*Built, error) {
	s := &state{
		b:    graph.NewBuilder(graph.WithRoot("graphtest")),
		tags: make(map[string]graph.VertexID),
		ids:  make(map[*Node]graph.VertexID),
	}
	for _, r := range roots {
		if _, err := s.add(r, ""); err != nil {
			return nil, err
		}
	}
	for _, r := range roots {
		if err := s.wireClass(r); err != nil {
			return nil, err
		}
	}
	g, err := s.b.Freeze()
	if err != nil {
		return nil, err
	}
	return &Built{Graph: g, tags: s.tags}, nil
}

type state struct {
	b    *graph.Builder
	tags map[string]graph.VertexID
	ids  map[*Node]graph.VertexID
	line int
}

// add creates vertices for n and its subtree. owner is the defining type of
// the enclosing class.
func (s *state) add(n *Node, owner string) (graph.VertexID, error) {
	props := make(map[string]any, len(n.Props)+2)
	for k, v := range n.Props {
		props[k] = v
	}
	switch n.Label {
	case graph.LabelUserClass, graph.LabelUserInterface:
		name := n.Props[graph.PropName].(string)
		if owner != "" {
			name = owner + "." + name
		}
		props[graph.PropDefiningType] = name
		owner = name
	default:
		if owner != "" {
			props[graph.PropDefiningType] = owner
		}
	}
	s.line++
	props[graph.PropBeginLine] = int64(s.line)

	id, err := s.b.AddVertex(n.Label, props)
	if err != nil {
		return 0, err
	}
	s.ids[n] = id
	if n.tag != "" {
		if _, dup := s.tags[n.tag]; dup {
			return 0, fmt.Errorf("duplicate tag %q", n.tag)
		}
		s.tags[n.tag] = id
	}
	for _, c := range n.Children {
		cid, err := s.add(c, owner)
		if err != nil {
			return 0, err
		}
		if err := s.b.AddChild(id, cid); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *state) wireClass(n *Node) error {
	for _, c := range n.Children {
		switch c.Label {
		case graph.LabelUserClass, graph.LabelUserInterface:
			if err := s.wireClass(c); err != nil {
				return err
			}
		case graph.LabelMethod:
			for _, mc := range c.Children {
				if mc.Label == graph.LabelBlockStatement {
					if _, err := s.flow(nil, mc); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (s *state) edges(preds []graph.VertexID, to *Node) error {
	seen := make(map[graph.VertexID]bool, len(preds))
	for _, p := range preds {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := s.b.AddCFGEdge(p, s.ids[to]); err != nil {
			return err
		}
	}
	return nil
}

// flow links preds to n and returns the vertices control leaves n from.
func (s *state) flow(preds []graph.VertexID, n *Node) ([]graph.VertexID, error) {
	if err := s.edges(preds, n); err != nil {
		return nil, err
	}
	id := s.ids[n]

	switch n.Label {
	case graph.LabelBlockStatement:
		exits := []graph.VertexID{id}
		for _, c := range n.Children {
			var err error
			if exits, err = s.flow(exits, c); err != nil {
				return nil, err
			}
		}
		return exits, nil

	case graph.LabelIfElseBlockStatement:
		var out []graph.VertexID
		cur := []graph.VertexID{id}
		for _, c := range n.Children {
			if c.Label != graph.LabelIfBlockStatement {
				exits, err := s.flow(cur, c)
				if err != nil {
					return nil, err
				}
				return append(out, exits...), nil
			}
			if err := s.edges(cur, c); err != nil {
				return nil, err
			}
			cond, then := c.Children[0], c.Children[1]
			if err := s.edges([]graph.VertexID{s.ids[c]}, cond); err != nil {
				return nil, err
			}
			exits, err := s.flow([]graph.VertexID{s.ids[cond]}, then)
			if err != nil {
				return nil, err
			}
			out = append(out, exits...)
			cur = []graph.VertexID{s.ids[cond]}
		}
		return append(out, cur...), nil

	case graph.LabelWhileLoopStatement:
		cond, body := n.Children[0], n.Children[1]
		if err := s.edges([]graph.VertexID{id}, cond); err != nil {
			return nil, err
		}
		exits, err := s.flow([]graph.VertexID{s.ids[cond]}, body)
		if err != nil {
			return nil, err
		}
		return append(exits, s.ids[cond]), nil

	case graph.LabelForEachStatement:
		return s.flow([]graph.VertexID{id}, n.Children[len(n.Children)-1])

	case graph.LabelReturnStatement, graph.LabelThrowStatement:
		return nil, nil

	default:
		return []graph.VertexID{id}, nil
	}
}
