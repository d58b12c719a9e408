// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"testing"
)

// buildSmallGraph creates:
//
//	UserClass Foo
//	  Method run
//	    BlockStatement (body)
//	      ExpressionStatement a
//	      ExpressionStatement b
//
// with CFG body → a → b.
func buildSmallGraph(t *testing.T) (*Graph, map[string]VertexID) {
	t.Helper()
	b := NewBuilder(WithRoot("force-app"))
	ids := make(map[string]VertexID)
	add := func(name, label string, props map[string]any) {
		id, err := b.AddVertex(label, props)
		if err != nil {
			t.Fatalf("AddVertex(%s): %v", name, err)
		}
		ids[name] = id
	}
	add("cls", LabelUserClass, map[string]any{PropName: "Foo", PropDefiningType: "Foo"})
	add("run", LabelMethod, map[string]any{PropName: "run", PropDefiningType: "Foo", PropArity: int64(0)})
	add("body", LabelBlockStatement, nil)
	add("a", LabelExpressionStatement, map[string]any{PropBeginLine: int64(3)})
	add("b", LabelExpressionStatement, map[string]any{PropBeginLine: int64(4)})

	for _, link := range [][2]string{{"cls", "run"}, {"run", "body"}, {"body", "a"}, {"body", "b"}} {
		if err := b.AddChild(ids[link[0]], ids[link[1]]); err != nil {
			t.Fatalf("AddChild(%s, %s): %v", link[0], link[1], err)
		}
	}
	for _, link := range [][2]string{{"body", "a"}, {"a", "b"}} {
		if err := b.AddCFGEdge(ids[link[0]], ids[link[1]]); err != nil {
			t.Fatalf("AddCFGEdge(%s, %s): %v", link[0], link[1], err)
		}
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return g, ids
}

func TestBuilder_Freeze(t *testing.T) {
	g, ids := buildSmallGraph(t)

	if g.VertexCount() != 5 {
		t.Errorf("VertexCount = %d, want 5", g.VertexCount())
	}
	// 4 child links (2 edges each) + 2 CFG edges.
	if g.EdgeCount() != 10 {
		t.Errorf("EdgeCount = %d, want 10", g.EdgeCount())
	}
	if g.Root != "force-app" {
		t.Errorf("Root = %q, want force-app", g.Root)
	}
	if g.BuiltAtMilli == 0 {
		t.Error("BuiltAtMilli should be set")
	}

	run, _ := g.Vertex(ids["run"])
	if p := g.Parent(run); p == nil || p.ID != ids["cls"] {
		t.Errorf("Parent(run) = %v, want cls", p)
	}
}

func TestBuilder_RejectsAfterFreeze(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if _, err := b.AddVertex(LabelMethod, nil); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddVertex after freeze: got %v, want ErrGraphFrozen", err)
	}
	if _, err := b.Freeze(); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("second Freeze: got %v, want ErrGraphFrozen", err)
	}
}

func TestBuilder_Validation(t *testing.T) {
	t.Run("empty label", func(t *testing.T) {
		b := NewBuilder()
		if _, err := b.AddVertex("", nil); !errors.Is(err, ErrInvalidLabel) {
			t.Errorf("got %v, want ErrInvalidLabel", err)
		}
	})

	t.Run("capacity", func(t *testing.T) {
		b := NewBuilder(WithMaxVertices(1))
		if _, err := b.AddVertex(LabelMethod, nil); err != nil {
			t.Fatalf("first AddVertex: %v", err)
		}
		if _, err := b.AddVertex(LabelMethod, nil); err == nil {
			t.Error("expected capacity error")
		}
	})

	t.Run("dangling cfg edge", func(t *testing.T) {
		b := NewBuilder()
		id, _ := b.AddVertex(LabelBlockStatement, nil)
		if err := b.AddCFGEdge(id, 99); !errors.Is(err, ErrVertexNotFound) {
			t.Errorf("got %v, want ErrVertexNotFound", err)
		}
	})

	t.Run("duplicate cfg edge", func(t *testing.T) {
		b := NewBuilder()
		a, _ := b.AddVertex(LabelBlockStatement, nil)
		c, _ := b.AddVertex(LabelExpressionStatement, nil)
		if err := b.AddCFGEdge(a, c); err != nil {
			t.Fatalf("AddCFGEdge: %v", err)
		}
		if err := b.AddCFGEdge(a, c); !errors.Is(err, ErrDuplicateEdge) {
			t.Errorf("got %v, want ErrDuplicateEdge", err)
		}
	})

	t.Run("second parent", func(t *testing.T) {
		b := NewBuilder()
		p1, _ := b.AddVertex(LabelBlockStatement, nil)
		p2, _ := b.AddVertex(LabelBlockStatement, nil)
		c, _ := b.AddVertex(LabelExpressionStatement, nil)
		if err := b.AddChild(p1, c); err != nil {
			t.Fatalf("AddChild: %v", err)
		}
		if err := b.AddChild(p2, c); !errors.Is(err, ErrDuplicateChild) {
			t.Errorf("got %v, want ErrDuplicateChild", err)
		}
	})

	t.Run("duplicate class", func(t *testing.T) {
		b := NewBuilder()
		b.AddVertex(LabelUserClass, map[string]any{PropDefiningType: "Foo"})
		b.AddVertex(LabelUserClass, map[string]any{PropDefiningType: "FOO"})
		if _, err := b.Freeze(); !errors.Is(err, ErrDuplicateClass) {
			t.Errorf("got %v, want ErrDuplicateClass", err)
		}
	})
}

func TestGraph_ClassByName_CaseInsensitive(t *testing.T) {
	g, ids := buildSmallGraph(t)

	for _, name := range []string{"Foo", "foo", "FOO"} {
		cls, ok := g.ClassByName(name)
		if !ok {
			t.Errorf("ClassByName(%q) not found", name)
			continue
		}
		if cls.ID != ids["cls"] {
			t.Errorf("ClassByName(%q) = %v, want cls", name, cls)
		}
	}
	if _, ok := g.ClassByName("Bar"); ok {
		t.Error("ClassByName(Bar) should not be found")
	}
	if got := len(g.Classes()); got != 1 {
		t.Errorf("len(Classes()) = %d, want 1", got)
	}
}

func TestGraph_Navigation(t *testing.T) {
	g, ids := buildSmallGraph(t)
	a, _ := g.Vertex(ids["a"])
	bv, _ := g.Vertex(ids["b"])
	body, _ := g.Vertex(ids["body"])

	if s := g.NextSibling(a); s == nil || s.ID != bv.ID {
		t.Errorf("NextSibling(a) = %v, want b", s)
	}
	if s := g.PrevSibling(bv); s == nil || s.ID != a.ID {
		t.Errorf("PrevSibling(b) = %v, want a", s)
	}
	if s := g.NextSibling(bv); s != nil {
		t.Errorf("NextSibling(b) = %v, want nil", s)
	}
	if bv.ChildIndex() != 1 {
		t.Errorf("ChildIndex(b) = %d, want 1", bv.ChildIndex())
	}

	if out := g.CFGOut(a); len(out) != 1 || out[0].ID != bv.ID {
		t.Errorf("CFGOut(a) = %v, want [b]", out)
	}
	if in := g.CFGIn(a); len(in) != 1 || in[0].ID != body.ID {
		t.Errorf("CFGIn(a) = %v, want [body]", in)
	}
	if !g.HasCFG(bv) {
		t.Error("HasCFG(b) should be true")
	}

	if m := g.Ancestor(a, LabelMethod); m == nil || m.ID != ids["run"] {
		t.Errorf("Ancestor(a, Method) = %v, want run", m)
	}
	cls, _ := g.Vertex(ids["cls"])
	if got := g.Descendants(cls, LabelExpressionStatement); len(got) != 2 || got[0].ID != a.ID {
		t.Errorf("Descendants(cls, ExpressionStatement) = %v, want [a b]", got)
	}
	if got := g.FirstChildByLabel(body, LabelExpressionStatement); got == nil || got.ID != a.ID {
		t.Errorf("FirstChildByLabel = %v, want a", got)
	}
}

func TestVertex_Props(t *testing.T) {
	v := &Vertex{ID: 7, Label: LabelMethod, Props: map[string]any{
		PropName:           "run",
		PropArity:          float64(2),
		PropStatic:         "TRUE",
		PropInterfaceNames: "A, B,,C",
		PropBeginLine:      "12",
	}}

	if v.String() != "Method#7" {
		t.Errorf("String() = %q", v.String())
	}
	if v.Int(PropArity) != 2 {
		t.Errorf("Int(Arity) = %d, want 2", v.Int(PropArity))
	}
	if !v.Bool(PropStatic) {
		t.Error("Bool(Static) should be true")
	}
	if got := v.Strings(PropInterfaceNames); len(got) != 3 || got[2] != "C" {
		t.Errorf("Strings(InterfaceNames) = %v", got)
	}
	if v.Line() != 12 {
		t.Errorf("Line() = %d, want 12", v.Line())
	}
	if !v.Is(LabelUserClass, LabelMethod) {
		t.Error("Is should match Method")
	}
	var nilV *Vertex
	if nilV.Str(PropName) != "" || nilV.Is(LabelMethod) {
		t.Error("nil vertex accessors should be zero")
	}
}

func TestGraph_Hash_Deterministic(t *testing.T) {
	g1, _ := buildSmallGraph(t)
	g2, _ := buildSmallGraph(t)
	if g1.Hash() != g2.Hash() {
		t.Errorf("hash differs for identical graphs: %s vs %s", g1.Hash(), g2.Hash())
	}
	if len(g1.Hash()) != 16 {
		t.Errorf("hash length = %d, want 16", len(g1.Hash()))
	}
}

func TestLabelPredicates(t *testing.T) {
	if !IsDMLLabel(LabelDmlDeleteStatement) || IsDMLLabel(LabelExpressionStatement) {
		t.Error("IsDMLLabel misclassified")
	}
	if !IsInvocableLabel(LabelNewObjectExpression) || IsInvocableLabel(LabelVariableExpression) {
		t.Error("IsInvocableLabel misclassified")
	}
	if EdgeTypeCFGPath.String() != "CFG_PATH" {
		t.Errorf("EdgeTypeCFGPath = %q", EdgeTypeCFGPath.String())
	}
}
