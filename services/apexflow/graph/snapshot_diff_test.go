// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph_test

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	gt "github.com/AleutianAI/apexflow/services/apexflow/graph/graphtest"
)

func bar(paramType string) *gt.Node {
	return gt.Class("Bar",
		gt.Method("s", "void", gt.Params(gt.Param(paramType, "x"))),
	)
}

func TestDiffSnapshots(t *testing.T) {
	base := gt.MustBuild(t,
		bar("Integer"),
		gt.Class("Foo",
			gt.Method("m1", "String", nil, gt.Return(gt.Str("x"))),
			gt.Method("keep", "void", nil, gt.Expr(gt.StaticCall("System", "debug", gt.Str("k")))),
			gt.Method("old", "void", nil),
		),
	)
	target := gt.MustBuild(t,
		bar("String"),
		gt.Class("Foo",
			gt.Method("new1", "void", nil, gt.Expr(gt.StaticCall("System", "debug", gt.Str("n")))),
			gt.Method("m1", "String", nil, gt.Return(gt.Str("y"))),
			gt.Method("keep", "void", nil, gt.Expr(gt.StaticCall("System", "debug", gt.Str("k")))),
		),
	)

	diff, err := graph.DiffSnapshots(base.Graph, target.Graph, "base", "target")
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if want := []string{"foo#new1/0"}; !reflect.DeepEqual(diff.MethodsAdded, want) {
		t.Errorf("MethodsAdded = %v, want %v", diff.MethodsAdded, want)
	}
	if want := []string{"foo#old/0"}; !reflect.DeepEqual(diff.MethodsRemoved, want) {
		t.Errorf("MethodsRemoved = %v, want %v", diff.MethodsRemoved, want)
	}
	wantModified := []graph.MethodDiff{
		{Key: "bar#s/1", ChangeType: graph.ChangeSignature},
		{Key: "foo#keep/0", ChangeType: graph.ChangeMoved},
		{Key: "foo#m1/0", ChangeType: graph.ChangeBody},
	}
	if !reflect.DeepEqual(diff.MethodsModified, wantModified) {
		t.Errorf("MethodsModified = %+v, want %+v", diff.MethodsModified, wantModified)
	}
	if diff.Summary.TotalChanges != 5 {
		t.Errorf("TotalChanges = %d, want 5", diff.Summary.TotalChanges)
	}
	if diff.Summary.ClassesAffected != 2 {
		t.Errorf("ClassesAffected = %d, want 2", diff.Summary.ClassesAffected)
	}
	if diff.Summary.ChangeRatio != 1.25 {
		t.Errorf("ChangeRatio = %f", diff.Summary.ChangeRatio)
	}
}

func TestDiffSnapshots_Identical(t *testing.T) {
	build := func() *graph.Graph {
		return gt.MustBuild(t, gt.Class("Foo",
			gt.Method("run", "void", gt.Params(gt.Param("Boolean", "b")),
				gt.If(gt.Var("b"), gt.Return(nil), nil),
			),
		)).Graph
	}
	diff, err := graph.DiffSnapshots(build(), build(), "a", "b")
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if diff.Summary.TotalChanges != 0 {
		t.Errorf("identical graphs differ: %+v", diff)
	}
}

func TestDiffSnapshots_NilGraphs(t *testing.T) {
	g := gt.MustBuild(t, bar("Integer")).Graph
	if _, err := graph.DiffSnapshots(nil, g, "", ""); err == nil {
		t.Error("expected error for nil base")
	}
	if _, err := graph.DiffSnapshots(g, nil, "", ""); err == nil {
		t.Error("expected error for nil target")
	}
}

func TestMethodKey(t *testing.T) {
	b := gt.MustBuild(t, gt.Class("AccountService",
		gt.Method("Sync", "void", gt.Params(gt.Param("Id", "a"), gt.Param("Boolean", "b"))).Tag("sync"),
	))
	if got := graph.MethodKey(b.Graph, b.V("sync")); got != "accountservice#sync/2" {
		t.Errorf("MethodKey = %q", got)
	}
}
