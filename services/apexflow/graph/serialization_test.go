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
	"encoding/json"
	"testing"
)

func TestSerialization_RoundTrip(t *testing.T) {
	g, ids := buildSmallGraph(t)

	data, err := json.Marshal(g.ToSerializable())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var sg SerializableGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	loaded, err := FromSerializable(&sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}

	if loaded.VertexCount() != g.VertexCount() {
		t.Errorf("vertex count = %d, want %d", loaded.VertexCount(), g.VertexCount())
	}
	if loaded.EdgeCount() != g.EdgeCount() {
		t.Errorf("edge count = %d, want %d", loaded.EdgeCount(), g.EdgeCount())
	}
	if loaded.Hash() != g.Hash() {
		t.Errorf("hash = %s, want %s", loaded.Hash(), g.Hash())
	}
	if loaded.BuiltAtMilli != g.BuiltAtMilli {
		t.Errorf("BuiltAtMilli = %d, want %d", loaded.BuiltAtMilli, g.BuiltAtMilli)
	}
	if _, ok := loaded.ClassByName("foo"); !ok {
		t.Error("class index not rebuilt")
	}

	a, _ := loaded.Vertex(ids["a"])
	if next := loaded.NextSibling(a); next == nil || next.ID != ids["b"] {
		t.Errorf("sibling order lost: NextSibling(a) = %v", next)
	}
	if a.Line() != 3 {
		t.Errorf("Line() after round trip = %d, want 3", a.Line())
	}
}

func TestSerialization_NilGraph(t *testing.T) {
	var g *Graph
	sg := g.ToSerializable()
	if sg.SchemaVersion != GraphSchemaVersion {
		t.Errorf("schema version = %q", sg.SchemaVersion)
	}
	if len(sg.Vertices) != 0 || len(sg.CFGEdges) != 0 {
		t.Error("nil graph should serialize empty")
	}
}

func TestFromSerializable_Errors(t *testing.T) {
	if _, err := FromSerializable(nil); err == nil {
		t.Error("expected error for nil input")
	}
	if _, err := FromSerializable(&SerializableGraph{SchemaVersion: "0.1"}); err == nil {
		t.Error("expected error for unsupported schema")
	}
	sg := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Vertices:      []SerializableVertex{{ID: 1, Label: LabelBlockStatement}},
		CFGEdges:      []SerializableEdge{{FromID: 1, ToID: 2}},
	}
	if _, err := FromSerializable(sg); err == nil {
		t.Error("expected error for dangling edge")
	}
}

func TestToSerializable_EdgeOrderStable(t *testing.T) {
	b := NewBuilder()
	cond, _ := b.AddVertex(LabelStandardCondition, nil)
	then, _ := b.AddVertex(LabelBlockStatement, nil)
	els, _ := b.AddVertex(LabelBlockStatement, nil)
	// Branch order is insertion order, not target ID order.
	b.AddCFGEdge(cond, els)
	b.AddCFGEdge(cond, then)
	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	edges := g.ToSerializable().CFGEdges
	if len(edges) != 2 || edges[0].ToID != els || edges[1].ToID != then {
		t.Errorf("edge order = %v, want insertion order", edges)
	}
}
