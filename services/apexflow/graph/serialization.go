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
	"fmt"
	"sort"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a Graph.
//
// Description:
//
//	Contains all data needed to reconstruct a Graph. Vertices are sorted
//	by ID and edges by (from, to) for deterministic output, enabling
//	reliable diffing and content hashing.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// Root is the source set name.
	Root string `json:"root"`

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was frozen.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Vertices contains all vertices sorted by ID.
	Vertices []SerializableVertex `json:"vertices"`

	// CFGEdges contains all CFG_PATH edges.
	CFGEdges []SerializableEdge `json:"cfg_edges"`
}

// SerializableVertex is the JSON-serializable representation of a Vertex.
type SerializableVertex struct {
	ID       VertexID       `json:"id"`
	Label    string         `json:"label"`
	Props    map[string]any `json:"props,omitempty"`
	Children []VertexID     `json:"children,omitempty"`
}

// SerializableEdge is one CFG_PATH edge.
type SerializableEdge struct {
	FromID VertexID `json:"from_id"`
	ToID   VertexID `json:"to_id"`
}

// ToSerializable converts a Graph to its serializable representation.
//
// Complexity: O(V + E log E).
//
// Thread Safety: Safe for concurrent use.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Vertices:      []SerializableVertex{},
			CFGEdges:      []SerializableEdge{},
		}
	}

	vertices := make([]SerializableVertex, 0, len(g.order))
	edges := make([]SerializableEdge, 0)
	for _, id := range g.order {
		v := g.vertices[id]
		children := make([]VertexID, len(v.children))
		copy(children, v.children)
		vertices = append(vertices, SerializableVertex{
			ID:       v.ID,
			Label:    v.Label,
			Props:    v.Props,
			Children: children,
		})
		for _, to := range g.cfgOut[id] {
			edges = append(edges, SerializableEdge{FromID: id, ToID: to})
		}
	}

	// Edge order within a source is significant (branch order), so the sort
	// must be stable on FromID only.
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].FromID < edges[j].FromID
	})

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Root:          g.Root,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Vertices:      vertices,
		CFGEdges:      edges,
	}
}

// FromSerializable reconstructs a Graph from its serializable representation.
//
// Description:
//
//	Replays every vertex, child link and CFG edge through a Builder so the
//	class index and sibling positions are rebuilt by the normal construction
//	path, then freezes the result.
//
// Errors:
//
//	Returns error if sg is nil, the schema version is unsupported, or any
//	builder call fails.
func FromSerializable(sg *SerializableGraph, opts ...BuilderOption) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	opts = append([]BuilderOption{WithRoot(sg.Root)}, opts...)
	b := NewBuilder(opts...)
	for _, sv := range sg.Vertices {
		if err := b.AddVertexWithID(sv.ID, sv.Label, sv.Props); err != nil {
			return nil, fmt.Errorf("vertex %d: %w", sv.ID, err)
		}
	}
	for _, sv := range sg.Vertices {
		for _, child := range sv.Children {
			if err := b.AddChild(sv.ID, child); err != nil {
				return nil, fmt.Errorf("child %d -> %d: %w", sv.ID, child, err)
			}
		}
	}
	for _, e := range sg.CFGEdges {
		if err := b.AddCFGEdge(e.FromID, e.ToID); err != nil {
			return nil, fmt.Errorf("cfg edge %d -> %d: %w", e.FromID, e.ToID, err)
		}
	}

	g, err := b.Freeze()
	if err != nil {
		return nil, err
	}
	g.BuiltAtMilli = sg.BuiltAtMilli
	return g, nil
}
