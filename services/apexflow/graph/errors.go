// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the immutable Apex AST/CFG vertex graph.
//
// Vertices are AST nodes. Structure is expressed by PARENT/CHILD links
// (ordered children) and control flow by CFG_PATH edges between statement
// vertices. The graph is produced by an external front-end through Builder
// and is read-only afterwards.
//
// # Lifecycle
//
//  1. Create with NewBuilder()
//  2. Add vertices, children and CFG edges
//  3. Call Freeze() to validate and index
//  4. Query the returned *Graph
//
// # Thread Safety
//
// Builder is NOT safe for concurrent use. A frozen Graph can be read from
// multiple goroutines.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen builder.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrVertexNotFound is returned when an edge references a non-existent vertex.
	ErrVertexNotFound = errors.New("vertex not found")

	// ErrDuplicateChild is returned when a vertex is attached to a second parent.
	ErrDuplicateChild = errors.New("vertex already has a parent")

	// ErrDuplicateClass is returned when two classes share a case-insensitive name.
	ErrDuplicateClass = errors.New("duplicate class name")

	// ErrDuplicateEdge is returned when a CFG edge is added twice.
	ErrDuplicateEdge = errors.New("duplicate CFG edge")

	// ErrInvalidLabel is returned when a vertex is added without a label.
	ErrInvalidLabel = errors.New("invalid vertex label")

	// ErrSnapshotNotFound is returned when a snapshot does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
