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
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/cache"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Parameter is one declared method parameter.
type Parameter struct {
	Name string
	Type string
}

// MethodDeclaration describes a resolved method or constructor.
type MethodDeclaration struct {
	// DefiningType is the class that declares the method.
	DefiningType string

	// Name is the method name; constructors use the front-end's name.
	Name string

	// ReturnType is the declared return type, "void" for none.
	ReturnType string

	// Params are the declared parameters in order.
	Params []Parameter

	Static      bool
	Constructor bool

	// Vertex is the backing Method vertex.
	Vertex *graph.Vertex
}

// Arity returns the number of parameters.
func (m *MethodDeclaration) Arity() int { return len(m.Params) }

// String renders "Type.name(P1, P2)".
func (m *MethodDeclaration) String() string {
	types := make([]string, len(m.Params))
	for i, p := range m.Params {
		types[i] = p.Type
	}
	name := m.Name
	if m.Constructor {
		name = "<init>"
	}
	return m.DefiningType + "." + name + "(" + strings.Join(types, ", ") + ")"
}

// Declaration reads a MethodDeclaration from a Method vertex.
func Declaration(g *graph.Graph, m *graph.Vertex) *MethodDeclaration {
	if m == nil || m.Label != graph.LabelMethod {
		return nil
	}
	decl := &MethodDeclaration{
		DefiningType: m.DefiningType(),
		Name:         m.Name(),
		ReturnType:   m.Str(graph.PropReturnType),
		Static:       m.Bool(graph.PropStatic),
		Constructor:  m.Bool(graph.PropConstructor),
		Vertex:       m,
	}
	for _, p := range g.ChildrenByLabel(m, graph.LabelParameter) {
		decl.Params = append(decl.Params, Parameter{Name: p.Name(), Type: p.Str(graph.PropType)})
	}
	// Parameters may be elided for synthesized methods; keep the declared arity.
	for len(decl.Params) < cache.Arity(g, m) {
		decl.Params = append(decl.Params, Parameter{Type: ObjectType})
	}
	return decl
}
