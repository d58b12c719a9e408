// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

func TestBooleanConditionExcluder(t *testing.T) {
	frame := apexvalue.NewFrame(apexvalue.NewHeap(), "Foo")
	yes, err := apexvalue.NewBuilder(frame).Boolean(true)
	require.NoError(t, err)
	open, err := apexvalue.NewBuilder(frame).Type("Boolean").Indeterminate()
	require.NoError(t, err)

	tests := []struct {
		name     string
		strict   bool
		value    *apexvalue.Value
		polarity cfgpath.Polarity
		excluded bool
	}{
		{"true taken", false, yes, cfgpath.Positive, false},
		{"true not taken", false, yes, cfgpath.Negative, true},
		{"open condition", false, open, cfgpath.Negative, false},
		{"open condition strict", true, open, cfgpath.Positive, true},
		{"path ends at condition", true, open, cfgpath.Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := BooleanConditionExcluder{Strict: tt.strict}.CollapseCondition(context.Background(),
				Condition{Vertex: &graph.Vertex{ID: 1}, Value: tt.value, Polarity: tt.polarity})
			require.NoError(t, err)
			assert.Equal(t, tt.excluded, msg != "", msg)
		})
	}
}

func TestReturnValueCollapser(t *testing.T) {
	frame := apexvalue.NewFrame(apexvalue.NewHeap(), "Foo")
	str := func(s string) *apexvalue.Value {
		v, err := apexvalue.NewBuilder(frame).String(s)
		require.NoError(t, err)
		return v
	}
	open, err := apexvalue.NewBuilder(frame).Type("String").Indeterminate()
	require.NoError(t, err)

	cands := []CallCandidate{
		{Return: str("a")},
		{Return: str("a")},
		{Return: str("b")},
		{Return: open},
		{Return: open},
		{Thrown: true},
		{Return: str("a")},
	}
	keep, err := ReturnValueCollapser{}.CollapseCall(context.Background(), nil, nil, cands)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 4, 5}, keep)
}

func TestDuplicatePathCollapser(t *testing.T) {
	m := &graph.Vertex{ID: 1, Label: graph.LabelMethod}
	block := &graph.Vertex{ID: 2, Label: graph.LabelBlockStatement}
	cond := &graph.Vertex{ID: 3, Label: graph.LabelStandardCondition}
	stmt := &graph.Vertex{ID: 4, Label: graph.LabelExpressionStatement}
	mk := func(pol cfgpath.Polarity) *cfgpath.Path {
		p := &cfgpath.Path{Method: m, Vertices: []*graph.Vertex{block, cond, stmt}}
		require.NoError(t, p.SetPolarity(cond.ID, pol))
		return p
	}
	callee := &cfgpath.Path{Method: m, Vertices: []*graph.Vertex{{ID: 9, Label: graph.LabelBlockStatement}}}
	expanded := mk(cfgpath.Positive).WithExpansion(cfgpath.Expansion{Statement: stmt, CallSite: &graph.Vertex{ID: 5}, Path: callee})

	paths := []*cfgpath.Path{mk(cfgpath.Positive), mk(cfgpath.Positive), mk(cfgpath.Negative), expanded, expanded.Clone()}
	keep, err := DuplicatePathCollapser{}.CollapsePaths(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, keep)

	a, err := Fingerprint(paths[0])
	require.NoError(t, err)
	b, err := Fingerprint(paths[2])
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "polarity is part of the fingerprint")
}

func TestNewCollapser(t *testing.T) {
	for _, name := range []string{BooleanConditionName, NullConstrainerName, ReturnValueName, DuplicatePathName} {
		c, err := NewCollapser(name, false)
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	c, err := NewCollapser(" Boolean_Condition ", true)
	require.NoError(t, err)
	assert.Equal(t, BooleanConditionExcluder{Strict: true}, c)

	_, err = NewCollapser("nope", false)
	assert.Error(t, err)
}
