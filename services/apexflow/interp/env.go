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
	"fmt"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// Policy decides what happens at a construct the interpreter does not
// model.
type Policy int

const (
	// Indeterminate degrades the construct to an indeterminate value.
	Indeterminate Policy = iota

	// Fail surfaces an Unimplemented failure.
	Fail
)

// String returns the policy name used in configuration.
func (p Policy) String() string {
	if p == Fail {
		return "fail"
	}
	return "indeterminate"
}

// ParsePolicy parses "fail" or "indeterminate" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "indeterminate":
		return Indeterminate, nil
	case "fail":
		return Fail, nil
	}
	return Indeterminate, fmt.Errorf("unknown unsupported-construct policy %q", s)
}

// CallResults maps an invocable vertex to the value its expanded callee
// produced. Constructors map to the constructed instance.
type CallResults map[graph.VertexID]*apexvalue.Value

// Env is the evaluation state of one path.
//
// Thread Safety: Not safe for concurrent use. Fork before handing a copy
// to another branch.
type Env struct {
	// Frame is the live scope.
	Frame *apexvalue.Frame

	// Calls holds return values of expanded call sites on this path.
	Calls CallResults

	// Policy applies to unsupported constructs.
	Policy Policy
}

// NewEnv creates an environment over frame.
func NewEnv(frame *apexvalue.Frame, policy Policy) *Env {
	return &Env{Frame: frame, Calls: make(CallResults), Policy: policy}
}

// Heap returns the heap generation of the frame.
func (e *Env) Heap() *apexvalue.Heap { return e.Frame.Heap() }

// Fork returns an independent copy on a new heap generation.
func (e *Env) Fork(ctx context.Context) (*Env, error) {
	f, err := e.Frame.Fork(ctx)
	if err != nil {
		return nil, err
	}
	return &Env{Frame: f, Calls: e.Calls.clone(), Policy: e.Policy}, nil
}

// Rebind returns a copy whose frame reads and writes h, a descendant
// generation produced while a callee ran.
func (e *Env) Rebind(ctx context.Context, h *apexvalue.Heap) (*Env, error) {
	if h == e.Heap() {
		return &Env{Frame: e.Frame, Calls: e.Calls.clone(), Policy: e.Policy}, nil
	}
	f, err := e.Frame.Rebind(ctx, h)
	if err != nil {
		return nil, err
	}
	return &Env{Frame: f, Calls: e.Calls.clone(), Policy: e.Policy}, nil
}

func (c CallResults) clone() CallResults {
	out := make(CallResults, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Outcome is the effect of executing one path vertex.
type Outcome struct {
	// Condition is the value of a StandardCondition.
	Condition *apexvalue.Value

	// Returned is set by a return statement; Value holds the result.
	Returned bool
	Value    *apexvalue.Value

	// Thrown is set by a throw statement.
	Thrown bool
}
