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
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/minio/highwayhash"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// Collapser names.
const (
	BooleanConditionName = "boolean_condition"
	NullConstrainerName  = "null_constrainer"
	ReturnValueName      = "return_value"
	DuplicatePathName    = "duplicate_path"
)

// Collapser is a pruning policy. A collapser implements one or more of
// ConditionCollapser, CallCollapser and PathCollapser.
type Collapser interface {
	// Name identifies the collapser in rejections and configuration.
	Name() string
}

// Condition is a condition reached by a candidate.
type Condition struct {
	// Vertex is the StandardCondition.
	Vertex *graph.Vertex

	// Value is what the condition evaluated to.
	Value *apexvalue.Value

	// Polarity is the branch the candidate takes.
	Polarity cfgpath.Polarity

	// Graph holds the condition's expression tree.
	Graph *graph.Graph

	// Env is the candidate's live environment. Collapsers may record
	// constraints in it.
	Env *interp.Env
}

// ConditionCollapser inspects each condition. A non-empty message excludes
// the candidate.
type ConditionCollapser interface {
	Collapser
	CollapseCondition(ctx context.Context, c Condition) (string, error)
}

// CallCandidate is one finished callee outcome at a call site.
type CallCandidate struct {
	Path   *cfgpath.Path
	Return *apexvalue.Value
	Thrown bool
	Heap   *apexvalue.Heap
}

// CallCollapser merges callee outcomes of one call site. It returns the
// indexes to keep; the rest are rejected as collapsed.
type CallCollapser interface {
	Collapser
	CollapseCall(ctx context.Context, site *graph.Vertex, decl *resolve.MethodDeclaration, cands []CallCandidate) ([]int, error)
}

// PathCollapser prunes completed candidates. It returns the indexes to keep.
type PathCollapser interface {
	Collapser
	CollapsePaths(ctx context.Context, paths []*cfgpath.Path) ([]int, error)
}

// NewCollapser returns the collapser registered under name. strict only
// affects the boolean condition excluder.
func NewCollapser(name string, strict bool) (Collapser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BooleanConditionName:
		return BooleanConditionExcluder{Strict: strict}, nil
	case NullConstrainerName:
		return NullConstrainer{}, nil
	case ReturnValueName:
		return ReturnValueCollapser{}, nil
	case DuplicatePathName:
		return DuplicatePathCollapser{}, nil
	}
	return nil, fmt.Errorf("unknown collapser %q", name)
}

// BooleanConditionExcluder excludes candidates whose determinate condition
// contradicts the branch they take. In strict mode it also excludes
// candidates whose condition is indeterminate.
type BooleanConditionExcluder struct {
	Strict bool
}

// Name implements Collapser.
func (BooleanConditionExcluder) Name() string { return BooleanConditionName }

// CollapseCondition implements ConditionCollapser.
func (b BooleanConditionExcluder) CollapseCondition(_ context.Context, c Condition) (string, error) {
	if c.Polarity == cfgpath.Unknown || c.Value == nil {
		return "", nil
	}
	if val, ok := c.Value.Bool(); ok {
		if val != (c.Polarity == cfgpath.Positive) {
			return fmt.Sprintf("condition is always %t", val), nil
		}
		return "", nil
	}
	if b.Strict && !c.Value.IsDeterminate() {
		return "condition is indeterminate", nil
	}
	return "", nil
}

// NullConstrainer handles `x == null` and `x != null` conditions. On a
// determinate x it excludes the branch the value contradicts; otherwise it
// records the Null or NotNull constraint the branch implies.
type NullConstrainer struct{}

// Name implements Collapser.
func (NullConstrainer) Name() string { return NullConstrainerName }

// CollapseCondition implements ConditionCollapser.
func (NullConstrainer) CollapseCondition(ctx context.Context, c Condition) (string, error) {
	if c.Polarity == cfgpath.Unknown || c.Graph == nil || c.Env == nil {
		return "", nil
	}
	g := c.Graph
	positive := c.Polarity == cfgpath.Positive
	expr := g.Child(c.Vertex, 0)
	for expr != nil && expr.Label == graph.LabelPrefixExpression && expr.Str(graph.PropOperator) == "!" {
		expr = g.Child(expr, 0)
		positive = !positive
	}
	if expr == nil || expr.Label != graph.LabelBooleanExpression {
		return "", nil
	}
	op := expr.Str(graph.PropOperator)
	if op != "==" && op != "!=" {
		return "", nil
	}
	l, r := g.Child(expr, 0), g.Child(expr, 1)
	operand := l
	switch {
	case isNullLiteral(l):
		operand = r
	case !isNullLiteral(r):
		return "", nil
	}
	name := simpleName(g, operand)
	if name == "" {
		return "", nil
	}
	val, ok := c.Env.Frame.Lookup(name)
	if !ok || val == nil {
		return "", nil
	}

	isNull := (op == "==") == positive
	if val.IsDeterminate() {
		if val.IsNull() != isNull {
			return fmt.Sprintf("%s is %s on this branch", name, nullness(val.IsNull())), nil
		}
		return "", nil
	}
	want, other := apexvalue.NotNull, apexvalue.Null
	if isNull {
		want, other = apexvalue.Null, apexvalue.NotNull
	}
	if val.Constraints().Has(other) {
		return fmt.Sprintf("%s is %s on this branch", name, nullness(!isNull)), nil
	}
	if val.Ref() == 0 {
		return "", nil
	}
	_, err := c.Env.Heap().Constrain(ctx, val, want)
	return "", err
}

// ReturnValueCollapser keeps one callee outcome per distinct determinate
// return value. Outcomes that throw or return an indeterminate value are
// all kept.
type ReturnValueCollapser struct{}

// Name implements Collapser.
func (ReturnValueCollapser) Name() string { return ReturnValueName }

// CollapseCall implements CallCollapser.
func (ReturnValueCollapser) CollapseCall(_ context.Context, _ *graph.Vertex, _ *resolve.MethodDeclaration, cands []CallCandidate) ([]int, error) {
	keep := make([]int, 0, len(cands))
	var seen []*apexvalue.Value
	for i, c := range cands {
		if c.Thrown || c.Return == nil || !c.Return.IsDeterminate() {
			keep = append(keep, i)
			continue
		}
		dup := false
		for _, s := range seen {
			if apexvalue.SamePayload(s, c.Return) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, c.Return)
			keep = append(keep, i)
		}
	}
	return keep, nil
}

// DuplicatePathCollapser keeps the first of candidates that visit the same
// vertices, callee vertices included, with the same polarities.
type DuplicatePathCollapser struct{}

// Name implements Collapser.
func (DuplicatePathCollapser) Name() string { return DuplicatePathName }

// CollapsePaths implements PathCollapser.
func (DuplicatePathCollapser) CollapsePaths(_ context.Context, paths []*cfgpath.Path) ([]int, error) {
	seen := make(map[uint64]bool, len(paths))
	keep := make([]int, 0, len(paths))
	for i, p := range paths {
		fp, err := Fingerprint(p)
		if err != nil {
			return nil, err
		}
		if seen[fp] {
			continue
		}
		seen[fp] = true
		keep = append(keep, i)
	}
	return keep, nil
}

var fingerprintKey = []byte("apexflow.path.fingerprint.v1.key")

// Fingerprint hashes the flattened vertices and polarities of p.
func Fingerprint(p *cfgpath.Path) (uint64, error) {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(appendPath(nil, p)); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func appendPath(buf []byte, p *cfgpath.Path) []byte {
	exps := p.Expansions()
	for _, v := range p.Vertices {
		for _, e := range exps {
			if e.Statement != nil && e.Statement.ID == v.ID {
				buf = append(buf, '(')
				buf = appendPath(buf, e.Path)
				buf = append(buf, ')')
			}
		}
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.ID))
		buf = append(buf, byte(p.Polarity(v.ID)))
	}
	if p.EndsInException {
		buf = append(buf, '!')
	}
	return buf
}

func isNullLiteral(v *graph.Vertex) bool {
	return v != nil && v.Label == graph.LabelLiteralExpression && v.Str(graph.PropLiteralType) == graph.LiteralNull
}

// simpleName returns the variable a bare name expression reads, or "".
func simpleName(g *graph.Graph, v *graph.Vertex) string {
	switch {
	case v == nil:
		return ""
	case v.Label == graph.LabelVariableExpression && len(g.Children(v)) == 0:
		return v.Name()
	case v.Label == graph.LabelReferenceExpression && !strings.Contains(v.Str(graph.PropNames), "."):
		return v.Str(graph.PropNames)
	}
	return ""
}

func nullness(null bool) string {
	if null {
		return "null"
	}
	return "not null"
}
