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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Method change types reported by DiffSnapshots.
const (
	ChangeSignature = "signature_changed"
	ChangeBody      = "body_changed"
	ChangeMoved     = "moved"
)

// SnapshotDiff lists the methods that differ between two graphs.
//
// Methods are matched by MethodKey because vertex IDs are not stable
// across builds. Consumers re-run path analysis only for the methods in
// MethodsAdded and MethodsModified.
type SnapshotDiff struct {
	// BaseSnapshotID is the ID of the base snapshot.
	BaseSnapshotID string `json:"base_snapshot_id"`

	// TargetSnapshotID is the ID of the target snapshot.
	TargetSnapshotID string `json:"target_snapshot_id"`

	// MethodsAdded are method keys present in target but not in base.
	MethodsAdded []string `json:"methods_added"`

	// MethodsRemoved are method keys present in base but not in target.
	MethodsRemoved []string `json:"methods_removed"`

	// MethodsModified are methods present in both with different content.
	MethodsModified []MethodDiff `json:"methods_modified"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// MethodDiff describes how a single method changed between snapshots.
type MethodDiff struct {
	// Key is the MethodKey of the method.
	Key string `json:"key"`

	// ChangeType is ChangeSignature, ChangeBody or ChangeMoved.
	ChangeType string `json:"change_type"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is added + removed + modified methods.
	TotalChanges int `json:"total_changes"`

	// ClassesAffected is the number of distinct classes with changed methods.
	ClassesAffected int `json:"classes_affected"`

	// ChangeRatio is the fraction of methods that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// MethodKey identifies a method across builds: lower-cased defining type,
// name and arity, e.g. "accountservice#sync/1".
func MethodKey(g *Graph, m *Vertex) string {
	arity := len(g.ChildrenByLabel(m, LabelParameter))
	if _, ok := m.Props[PropArity]; ok {
		arity = int(m.Int(PropArity))
	}
	owner := m.DefiningType()
	if owner == "" {
		if cls := g.Ancestor(m, LabelUserClass, LabelUserInterface); cls != nil {
			owner = cls.DefiningType()
		}
	}
	return fmt.Sprintf("%s#%s/%d", strings.ToLower(owner), strings.ToLower(m.Name()), arity)
}

// DiffSnapshots computes the method-level differences between two graphs.
//
// Description:
//
//	Every method of both graphs is keyed by MethodKey and compared by two
//	fingerprints of its subtree: the signature (return type, parameter
//	types, modifiers) and the body (labels, properties and intra-method
//	CFG edges, ignoring source positions). A method whose fingerprints
//	match but whose source position differs is reported as moved.
//
// Inputs:
//
//	base - The base graph for comparison. Must not be nil.
//	target - The target graph for comparison. Must not be nil.
//	baseSnapshotID - ID of the base snapshot (for labeling).
//	targetSnapshotID - ID of the target snapshot (for labeling).
//
// Outputs:
//
//	*SnapshotDiff - The computed differences, sorted by key.
//	error - Non-nil if either graph is nil.
//
// Complexity:
//
//	O(V + E) over both graphs.
//
// Thread Safety:
//
//	Safe for concurrent use on frozen graphs.
func DiffSnapshots(base, target *Graph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		MethodsAdded:     []string{},
		MethodsRemoved:   []string{},
		MethodsModified:  []MethodDiff{},
	}

	baseMethods := methodPrints(base)
	targetMethods := methodPrints(target)
	affected := make(map[string]bool)

	for key, t := range targetMethods {
		b, ok := baseMethods[key]
		if !ok {
			diff.MethodsAdded = append(diff.MethodsAdded, key)
			affected[classOf(key)] = true
			continue
		}
		if change := classifyChange(b, t); change != "" {
			diff.MethodsModified = append(diff.MethodsModified, MethodDiff{Key: key, ChangeType: change})
			affected[classOf(key)] = true
		}
	}
	for key := range baseMethods {
		if _, ok := targetMethods[key]; !ok {
			diff.MethodsRemoved = append(diff.MethodsRemoved, key)
			affected[classOf(key)] = true
		}
	}

	sort.Strings(diff.MethodsAdded)
	sort.Strings(diff.MethodsRemoved)
	sort.Slice(diff.MethodsModified, func(i, j int) bool {
		return diff.MethodsModified[i].Key < diff.MethodsModified[j].Key
	})

	total := max(len(baseMethods), len(targetMethods))
	changed := len(diff.MethodsAdded) + len(diff.MethodsRemoved) + len(diff.MethodsModified)
	diff.Summary = DiffSummary{
		TotalChanges:    changed,
		ClassesAffected: len(affected),
	}
	if total > 0 {
		diff.Summary.ChangeRatio = float64(changed) / float64(total)
	}
	return diff, nil
}

type methodPrint struct {
	signature string
	body      string
	line      int64
}

func methodPrints(g *Graph) map[string]methodPrint {
	out := make(map[string]methodPrint)
	for _, cls := range g.Classes() {
		for _, m := range g.ChildrenByLabel(cls, LabelMethod) {
			out[MethodKey(g, m)] = methodPrint{
				signature: signature(g, m),
				body:      bodyPrint(g, m),
				line:      m.Int(PropBeginLine),
			}
		}
	}
	return out
}

func classifyChange(base, target methodPrint) string {
	switch {
	case base.signature != target.signature:
		return ChangeSignature
	case base.body != target.body:
		return ChangeBody
	case base.line != target.line:
		return ChangeMoved
	}
	return ""
}

func signature(g *Graph, m *Vertex) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%t|%t|", strings.ToLower(m.Str(PropReturnType)), m.Bool(PropStatic), m.Bool(PropConstructor))
	for _, p := range g.ChildrenByLabel(m, LabelParameter) {
		sb.WriteString(strings.ToLower(p.Str(PropType)))
		sb.WriteByte(',')
	}
	return sb.String()
}

// bodyPrint hashes the method subtree in pre-order. CFG targets are encoded
// by their pre-order index so the print does not depend on vertex IDs.
func bodyPrint(g *Graph, m *Vertex) string {
	var order []*Vertex
	index := make(map[VertexID]int)
	var walk func(*Vertex)
	walk = func(v *Vertex) {
		index[v.ID] = len(order)
		order = append(order, v)
		for _, c := range g.Children(v) {
			walk(c)
		}
	}
	walk(m)

	h := sha256.New()
	for _, v := range order {
		fmt.Fprintf(h, "%s:", v.Label)
		keys := make([]string, 0, len(v.Props))
		for k := range v.Props {
			if k == PropBeginLine || k == PropFileName {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v;", k, v.Props[k])
		}
		for _, to := range g.CFGOut(v) {
			if i, ok := index[to.ID]; ok {
				fmt.Fprintf(h, "cfg:%d;", i)
			} else {
				h.Write([]byte("cfg:out;"))
			}
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func classOf(key string) string {
	cls, _, _ := strings.Cut(key, "#")
	return cls
}
