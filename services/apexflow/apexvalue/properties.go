// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apexvalue

import (
	"context"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
)

// Properties is the ordered key/value store behind map and object values.
//
// Keys are matched in two ways. Determinate keys match by payload, so two
// separately built "Name" strings address the same entry. Indeterminate keys
// match by identity: the same heap slot, or values produced by the same
// vertex.
type Properties struct {
	entries []propEntry
}

type propEntry struct {
	key   Ref
	value Ref
}

// Property is a resolved key/value pair.
type Property struct {
	Key   *Value
	Value *Value
}

func (p *Properties) clone(ctx context.Context) (*Properties, error) {
	out := &Properties{entries: make([]propEntry, 0, len(p.entries))}
	for _, e := range p.entries {
		if err := failure.Check(ctx, "apexvalue.clone"); err != nil {
			return nil, err
		}
		out.entries = append(out.entries, e)
	}
	return out, nil
}

// find returns the entry index matching key, or -1.
func (p *Properties) find(h *Heap, key *Value) int {
	for i, e := range p.entries {
		if keysMatch(h.Load(e.key), key) {
			return i
		}
	}
	return -1
}

func keysMatch(stored, key *Value) bool {
	if stored == nil || key == nil {
		return false
	}
	if stored.ref != 0 && stored.ref == key.ref {
		return true
	}
	if stored.IsDeterminate() && key.IsDeterminate() {
		return SamePayload(stored, key)
	}
	if stored.IsDeterminate() || key.IsDeterminate() {
		return false
	}
	return stored.origin != nil && key.origin != nil && stored.origin.ID == key.origin.ID
}
