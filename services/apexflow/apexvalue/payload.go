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

// payload is the closed set of concrete value contents. Each variant clones
// itself; containers copy element slots, not elements.
type payload interface {
	clone(ctx context.Context) (payload, error)
	refs() []Ref
}

type stringPayload string

func (p stringPayload) clone(context.Context) (payload, error) { return p, nil }
func (stringPayload) refs() []Ref                              { return nil }

type integerPayload int64

func (p integerPayload) clone(context.Context) (payload, error) { return p, nil }
func (integerPayload) refs() []Ref                              { return nil }

// decimalPayload keeps the source text so concatenation reproduces it.
type decimalPayload struct {
	f    float64
	text string
}

func (p decimalPayload) clone(context.Context) (payload, error) { return p, nil }
func (decimalPayload) refs() []Ref                              { return nil }

type booleanPayload bool

func (p booleanPayload) clone(context.Context) (payload, error) { return p, nil }
func (booleanPayload) refs() []Ref                              { return nil }

// collectionPayload backs List and Set values.
type collectionPayload struct {
	items []Ref
}

func (p *collectionPayload) clone(ctx context.Context) (payload, error) {
	items, err := cloneRefs(ctx, p.items)
	if err != nil {
		return nil, err
	}
	return &collectionPayload{items: items}, nil
}

func (p *collectionPayload) refs() []Ref { return p.items }

// propertiesPayload backs Map and Object values.
type propertiesPayload struct {
	props *Properties
}

func (p *propertiesPayload) clone(ctx context.Context) (payload, error) {
	props, err := p.props.clone(ctx)
	if err != nil {
		return nil, err
	}
	return &propertiesPayload{props: props}, nil
}

func (p *propertiesPayload) refs() []Ref {
	out := make([]Ref, 0, 2*len(p.props.entries))
	for _, e := range p.props.entries {
		out = append(out, e.key, e.value)
	}
	return out
}

// forLoopPayload holds one value per iteration.
type forLoopPayload struct {
	items []Ref
}

func (p *forLoopPayload) clone(ctx context.Context) (payload, error) {
	items, err := cloneRefs(ctx, p.items)
	if err != nil {
		return nil, err
	}
	return &forLoopPayload{items: items}, nil
}

func (p *forLoopPayload) refs() []Ref { return p.items }

func cloneRefs(ctx context.Context, in []Ref) ([]Ref, error) {
	out := make([]Ref, 0, len(in))
	for _, r := range in {
		if err := failure.Check(ctx, "apexvalue.clone"); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func payloadEqual(a, b payload) bool {
	switch pa := a.(type) {
	case nil:
		return b == nil
	case stringPayload, integerPayload, booleanPayload, decimalPayload:
		return a == b
	case *collectionPayload:
		pb, ok := b.(*collectionPayload)
		return ok && refsEqual(pa.items, pb.items)
	case *forLoopPayload:
		pb, ok := b.(*forLoopPayload)
		return ok && refsEqual(pa.items, pb.items)
	case *propertiesPayload:
		pb, ok := b.(*propertiesPayload)
		return ok && refsEqual(pa.refs(), pb.refs())
	}
	return false
}

func refsEqual(a, b []Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
