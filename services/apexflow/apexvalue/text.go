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
	"strconv"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/failure"
)

// ConcatText returns the text an operand contributes to a string
// concatenation.
//
// Outputs:
//
//	text, true when the operand is determinate. A determinate null string,
//	untyped null literal or null Object contributes "null". ok is false for
//	indeterminate or uninitialized operands and for containers.
//
// Errors:
//
//	Rejection wrapping ErrNullAccess when the operand is a determinate null
//	of a known non-string type.
func ConcatText(v *Value) (string, bool, error) {
	if v == nil || !v.IsDeterminate() {
		return "", false, nil
	}
	if v.null {
		if v.kind == KindString || untyped(v) {
			return "null", true, nil
		}
		return "", false, failure.Newf("apexvalue.ConcatText", vertexOf(v), failure.ErrNullAccess,
			"%s is null", DisplayName(v))
	}
	switch p := v.payload.(type) {
	case stringPayload:
		return string(p), true, nil
	case integerPayload:
		return strconv.FormatInt(int64(p), 10), true, nil
	case decimalPayload:
		return p.text, true, nil
	case booleanPayload:
		return strconv.FormatBool(bool(p)), true, nil
	}
	return "", false, nil
}

// untyped reports whether v has no static type narrower than Object.
func untyped(v *Value) bool {
	t := strings.ToLower(strings.TrimSpace(v.typ))
	return t == "" || t == "object" || t == "system.object"
}

// Flatten returns the per-iteration values of a for-loop value. Any other
// value flattens to itself.
func (h *Heap) Flatten(v *Value) []*Value {
	if v == nil {
		return nil
	}
	if v.kind != KindForLoop {
		return []*Value{v}
	}
	return h.Items(v)
}

// DisplayText joins the concatenation text of every iteration of a for-loop
// value with ", ". Iterations without text render as their display name.
func (h *Heap) DisplayText(v *Value) string {
	items := h.Flatten(v)
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok, err := ConcatText(it); err == nil && ok {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, DisplayName(it))
	}
	return strings.Join(parts, ", ")
}
