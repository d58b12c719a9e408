// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package failure defines the error taxonomy shared by the apexflow engine.
//
// Every error that crosses a package boundary carries one of four kinds:
//
//   - Structural: internal-consistency violations (malformed CFG, ambiguous
//     overload rank, circular value reference). Analysis of the method aborts.
//   - Rejection: a single candidate path is excluded (collapser verdict,
//     determinate null dereference). Recorded next to accepted results.
//   - Cancelled: cooperative cancellation observed at a clone boundary or
//     context check. Distinguishable from Structural so callers can tell a
//     timeout apart from an analysis bug.
//   - Unimplemented: a construct the engine does not model. Depending on the
//     configured policy it is either surfaced or degraded to an indeterminate
//     value.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindStructural is an unrecoverable internal-consistency failure.
	KindStructural Kind = iota

	// KindRejection excludes one candidate path; siblings are unaffected.
	KindRejection

	// KindCancelled reports cooperative cancellation.
	KindCancelled

	// KindUnimplemented marks an unsupported construct.
	KindUnimplemented
)

// String returns the label-safe name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindRejection:
		return "rejection"
	case KindCancelled:
		return "cancelled"
	case KindUnimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// Sentinel errors. Each maps to exactly one Kind through KindOf.
var (
	// ErrMalformedCFG is returned when a CFG walk does not terminate or
	// references a vertex that is not in the graph.
	ErrMalformedCFG = errors.New("malformed control flow graph")

	// ErrAmbiguousOverload is returned when two overloads tie at the same rank.
	ErrAmbiguousOverload = errors.New("ambiguous overload")

	// ErrCircularReference is returned when a value would contain itself.
	ErrCircularReference = errors.New("circular value reference")

	// ErrUnresolvable is returned when a required sub-expression cannot be
	// evaluated at all (missing child, unknown vertex).
	ErrUnresolvable = errors.New("unresolvable expression")

	// ErrPolarityReassigned is returned when a path tries to assign a second
	// polarity to the same conditional vertex.
	ErrPolarityReassigned = errors.New("condition polarity already assigned")

	// ErrSharedMutation is returned when a value owned by a frozen heap
	// generation is mutated.
	ErrSharedMutation = errors.New("mutation of shared value")

	// ErrNullAccess is returned when a determinate null value is dereferenced.
	ErrNullAccess = errors.New("null value accessed")

	// ErrExcluded is returned by collapsers that reject a candidate path.
	ErrExcluded = errors.New("path excluded")

	// ErrInterrupted is returned when cancellation is observed.
	ErrInterrupted = errors.New("analysis interrupted")

	// ErrUnimplemented is returned for constructs the engine does not model.
	ErrUnimplemented = errors.New("not implemented")
)

// Error is a classified engine error.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Op names the operation that failed (e.g. "cfgpath.Enumerate").
	Op string

	// VertexID is the graph vertex involved, or 0 when not applicable.
	VertexID int64

	// Err is the wrapped cause; usually one of the sentinels.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.VertexID != 0 {
		return fmt.Sprintf("%s: vertex %d: %v", e.Op, e.VertexID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error. The kind is derived from err.
func New(op string, vertexID int64, err error) *Error {
	return &Error{Kind: KindOf(err), Op: op, VertexID: vertexID, Err: err}
}

// Newf builds a classified error wrapping sentinel with a formatted detail.
func Newf(op string, vertexID int64, sentinel error, format string, args ...any) *Error {
	return New(op, vertexID, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

// Interrupted converts a context error into a Cancelled failure.
// Returns nil when cause is nil.
func Interrupted(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindCancelled, Op: op, Err: fmt.Errorf("%w: %w", ErrInterrupted, cause)}
}

// Check polls ctx and returns a Cancelled failure when it is done.
func Check(ctx context.Context, op string) error {
	return Interrupted(op, ctx.Err())
}

// KindOf classifies err. Unknown errors are Structural.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrInterrupted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrNullAccess), errors.Is(err, ErrExcluded):
		return KindRejection
	case errors.Is(err, ErrUnimplemented):
		return KindUnimplemented
	default:
		return KindStructural
	}
}

// IsStructural reports whether err is an internal-consistency failure.
func IsStructural(err error) bool {
	return err != nil && KindOf(err) == KindStructural
}

// IsRejection reports whether err only rejects one candidate path.
func IsRejection(err error) bool {
	return err != nil && KindOf(err) == KindRejection
}

// IsCancelled reports whether err reports cooperative cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}

// IsUnimplemented reports whether err marks an unsupported construct.
func IsUnimplemented(err error) bool {
	return err != nil && KindOf(err) == KindUnimplemented
}
