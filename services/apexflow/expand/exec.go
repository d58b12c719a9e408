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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AleutianAI/apexflow/services/apexflow/apexvalue"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/failure"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
	"github.com/AleutianAI/apexflow/services/apexflow/resolve"
)

// state is one in-flight candidate.
type state struct {
	phase State
	path  *cfgpath.Path
	env   *interp.Env

	// ret is the returned value once a return statement ran.
	ret *apexvalue.Value

	// thrown is set when the candidate ended in an exception, its own or a
	// callee's.
	thrown bool
}

func (s *state) done() bool { return s.phase != Pending }

// execution is the state of one Expand or Walk call.
type execution struct {
	e   *Expander
	cfg Config

	// replay follows the expansions recorded on the path instead of
	// enumerating callee paths, and never applies collapsers.
	replay  bool
	visitor Visitor

	result *cfgpath.Result
	active map[graph.VertexID]int
	noted  map[string]bool
}

func newExecution(e *Expander, cfg Config) *execution {
	return &execution{
		e:      e,
		cfg:    cfg,
		result: &cfgpath.Result{},
		active: make(map[graph.VertexID]int),
		noted:  make(map[string]bool),
	}
}

// run executes p in env and returns the candidates that reached its end.
// Rejected candidates are recorded in x.result.
func (x *execution) run(ctx context.Context, p *cfgpath.Path, env *interp.Env, depth int) ([]*state, error) {
	states := []*state{{path: p, env: env}}
	for i, v := range p.Vertices {
		if err := failure.Check(ctx, "expand.run"); err != nil {
			return nil, err
		}
		var next []*state
		for _, s := range states {
			if s.done() {
				next = append(next, s)
				continue
			}
			out, err := x.step(ctx, p, s, i, v, depth)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		states = next
	}
	for _, s := range states {
		s.phase = Expanded
	}
	return states, nil
}

// step expands the call sites of v and then executes v for s.
func (x *execution) step(ctx context.Context, p *cfgpath.Path, s *state, i int, v *graph.Vertex, depth int) ([]*state, error) {
	cur := []*state{s}
	for _, site := range x.e.in.Invocables(v) {
		var next []*state
		for _, c := range cur {
			if c.done() {
				next = append(next, c)
				continue
			}
			out, err := x.call(ctx, c, i, v, site, depth)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		cur = next
	}

	out := make([]*state, 0, len(cur))
	for _, c := range cur {
		if c.done() {
			out = append(out, c)
			continue
		}
		o, err := x.e.in.Exec(ctx, v, c.env)
		if err != nil {
			if x.reject(c.path, v, err) {
				continue
			}
			return nil, err
		}
		if v.Label == graph.LabelStandardCondition && !x.replay {
			ok, err := x.condition(ctx, c, v, o.Condition)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		switch {
		case o.Returned:
			c.phase, c.ret = Expanded, o.Value
		case o.Thrown:
			c.phase, c.thrown = Expanded, true
		}
		if x.visitor != nil {
			scope := &Scope{Method: p.Method, Path: p, Depth: depth, env: c.env}
			if err := x.visitor.Visit(ctx, v, scope); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// outcome is one finished callee candidate together with the forked caller
// environment it ran from.
type outcome struct {
	caller *interp.Env
	end    *state
}

// call expands one call site for s. The returned states replace s.
func (x *execution) call(ctx context.Context, s *state, i int, v, site *graph.Vertex, depth int) ([]*state, error) {
	if !x.replay && !x.cfg.ExpandCalls {
		return []*state{s}, nil
	}
	decl, err := x.e.r.Resolve(ctx, site, s.env.Frame)
	if err != nil {
		return nil, err
	}
	if decl == nil || decl.Vertex == nil {
		return []*state{s}, nil
	}

	var paths []*cfgpath.Path
	if x.replay {
		cp, ok := s.path.Expansion(site.ID)
		if !ok {
			return []*state{s}, nil
		}
		paths = []*cfgpath.Path{cp}
	} else {
		switch {
		case x.cfg.MaxDepth > 0 && depth >= x.cfg.MaxDepth:
			x.note(site, fmt.Sprintf("call of %s left unexpanded at depth %d", decl, depth))
			return []*state{s}, nil
		case x.active[decl.Vertex.ID] > 0:
			x.note(site, fmt.Sprintf("recursive call of %s left unexpanded", decl))
			return []*state{s}, nil
		}
		if paths, err = x.calleePaths(ctx, decl.Vertex); err != nil {
			return nil, err
		}
	}

	recv, args, err := x.e.in.CallArgs(ctx, site, s.env)
	if err != nil {
		if x.reject(s.path, site, err) {
			return nil, nil
		}
		return nil, err
	}
	this, err := x.receiver(ctx, s, site, decl, recv)
	if err != nil {
		return nil, err
	}

	x.active[decl.Vertex.ID]++
	var outcomes []outcome
	for _, cp := range paths {
		forked, err := s.env.Fork(ctx)
		if err != nil {
			x.active[decl.Vertex.ID]--
			return nil, err
		}
		callee, err := x.e.in.CalleeEnv(ctx, forked, decl, this, args)
		if err != nil {
			x.active[decl.Vertex.ID]--
			return nil, err
		}
		ends, err := x.run(ctx, cp, callee, depth+1)
		if err != nil {
			x.active[decl.Vertex.ID]--
			return nil, err
		}
		for _, end := range ends {
			outcomes = append(outcomes, outcome{caller: forked, end: end})
		}
	}
	x.active[decl.Vertex.ID]--

	if !x.replay {
		if outcomes, err = x.collapseCall(ctx, site, decl, outcomes); err != nil {
			return nil, err
		}
	}

	out := make([]*state, 0, len(outcomes))
	for _, o := range outcomes {
		env, err := o.caller.Rebind(ctx, o.end.env.Heap())
		if err != nil {
			return nil, err
		}
		next := &state{
			path: s.path.WithExpansion(cfgpath.Expansion{Statement: v, CallSite: site, Path: o.end.path}),
			env:  env,
		}
		if o.end.thrown {
			next.path = next.path.Truncate(i + 1)
			next.path.EndsInException = true
			next.path.ThrowVertex = o.end.path.ThrowVertex
			next.phase, next.thrown = Expanded, true
		} else {
			ret, err := x.returnValue(env, site, decl, this, o.end.ret)
			if err != nil {
				return nil, err
			}
			env.Calls[site.ID] = ret
		}
		if !x.replay {
			expandedCallsTotal.Inc()
		}
		out = append(out, next)
	}
	return out, nil
}

// calleePaths enumerates the paths of a resolved method through the cache.
// Enumeration rejections are reported once per method.
func (x *execution) calleePaths(ctx context.Context, m *graph.Vertex) ([]*cfgpath.Path, error) {
	res, err := x.e.MethodPaths(ctx, m, x.cfg.MaxPaths)
	if err != nil {
		return nil, err
	}
	for _, r := range res.Rejected {
		k := "enum/" + strconv.FormatInt(int64(m.ID), 10) + "/" + string(r.Kind)
		if !x.noted[k] {
			x.noted[k] = true
			x.result.Rejected = append(x.result.Rejected, r)
		}
	}
	return res.Accepted, nil
}

// receiver picks the value bound to this in the callee.
func (x *execution) receiver(ctx context.Context, s *state, site *graph.Vertex, decl *resolve.MethodDeclaration, recv *apexvalue.Value) (*apexvalue.Value, error) {
	switch {
	case decl.Static:
		return nil, nil
	case site.Label == graph.LabelNewObjectExpression:
		return x.e.in.NewInstance(ctx, decl.DefiningType, site, s.env, true)
	case recv != nil:
		return recv, nil
	}
	this, _ := s.env.Frame.This()
	return this, nil
}

// returnValue is the value the call site evaluates to in the caller.
func (x *execution) returnValue(env *interp.Env, site *graph.Vertex, decl *resolve.MethodDeclaration, this, ret *apexvalue.Value) (*apexvalue.Value, error) {
	if decl.Constructor && this != nil {
		return env.Heap().Current(this), nil
	}
	if ret != nil {
		return ret, nil
	}
	b := apexvalue.NewBuilder(env.Frame).Origin(site).ReturnedFrom(nil, site)
	if decl.ReturnType == "" || strings.EqualFold(decl.ReturnType, "void") {
		return b.Generic()
	}
	return b.Type(decl.ReturnType).Indeterminate()
}

// condition applies the condition collapsers. It reports false when the
// candidate was excluded.
func (x *execution) condition(ctx context.Context, s *state, v *graph.Vertex, val *apexvalue.Value) (bool, error) {
	c := Condition{Vertex: v, Value: val, Polarity: s.path.Polarity(v.ID), Graph: x.e.g, Env: s.env}
	for _, col := range x.cfg.Collapsers {
		cc, ok := col.(ConditionCollapser)
		if !ok {
			continue
		}
		msg, err := cc.CollapseCondition(ctx, c)
		if err != nil {
			if x.reject(s.path, v, err) {
				return false, nil
			}
			return false, err
		}
		if msg != "" {
			x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
				Kind:      cfgpath.RejectExcluded,
				Message:   msg,
				VertexID:  v.ID,
				Collapser: cc.Name(),
				Path:      s.path,
			})
			return false, nil
		}
	}
	return true, nil
}

// collapseCall applies the call collapsers to the outcomes of one site.
func (x *execution) collapseCall(ctx context.Context, site *graph.Vertex, decl *resolve.MethodDeclaration, outcomes []outcome) ([]outcome, error) {
	for _, col := range x.cfg.Collapsers {
		cc, ok := col.(CallCollapser)
		if !ok || len(outcomes) < 2 {
			continue
		}
		cands := make([]CallCandidate, len(outcomes))
		for i, o := range outcomes {
			cands[i] = CallCandidate{Path: o.end.path, Return: o.end.ret, Thrown: o.end.thrown, Heap: o.end.env.Heap()}
		}
		keep, err := cc.CollapseCall(ctx, site, decl, cands)
		if err != nil {
			return nil, err
		}
		kept := make(map[int]bool, len(keep))
		for _, i := range keep {
			kept[i] = true
		}
		var next []outcome
		for i, o := range outcomes {
			if kept[i] {
				next = append(next, o)
				continue
			}
			x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
				Kind:      cfgpath.RejectCollapsed,
				Message:   fmt.Sprintf("outcome of %s merged into an equivalent one", decl),
				VertexID:  site.ID,
				Collapser: cc.Name(),
				Path:      o.end.path,
			})
		}
		outcomes = next
	}
	return outcomes, nil
}

// reject records err against p when it is a recoverable rejection. During
// a replay nothing is recoverable.
func (x *execution) reject(p *cfgpath.Path, v *graph.Vertex, err error) bool {
	if x.replay || !failure.IsRejection(err) {
		return false
	}
	kind := cfgpath.RejectExcluded
	if errors.Is(err, failure.ErrNullAccess) {
		kind = cfgpath.RejectNullAccess
	}
	x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
		Kind:     kind,
		Message:  err.Error(),
		VertexID: v.ID,
		Path:     p,
	})
	x.e.opts.Logger.Debug("candidate rejected",
		slog.String("kind", string(kind)),
		slog.String("vertex", v.String()),
	)
	return true
}

// note records a call left unexpanded, once per call site.
func (x *execution) note(site *graph.Vertex, msg string) {
	k := "depth/" + strconv.FormatInt(int64(site.ID), 10)
	if x.noted[k] {
		return
	}
	x.noted[k] = true
	x.result.Rejected = append(x.result.Rejected, cfgpath.Rejection{
		Kind:     cfgpath.RejectDepthLimit,
		Message:  msg,
		VertexID: site.ID,
	})
}
