// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apexflow/services/apexflow"
	"github.com/AleutianAI/apexflow/services/apexflow/cfgpath"
	"github.com/AleutianAI/apexflow/services/apexflow/config"
	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

type pathsOptions struct {
	src        graphSource
	class      string
	method     string
	arity      int
	expand     bool
	configPath string
	format     string
}

func newPathsCmd(debug *bool) *cobra.Command {
	o := &pathsOptions{}
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "List the control-flow paths of a method",
		Long: `List the control-flow paths of a method.

Without --expand the paths stay inside the method. With --expand every
call to a user-defined method is spliced in and the configured collapsers
prune infeasible combinations. Rejected candidates are listed with their
reason.

Examples:
  apexflow paths --graph graph.json --class Foo --method run --arity 2
  apexflow paths --graph graph.json --class Foo --method run --arity 2 --expand --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPaths(cmd, o, *debug)
		},
	}
	o.src.bind(cmd)
	cmd.Flags().StringVar(&o.class, "class", "", "Class that declares the method")
	cmd.Flags().StringVar(&o.method, "method", "", "Method name")
	cmd.Flags().IntVar(&o.arity, "arity", 0, "Number of parameters")
	cmd.Flags().BoolVar(&o.expand, "expand", false, "Expand calls to user-defined methods")
	cmd.Flags().StringVar(&o.configPath, "config", config.FileName, "Engine config file; missing means defaults")
	cmd.Flags().StringVar(&o.format, "format", "human", "Output format (human, json)")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func runPaths(cmd *cobra.Command, o *pathsOptions, debug bool) error {
	if o.format != "human" && o.format != "json" {
		return fmt.Errorf("unknown format %q", o.format)
	}
	ctx := cmd.Context()
	logger := newLogger(cmd.ErrOrStderr(), debug)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	g, release, err := o.src.load(ctx, logger)
	if err != nil {
		return err
	}
	defer release()

	e, err := apexflow.New(g, apexflow.WithLogger(logger), apexflow.WithConfig(cfg))
	if err != nil {
		return err
	}
	m, err := e.Method(ctx, o.class, o.method, o.arity)
	if err != nil {
		return err
	}
	var res *cfgpath.Result
	if o.expand {
		res, err = e.ExpandedPaths(ctx, m)
	} else {
		res, err = e.MethodPaths(ctx, o.class, o.method, o.arity)
	}
	if err != nil {
		return err
	}

	rep := newReport(e.RunID(), o.class+"."+o.method, res)
	if o.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	rep.writeHuman(cmd.OutOrStdout())
	return nil
}

type report struct {
	RunID    string         `json:"run_id"`
	Method   string         `json:"method"`
	Accepted []pathReport   `json:"accepted"`
	Rejected []rejectReport `json:"rejected"`
}

type pathReport struct {
	Vertices        []graph.VertexID  `json:"vertices"`
	Conditions      map[string]string `json:"conditions,omitempty"`
	Expansions      int               `json:"expansions"`
	EndsInException bool              `json:"ends_in_exception,omitempty"`
	Text            string            `json:"text"`
}

type rejectReport struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	VertexID  graph.VertexID `json:"vertex_id,omitempty"`
	Collapser string         `json:"collapser,omitempty"`
}

func newReport(runID, method string, res *cfgpath.Result) report {
	rep := report{
		RunID:    runID,
		Method:   method,
		Accepted: make([]pathReport, 0, len(res.Accepted)),
		Rejected: make([]rejectReport, 0, len(res.Rejected)),
	}
	for _, p := range res.Accepted {
		pr := pathReport{
			Expansions:      len(p.Expansions()),
			EndsInException: p.EndsInException,
			Text:            p.String(),
		}
		for _, v := range p.Flatten() {
			pr.Vertices = append(pr.Vertices, v.ID)
		}
		if conds := p.Conditions(); len(conds) > 0 {
			pr.Conditions = make(map[string]string, len(conds))
			for _, c := range conds {
				pr.Conditions[fmt.Sprint(c)] = p.Polarity(c).String()
			}
		}
		rep.Accepted = append(rep.Accepted, pr)
	}
	for _, r := range res.Rejected {
		rep.Rejected = append(rep.Rejected, rejectReport{
			Kind:      string(r.Kind),
			Message:   r.Message,
			VertexID:  r.VertexID,
			Collapser: r.Collapser,
		})
	}
	return rep
}

func (r report) writeHuman(w io.Writer) {
	fmt.Fprintf(w, "%s: %d accepted, %d rejected\n", r.Method, len(r.Accepted), len(r.Rejected))
	for i, p := range r.Accepted {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, p.Text)
	}
	for _, rj := range r.Rejected {
		if rj.Collapser != "" {
			fmt.Fprintf(w, "  rejected %s by %s at %d: %s\n", rj.Kind, rj.Collapser, rj.VertexID, rj.Message)
			continue
		}
		fmt.Fprintf(w, "  rejected %s at %d: %s\n", rj.Kind, rj.VertexID, rj.Message)
	}
}
