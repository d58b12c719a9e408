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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

// graphSource selects where the graph comes from: a JSON file or the
// latest badger snapshot of a root.
type graphSource struct {
	file string
	db   string
	root string
}

func (s *graphSource) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.file, "graph", "", "Serialized graph JSON file")
	cmd.Flags().StringVar(&s.db, "db", "", "Snapshot database directory")
	cmd.Flags().StringVar(&s.root, "root", "", "Source set root of the snapshot to load (with --db)")
}

func newRootCmd() *cobra.Command {
	var (
		debug    bool
		trace    bool
		shutdown func(context.Context) error
	)
	root := &cobra.Command{
		Use:           "apexflow",
		Short:         "Path-sensitive control-flow analysis for Apex",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !trace {
				return nil
			}
			var err error
			shutdown, err = installTracer(cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug diagnostics to stderr")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "Write OpenTelemetry spans to stderr as JSON")
	root.AddCommand(newPathsCmd(&debug), newSnapshotCmd(&debug))
	return root
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func readGraphFile(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	var sg graph.SerializableGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		return nil, fmt.Errorf("parsing graph %s: %w", path, err)
	}
	return graph.FromSerializable(&sg)
}

func openSnapshots(dir string, logger *slog.Logger) (*graph.SnapshotManager, func(), error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	mgr, err := graph.NewSnapshotManager(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, func() { db.Close() }, nil
}

// load returns the graph and a release func for the backing store.
func (s *graphSource) load(ctx context.Context, logger *slog.Logger) (*graph.Graph, func(), error) {
	switch {
	case s.file != "" && s.db != "":
		return nil, nil, fmt.Errorf("--graph and --db are mutually exclusive")
	case s.file != "":
		g, err := readGraphFile(s.file)
		return g, func() {}, err
	case s.db != "":
		if s.root == "" {
			return nil, nil, fmt.Errorf("--root is required with --db")
		}
		mgr, closeDB, err := openSnapshots(s.db, logger)
		if err != nil {
			return nil, nil, err
		}
		g, _, err := mgr.Latest(ctx, s.root)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		return g, closeDB, nil
	}
	return nil, nil, fmt.Errorf("one of --graph or --db is required")
}
