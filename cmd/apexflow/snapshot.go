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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apexflow/services/apexflow/graph"
)

func newSnapshotCmd(debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Store frozen graphs in a snapshot database",
	}
	cmd.AddCommand(newSnapshotSaveCmd(debug), newSnapshotListCmd(debug), newSnapshotDiffCmd(debug))
	return cmd
}

func newSnapshotSaveCmd(debug *bool) *cobra.Command {
	var file, db, label string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a serialized graph as the latest snapshot of its root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd.ErrOrStderr(), *debug)
			g, err := readGraphFile(file)
			if err != nil {
				return err
			}
			mgr, closeDB, err := openSnapshots(db, logger)
			if err != nil {
				return err
			}
			defer closeDB()
			meta, err := mgr.Save(cmd.Context(), g, label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (root %s, %d vertices, %d edges)\n",
				meta.SnapshotID, meta.Root, meta.VertexCount, meta.EdgeCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "graph", "", "Serialized graph JSON file")
	cmd.Flags().StringVar(&db, "db", "", "Snapshot database directory")
	cmd.Flags().StringVar(&label, "label", "", "Free-form label stored with the snapshot")
	_ = cmd.MarkFlagRequired("graph")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newSnapshotListCmd(debug *bool) *cobra.Command {
	var db, root string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots of a root, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := openSnapshots(db, newLogger(cmd.ErrOrStderr(), *debug))
			if err != nil {
				return err
			}
			defer closeDB()
			metas, err := mgr.List(cmd.Context(), root, limit)
			if err != nil {
				return err
			}
			for _, m := range metas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\n",
					m.SnapshotID, time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339), m.Label, m.VertexCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Snapshot database directory")
	cmd.Flags().StringVar(&root, "root", "", "Source set root")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum snapshots to list")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func newSnapshotDiffCmd(debug *bool) *cobra.Command {
	var db, root, base, target string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "List methods that changed between two snapshots",
		Long: `List methods that changed between two snapshots.

Without --target the latest snapshot of --root is compared against --base.
The output is JSON; methods_added and methods_modified are the methods whose
paths need to be recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mgr, closeDB, err := openSnapshots(db, newLogger(cmd.ErrOrStderr(), *debug))
			if err != nil {
				return err
			}
			defer closeDB()

			bg, bm, err := mgr.Load(ctx, base)
			if err != nil {
				return fmt.Errorf("loading base: %w", err)
			}
			var (
				tg *graph.Graph
				tm *graph.SnapshotMetadata
			)
			if target != "" {
				tg, tm, err = mgr.Load(ctx, target)
			} else {
				if root == "" {
					root = bm.Root
				}
				tg, tm, err = mgr.Latest(ctx, root)
			}
			if err != nil {
				return fmt.Errorf("loading target: %w", err)
			}

			diff, err := graph.DiffSnapshots(bg, tg, bm.SnapshotID, tm.SnapshotID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(diff)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Snapshot database directory")
	cmd.Flags().StringVar(&root, "root", "", "Source set root; defaults to the base snapshot's root")
	cmd.Flags().StringVar(&base, "base", "", "Base snapshot ID")
	cmd.Flags().StringVar(&target, "target", "", "Target snapshot ID; defaults to the latest")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}
