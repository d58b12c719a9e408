// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command apexflow enumerates and expands control-flow paths of Apex
// methods from a frozen code graph.
//
// Usage:
//
//	apexflow paths --graph graph.json --class AccountService --method sync --arity 1
//	apexflow paths --graph graph.json --class AccountService --method sync --arity 1 --expand
//	apexflow snapshot save --graph graph.json --db ./snapshots
//	apexflow paths --db ./snapshots --root force-app --class AccountService --method sync --arity 1
//
// The graph file is the JSON form written by graph.SerializableGraph.
// --trace writes the OpenTelemetry spans of a run to stderr.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
