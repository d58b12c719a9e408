// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apexflow/services/apexflow/expand"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("max_paths: 50\nwalk_parallelism: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxPaths)
	assert.Equal(t, 4, cfg.WalkParallelism)
	assert.True(t, cfg.ExpandCalls, "absent fields keep defaults")
	assert.Equal(t, 8, cfg.MaxExpansionDepth)
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("max_paths: -1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), "max_paths")
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
expand_calls: false
max_paths: 100
max_expansion_depth: 3
unsupported_policy: fail
collapsers: [" Duplicate_Path ", return_value]
strict_conditions: true
`))
	require.NoError(t, err)
	assert.False(t, cfg.ExpandCalls)
	assert.Equal(t, 100, cfg.MaxPaths)
	assert.Equal(t, 3, cfg.MaxExpansionDepth)
	assert.Equal(t, "fail", cfg.UnsupportedPolicy)
	assert.Equal(t, []string{"duplicate_path", "return_value"}, cfg.Collapsers)
	assert.True(t, cfg.StrictConditions)
	assert.Equal(t, 1, cfg.WalkParallelism)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"negative paths", "max_paths: -5", "max_paths"},
		{"depth too large", "max_expansion_depth: 1000", "max_expansion_depth"},
		{"unknown policy", "unsupported_policy: ignore", "unsupported_policy"},
		{"unknown collapser", "collapsers: [boolean_condition, magic]", "collapsers[1]"},
		{"zero parallelism", "walk_parallelism: 0", "walk_parallelism"},
		{"bad yaml", "max_paths: [", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_TooLarge(t *testing.T) {
	_, err := Parse([]byte(strings.Repeat("#", MaxYAMLFileSize+1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestExpandConfig(t *testing.T) {
	cfg := Default()
	cfg.StrictConditions = true
	cfg.MaxPaths = 7

	ec, err := cfg.ExpandConfig()
	require.NoError(t, err)
	assert.True(t, ec.ExpandCalls)
	assert.Equal(t, 7, ec.MaxPaths)
	assert.Equal(t, 8, ec.MaxDepth)
	assert.Equal(t, interp.Indeterminate, ec.Unsupported)
	require.Len(t, ec.Collapsers, 2)
	assert.Equal(t, expand.BooleanConditionExcluder{Strict: true}, ec.Collapsers[0])
	assert.Equal(t, expand.NullConstrainer{}, ec.Collapsers[1])

	cfg.UnsupportedPolicy = "fail"
	pol, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, interp.Fail, pol)
}

func TestDefault_MatchesExpanderDefaults(t *testing.T) {
	ec, err := Default().ExpandConfig()
	require.NoError(t, err)
	want := expand.DefaultConfig()
	assert.Equal(t, want.ExpandCalls, ec.ExpandCalls)
	assert.Equal(t, want.MaxDepth, ec.MaxDepth)
	assert.Equal(t, want.MaxPaths, ec.MaxPaths)
	assert.Equal(t, want.Collapsers, ec.Collapsers)
}
