// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine configuration from apexflow.config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/apexflow/services/apexflow/expand"
	"github.com/AleutianAI/apexflow/services/apexflow/interp"
)

// FileName is the conventional name of the config file in a project root.
const FileName = "apexflow.config.yaml"

// MaxYAMLFileSize bounds the config file that Parse accepts.
const MaxYAMLFileSize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// EngineConfig holds the tunables of one engine.
//
// Description:
//
//	All fields are optional in YAML; fields that are absent keep the value
//	from Default. A zero MaxPaths or MaxExpansionDepth means unbounded.
//
// Thread Safety: Safe for concurrent reads after construction.
type EngineConfig struct {
	// ExpandCalls enables cross-method expansion of user-defined calls.
	ExpandCalls bool `yaml:"expand_calls"`

	// MaxPaths caps both enumerated and expanded paths per method.
	MaxPaths int `yaml:"max_paths" validate:"gte=0"`

	// MaxExpansionDepth caps the nesting of expanded calls.
	MaxExpansionDepth int `yaml:"max_expansion_depth" validate:"gte=0,lte=64"`

	// UnsupportedPolicy is "indeterminate" or "fail".
	UnsupportedPolicy string `yaml:"unsupported_policy" validate:"omitempty,oneof=fail indeterminate"`

	// Collapsers lists collapser names in the order they run.
	Collapsers []string `yaml:"collapsers" validate:"dive,oneof=boolean_condition null_constrainer return_value duplicate_path"`

	// StrictConditions makes the boolean condition excluder reject
	// candidates whose condition is indeterminate.
	StrictConditions bool `yaml:"strict_conditions"`

	// WalkParallelism is the number of concurrent walks in Engine.WalkAll.
	WalkParallelism int `yaml:"walk_parallelism" validate:"gte=1,lte=256"`
}

// Default returns the configuration used when no file is present.
func Default() EngineConfig {
	return EngineConfig{
		ExpandCalls:       true,
		MaxExpansionDepth: 8,
		UnsupportedPolicy: "indeterminate",
		Collapsers:        []string{expand.BooleanConditionName, expand.NullConstrainerName},
		WalkParallelism:   1,
	}
}

// Load reads the config file at path.
//
// Description:
//
//	A missing file is not an error and yields Default. An empty path also
//	yields Default.
//
// Outputs:
//
//	EngineConfig - The parsed and validated config.
//	error - Non-nil if the file exists but cannot be read, parsed or
//	validated.
func Load(path string) (EngineConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return EngineConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (EngineConfig, error) {
	if len(data) > MaxYAMLFileSize {
		return EngineConfig{}, fmt.Errorf("config exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	for i, name := range cfg.Collapsers {
		cfg.Collapsers[i] = strings.ToLower(strings.TrimSpace(name))
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and names.
//
// Outputs:
//
//	error - Names the first offending yaml field, nil when valid.
func (c EngineConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", yamlName(fe), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// BuildCollapsers builds the collapser chain in configured order.
func (c EngineConfig) BuildCollapsers() ([]expand.Collapser, error) {
	out := make([]expand.Collapser, 0, len(c.Collapsers))
	for _, name := range c.Collapsers {
		col, err := expand.NewCollapser(name, c.StrictConditions)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

// Policy returns the unsupported-construct policy.
func (c EngineConfig) Policy() (interp.Policy, error) {
	return interp.ParsePolicy(c.UnsupportedPolicy)
}

// ExpandConfig converts the file config into an expansion config.
func (c EngineConfig) ExpandConfig() (expand.Config, error) {
	cols, err := c.BuildCollapsers()
	if err != nil {
		return expand.Config{}, err
	}
	pol, err := c.Policy()
	if err != nil {
		return expand.Config{}, err
	}
	return expand.Config{
		ExpandCalls: c.ExpandCalls,
		Collapsers:  cols,
		MaxPaths:    c.MaxPaths,
		MaxDepth:    c.MaxExpansionDepth,
		Unsupported: pol,
	}, nil
}

var yamlNames = map[string]string{
	"ExpandCalls":       "expand_calls",
	"MaxPaths":          "max_paths",
	"MaxExpansionDepth": "max_expansion_depth",
	"UnsupportedPolicy": "unsupported_policy",
	"Collapsers":        "collapsers",
	"StrictConditions":  "strict_conditions",
	"WalkParallelism":   "walk_parallelism",
}

func yamlName(fe validator.FieldError) string {
	field := fe.StructField()
	// dive errors report "Collapsers[2]"
	base, idx, _ := strings.Cut(field, "[")
	if n, ok := yamlNames[base]; ok {
		if idx != "" {
			return n + "[" + idx
		}
		return n
	}
	return field
}
