// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config implements the configuration layer of SPEC_FULL.md
// §11: a `gopkg.in/yaml.v3`-decoded on-disk config file supplying
// defaults, always overridden by explicit CLI flags, matching the way
// `original_source/cargo-miri` layers project defaults under CLI
// overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full merged flag set of spec.md §6.2.
type Config struct {
	Isolation bool `yaml:"isolation"`

	ProvenanceMode string `yaml:"provenance_mode"` // strict|default|permissive

	AliasingEnforcement bool `yaml:"aliasing_enforcement"`
	RaceDetector        bool `yaml:"race_detector"`
	WeakMemory          bool `yaml:"weak_memory"`

	PreemptionRate float64 `yaml:"preemption_rate"` // 0.0-1.0
	GCInterval     int     `yaml:"gc_interval"`     // basic blocks; 0 disables
	StepLimit      uint64  `yaml:"step_limit"`      // 0 means unlimited

	BacktraceStyle string `yaml:"backtrace_style"` // off|short|full

	TrackedTags   []string `yaml:"tracked_tags"`
	TrackedAllocs []string `yaml:"tracked_allocs"`
	TrackedCalls  []string `yaml:"tracked_calls"`

	MeasureMePath string `yaml:"measure_me_path"`
	Seed          int64  `yaml:"seed"`

	TargetTriple string `yaml:"target_triple"`
	Sysroot      string `yaml:"sysroot"`
}

// Default returns the baseline configuration used before a file or
// flags are applied.
func Default() Config {
	return Config{
		Isolation:           true,
		ProvenanceMode:      "default",
		AliasingEnforcement: true,
		RaceDetector:        true,
		WeakMemory:          false,
		PreemptionRate:      0,
		GCInterval:          10000,
		StepLimit:           0,
		BacktraceStyle:      "short",
		Seed:                0,
		TargetTriple:        "x86_64-unknown-linux-gnu",
	}
}

// Load reads a YAML config file, applying its fields over Default().
// A missing file is not an error: it simply yields the defaults,
// matching a project that has never opted into a config file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge overlays any flag explicitly set by the caller (the fields of
// override whose flag names appear in flagsSet, zero values included)
// onto file/base config, per spec.md §6.2's "flags always override
// file values".
func Merge(base Config, override Config, flagsSet map[string]bool) Config {
	out := base
	for name := range flagsSet {
		switch name {
		case "isolation":
			out.Isolation = override.Isolation
		case "provenance-mode":
			out.ProvenanceMode = override.ProvenanceMode
		case "aliasing-enforcement":
			out.AliasingEnforcement = override.AliasingEnforcement
		case "race-detector":
			out.RaceDetector = override.RaceDetector
		case "weak-memory":
			out.WeakMemory = override.WeakMemory
		case "preemption-rate":
			out.PreemptionRate = override.PreemptionRate
		case "gc-interval":
			out.GCInterval = override.GCInterval
		case "step-limit":
			out.StepLimit = override.StepLimit
		case "backtrace":
			out.BacktraceStyle = override.BacktraceStyle
		case "track-tag":
			out.TrackedTags = override.TrackedTags
		case "track-alloc":
			out.TrackedAllocs = override.TrackedAllocs
		case "track-call":
			out.TrackedCalls = override.TrackedCalls
		case "measure-me":
			out.MeasureMePath = override.MeasureMePath
		case "seed":
			out.Seed = override.Seed
		case "target":
			out.TargetTriple = override.TargetTriple
		case "sysroot":
			out.Sysroot = override.Sysroot
		}
	}
	return out
}
