// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirvm.yaml")
	require.NoError(t, writeFile(path, "race_detector: false\nstep_limit: 500\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.RaceDetector)
	assert.Equal(t, uint64(500), cfg.StepLimit)
	assert.True(t, cfg.AliasingEnforcement) // untouched default survives
}

func TestMergePrefersExplicitFlagsOverFile(t *testing.T) {
	fileCfg := Default()
	fileCfg.StepLimit = 500

	flagCfg := Config{StepLimit: 10}
	merged := Merge(fileCfg, flagCfg, map[string]bool{"step-limit": true})
	assert.Equal(t, uint64(10), merged.StepLimit)
	assert.Equal(t, fileCfg.GCInterval, merged.GCInterval)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
