// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProgramDecodesAndIndexesBodies(t *testing.T) {
	p := Program{
		Entry: 1,
		Bodies: []*Body{
			{ID: 1, Name: "main", Locals: []Local{{Ty: Scalar(4, 4)}}, ArgCount: 0},
			{ID: 2, Name: "helper", Locals: []Local{{Ty: Scalar(4, 4)}}, ArgCount: 0},
		},
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "prog.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := LoadProgram(path)
	require.NoError(t, err)
	assert.Equal(t, DefID(1), got.Entry)

	byID := got.BodiesByID()
	require.Len(t, byID, 2)
	assert.Equal(t, "main", byID[1].Name)
	assert.Equal(t, "helper", byID[2].Name)
}

func TestLoadProgramMissingFile(t *testing.T) {
	_, err := LoadProgram("/nonexistent/path/prog.json")
	assert.Error(t, err)
}
