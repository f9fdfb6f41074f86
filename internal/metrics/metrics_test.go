// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpContainsRegisteredSeries(t *testing.T) {
	c := New()
	c.Steps.Add(3)
	c.Diagnostics.WithLabelValues("DataRace").Inc()

	out, err := c.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "mirvm_steps_total 3")
	assert.Contains(t, out, `mirvm_diagnostics_total{kind="DataRace"} 1`)
}
