// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package race

import (
	"testing"

	"github.com/mirvm/interp/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBufferCoherenceOrdering(t *testing.T) {
	b := newStoreBuffer(4)
	w := ids.ThreadID(1)
	b.push(1, Clock{w: 1}, w)
	b.push(2, Clock{w: 2}, w)
	b.push(3, Clock{w: 3}, w)

	r := ids.ThreadID(2)
	cands := b.candidates(r)
	require.Len(t, cands, 3)

	b.observe(r, cands[1])
	cands2 := b.candidates(r)
	// Coherence forbids observing anything older than what r already saw.
	for _, c := range cands2 {
		assert.GreaterOrEqual(t, c.Seq, cands[1].Seq)
	}
}

func TestStoreBufferCapacityEviction(t *testing.T) {
	b := newStoreBuffer(2)
	w := ids.ThreadID(1)
	b.push(1, Clock{}, w)
	b.push(2, Clock{}, w)
	b.push(3, Clock{}, w)
	assert.Len(t, b.entries, 2)
	latest, ok := b.latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Value)
}

func TestStoreBufferResetClearsCoherence(t *testing.T) {
	b := newStoreBuffer(4)
	w := ids.ThreadID(1)
	b.push(1, Clock{}, w)
	b.observe(ids.ThreadID(2), b.entries[0])
	b.reset()
	assert.Empty(t, b.entries)
	assert.Empty(t, b.coherence)
}
