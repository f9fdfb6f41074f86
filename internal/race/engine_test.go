// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package race

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlloc(t *testing.T, size uint64) *memstore.Allocation {
	t.Helper()
	s := memstore.NewStore(provenance.NewAddressSpace(1))
	id, ev := s.Allocate(size, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	return s.Get(id)
}

// TestConcurrentNonAtomicWritesRace reproduces scenario S1: two threads
// write the same 4-byte int with no synchronisation between them.
func TestConcurrentNonAtomicWritesRace(t *testing.T) {
	a := newAlloc(t, 4)
	e := New(true, false, 8, nil)

	t1, t2 := ids.ThreadID(1), ids.ThreadID(2)
	c1 := Clock{t1: 1}
	c2 := Clock{t2: 1}

	require.Nil(t, e.BeforeAccess(a, 0, 4, t1, c1, Write, false))
	ev := e.BeforeAccess(a, 0, 4, t2, c2, Write, false)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindDataRace, ev.Kind)
}

// TestReleaseAcquireSynchronizesSubsequentRead reproduces scenario S2:
// a release store followed by an acquiring spin-load establishes
// happens-before, so the non-atomic read that follows in the second
// thread is not a race.
func TestReleaseAcquireSynchronizesSubsequentRead(t *testing.T) {
	payload := newAlloc(t, 4)
	flag := newAlloc(t, 4)
	e := New(true, false, 8, nil)

	t1, t2 := ids.ThreadID(1), ids.ThreadID(2)
	c1 := Clock{t1: 1}

	require.Nil(t, e.BeforeAccess(payload, 0, 4, t1, c1, Write, false))
	e.ReleaseStore(flag, 0, t1, c1, 1, false)

	c2 := Clock{t2: 1}
	_, c2after := e.AcquireLoad(flag, 0, t2, c2, false)

	require.Nil(t, e.BeforeAccess(payload, 0, 4, t2, c2after, Read, false))
}

// TestWithoutAcquireStillRaces checks that merely loading the flag
// non-atomically (no acquire semantics) does not synchronise, so the
// payload read remains a race -- the contrapositive of S2.
func TestWithoutAcquireStillRaces(t *testing.T) {
	payload := newAlloc(t, 4)
	e := New(true, false, 8, nil)

	t1, t2 := ids.ThreadID(1), ids.ThreadID(2)
	c1 := Clock{t1: 1}
	c2 := Clock{t2: 1}

	require.Nil(t, e.BeforeAccess(payload, 0, 4, t1, c1, Write, false))
	ev := e.BeforeAccess(payload, 0, 4, t2, c2, Read, false)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindDataRace, ev.Kind)
}

func TestHappensBeforeOrEqualInEngine(t *testing.T) {
	a := Clock{1: 1, 2: 2}
	b := Clock{1: 1, 2: 3, 3: 1}
	assert.True(t, HappensBeforeOrEqual(a, b))
	assert.False(t, HappensBeforeOrEqual(b, a))
}

func TestWritesFromSameThreadNeverRace(t *testing.T) {
	a := newAlloc(t, 4)
	e := New(true, false, 8, nil)
	t1 := ids.ThreadID(1)
	c1 := Clock{t1: 1}
	require.Nil(t, e.BeforeAccess(a, 0, 4, t1, c1, Write, false))
	c1.Tick(t1)
	require.Nil(t, e.BeforeAccess(a, 0, 4, t1, c1, Write, false))
}
