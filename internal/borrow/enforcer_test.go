// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package borrow

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlloc(t *testing.T, size uint64) (*memstore.Store, *memstore.Allocation) {
	t.Helper()
	s := memstore.NewStore(provenance.NewAddressSpace(1))
	id, ev := s.Allocate(size, 8, ids.KindStackLocal, ids.Mutable)
	require.Nil(t, ev)
	return s, s.Get(id)
}

// TestRawWriteThenSharedReadInvalidatesRaw reproduces S3: r1 is an
// exclusive reference; p is a raw pointer derived from it; writing
// through p is fine, but a subsequent read through r1 pops p's item,
// so a later write through p is a BorrowStackViolation.
func TestRawWriteThenSharedReadInvalidatesRaw(t *testing.T) {
	_, a := newAlloc(t, 8)
	e := New(true, 8)

	r1 := ids.Tag(1)
	require.Nil(t, e.Retag(a, 0, 8, ids.UntaggedTag, r1, RefUnique, nil))

	p := ids.Tag(2)
	require.Nil(t, e.Retag(a, 0, 8, r1, p, RefSharedReadWrite, nil))

	require.Nil(t, e.BeforeAccess(a, 0, 8, p, Write))
	require.Nil(t, e.BeforeAccess(a, 0, 8, r1, Read))

	ev := e.BeforeAccess(a, 0, 8, p, Write)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindBorrowStackViolation, ev.Kind)
}

func TestReborrowOfZeroBytesIsNoop(t *testing.T) {
	_, a := newAlloc(t, 0)
	e := New(true, 8)
	r1 := ids.Tag(1)
	assert.Nil(t, e.Retag(a, 0, 0, ids.UntaggedTag, r1, RefUnique, nil))
}

// TestSharedReadWriteReborrowInsertsAboveExistingRun reproduces the
// write-compatibility boundary of spec.md §3.3 (Miri
// find_first_write_incompatible): a second weak SharedReadWrite
// reborrow off the same parent must land above the first one, not
// wedged directly above the parent, so a SharedReadOnly reborrow taken
// from the first one in between still ends up above both.
func TestSharedReadWriteReborrowInsertsAboveExistingRun(t *testing.T) {
	_, a := newAlloc(t, 8)
	e := New(true, 8)

	r1 := ids.Tag(1)
	require.Nil(t, e.Retag(a, 0, 8, ids.UntaggedTag, r1, RefUnique, nil))

	w1 := ids.Tag(2)
	require.Nil(t, e.Retag(a, 0, 8, r1, w1, RefSharedReadWrite, nil))

	ro1 := ids.Tag(3)
	require.Nil(t, e.Retag(a, 0, 8, w1, ro1, RefSharedReadOnly, nil))

	w2 := ids.Tag(4)
	require.Nil(t, e.Retag(a, 0, 8, r1, w2, RefSharedReadWrite, nil))

	s := e.stacksFor(a).GetAt(0)
	items := s.Items()
	tags := make([]ids.Tag, len(items))
	for i, it := range items {
		tags[i] = it.Tag
	}
	assert.Equal(t, []ids.Tag{ids.UntaggedTag, r1, w1, w2, ro1}, tags)
}

// TestGCReclaimsUnreachableTagsKeepsLiveAndProtected reproduces the
// periodic maintenance pass of spec.md §4.D/§4.I step 5: a tag absent
// from the caller-supplied live set is dropped unless it carries an
// active protector, in which case it survives regardless.
func TestGCReclaimsUnreachableTagsKeepsLiveAndProtected(t *testing.T) {
	_, a := newAlloc(t, 8)
	e := New(true, 8)

	r1 := ids.Tag(1)
	require.Nil(t, e.Retag(a, 0, 8, ids.UntaggedTag, r1, RefUnique, nil))
	dead := ids.Tag(2)
	require.Nil(t, e.Retag(a, 0, 8, r1, dead, RefSharedReadWrite, nil))
	call := ids.CallID(9)
	protected := ids.Tag(3)
	require.Nil(t, e.Retag(a, 0, 8, r1, protected, RefSharedReadWrite, &call))

	e.GC(a, map[ids.Tag]bool{r1: true})

	assert.NotNil(t, e.BeforeAccess(a, 0, 8, dead, Read))
	assert.Nil(t, e.BeforeAccess(a, 0, 8, protected, Read))
	assert.Nil(t, e.BeforeAccess(a, 0, 8, r1, Read))
}

func TestProtectedDeallocViolation(t *testing.T) {
	_, a := newAlloc(t, 8)
	e := New(true, 8)
	call := ids.CallID(5)
	r1 := ids.Tag(1)
	require.Nil(t, e.Retag(a, 0, 8, ids.UntaggedTag, r1, RefUnique, &call))

	ev := e.BeforeDealloc(a, ids.UntaggedTag, map[ids.CallID]bool{call: true})
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindBorrowStackViolation, ev.Kind)
}
