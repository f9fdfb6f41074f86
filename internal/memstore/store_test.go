// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(provenance.NewAddressSpace(1))
}

func TestRoundTripBytes(t *testing.T) {
	s := newTestStore()
	id, ev := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)

	data := []byte{1, 2, 3, 4}
	require.Nil(t, s.WriteBytes(id, 0, data))
	got, ev := s.ReadBytes(id, 0, 4)
	require.Nil(t, ev)
	assert.Equal(t, data, got)
}

func TestRoundTripPointer(t *testing.T) {
	s := newTestStore()
	id, ev := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	target, ev := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)

	p := provenance.Ptr{Provenance: provenance.Concrete(target, 7), Addr: 0x1000}
	require.Nil(t, s.WriteScalar(id, 0, PtrSize, Scalar{IsPtr: true, Ptr: p, Size: PtrSize}))

	got, ev := s.ReadScalar(id, 0, PtrSize)
	require.Nil(t, ev)
	assert.True(t, got.IsPtr)
	assert.Equal(t, p, got.Ptr)
}

func TestPartialPointerOverwriteClears(t *testing.T) {
	s := newTestStore()
	id, _ := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	target, _ := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	p := provenance.Ptr{Provenance: provenance.Concrete(target, 1), Addr: 0x2000}
	require.Nil(t, s.WriteScalar(id, 0, PtrSize, Scalar{IsPtr: true, Ptr: p, Size: PtrSize}))

	// Overwrite only the first byte of the pointer: the relocation is
	// cleared, the remaining bytes become uninitialised, per
	// SPEC_FULL.md §12.1.
	require.Nil(t, s.WriteBytes(id, 0, []byte{0xff}))
	_, ev := s.ReadBytes(id, 0, PtrSize)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindReadUninit, ev.Kind)
}

func TestReadUninitFails(t *testing.T) {
	s := newTestStore()
	id, _ := s.Allocate(4, 4, ids.KindHeapManaged, ids.Mutable)
	_, ev := s.ReadBytes(id, 0, 4)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindReadUninit, ev.Kind)
}

func TestZeroSizedAccessBypassesDefinedness(t *testing.T) {
	s := newTestStore()
	id, _ := s.Allocate(4, 4, ids.KindHeapManaged, ids.Mutable)
	got, ev := s.ReadBytes(id, 4, 0) // one-past-the-end, size 0
	require.Nil(t, ev)
	assert.Empty(t, got)
}

func TestWrongDeallocator(t *testing.T) {
	s := newTestStore()
	id, _ := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	ev := s.Deallocate(id, 16, 8, ids.KindHeapForeign)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindWrongDeallocator, ev.Kind)
	assert.Equal(t, "heap-foreign", ev.Context["expected_kind"])
	assert.Equal(t, "heap-managed", ev.Context["actual_kind"])
}

func TestDoubleFree(t *testing.T) {
	s := newTestStore()
	id, _ := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, s.Deallocate(id, 8, 8, ids.KindHeapManaged))
	ev := s.Deallocate(id, 8, 8, ids.KindHeapManaged)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindDoubleFree, ev.Kind)
}

func TestLiveListsOnlyLiveAllocations(t *testing.T) {
	s := newTestStore()
	keep, ev := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	freed, ev := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	require.Nil(t, s.Deallocate(freed, 8, 8, ids.KindHeapManaged))

	live := s.Live()
	require.Len(t, live, 1)
	assert.Equal(t, keep, live[0].ID)
}

func TestRelocsReturnsACopyNotTheLiveMap(t *testing.T) {
	s := newTestStore()
	id, ev := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	target, ev := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	p := provenance.Ptr{Provenance: provenance.Concrete(target, 5), Addr: 0x2000}
	require.Nil(t, s.WriteScalar(id, 0, PtrSize, Scalar{IsPtr: true, Ptr: p, Size: PtrSize}))

	a := s.Get(id)
	relocs := a.Relocs()
	require.Len(t, relocs, 1)
	delete(relocs, 0)
	assert.Len(t, a.Relocs(), 1)
}

func TestCopyStraddlingRelocationUninitializesDest(t *testing.T) {
	s := newTestStore()
	src, _ := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	dst, _ := s.Allocate(16, 8, ids.KindHeapManaged, ids.Mutable)
	target, _ := s.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	p := provenance.Ptr{Provenance: provenance.Concrete(target, 1), Addr: 0x3000}
	require.Nil(t, s.WriteScalar(src, 4, PtrSize, Scalar{IsPtr: true, Ptr: p, Size: PtrSize}))

	// Copy only [0,8) of src: the relocation at offset 4 occupies
	// [4,12), straddling the copy's end.
	require.Nil(t, s.Copy(src, 0, dst, 0, 8, true))
	_, ev := s.ReadBytes(dst, 4, 4)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindReadUninit, ev.Kind)
}
