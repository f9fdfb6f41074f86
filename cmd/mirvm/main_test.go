// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstLeakReportsNonExemptLiveAllocation(t *testing.T) {
	store := memstore.NewStore(provenance.NewAddressSpace(1))
	_, ev := store.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)

	leak := firstLeak(store)
	require.NotNil(t, leak)
	assert.Equal(t, diag.KindLeak, leak.Kind)
}

func TestFirstLeakSkipsExemptAllocations(t *testing.T) {
	store := memstore.NewStore(provenance.NewAddressSpace(1))
	_, ev := store.Allocate(8, 8, ids.KindGlobalConstant, ids.Immutable)
	require.Nil(t, ev)

	assert.Nil(t, firstLeak(store))
}

func TestFirstLeakIsNilWhenEverythingWasFreed(t *testing.T) {
	store := memstore.NewStore(provenance.NewAddressSpace(1))
	id, ev := store.Allocate(8, 8, ids.KindHeapManaged, ids.Mutable)
	require.Nil(t, ev)
	require.Nil(t, store.Deallocate(id, 8, 8, ids.KindHeapManaged))

	assert.Nil(t, firstLeak(store))
}
