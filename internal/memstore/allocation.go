// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memstore implements component A, the allocation store:
// byte storage, per-allocation metadata, the definedness bitmap and
// the relocation map (spec.md §3.1, §4.A). It is modelled on the
// teacher's size-classed tcmalloc-style allocator (malloc.go,
// msize.go, mcentral.go): the size classes of sizeclass.go's
// classToSize table are used here purely for the informational
// rounding diagnostic of SPEC_FULL.md §1,
// never to change observable semantics.
package memstore

import (
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/provenance"
)

// PtrSize is the target's pointer width in bytes. The core only
// targets 64-bit machines (spec.md §3.2: "absolute 64-bit integer").
const PtrSize = 8

// Reloc is one relocation-map entry: the byte range starting at some
// offset holds a pointer, not raw bytes (spec.md §3.1).
type Reloc struct {
	Prov      provenance.Provenance
	Remaining int // bytes of this relocation not yet overwritten; always == PtrSize while whole
}

// Allocation is the in-memory record of spec.md §3.1.
type Allocation struct {
	ID         ids.AllocID
	Size       uint64
	Align      uint64
	Mutability ids.Mutability
	Kind       ids.AllocKind
	Base       uint64
	Dead       bool

	Bytes   []byte
	defined *bitset
	relocs  map[uint64]Reloc // keyed by start offset

	// Extras are populated lazily by components D (borrow), E (race)
	// and the weak-memory store-buffer layer, each under their own
	// key, so memstore never needs to import those packages (spec.md
	// §3.1: "only present when ... enforcement is on").
	Extras map[string]any
}

func newAllocation(id ids.AllocID, size, align uint64, kind ids.AllocKind, mut ids.Mutability) *Allocation {
	return &Allocation{
		ID:         id,
		Size:       size,
		Align:      align,
		Mutability: mut,
		Kind:       kind,
		Bytes:      make([]byte, size),
		defined:    newBitset(size),
		relocs:     map[uint64]Reloc{},
		Extras:     map[string]any{},
	}
}

// IsDefined reports whether every byte in [off, off+n) is initialised.
func (a *Allocation) IsDefined(off, n uint64) bool {
	return a.defined.allDefined(off, n)
}

// RelocAt returns the relocation entry starting exactly at off, if any.
func (a *Allocation) RelocAt(off uint64) (Reloc, bool) {
	r, ok := a.relocs[off]
	return r, ok
}

// relocOverlapping returns every relocation entry that intersects
// [off, off+n), including ones that merely straddle an edge.
func (a *Allocation) relocOverlapping(off, n uint64) map[uint64]Reloc {
	out := map[uint64]Reloc{}
	end := off + n
	for start, r := range a.relocs {
		relEnd := start + PtrSize
		if start < end && relEnd > off {
			out[start] = r
		}
	}
	return out
}

// Relocs returns a copy of every relocation entry currently live in
// this allocation, keyed by start offset. Used by the borrow-stack
// garbage collector to find every tag still reachable through memory
// (spec.md §4.D, §4.I step 5).
func (a *Allocation) Relocs() map[uint64]Reloc {
	out := make(map[uint64]Reloc, len(a.relocs))
	for start, r := range a.relocs {
		out[start] = r
	}
	return out
}

// clearRelocs removes every relocation overlapping [off, off+n),
// marking the overlapped bytes as uninitialised. This realizes the
// SPEC_FULL.md §12.1 decision for partial-pointer overwrites: clear,
// never fail.
func (a *Allocation) clearRelocs(off, n uint64) {
	for start := range a.relocOverlapping(off, n) {
		delete(a.relocs, start)
		a.defined.setRange(start, PtrSize, false)
	}
}
