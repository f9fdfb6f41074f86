// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore

import (
	"sync"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/provenance"
)

// Store is the allocation store of component A. A single Store is
// threaded through one interpreter run (spec.md §9 "global mutable
// state ... belong to a single interpreter context").
type Store struct {
	mu sync.Mutex

	nextID ids.AllocID
	live   map[ids.AllocID]*Allocation
	dead   map[ids.AllocID]*Allocation // kept so UAF diagnostics stay precise

	addrs *provenance.AddressSpace
}

// NewStore creates an empty allocation store backed by addrs for base
// address assignment (component B).
func NewStore(addrs *provenance.AddressSpace) *Store {
	return &Store{
		live:  map[ids.AllocID]*Allocation{},
		dead:  map[ids.AllocID]*Allocation{},
		addrs: addrs,
	}
}

// Allocate reserves a fresh allocation id (spec.md §4.A).
func (s *Store) Allocate(size, align uint64, kind ids.AllocKind, mut ids.Mutability) (ids.AllocID, *diag.Event) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	global := kind == ids.KindGlobalConstant || kind == ids.KindExternStatic || kind == ids.KindThreadLocal
	base, ok := s.addrs.Assign(id, size, align, global)
	if !ok {
		return 0, diag.New(diag.KindAddressSpaceFull, "no address range fits a %d-byte, %d-aligned allocation", size, align)
	}

	a := newAllocation(id, size, align, kind, mut)
	a.Base = base

	s.mu.Lock()
	s.live[id] = a
	s.mu.Unlock()
	return id, nil
}

// Get returns the live allocation record for id, or nil.
func (s *Store) Get(id ids.AllocID) *Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

// IsDead reports whether id was allocated and has since been freed.
func (s *Store) IsDead(id ids.AllocID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dead[id]
	return ok
}

// Live returns every currently-live allocation, used by the leak
// checker (component J) at process exit.
func (s *Store) Live() []*Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Allocation, 0, len(s.live))
	for _, a := range s.live {
		out = append(out, a)
	}
	return out
}

// Deallocate frees id, checking size/align/kind against the caller's
// expectations (spec.md §4.A).
func (s *Store) Deallocate(id ids.AllocID, expSize, expAlign uint64, expKind ids.AllocKind) *diag.Event {
	s.mu.Lock()
	a, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		if s.IsDead(id) {
			return diag.New(diag.KindDoubleFree, "allocation %s was already freed", id).With("alloc_id", id)
		}
		return diag.New(diag.KindDanglingPointerDeref, "no live allocation %s", id).With("alloc_id", id)
	}
	if a.Kind.DeallocationForbidden() {
		return diag.New(diag.KindWrongDeallocator, "allocation %s has kind %s, which forbids deallocation", id, a.Kind).
			With("alloc_id", id).With("kind", a.Kind.String())
	}
	if a.Size != expSize || a.Align != expAlign || a.Kind != expKind {
		return diag.New(diag.KindWrongDeallocator, "deallocator mismatch for %s: expected size=%d align=%d kind=%s, found size=%d align=%d kind=%s",
			id, expSize, expAlign, expKind, a.Size, a.Align, a.Kind).
			With("alloc_id", id).With("expected_kind", expKind.String()).With("actual_kind", a.Kind.String())
	}

	s.mu.Lock()
	delete(s.live, id)
	a.Dead = true
	s.dead[id] = a
	s.mu.Unlock()
	s.addrs.Retire(id)
	return nil
}

// Release retires id unconditionally, bypassing the WrongDeallocator
// checks Deallocate enforces. It is the interpreter's own bookkeeping
// path (stack-frame pop, program-exit teardown of globals), never a
// response to emulated-program code calling free/drop: those always
// go through Deallocate, where a kind mismatch is itself the
// diagnosis (spec.md §4.A).
func (s *Store) Release(id ids.AllocID) {
	s.mu.Lock()
	a, ok := s.live[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.live, id)
	a.Dead = true
	s.dead[id] = a
	s.mu.Unlock()
	s.addrs.Retire(id)
}

// liveOrDanglingErr reads s.live/s.dead directly: every caller already
// holds s.mu, which is not reentrant.
func (s *Store) liveOrDanglingErr(id ids.AllocID, off, n uint64) (*Allocation, *diag.Event) {
	a := s.live[id]
	if a == nil {
		if _, dead := s.dead[id]; dead {
			return nil, diag.New(diag.KindDanglingPointerDeref, "use of allocation %s after it was freed", id).With("alloc_id", id)
		}
		return nil, diag.New(diag.KindDanglingPointerDeref, "no such allocation %s", id).With("alloc_id", id)
	}
	if n == 0 {
		// Zero-sized accesses bypass bounds checks except that the
		// offset must be in-bounds-or-one-past-the-end (spec.md §4.A).
		if off > a.Size {
			return nil, diag.New(diag.KindPointerOutOfBounds, "zero-sized access at offset %d exceeds allocation %s of size %d", off, id, a.Size).With("alloc_id", id)
		}
		return a, nil
	}
	if off+n > a.Size || off+n < off {
		return nil, diag.New(diag.KindPointerOutOfBounds, "access [%d, %d) out of bounds for allocation %s of size %d", off, off+n, id, a.Size).With("alloc_id", id)
	}
	return a, nil
}

func checkAlign(off, align uint64, base uint64) *diag.Event {
	if align <= 1 {
		return nil
	}
	if (base+off)%align != 0 {
		return diag.New(diag.KindMisalignedAccess, "access at absolute address offset %d is not aligned to %d", off, align)
	}
	return nil
}

// ReadBytes reads raw bytes, failing on uninitialised or partially
// relocated ranges (spec.md §4.A).
func (s *Store) ReadBytes(id ids.AllocID, off, n uint64) ([]byte, *diag.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ev := s.liveOrDanglingErr(id, off, n)
	if ev != nil {
		return nil, ev
	}
	if n == 0 {
		return nil, nil
	}
	if len(a.relocOverlapping(off, n)) > 0 {
		return nil, diag.New(diag.KindReadPointerAsBytes, "read of [%d, %d) in %s overlaps a pointer relocation", off, off+n, id).With("alloc_id", id)
	}
	if !a.IsDefined(off, n) {
		return nil, diag.New(diag.KindReadUninit, "read of [%d, %d) in %s observes an uninitialised byte", off, off+n, id).With("alloc_id", id)
	}
	out := make([]byte, n)
	copy(out, a.Bytes[off:off+n])
	return out, nil
}

// WriteBytes writes raw bytes, clearing any relocations they overlap.
func (s *Store) WriteBytes(id ids.AllocID, off uint64, data []byte) *diag.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(len(data))
	a, ev := s.liveOrDanglingErr(id, off, n)
	if ev != nil {
		return ev
	}
	if a.Mutability == ids.Immutable || a.Mutability == ids.FrozenAfterInit {
		return diag.New(diag.KindUnsupportedFeature, "write to immutable allocation %s", id).With("alloc_id", id)
	}
	if n == 0 {
		return nil
	}
	a.clearRelocs(off, n)
	copy(a.Bytes[off:off+n], data)
	a.defined.setRange(off, n, true)
	return nil
}

// Scalar is a typed value loaded from or stored to memory: either a
// raw integer of Size bytes, or a pointer occupying exactly
// memstore.PtrSize bytes (spec.md §4.A read_scalar/write_scalar).
type Scalar struct {
	IsPtr bool
	Bits  uint64 // integer payload when !IsPtr
	Ptr   provenance.Ptr
	Size  uint64
}

// ReadScalar implements spec.md §4.A's read_scalar: a range covered by
// exactly one relocation entry of the requested size yields a pointer
// scalar; otherwise an integer scalar subject to the definedness
// check.
func (s *Store) ReadScalar(id ids.AllocID, off, size uint64) (Scalar, *diag.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ev := s.liveOrDanglingErr(id, off, size)
	if ev != nil {
		return Scalar{}, ev
	}
	if r, ok := a.RelocAt(off); ok && uint64(r.Remaining) == size && size == PtrSize {
		addr := leUint64(a.Bytes[off : off+PtrSize])
		return Scalar{IsPtr: true, Size: size, Ptr: provenance.Ptr{Provenance: r.Prov, Addr: addr}}, nil
	}
	if len(a.relocOverlapping(off, size)) > 0 {
		return Scalar{}, diag.New(diag.KindReadPointerAsBytes, "scalar read of [%d,%d) in %s overlaps a pointer relocation", off, off+size, id).With("alloc_id", id)
	}
	if !a.IsDefined(off, size) {
		return Scalar{}, diag.New(diag.KindReadUninit, "scalar read of [%d,%d) in %s observes an uninitialised byte", off, off+size, id).With("alloc_id", id)
	}
	return Scalar{Size: size, Bits: leUint64(padTo8(a.Bytes[off : off+size]))}, nil
}

// WriteScalar implements spec.md §4.A's write_scalar.
func (s *Store) WriteScalar(id ids.AllocID, off, size uint64, v Scalar) *diag.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ev := s.liveOrDanglingErr(id, off, size)
	if ev != nil {
		return ev
	}
	if a.Mutability == ids.Immutable || a.Mutability == ids.FrozenAfterInit {
		return diag.New(diag.KindUnsupportedFeature, "write to immutable allocation %s", id).With("alloc_id", id)
	}
	a.clearRelocs(off, size)
	if v.IsPtr {
		if size != PtrSize {
			return diag.New(diag.KindUnsupportedFeature, "pointer-shaped scalar write of size %d != pointer size", size)
		}
		a.relocs[off] = Reloc{Prov: v.Ptr.Provenance, Remaining: PtrSize}
		putLeUint64(a.Bytes[off:off+PtrSize], v.Ptr.Addr)
	} else {
		buf := make([]byte, 8)
		putLeUint64(buf, v.Bits)
		copy(a.Bytes[off:off+size], buf[:size])
	}
	a.defined.setRange(off, size, true)
	return nil
}

// Copy implements spec.md §4.A's copy: bytes, definedness bits and
// relocations travel together; a relocation straddling the edge of the
// source range is replaced by uninitialised bytes on the destination.
func (s *Store) Copy(srcID ids.AllocID, srcOff uint64, dstID ids.AllocID, dstOff, n uint64, nonoverlapping bool) *diag.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ev := s.liveOrDanglingErr(srcID, srcOff, n)
	if ev != nil {
		return ev
	}
	dst, ev := s.liveOrDanglingErr(dstID, dstOff, n)
	if ev != nil {
		return ev
	}
	if dst.Mutability == ids.Immutable || dst.Mutability == ids.FrozenAfterInit {
		return diag.New(diag.KindUnsupportedFeature, "copy into immutable allocation %s", dstID).With("alloc_id", dstID)
	}
	if n == 0 {
		return nil
	}
	if nonoverlapping && srcID == dstID {
		end1, end2 := srcOff+n, dstOff+n
		if srcOff < end2 && dstOff < end1 {
			return diag.New(diag.KindUnsupportedFeature, "overlapping copy_nonoverlapping on %s", srcID).With("alloc_id", srcID)
		}
	}

	dst.clearRelocs(dstOff, n)

	data := make([]byte, n)
	copy(data, src.Bytes[srcOff:srcOff+n])
	copy(dst.Bytes[dstOff:dstOff+n], data)

	for i := uint64(0); i < n; i++ {
		dst.defined.set(dstOff+i, src.defined.get(srcOff+i))
	}

	for start, r := range src.relocOverlapping(srcOff, n) {
		relEnd := start + PtrSize
		if start < srcOff || relEnd > srcOff+n {
			// Straddles the edge: destination bytes stay uninitialised
			// (SPEC_FULL.md §12.1's shared partial-overwrite rule).
			lo, hi := start, relEnd
			if lo < srcOff {
				lo = srcOff
			}
			if hi > srcOff+n {
				hi = srcOff + n
			}
			dst.defined.setRange(dstOff+(lo-srcOff), hi-lo, false)
			continue
		}
		newStart := dstOff + (start - srcOff)
		dst.relocs[newStart] = r
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

func padTo8(b []byte) []byte {
	if len(b) == 8 {
		return b
	}
	out := make([]byte, 8)
	copy(out, b)
	return out
}
