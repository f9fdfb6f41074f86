// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/provenance"
)

// execRetag implements a StmtRetag: the place holds a reference/box/raw
// pointer whose current tag becomes the parent of a freshly minted tag,
// granted over the pointee's frozen/non-frozen sub-ranges per spec.md
// §4.D. A retag of a place holding an initialised non-pointer value is
// a no-op; an uninitialised place fails the read like any other read.
func (in *Interp) execRetag(t ids.ThreadID, f *Frame, stmt mir.Statement) *diag.Event {
	rp, ev := in.place(t, f, stmt.Place)
	if ev != nil {
		return ev
	}
	sc, ev := in.readPlace(t, rp)
	if ev != nil {
		return ev
	}
	if !sc.IsPtr {
		return nil
	}
	pointee := rp.Ty.Pointee
	if pointee == nil {
		return diag.New(diag.KindUnsupportedFeature, "retag of a non-pointer-shaped place")
	}
	a := in.Store.Get(sc.Ptr.Provenance.Alloc)
	if a == nil {
		return diag.New(diag.KindDanglingPointerDeref, "retag through a dangling pointer")
	}
	base := sc.Ptr.Addr - a.Base
	var protector *ids.CallID
	if stmt.Protector {
		cid := f.CallID
		protector = &cid
	}
	newTag := in.freshTag()
	parentTag := sc.Ptr.Provenance.Tag

	if ev := in.grantRetag(a, base, pointee, parentTag, newTag, stmt.Raw, stmt.RetagKind, protector); ev != nil {
		return ev
	}
	newPtr := memstore.Scalar{
		IsPtr: true, Size: memstore.PtrSize,
		Ptr: provenance.Ptr{Provenance: provenance.Concrete(sc.Ptr.Provenance.Alloc, newTag), Addr: sc.Ptr.Addr},
	}
	return in.writePlace(t, rp, newPtr)
}

// grantRetag performs the borrow-stack grant(s) for one reborrow of
// pointee at [base, base+pointee.Size): a raw-pointer retag always gets
// a single weak SharedReadWrite grant; a unique reborrow gets a single
// Unique grant; a shared reborrow is split across pointee's frozen
// ranges, granting SharedReadOnly where frozen and SharedReadWrite
// where an interior-mutable sub-object makes that unsound (spec.md
// §4.D step 2).
func (in *Interp) grantRetag(a *memstore.Allocation, base uint64, pointee *mir.Ty, parentTag, newTag ids.Tag, raw bool, mut mir.RefMutability, protector *ids.CallID) *diag.Event {
	switch {
	case raw:
		return in.Borrow.Retag(a, base, pointee.Size, parentTag, newTag, borrow.RefSharedReadWrite, protector)
	case mut == mir.RefUnique:
		return in.Borrow.Retag(a, base, pointee.Size, parentTag, newTag, borrow.RefUnique, protector)
	default:
		for _, fr := range mir.FrozenRanges(pointee, base) {
			kind := borrow.RefSharedReadOnly
			if !fr.Frozen {
				kind = borrow.RefSharedReadWrite
			}
			if ev := in.Borrow.Retag(a, fr.Start, fr.End-fr.Start, parentTag, newTag, kind, protector); ev != nil {
				return ev
			}
		}
		return nil
	}
}

// retagParam retags a by-reference/by-box argument local as the callee
// frame is pushed, attaching a protector for the call's duration
// (spec.md §3.3 glossary "Protector"; §4.D "arguments retagged on
// entry"). A non-pointer or not-yet-materialised argument is left
// untouched.
func (in *Interp) retagParam(f *Frame, local mir.LocalID) *diag.Event {
	slot := &f.Locals[local]
	if slot.Kind != SlotImmediate || !slot.Imm.IsPtr {
		return nil
	}
	ty := f.Body.Locals[local].Ty
	if ty.Kind != mir.KindRef && ty.Kind != mir.KindBox {
		return nil
	}
	a := in.Store.Get(slot.Imm.Ptr.Provenance.Alloc)
	if a == nil {
		return diag.New(diag.KindDanglingPointerDeref, "argument is a dangling pointer")
	}
	base := slot.Imm.Ptr.Addr - a.Base
	newTag := in.freshTag()
	cid := f.CallID
	if ev := in.grantRetag(a, base, ty.Pointee, slot.Imm.Ptr.Provenance.Tag, newTag, false, ty.RefMut, &cid); ev != nil {
		return ev
	}
	slot.Imm.Ptr.Provenance = provenance.Concrete(slot.Imm.Ptr.Provenance.Alloc, newTag)
	return nil
}
