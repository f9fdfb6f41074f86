// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"

	"github.com/mirvm/interp/internal/diag"
)

// evalOperand implements spec.md §4.H's operand evaluation: a constant
// materialises directly, a copy/move reads a place.
func (in *Interp) evalOperand(t ids.ThreadID, f *Frame, op mir.Operand) (memstore.Scalar, *diag.Event) {
	if op.Kind == mir.OperandConstant {
		return memstore.Scalar{Bits: op.ConstU64, Size: 8}, nil
	}
	return in.evalPlaceRead(t, f, op.Place, op.Kind == mir.OperandMove)
}

// evalOperandScalar is the alias index-projection evaluation uses; an
// index is always read (never moved).
func (in *Interp) evalOperandScalar(t ids.ThreadID, f *Frame, op mir.Operand) (memstore.Scalar, *diag.Event) {
	if op.Kind == mir.OperandMove {
		op.Kind = mir.OperandCopy
	}
	return in.evalOperand(t, f, op)
}

// evalPlaceRead reads p's current value. A bare local (no projections)
// that has not yet been promoted to a backing allocation is read
// straight out of its LocalSlot, skipping the borrow/race checks that
// only apply once a local's address has escaped into real memory
// (spec.md §4.H "local slots ... promoted to memory lazily").
func (in *Interp) evalPlaceRead(t ids.ThreadID, f *Frame, p mir.Place, isMove bool) (memstore.Scalar, *diag.Event) {
	if len(p.Projections) == 0 {
		slot := &f.Locals[p.Local]
		switch slot.Kind {
		case SlotUninit:
			return memstore.Scalar{}, diag.New(diag.KindReadUninit, "read of uninitialised local %d", p.Local)
		case SlotImmediate:
			v := slot.Imm
			if isMove {
				slot.Kind = SlotUninit
				slot.Imm = memstore.Scalar{}
			}
			return v, nil
		}
	}
	rp, ev := in.place(t, f, p)
	if ev != nil {
		return memstore.Scalar{}, ev
	}
	return in.readPlace(t, rp)
}

// assignPlace writes v to p, implementing spec.md §4.H's assignment
// side: a bare, not-yet-promoted local is written straight into its
// LocalSlot.
func (in *Interp) assignPlace(t ids.ThreadID, f *Frame, p mir.Place, v memstore.Scalar) *diag.Event {
	if len(p.Projections) == 0 {
		slot := &f.Locals[p.Local]
		if slot.Kind != SlotBacking {
			slot.Kind = SlotImmediate
			slot.Imm = v
			return nil
		}
	}
	rp, ev := in.place(t, f, p)
	if ev != nil {
		return ev
	}
	return in.writePlace(t, rp, v)
}

// assignAggregate writes one scalar per struct field (or, for an
// array-shaped destination, per uniformly-strided element) of dest,
// covering spec.md §4.H's aggregate construction, array-repeat and
// checked-binary-op (result, overflow) assignments.
func (in *Interp) assignAggregate(t ids.ThreadID, f *Frame, dest mir.Place, elems []memstore.Scalar) *diag.Event {
	rp, ev := in.place(t, f, dest)
	if ev != nil {
		return ev
	}
	switch rp.Ty.Kind {
	case mir.KindStruct:
		if len(elems) != len(rp.Ty.Fields) {
			return diag.New(diag.KindUnsupportedFeature, "aggregate field count %d does not match destination type with %d fields", len(elems), len(rp.Ty.Fields))
		}
		for i, v := range elems {
			fld := rp.Ty.Fields[i]
			if ev := in.writeScalarChecked(t, rp.Alloc, rp.Off+fld.Offset, fld.Ty.Size, rp.Tag, v); ev != nil {
				return ev
			}
		}
		return nil
	case mir.KindArray:
		if uint64(len(elems)) != rp.Ty.Count {
			return diag.New(diag.KindUnsupportedFeature, "aggregate element count %d does not match destination array of length %d", len(elems), rp.Ty.Count)
		}
		for i, v := range elems {
			off := rp.Off + uint64(i)*rp.Ty.Elem.Size
			if ev := in.writeScalarChecked(t, rp.Alloc, off, rp.Ty.Elem.Size, rp.Tag, v); ev != nil {
				return ev
			}
		}
		return nil
	default:
		return diag.New(diag.KindUnsupportedFeature, "aggregate assignment to a %v-shaped place", rp.Ty.Kind)
	}
}
