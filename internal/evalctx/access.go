// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/race"
)

// checkAccess runs a byte range through the borrow stacks and the race
// detector before the caller touches the allocation store, implementing
// the "before every load/store" hooks of spec.md §4.D/§4.E. atomic
// selects the race engine's atomicity-aware happens-before rule; a
// non-atomic write additionally clears any weak-memory store buffer it
// touches (spec.md §4.E "non-atomic writes ... establish a fresh
// baseline").
func (in *Interp) checkAccess(t ids.ThreadID, alloc ids.AllocID, off, size uint64, tag ids.Tag, kind borrow.AccessKind, atomic bool) *diag.Event {
	a := in.Store.Get(alloc)
	if a == nil {
		return nil // the scalar/byte operation itself reports dangling-deref
	}
	if ev := in.Borrow.BeforeAccess(a, off, size, tag, kind); ev != nil {
		return ev
	}
	th := in.Sched.Get(t)
	raceKind := race.Read
	if kind == borrow.Write {
		raceKind = race.Write
	}
	if ev := in.Race.BeforeAccess(a, off, size, t, th.Clock, raceKind, atomic); ev != nil {
		return ev
	}
	if kind == borrow.Write && !atomic {
		in.Race.ResetNonAtomic(a, off, size)
	}
	return nil
}

// readScalarChecked reads a typed scalar after clearing it through the
// borrow and race checks.
func (in *Interp) readScalarChecked(t ids.ThreadID, alloc ids.AllocID, off, size uint64, tag ids.Tag) (memstore.Scalar, *diag.Event) {
	if ev := in.checkAccess(t, alloc, off, size, tag, borrow.Read, false); ev != nil {
		return memstore.Scalar{}, ev
	}
	return in.Store.ReadScalar(alloc, off, size)
}

// writeScalarChecked writes a typed scalar after clearing it through
// the borrow and race checks.
func (in *Interp) writeScalarChecked(t ids.ThreadID, alloc ids.AllocID, off, size uint64, tag ids.Tag, v memstore.Scalar) *diag.Event {
	if ev := in.checkAccess(t, alloc, off, size, tag, borrow.Write, false); ev != nil {
		return ev
	}
	return in.Store.WriteScalar(alloc, off, size, v)
}

// readPlace reads the scalar currently stored at a resolved place.
func (in *Interp) readPlace(t ids.ThreadID, rp resolvedPlace) (memstore.Scalar, *diag.Event) {
	return in.readScalarChecked(t, rp.Alloc, rp.Off, rp.Ty.Size, rp.Tag)
}

// writePlace writes v to a resolved place.
func (in *Interp) writePlace(t ids.ThreadID, rp resolvedPlace, v memstore.Scalar) *diag.Event {
	return in.writeScalarChecked(t, rp.Alloc, rp.Off, rp.Ty.Size, rp.Tag, v)
}
