// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package evalctx implements component H: the frame stack, local
// slots, place/operand evaluation and the rvalue assignment dispatcher
// of spec.md §4.H. Its Interp type is the "interpreter context" spec.md
// §9 describes as owning every piece of global mutable state, composed
// from components A-G the way the teacher's runtime composes the
// allocator, channel locks and goroutine scheduler under one process.
package evalctx

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
)

// SlotKind distinguishes the three local-slot shapes of spec.md §4.H.
type SlotKind int

const (
	SlotUninit SlotKind = iota
	SlotImmediate
	SlotBacking
)

// LocalSlot is one frame-local variable's storage (spec.md §4.H
// "Local slots").
type LocalSlot struct {
	Kind  SlotKind
	Imm   memstore.Scalar // SlotImmediate
	Alloc ids.AllocID     // SlotBacking
}

// Frame is one activation record (spec.md §4.H).
type Frame struct {
	Body *mir.Body

	Locals []LocalSlot
	Tags   []ids.Tag // parallel to Locals: the tag last retagged into each ref/box-shaped local

	Block BlockIndex
	Stmt  int // index into the current block's Statements; len(Statements) means "at the terminator"

	CallID      ids.CallID
	UnwindTo    *mir.BlockID
	ReturnPlace *CallerSlot // where to write this frame's return value on normal return

	// StackAllocPool backs locals promoted to memory: one allocation
	// per promoted local, lazily created (spec.md §4.H "promoted to
	// memory lazily").
	stackAllocPool map[mir.LocalID]ids.AllocID
}

// BlockIndex is the currently executing basic block within Frame.Body.
type BlockIndex = mir.BlockID

// CallerSlot names the destination place a callee's return value is
// written to; TermReturn resolves it against whichever frame is on top
// of the thread's stack once the callee's frame is popped.
type CallerSlot struct {
	Place mir.Place
}

func newFrame(body *mir.Body, callID ids.CallID) *Frame {
	f := &Frame{
		Body:           body,
		Locals:         make([]LocalSlot, len(body.Locals)),
		Tags:           make([]ids.Tag, len(body.Locals)),
		CallID:         callID,
		stackAllocPool: map[mir.LocalID]ids.AllocID{},
	}
	return f
}

// promote lazily backs local l with a real allocation the first time
// an operation needs its address (spec.md §4.H).
func (f *Frame) promote(interp *Interp, l mir.LocalID) (ids.AllocID, *diag.Event) {
	if id, ok := f.stackAllocPool[l]; ok {
		return id, nil
	}
	ty := f.Body.Locals[l].Ty
	id, ev := interp.Store.Allocate(ty.Size, ty.Align, ids.KindStackLocal, ids.Mutable)
	if ev != nil {
		return 0, ev
	}
	interp.NoticeAllocCreated(id, ids.KindStackLocal, ty.Size)
	f.stackAllocPool[l] = id
	slot := &f.Locals[l]
	if slot.Kind == SlotImmediate {
		_ = interp.Store.WriteScalar(id, 0, ty.Size, slot.Imm)
	}
	slot.Kind = SlotBacking
	slot.Alloc = id
	return id, nil
}

// popFrame releases every allocation this frame promoted, matching the
// teacher's stack-discipline deallocation of locals on return. This is
// interpreter bookkeeping, not emulated-program behaviour, so it uses
// Store.Release rather than Deallocate (stack locals are exempt from
// deallocate-by-the-emulated-program in the first place).
func (f *Frame) popFrame(interp *Interp) {
	for _, id := range f.stackAllocPool {
		interp.Store.Release(id)
		interp.NoticeAllocFreed(id)
	}
}

// resolvedPlace is the result of evaluating a mir.Place: a concrete
// memory address, its static type, and the aliasing tag (the tag of
// the last pointer dereferenced to reach it, or ids.UntaggedTag for a
// direct local access) that every load/store through it must present
// to the borrow stacks.
type resolvedPlace struct {
	Alloc ids.AllocID
	Off   uint64
	Ty    *mir.Ty
	Tag   ids.Tag
}
