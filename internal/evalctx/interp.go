// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/metrics"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/obslog"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/mirvm/interp/internal/race"
	"github.com/mirvm/interp/internal/sched"
	"github.com/mirvm/interp/internal/syncprim"
)

// Interp is the single interpreter context spec.md §9 describes:
// every piece of global mutable state threaded through one run, owned
// by exactly one struct (no process-wide state).
type Interp struct {
	Store    *memstore.Store
	Addrs    *provenance.AddressSpace
	Borrow   *borrow.Enforcer
	Race     *race.Engine
	Sched    *sched.Manager
	Sync     *syncprim.Registry
	Log      *obslog.Logger
	Diag     *diag.Sink
	Metrics  *metrics.Collector
	IntToPtr provenance.IntToPtrMode

	Bodies map[mir.DefID]*mir.Body

	// ShimTable holds every registered external-symbol implementation,
	// populated by package shim at startup (spec.md §6.1).
	ShimTable map[string]ShimFunc

	// TrackedAllocs is the --track-alloc set of spec.md §6.2: allocation
	// ids to emit created/freed/size-class-rounding notices for. Nil or
	// empty disables tracking entirely (the common case).
	TrackedAllocs map[ids.AllocID]bool

	// frames is indexed by thread id; each thread owns its own call
	// stack (spec.md §3.4 "a per-thread frame stack").
	frames map[ids.ThreadID][]*Frame

	nextTag  ids.Tag
	nextCall ids.CallID
}

// New assembles an Interp from already-constructed components, mirroring
// the way a driver wires component A-G together before running.
func New(store *memstore.Store, addrs *provenance.AddressSpace, be *borrow.Enforcer, re *race.Engine, sm *sched.Manager, sp *syncprim.Registry, log *obslog.Logger, sink *diag.Sink, mc *metrics.Collector, mode provenance.IntToPtrMode) *Interp {
	return &Interp{
		Store: store, Addrs: addrs, Borrow: be, Race: re, Sched: sm, Sync: sp, Log: log, Diag: sink, Metrics: mc, IntToPtr: mode,
		Bodies:  map[mir.DefID]*mir.Body{},
		frames:  map[ids.ThreadID][]*Frame{},
		nextTag: 1, // 0 is ids.UntaggedTag
	}
}

// emit routes a non-halting diagnostic to the sink rather than
// returning it up the call chain as a statement failure (spec.md §4.J:
// only halting kinds stop the loop). Counting is left to the sink's
// OnFlush callback, which sees every emitted event once.
func (in *Interp) emit(ev *diag.Event) {
	if ev == nil {
		return
	}
	in.Diag.Emit(ev)
}

func (in *Interp) freshTag() ids.Tag {
	t := in.nextTag
	in.nextTag++
	return t
}

// FreshTag mints a new borrow tag, exported for package shim's own
// allocation-returning shims (malloc et al.) which need to grant a
// fresh unique borrow the same way a Box::new would.
func (in *Interp) FreshTag() ids.Tag { return in.freshTag() }

// NoticeAllocCreated emits the one-shot "created-alloc notice" of
// spec.md §4.J when id is in the --track-alloc set, alongside a
// size-class-rounding notice (SPEC_FULL.md §1, memstore.RoundedSize)
// ported from the teacher's msize.go table.
func (in *Interp) NoticeAllocCreated(id ids.AllocID, kind ids.AllocKind, size uint64) {
	if len(in.TrackedAllocs) == 0 || !in.TrackedAllocs[id] {
		return
	}
	in.emit(diag.New(diag.KindNoticeAllocCreated, "allocation %s created (kind=%s, size=%d)", id, kind, size).
		With("alloc_id", id).With("kind", kind.String()).With("size", size))
	if rounded := memstore.RoundedSize(size); rounded != size {
		in.emit(diag.New(diag.KindNoticeSizeClassRounded,
			"allocation %s of %d bytes would have been rounded to %d bytes by a size-classed allocator", id, size, rounded).
			With("alloc_id", id).With("requested", size).With("rounded", rounded))
	}
}

// NoticeAllocFreed emits the "freed-alloc notice" of spec.md §4.J when
// id is in the --track-alloc set.
func (in *Interp) NoticeAllocFreed(id ids.AllocID) {
	if len(in.TrackedAllocs) == 0 || !in.TrackedAllocs[id] {
		return
	}
	in.emit(diag.New(diag.KindNoticeAllocFreed, "allocation %s freed", id).With("alloc_id", id))
}

func (in *Interp) freshCallID() ids.CallID {
	c := in.nextCall
	in.nextCall++
	return c
}

// Frames returns thread t's call stack, top last.
func (in *Interp) Frames(t ids.ThreadID) []*Frame { return in.frames[t] }

func (in *Interp) topFrame(t ids.ThreadID) *Frame {
	fs := in.frames[t]
	if len(fs) == 0 {
		return nil
	}
	return fs[len(fs)-1]
}

// PushFrame starts a new call of body on thread t (spec.md §4.H).
// Arguments are written into locals [1, ArgCount] before control
// enters block 0, and each Ref/Box-typed argument is retagged with a
// protector for this call. The return place is not retagged: the
// callee's return value stays in local 0 and is copied into the
// caller's destination place on TermReturn.
func (in *Interp) PushFrame(t ids.ThreadID, body *mir.Body, args []memstore.Scalar, ret *CallerSlot) (*Frame, *diag.Event) {
	callID := in.freshCallID()
	f := newFrame(body, callID)
	f.ReturnPlace = ret
	for i, a := range args {
		f.Locals[mir.LocalID(i+1)] = LocalSlot{Kind: SlotImmediate, Imm: a}
	}
	for i := 1; i <= body.ArgCount; i++ {
		if ev := in.retagParam(f, mir.LocalID(i)); ev != nil {
			return nil, ev
		}
	}
	in.frames[t] = append(in.frames[t], f)
	in.Sched.Get(t).PushFrame()
	return f, nil
}

// PopFrame ends the current call on thread t, releasing every
// allocation it promoted.
func (in *Interp) PopFrame(t ids.ThreadID) *Frame {
	fs := in.frames[t]
	f := fs[len(fs)-1]
	f.popFrame(in)
	in.frames[t] = fs[:len(fs)-1]
	in.Sched.Get(t).PopFrame()
	return f
}

// place resolves a mir.Place against frame f into a concrete
// (allocation, offset, type, access-tag), promoting the base local to
// memory if a projection needs an address (spec.md §4.H "Place ...
// evaluation"). The access tag starts as ids.UntaggedTag (a stack
// local's own footprint is never itself reborrowed) and becomes the
// dereferenced pointer's tag at each ProjDeref, so the borrow check
// always consults the tag that actually named the accessed bytes.
func (in *Interp) place(t ids.ThreadID, f *Frame, p mir.Place) (resolvedPlace, *diag.Event) {
	allocID, ev := f.promote(in, p.Local)
	if ev != nil {
		return resolvedPlace{}, ev
	}
	ty := f.Body.Locals[p.Local].Ty
	off := uint64(0)
	tag := ids.UntaggedTag
	for _, proj := range p.Projections {
		switch proj.Kind {
		case mir.ProjField:
			if ty.Kind != mir.KindStruct || proj.Field >= len(ty.Fields) {
				return resolvedPlace{}, diag.New(diag.KindUnsupportedFeature, "field projection on non-struct type")
			}
			off += ty.Fields[proj.Field].Offset
			ty = ty.Fields[proj.Field].Ty
		case mir.ProjIndex:
			if ty.Kind != mir.KindArray {
				return resolvedPlace{}, diag.New(diag.KindUnsupportedFeature, "index projection on non-array type")
			}
			idx, ev := in.evalOperandScalar(t, f, proj.Index)
			if ev != nil {
				return resolvedPlace{}, ev
			}
			if idx.Bits >= ty.Count {
				return resolvedPlace{}, diag.New(diag.KindPointerOutOfBounds, "index %d out of bounds for array of length %d", idx.Bits, ty.Count)
			}
			off += idx.Bits * ty.Elem.Size
			ty = ty.Elem
		case mir.ProjDeref:
			sc, ev := in.readScalarChecked(t, allocID, off, ty.Size, tag)
			if ev != nil {
				return resolvedPlace{}, ev
			}
			if !sc.IsPtr {
				return resolvedPlace{}, diag.New(diag.KindDanglingPointerDeref, "deref of a non-pointer scalar")
			}
			lr := in.Addrs.Resolve(sc.Ptr.Addr)
			if !lr.Found {
				return resolvedPlace{}, diag.New(diag.KindDanglingPointerDeref, "deref of an unresolvable pointer").With("addr", sc.Ptr.Addr)
			}
			allocID = lr.ID
			off = lr.Offset
			tag = sc.Ptr.Provenance.Tag
			switch ty.Kind {
			case mir.KindRef, mir.KindBox, mir.KindPtr:
				ty = ty.Pointee
			default:
				return resolvedPlace{}, diag.New(diag.KindUnsupportedFeature, "deref of non-pointer-shaped type")
			}
		case mir.ProjDowncast:
			if ty.Kind != mir.KindEnum || proj.Variant >= len(ty.Variants) {
				return resolvedPlace{}, diag.New(diag.KindInvalidDiscriminant, "downcast to out-of-range variant")
			}
			ty = &mir.Ty{Kind: mir.KindStruct, Fields: ty.Variants[proj.Variant].Fields, Size: ty.Size, Align: ty.Align}
		}
	}
	return resolvedPlace{Alloc: allocID, Off: off, Ty: ty, Tag: tag}, nil
}
