// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shim implements the external-symbol table of spec.md §6.1:
// a small, explicitly incomplete set of C/pthread entry points
// (SPEC_FULL.md §12 open question 3) sufficient to drive allocation,
// mutex/condvar and thread lifecycle scenarios end-to-end without a
// real libc. Each shim is grounded the same way the teacher grounds
// its own runtime entry points (malloc.go's mallocgc, chan.go's
// makechan): validate, mutate component state, return.
package shim

import (
	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/evalctx"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/provenance"
)

// RegisterAll installs every shim this package knows about into in.
func RegisterAll(in *evalctx.Interp) {
	in.RegisterShim("malloc", Malloc)
	in.RegisterShim("free", Free)
	in.RegisterShim("pthread_mutex_lock", MutexLock)
	in.RegisterShim("pthread_mutex_unlock", MutexUnlock)
	in.RegisterShim("pthread_cond_wait", CondWait)
	in.RegisterShim("pthread_cond_timedwait", CondTimedWait)
	in.RegisterShim("pthread_cond_signal", CondSignal)
	in.RegisterShim("pthread_cond_broadcast", CondBroadcast)
	in.RegisterShim("pthread_join", Join)
	in.RegisterShim("pthread_detach", Detach)
}

// syncIDOf derives a synchronization-primitive id from the address a
// pointer argument names, per spec.md §6.4.2.
func syncIDOf(v memstore.Scalar) ids.SyncID {
	if v.IsPtr {
		return ids.SyncID(v.Ptr.Addr)
	}
	return ids.SyncID(v.Bits)
}

// Malloc implements spec.md §6.1's malloc(size) -> ptr, modelled on the
// teacher's mallocgc: a zero-size request still returns a valid
// (zero-size) allocation rather than NULL, matching glibc's documented
// behaviour under SPEC_FULL.md §1's "informational rounding" note.
func Malloc(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "malloc expects 1 argument, got %d", len(args))
	}
	size := args[0].Bits
	id, ev := in.Store.Allocate(size, 8, ids.KindHeapManaged, ids.Mutable)
	if ev != nil {
		return ev
	}
	a := in.Store.Get(id)
	tag := in.FreshTag()
	if ev := in.Borrow.Retag(a, 0, size, ids.UntaggedTag, tag, borrow.RefUnique, nil); ev != nil {
		return ev
	}
	ptr := memstore.Scalar{
		IsPtr: true, Size: memstore.PtrSize,
		Ptr: provenance.Ptr{Provenance: provenance.Concrete(id, tag), Addr: a.Base},
	}
	in.NoticeAllocCreated(id, ids.KindHeapManaged, size)
	return in.AssignCurrent(t, dest, ptr)
}

// Free implements spec.md §6.1's free(ptr). Freeing a pointer whose
// allocation kind/size/align do not match a heap allocation surfaces
// WrongDeallocator via memstore.Store.Deallocate's own check (the S4
// scenario: freeing memory obtained from a different allocator).
func Free(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "free expects 1 argument, got %d", len(args))
	}
	p := args[0]
	if !p.IsPtr {
		return diag.New(diag.KindDanglingPointerDeref, "free of a non-pointer value")
	}
	var id ids.AllocID
	if p.Ptr.Provenance.Kind == provenance.KindConcrete {
		id = p.Ptr.Provenance.Alloc
	} else {
		lr := in.Addrs.Resolve(p.Ptr.Addr)
		if !lr.Found {
			return diag.New(diag.KindDanglingPointerDeref, "free of an unresolvable pointer")
		}
		id = lr.ID
	}
	a := in.Store.Get(id)
	if a == nil {
		return diag.New(diag.KindDoubleFree, "free of an already-freed allocation")
	}
	if ev := in.Borrow.BeforeDealloc(a, p.Ptr.Provenance.Tag, nil); ev != nil {
		return ev
	}
	if ev := in.Store.Deallocate(id, a.Size, a.Align, ids.KindHeapManaged); ev != nil {
		return ev
	}
	in.NoticeAllocFreed(id)
	return nil
}

// MutexLock implements pthread_mutex_lock, modelled on the teacher's
// gopark/goready pairing: a busy mutex parks the calling thread via
// Registry.Lock itself (component F's scheduler then simply never
// re-selects a blocked thread for ExecuteStep), so the call always
// "returns" here and control resumes transparently once Unlock's wake
// logic has already handed this thread ownership.
func MutexLock(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_mutex_lock expects 1 argument")
	}
	id := syncIDOf(args[0])
	th := in.Sched.Get(t)
	if clock, ok := in.Sync.Lock(id, t, th.Clock); ok {
		th.Clock = clock
	}
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// MutexUnlock implements pthread_mutex_unlock.
func MutexUnlock(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_mutex_unlock expects 1 argument")
	}
	id := syncIDOf(args[0])
	th := in.Sched.Get(t)
	if ev := in.Sync.Unlock(id, t, th.Clock); ev != nil {
		return ev
	}
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// CondWait implements pthread_cond_wait(cond, mutex); like MutexLock,
// the park happens inside Registry.Wait and control resumes past this
// call once the scheduler re-enables the thread.
func CondWait(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 2 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_cond_wait expects 2 arguments")
	}
	condID, mutexID := syncIDOf(args[0]), syncIDOf(args[1])
	th := in.Sched.Get(t)
	in.Sync.Wait(condID, mutexID, t, th.Clock)
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// CondTimedWait implements pthread_cond_timedwait(cond, mutex,
// timeout_ticks); the timeout fires as an ExecuteTimeoutCallback cycle
// that re-acquires the mutex the same way a spurious wake would
// (re-acquisition-before-timeout-report, SPEC_FULL.md §7).
func CondTimedWait(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 3 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_cond_timedwait expects 3 arguments")
	}
	condID, mutexID, ticks := syncIDOf(args[0]), syncIDOf(args[1]), args[2].Bits
	th := in.Sched.Get(t)
	in.Sync.Wait(condID, mutexID, t, th.Clock)
	in.Sched.RegisterTimeout(t, ticks, func() {
		in.Sched.Unblock(t)
	})
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// CondSignal implements pthread_cond_signal.
func CondSignal(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_cond_signal expects 1 argument")
	}
	th := in.Sched.Get(t)
	in.Sync.Signal(syncIDOf(args[0]), th.Clock)
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// CondBroadcast implements pthread_cond_broadcast.
func CondBroadcast(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_cond_broadcast expects 1 argument")
	}
	th := in.Sched.Get(t)
	in.Sync.Broadcast(syncIDOf(args[0]), th.Clock)
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// Join implements pthread_join(thread). A successful join joins the
// target's final clock into the joiner's, the happens-before edge
// spec.md §4.F's join rule establishes.
func Join(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_join expects 1 argument")
	}
	target := ids.ThreadID(args[0].Bits)
	immediate, ev := in.Sched.Join(t, target)
	if ev != nil {
		return ev
	}
	if immediate {
		th, tt := in.Sched.Get(t), in.Sched.Get(target)
		th.Clock = th.Clock.Join(tt.Clock)
	}
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}

// Detach implements pthread_detach(thread).
func Detach(in *evalctx.Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event {
	if len(args) != 1 {
		return diag.New(diag.KindUnsupportedFeature, "pthread_detach expects 1 argument")
	}
	target := ids.ThreadID(args[0].Bits)
	if ev := in.Sched.Detach(target); ev != nil {
		return ev
	}
	return in.AssignCurrent(t, dest, memstore.Scalar{Bits: 0, Size: 4})
}
