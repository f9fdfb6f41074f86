// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ids holds the small opaque identifier types shared by every
// layer of the interpreter (spec.md §3.1, §3.2, §3.3, §3.4). Keeping
// them in one leaf package lets memstore, provenance, borrow, race and
// sched refer to each other's keys without import cycles.
package ids

import "fmt"

// AllocID uniquely identifies an allocation for the lifetime of one
// interpreter run. Integer identity alone conveys no ordering
// information (spec.md §3.1): two ids being numerically close is an
// implementation detail, never something evaluated code may rely on.
type AllocID uint64

func (a AllocID) String() string { return fmt.Sprintf("alloc%d", uint64(a)) }

// Tag is the opaque per-pointer aliasing identifier consulted by the
// borrow stacks (spec.md §3.3).
type Tag uint64

func (t Tag) String() string { return fmt.Sprintf("tag%d", uint64(t)) }

// UntaggedTag is the sentinel tag used for untyped/raw memory that has
// never been retagged; per spec.md §3.3 it is the one tag allowed to
// repeat within a single borrow stack.
const UntaggedTag Tag = 0

// ThreadID identifies a thread; 0 is always the main thread
// (spec.md §4.F).
type ThreadID uint32

func (t ThreadID) String() string { return fmt.Sprintf("thread%d", uint32(t)) }

// CallID identifies an active call frame, used by protectors
// (spec.md §3.3, glossary "Protector").
type CallID uint64

// SyncID identifies a synchronization primitive (mutex, rwlock,
// condvar, init-once, futex), derived from its in-memory address
// per spec.md §6.4.2.
type SyncID uint64

// AllocKind is the allocation kind enumeration of spec.md §3.1. It
// governs leak policy and deallocation permissions, never byte
// semantics.
type AllocKind int

const (
	KindStackLocal AllocKind = iota
	KindHeapManaged
	KindHeapForeign
	KindMachineInternal
	KindLanguageRuntime
	KindGlobalConstant
	KindExternStatic
	KindThreadLocal
	KindCallerSupplied
)

func (k AllocKind) String() string {
	switch k {
	case KindStackLocal:
		return "stack-local"
	case KindHeapManaged:
		return "heap-managed"
	case KindHeapForeign:
		return "heap-foreign"
	case KindMachineInternal:
		return "machine-internal"
	case KindLanguageRuntime:
		return "language-runtime"
	case KindGlobalConstant:
		return "global-constant"
	case KindExternStatic:
		return "extern-static"
	case KindThreadLocal:
		return "thread-local"
	case KindCallerSupplied:
		return "caller-supplied"
	default:
		return "unknown"
	}
}

// ExemptFromLeakCheck reports whether allocations of this kind are
// exempt from leak reporting at process exit (spec.md §3.1).
func (k AllocKind) ExemptFromLeakCheck() bool {
	switch k {
	case KindGlobalConstant, KindExternStatic, KindThreadLocal, KindMachineInternal:
		return true
	default:
		return false
	}
}

// DeallocationForbidden reports whether this kind may never be passed
// to deallocate (spec.md §4.A, DeallocatingStatic).
func (k AllocKind) DeallocationForbidden() bool {
	switch k {
	case KindGlobalConstant, KindExternStatic, KindThreadLocal, KindMachineInternal, KindStackLocal:
		return true
	default:
		return false
	}
}

// Mutability is the allocation mutability attribute of spec.md §3.1.
type Mutability int

const (
	Mutable Mutability = iota
	Immutable
	FrozenAfterInit
)
