// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package borrow

import (
	"fmt"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/rangemap"
)

const extrasKey = "borrow.stacks"
const historyKey = "borrow.history"

// AccessKind distinguishes read and write accesses (spec.md §3.3).
type AccessKind int

const (
	Read AccessKind = iota
	Write
)

// RefKind distinguishes the three reborrow shapes of spec.md §3.3.
type RefKind int

const (
	RefUnique RefKind = iota // strong write grant
	RefSharedReadWrite
	RefSharedReadOnly // strong-for-read grant
)

// historyEntry is one record in the bounded per-allocation ring buffer
// that enriches BorrowStackViolation diagnostics (SPEC_FULL.md §4).
type historyEntry struct {
	Tag    ids.Tag
	Op     string
	Offset uint64
}

type history struct {
	entries []historyEntry
	cap     int
}

func (h *history) record(tag ids.Tag, op string, off uint64) {
	h.entries = append(h.entries, historyEntry{tag, op, off})
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// forTag returns the recorded entries touching tag, oldest first, used
// to enrich a BorrowStackViolation with "tag N was last accessed here"
// context (SPEC_FULL.md §4).
func (h *history) forTag(tag ids.Tag) []historyEntry {
	var out []historyEntry
	for _, e := range h.entries {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// Enforcer implements component D's operations over an allocation
// store. It is stateless except for the configured history depth;
// all per-location state lives inside each Allocation's Extras map so
// memstore never needs to import this package.
type Enforcer struct {
	HistoryDepth int
	Enabled      bool
}

func New(enabled bool, historyDepth int) *Enforcer {
	if historyDepth <= 0 {
		historyDepth = 8
	}
	return &Enforcer{Enabled: enabled, HistoryDepth: historyDepth}
}

func (e *Enforcer) stacksFor(a *memstore.Allocation) *rangemap.Map[Stack] {
	if m, ok := a.Extras[extrasKey].(*rangemap.Map[Stack]); ok {
		return m
	}
	m := rangemap.New[Stack](a.Size, NewStack)
	a.Extras[extrasKey] = m
	return m
}

func (e *Enforcer) historyFor(a *memstore.Allocation) *history {
	if h, ok := a.Extras[historyKey].(*history); ok {
		return h
	}
	h := &history{cap: e.HistoryDepth}
	a.Extras[historyKey] = h
	return h
}

func (e *Enforcer) violation(a *memstore.Allocation, tag ids.Tag, off uint64, s *Stack, action string) *diag.Event {
	ev := diag.New(diag.KindBorrowStackViolation,
		"attempting a %s using %s at offset %d of %s, but that tag does not exist in the borrow stack",
		action, tag, off, a.ID).
		With("alloc_id", a.ID).
		With("tag", fmt.Sprint(tag)).
		With("offset", off).
		With("stack", s.Items())
	if h, ok := a.Extras[historyKey].(*history); ok {
		if recent := h.forTag(tag); len(recent) > 0 {
			ev = ev.With("tag_history", recent)
		}
	}
	return ev
}

// BeforeAccess is invoked by the evaluation context's checked scalar
// reads and writes before each access (spec.md §4.D).
func (e *Enforcer) BeforeAccess(a *memstore.Allocation, off, n uint64, tag ids.Tag, kind AccessKind) *diag.Event {
	if !e.Enabled || n == 0 {
		return nil
	}
	m := e.stacksFor(a)
	h := e.historyFor(a)
	for _, sub := range m.IterMut(off, n) {
		s := sub.Val
		idx := s.findTop(tag)
		if idx < 0 {
			return e.violation(a, tag, sub.Start, s, accessName(kind))
		}
		perm := s.items[idx].Perm
		if kind == Read && !perm.grantsRead() {
			return e.violation(a, tag, sub.Start, s, "read")
		}
		if kind == Write && !perm.grantsWrite() {
			return e.violation(a, tag, sub.Start, s, "write")
		}
		if kind == Write {
			s.popForWrite(idx)
			h.record(tag, "write", sub.Start)
		} else {
			s.popForRead(idx)
			h.record(tag, "read", sub.Start)
		}
	}
	return nil
}

func accessName(k AccessKind) string {
	if k == Write {
		return "write access"
	}
	return "read access"
}

// BeforeDealloc is invoked before an allocation is freed (spec.md
// §4.D). Any popped item carrying an active protector is UB.
func (e *Enforcer) BeforeDealloc(a *memstore.Allocation, tag ids.Tag, activeProtectors map[ids.CallID]bool) *diag.Event {
	if !e.Enabled {
		return nil
	}
	m := e.stacksFor(a)
	for _, sub := range m.IterMut(0, a.Size) {
		s := sub.Val
		idx := s.findTop(tag)
		if idx < 0 || !s.items[idx].Perm.grantsWrite() {
			return e.violation(a, tag, sub.Start, s, "deallocation")
		}
		dropped := s.truncateAbove(idx - 1)
		for _, it := range dropped {
			if it.Protector != nil && activeProtectors[*it.Protector] {
				return diag.New(diag.KindBorrowStackViolation,
					"deallocating %s would pop protected tag %s at offset %d", a.ID, it.Tag, sub.Start).
					With("alloc_id", a.ID).With("protected_tag", fmt.Sprint(it.Tag))
			}
		}
	}
	return nil
}

// Retag implements spec.md §4.D's retag operation for a single
// contiguous byte range already classified into frozen/non-frozen by
// the caller (component H walks the type). parentTag derives newTag;
// protector is attached to the inserted items when non-nil.
func (e *Enforcer) Retag(a *memstore.Allocation, off, n uint64, parentTag, newTag ids.Tag, kind RefKind, protector *ids.CallID) *diag.Event {
	if !e.Enabled || n == 0 {
		return nil
	}
	m := e.stacksFor(a)
	for _, sub := range m.IterMut(off, n) {
		s := sub.Val
		idx := s.findTop(parentTag)
		if idx < 0 {
			return e.violation(a, parentTag, sub.Start, s, "reborrow")
		}
		switch kind {
		case RefUnique:
			if !s.items[idx].Perm.grantsWrite() {
				return e.violation(a, parentTag, sub.Start, s, "unique reborrow")
			}
			s.popForWrite(idx)
			s.push(Item{Perm: Unique, Tag: newTag, Protector: protector})
		case RefSharedReadWrite:
			// Weak grant: no access check, insert just above the
			// write-compatibility boundary (the end of the contiguous
			// run of SharedReadWrite items already sitting above the
			// grantor), not immediately above the grantor itself.
			s.insertAt(s.writeCompatBoundary(idx), Item{Perm: SharedReadWrite, Tag: newTag, Protector: protector})
		case RefSharedReadOnly:
			if !s.items[idx].Perm.grantsRead() {
				return e.violation(a, parentTag, sub.Start, s, "shared reborrow")
			}
			s.popForRead(idx)
			// popForRead may have truncated the stack down to idx when
			// the parent was Unique; re-find it before pushing.
			idx = s.findTop(parentTag)
			s.push(Item{Perm: SharedReadOnly, Tag: newTag, Protector: protector})
		}
	}
	return nil
}

// GC removes tags unreachable from `live` (computed by the caller by
// walking pointers in memory and frame locals), keeping any item that
// carries an active protector regardless of reachability (spec.md
// §4.D). This is purely an optimisation: correctness never depends on
// when it runs.
func (e *Enforcer) GC(a *memstore.Allocation, live map[ids.Tag]bool) {
	if !e.Enabled {
		return
	}
	m, ok := a.Extras[extrasKey].(*rangemap.Map[Stack])
	if !ok {
		return
	}
	for _, sub := range m.IterMut(0, a.Size) {
		s := sub.Val
		kept := s.items[:0:0]
		for _, it := range s.items {
			if it.Tag == ids.UntaggedTag || live[it.Tag] || it.Protector != nil {
				kept = append(kept, it)
			}
		}
		s.items = kept
	}
}
