// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package borrow implements component D, the aliasing discipline
// enforcer ("Stacked Borrows") of spec.md §3.3/§4.D: per-byte stacks of
// borrow items consulted on every load, store, reborrow and
// deallocation.
package borrow

import "github.com/mirvm/interp/internal/ids"

// Permission is the grant strength of one stack item (spec.md §3.3).
type Permission int

const (
	Unique Permission = iota
	SharedReadWrite
	SharedReadOnly
	Disabled
)

func (p Permission) String() string {
	switch p {
	case Unique:
		return "Unique"
	case SharedReadWrite:
		return "SharedReadWrite"
	case SharedReadOnly:
		return "SharedReadOnly"
	default:
		return "Disabled"
	}
}

// grantsRead/grantsWrite implement the permission table of spec.md §3.3.
func (p Permission) grantsRead() bool {
	return p == Unique || p == SharedReadWrite || p == SharedReadOnly
}
func (p Permission) grantsWrite() bool { return p == Unique || p == SharedReadWrite }

// Item is one element of a borrow stack.
type Item struct {
	Perm      Permission
	Tag       ids.Tag
	Protector *ids.CallID
}

// Stack is a per-byte stack of items; index 0 is the bottom, the last
// element is the top (spec.md §3.3).
type Stack struct {
	items []Item
}

// NewStack returns the initial stack for a freshly allocated byte: a
// single untagged SharedReadWrite item, matching real Stacked Borrows'
// "bottom item" so that never-retagged raw memory stays freely
// read/write accessible until the first retag introduces discipline.
func NewStack() Stack {
	return Stack{items: []Item{{Perm: SharedReadWrite, Tag: ids.UntaggedTag}}}
}

func (s *Stack) Len() int      { return len(s.items) }
func (s *Stack) At(i int) Item { return s.items[i] }
func (s *Stack) Top() Item     { return s.items[len(s.items)-1] }
func (s *Stack) Items() []Item { out := make([]Item, len(s.items)); copy(out, s.items); return out }

// findTop returns the topmost index whose tag equals t, or -1.
func (s *Stack) findTop(t ids.Tag) int {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Tag == t {
			return i
		}
	}
	return -1
}

// truncateAbove keeps items[:keep+1], dropping everything above index
// keep. Returns the dropped items (for protector checking).
func (s *Stack) truncateAbove(keep int) []Item {
	dropped := append([]Item(nil), s.items[keep+1:]...)
	s.items = s.items[:keep+1]
	return dropped
}

// popForWrite implements the "write access" pop rule of spec.md §3.3: a
// run of SharedReadWrite items directly above the granting item is
// compatible with a raw write and is preserved; everything else above
// the granting item is popped. A Unique grant always pops everything
// above it, since an exclusive write invalidates any sibling raw
// pointers too.
func (s *Stack) popForWrite(grantIdx int) []Item {
	if s.items[grantIdx].Perm == Unique {
		return s.truncateAbove(grantIdx)
	}
	return s.truncateAbove(s.writeCompatBoundary(grantIdx) - 1)
}

// writeCompatBoundary returns the index one past the contiguous run of
// SharedReadWrite items directly above grantIdx: everything below this
// index (inclusive of the run) is compatible with a write through
// grantIdx, everything at or above it is not (Miri
// find_first_write_incompatible, src/stacked_borrows.rs:270). Callers
// that pop for a write truncate above index-1; callers that insert a
// new weak grant insert at this index.
func (s *Stack) writeCompatBoundary(grantIdx int) int {
	i := grantIdx + 1
	for i < len(s.items) && s.items[i].Perm == SharedReadWrite {
		i++
	}
	return i
}

// demoteUniquesAbove implements the "read access" rule of spec.md §3.3
// for a SharedReadWrite/SharedReadOnly grantor: every Unique above the
// granting item is demoted to Disabled, everything else is untouched
// (siblings with equally-weak or read-only permissions tolerate a
// read).
func (s *Stack) demoteUniquesAbove(grantIdx int) {
	for i := grantIdx + 1; i < len(s.items); i++ {
		if s.items[i].Perm == Unique {
			s.items[i].Perm = Disabled
		}
	}
}

// popForRead implements the read-access pop rule. A Unique grantor
// reasserts full exclusivity on every access, read or write, so a read
// through it pops everything above exactly like a write would
// (end-to-end scenario S3: reading through an exclusive reference
// invalidates raw pointers reborrowed from it). A SharedReadWrite or
// SharedReadOnly grantor only demotes Unique items above, since shared
// access tolerates coexisting weaker aliases.
func (s *Stack) popForRead(grantIdx int) []Item {
	if s.items[grantIdx].Perm == Unique {
		return s.truncateAbove(grantIdx)
	}
	s.demoteUniquesAbove(grantIdx)
	return nil
}

// insertAt inserts it at position idx (0 == bottom), shifting items up.
func (s *Stack) insertAt(idx int, it Item) {
	s.items = append(s.items, Item{})
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = it
}

// push inserts it at the top.
func (s *Stack) push(it Item) {
	// Deduplicate a no-op push of an item identical to the current top
	// (spec.md §4.D "optimisation-equivalent behaviour").
	if len(s.items) > 0 {
		top := s.items[len(s.items)-1]
		if top.Perm == it.Perm && top.Tag == it.Tag && protectorsEqual(top.Protector, it.Protector) {
			return
		}
	}
	s.items = append(s.items, it)
}

func protectorsEqual(a, b *ids.CallID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
