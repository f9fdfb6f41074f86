// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rangemap implements component C: an interval-keyed
// associative container over the u64 offsets of one allocation, used
// by the aliasing enforcer (borrow stacks), the race detector (vector
// clocks) and the weak-memory engine (store buffers).
package rangemap

import "golang.org/x/exp/slices"

// entry is one maintained interval [start, end) with its value.
type entry[V any] struct {
	start, end uint64
	val        V
}

// Map is a generic, non-overlapping interval map covering [0, Size).
// New starts it as a single entry holding zero() over the whole range;
// splits copy the value of the entry they cut.
type Map[V any] struct {
	size    uint64
	entries []entry[V]
	zero    func() V
}

// New creates a Map covering [0, size) where every offset initially
// maps to zero().
func New[V any](size uint64, zero func() V) *Map[V] {
	m := &Map[V]{size: size, zero: zero}
	if size > 0 {
		m.entries = []entry[V]{{0, size, zero()}}
	}
	return m
}

func (m *Map[V]) indexOf(offset uint64) int {
	return sort_Search(len(m.entries), func(i int) bool { return m.entries[i].end > offset })
}

// sort_Search mirrors sort.Search without importing "sort" twice; kept
// local so the package has a single obvious entry point for the
// binary-search helper slices.BinarySearchFunc generalizes elsewhere.
func sort_Search(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if !f(mid) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// GetAt returns a pointer to the value covering offset, or nil when
// offset lies outside [0, size). It never splits an entry.
func (m *Map[V]) GetAt(offset uint64) *V {
	i := m.indexOf(offset)
	if i >= len(m.entries) || m.entries[i].start > offset {
		return nil
	}
	return &m.entries[i].val
}

// split ensures a boundary exists at off (off must be within [0,
// size]); it never merges, callers of IterMut rely on that to see
// exact coverage of their requested range.
func (m *Map[V]) split(off uint64) {
	if off == 0 || off == m.size {
		return
	}
	i := m.indexOf(off)
	if i >= len(m.entries) {
		return
	}
	e := m.entries[i]
	if e.start == off {
		return
	}
	left := entry[V]{e.start, off, e.val}
	right := entry[V]{off, e.end, cloneValue(e.val)}
	m.entries = slices.Insert(m.entries, i, left)
	m.entries[i+1] = right
}

// cloneValue is a shallow copy: V is expected to be a small
// value-ish type (a borrow stack slice header, a vector-clock map
// reference, ...); callers own deep-copy semantics if they need them.
func cloneValue[V any](v V) V { return v }

// Subrange is one (offset-range, *value) pair yielded by IterMut.
type Subrange[V any] struct {
	Start, End uint64
	Val        *V
}

// IterMut splits existing intervals at the boundaries of
// [offset, offset+length) and returns pointers into the map so the
// caller can mutate each covered sub-range in place, per spec.md §4.C.
func (m *Map[V]) IterMut(offset, length uint64) []Subrange[V] {
	if length == 0 {
		return nil
	}
	end := offset + length
	m.split(offset)
	m.split(end)

	var out []Subrange[V]
	for i := range m.entries {
		e := &m.entries[i]
		if e.start >= end {
			break
		}
		if e.end <= offset {
			continue
		}
		out = append(out, Subrange[V]{Start: e.start, End: e.end, Val: &e.val})
	}
	return out
}

// Size returns the covered length.
func (m *Map[V]) Size() uint64 { return m.size }
