// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package race implements component E: vector-clock-based
// happens-before tracking, release/acquire/fence synchronisation,
// read-modify-write chains and weak-memory store buffers
// (spec.md §3.4, §4.E).
package race

import "github.com/mirvm/interp/internal/ids"

// Clock is a per-thread-indexed monotone timestamp map
// (spec.md glossary "Vector clock"). The zero value is a valid empty
// clock (every component implicitly 0).
type Clock map[ids.ThreadID]uint64

// Clone returns an independent copy.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// At returns the logical time for thread t (0 if never recorded).
func (c Clock) At(t ids.ThreadID) uint64 { return c[t] }

// Tick increments the component for thread t in place and returns the
// receiver, used when a thread advances its own clock on each step.
func (c Clock) Tick(t ids.ThreadID) Clock {
	c[t] = c[t] + 1
	return c
}

// Join merges other into c component-wise (the max of each entry),
// the standard vector-clock join used on synchronisation edges.
func (c Clock) Join(other Clock) Clock {
	for k, v := range other {
		if v > c[k] {
			c[k] = v
		}
	}
	return c
}

// Joined returns a new clock equal to the component-wise max of a
// and b, without mutating either.
func Joined(a, b Clock) Clock {
	out := a.Clone()
	out.Join(b)
	return out
}

// HappensBeforeOrEqual reports whether a <= b component-wise, i.e. the
// event stamped with a happened-before (or is) the event stamped
// with b (spec.md §3.4 "Happens-before ... component-wise ≤").
func HappensBeforeOrEqual(a, b Clock) bool {
	for k, v := range a {
		if v > b[k] {
			return false
		}
	}
	return true
}
