// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import "github.com/mirvm/interp/internal/ids"

// GC runs the periodic Stacked Borrows garbage-collection pass and
// advances the monotone clock stand-in (spec.md §4.I step 5). It is
// purely an optimisation plus a clock advance: skipping it, or calling
// it at a different cadence, never changes an observable diagnosis.
func (in *Interp) GC() {
	live := in.liveTags()
	for _, a := range in.Store.Live() {
		in.Borrow.GC(a, live)
	}
	in.Sched.Tick()
	if in.Metrics != nil {
		in.Metrics.GCPasses.Inc()
	}
}

// liveTags computes every tag still reachable from a pointer somewhere
// in the interpreter: a frame local or its retag record on any
// thread's call stack, or a relocation entry in any live allocation's
// memory (spec.md §4.D).
func (in *Interp) liveTags() map[ids.Tag]bool {
	live := map[ids.Tag]bool{}
	for _, th := range in.Sched.Threads() {
		for _, f := range in.frames[th.ID] {
			for _, tag := range f.Tags {
				live[tag] = true
			}
			for _, l := range f.Locals {
				if l.Kind == SlotImmediate && l.Imm.IsPtr {
					live[l.Imm.Ptr.Provenance.Tag] = true
				}
			}
		}
	}
	for _, a := range in.Store.Live() {
		for _, r := range a.Relocs() {
			live[r.Prov.Tag] = true
		}
	}
	return live
}
