// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package step implements component I: the top-level run loop that
// repeatedly asks the scheduler what to do next and dispatches to the
// evaluation context, mirroring the way the teacher's scheduler loop
// (schedule() in chan.go's callers) drives one `g` at a time to a
// park/preempt/exit boundary before picking the next one.
package step

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/evalctx"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/sched"
)

// Outcome is the terminal state of a Driver.Run call.
type Outcome int

const (
	OutcomeHalt Outcome = iota
	OutcomeStepLimit
	OutcomeError
)

// Driver owns the run loop around one Interp/Manager pair.
type Driver struct {
	Interp    *evalctx.Interp
	Sched     *sched.Manager
	StepLimit uint64

	// GCInterval is the number of steps between borrow-stack GC passes
	// and monotone clock ticks (spec.md §4.I step 5); 0 disables both.
	GCInterval int

	steps uint64
}

func New(in *evalctx.Interp, sm *sched.Manager, stepLimit uint64, gcInterval int) *Driver {
	return &Driver{Interp: in, Sched: sm, StepLimit: stepLimit, GCInterval: gcInterval}
}

// Run drives the interpreter to completion, a step-limit exhaustion, or
// a halting diagnostic (spec.md §4.I/§4.J). A non-nil *diag.Event
// accompanies OutcomeError and OutcomeStepLimit; OutcomeHalt means the
// program ran to a clean Stop.
func (d *Driver) Run() (Outcome, *diag.Event) {
	for {
		if d.StepLimit > 0 && d.steps >= d.StepLimit {
			return OutcomeStepLimit, diag.New(diag.KindStepLimitReached, "execution exceeded the configured step limit of %d", d.StepLimit)
		}

		action, tid, ev := d.Sched.Schedule()
		if ev != nil {
			return OutcomeError, ev
		}

		switch action {
		case sched.Stop:
			if ev := d.Sched.MainExitCheck(); ev != nil {
				return OutcomeError, ev
			}
			return OutcomeHalt, nil

		case sched.ExecuteDestructors:
			if tid == 0 {
				d.Sched.Terminate(tid)
				if ev := d.Sched.MainExitCheck(); ev != nil {
					return OutcomeError, ev
				}
			} else {
				d.Sched.Terminate(tid)
			}

		case sched.ExecuteTimeoutCallback:
			// The timeout's own fire() closure (registered by a
			// condvar-wait or sleep shim) already performed its side
			// effects inside Manager.Schedule; nothing further to do
			// here.

		case sched.ExecuteStep:
			d.steps++
			if ev := d.Interp.Step(tid); ev != nil {
				return OutcomeError, ev
			}
			if d.GCInterval > 0 && d.steps%uint64(d.GCInterval) == 0 {
				d.Interp.GC()
			}
		}
	}
}

// RunThread is a convenience used by tests: it drives a single
// already-enabled thread to
// completion without consulting the scheduler, bypassing
// preemption/round-robin entirely.
func (d *Driver) RunThread(t ids.ThreadID) *diag.Event {
	for {
		f := d.Interp.Frames(t)
		if len(f) == 0 {
			return nil
		}
		if d.StepLimit > 0 && d.steps >= d.StepLimit {
			return diag.New(diag.KindStepLimitReached, "execution exceeded the configured step limit of %d", d.StepLimit)
		}
		d.steps++
		if ev := d.Interp.Step(t); ev != nil {
			return ev
		}
	}
}
