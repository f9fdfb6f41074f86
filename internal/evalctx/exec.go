// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
)

// ShimFunc is one registered external-symbol implementation (malloc,
// pthread_mutex_lock, ...), invoked in place of a TermCall whose
// IsShim flag is set (spec.md §6.1 "shims"). It returns a halting
// event on failure; on success it has already written any return
// value through dest itself (component evalctx does not know the
// shim's calling convention).
type ShimFunc func(in *Interp, t ids.ThreadID, args []memstore.Scalar, dest mir.Place) *diag.Event

// RegisterShim installs fn under symbol, overwriting any previous
// registration.
func (in *Interp) RegisterShim(symbol string, fn ShimFunc) {
	if in.ShimTable == nil {
		in.ShimTable = map[string]ShimFunc{}
	}
	in.ShimTable[symbol] = fn
}

// AssignCurrent writes v to dest within thread t's current top frame.
// Shims use this to deliver their return value, since they only see
// the destination place, not the frame that resolves it.
func (in *Interp) AssignCurrent(t ids.ThreadID, dest mir.Place, v memstore.Scalar) *diag.Event {
	f := in.topFrame(t)
	if f == nil {
		return diag.New(diag.KindUnsupportedFeature, "shim return with no active frame")
	}
	return in.assignPlace(t, f, dest, v)
}

// ExecuteStatement runs one non-control-transferring statement
// (spec.md §4.H).
func (in *Interp) ExecuteStatement(t ids.ThreadID, f *Frame, stmt mir.Statement) *diag.Event {
	switch stmt.Kind {
	case mir.StmtAssign:
		return in.evalRvalue(t, f, stmt.Place, stmt.RVal)
	case mir.StmtRetag:
		return in.execRetag(t, f, stmt)
	case mir.StmtStorageLive, mir.StmtStorageDead, mir.StmtNop:
		return nil
	}
	return diag.New(diag.KindUnsupportedFeature, "unhandled statement kind %v", stmt.Kind)
}

// ExecuteTerminator runs the current block's terminator, updating the
// frame's control position (spec.md §4.H).
func (in *Interp) ExecuteTerminator(t ids.ThreadID, f *Frame, term mir.Terminator) *diag.Event {
	switch term.Kind {
	case mir.TermGoto:
		f.Block, f.Stmt = term.Target, 0
		return nil

	case mir.TermDrop:
		// Drop-glue execution is out of scope; control moves to the
		// target like a goto and the place's storage is not released.
		f.Block, f.Stmt = term.Target, 0
		return nil

	case mir.TermSwitchInt:
		v, ev := in.evalOperand(t, f, term.Discr)
		if ev != nil {
			return ev
		}
		target := term.Otherwise
		for _, arm := range term.Arms {
			if arm.Value == int64(v.Bits) {
				target = arm.Target
				break
			}
		}
		f.Block, f.Stmt = target, 0
		return nil

	case mir.TermUnreachable:
		return diag.New(diag.KindReachedUnreachable, "control reached an Unreachable terminator")

	case mir.TermReturn:
		retVal, ev := in.evalPlaceRead(t, f, mir.Place{Local: mir.ReturnLocal}, false)
		if ev != nil {
			return ev
		}
		ret := f.ReturnPlace
		in.PopFrame(t)
		if ret != nil {
			if caller := in.topFrame(t); caller != nil {
				return in.assignPlace(t, caller, ret.Place, retVal)
			}
		}
		return nil

	case mir.TermCall:
		args := make([]memstore.Scalar, len(term.Args))
		for i, op := range term.Args {
			v, ev := in.evalOperand(t, f, op)
			if ev != nil {
				return ev
			}
			args[i] = v
		}
		if term.IsShim {
			fn, ok := in.ShimTable[term.ShimSymbol]
			if !ok {
				return diag.New(diag.KindUnsupportedFeature, "no shim registered for %q", term.ShimSymbol)
			}
			if ev := fn(in, t, args, term.Dest); ev != nil {
				return ev
			}
			f.Block, f.Stmt = term.ReturnBlock, 0
			return nil
		}
		body, ok := in.Bodies[term.Func]
		if !ok {
			return diag.New(diag.KindUnsupportedFeature, "call to unregistered function %v", term.Func)
		}
		f.Block, f.Stmt = term.ReturnBlock, 0 // where this frame resumes once the callee returns
		_, ev := in.PushFrame(t, body, args, &CallerSlot{Place: term.Dest})
		return ev
	}
	return diag.New(diag.KindUnsupportedFeature, "unhandled terminator kind %v", term.Kind)
}

// Step executes exactly one statement or terminator on thread t's
// current frame and advances its clock, implementing the interpretive
// step of spec.md §4.I. Returns nil if t has no frame (caller should
// not have scheduled it).
func (in *Interp) Step(t ids.ThreadID) *diag.Event {
	f := in.topFrame(t)
	if f == nil {
		return nil
	}
	block := &f.Body.Blocks[f.Block]
	th := in.Sched.Get(t)
	th.Clock = th.Clock.Tick(t)
	if in.Metrics != nil {
		in.Metrics.Steps.Inc()
	}
	if f.Stmt < len(block.Statements) {
		ev := in.ExecuteStatement(t, f, block.Statements[f.Stmt])
		if ev != nil {
			return ev
		}
		f.Stmt++
		return nil
	}
	return in.ExecuteTerminator(t, f, block.Terminator)
}
