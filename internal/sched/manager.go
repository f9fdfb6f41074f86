// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
)

// Action is the scheduler's answer to the step driver's "what next"
// question (spec.md §4.F, §4.I).
type Action int

const (
	ExecuteStep Action = iota
	ExecuteTimeoutCallback
	ExecuteDestructors
	Stop
)

// timeoutEntry is one registered callback, keyed by owner thread; at
// most one may exist per thread (spec.md §4.F).
type timeoutEntry struct {
	owner  ids.ThreadID
	fireAt uint64
	fire   func()
}

// Manager is the thread table and scheduler of component F. Dense
// vector indexed by thread id; id 0 is always the main thread, mirrors
// the teacher's `allgs` slice of every `g` ever created.
type Manager struct {
	threads []*Thread
	current ids.ThreadID

	timeouts map[ids.ThreadID]*timeoutEntry

	// PreemptionRate inserts an extra yield every N interpretive steps
	// (spec.md §4.F "configurable preemption rate"); 0 disables it. A
	// step is one statement or terminator, so the yield can fall inside
	// a basic block rather than only at block boundaries.
	PreemptionRate  int
	stepsSinceYield int

	clockTick uint64 // monotone counter standing in for the host's virtual clock
}

// New creates a manager with a single Enabled main thread (id 0).
func New(preemptionRate int) *Manager {
	m := &Manager{
		threads:        []*Thread{newThread(0, "main")},
		timeouts:       map[ids.ThreadID]*timeoutEntry{},
		PreemptionRate: preemptionRate,
	}
	return m
}

// Spawn creates a new joinable thread in the Enabled state and returns
// its id.
func (m *Manager) Spawn(name string) ids.ThreadID {
	id := ids.ThreadID(len(m.threads))
	m.threads = append(m.threads, newThread(id, name))
	return id
}

func (m *Manager) Get(id ids.ThreadID) *Thread { return m.threads[id] }

func (m *Manager) Current() *Thread { return m.threads[m.current] }

func (m *Manager) CurrentID() ids.ThreadID { return m.current }

// Threads returns every thread record, ordered by id.
func (m *Manager) Threads() []*Thread { return m.threads }

// Block transitions the current thread into state s with reason r.
func (m *Manager) Block(s State, r BlockReason) {
	m.BlockThread(m.current, s, r)
}

// BlockThread transitions an arbitrary thread (not necessarily the
// current one) into state s with reason r. Synchronization-primitive
// wake callbacks use this to redirect a just-woken thread straight
// into another blocked state (e.g. condvar re-acquisition finding the
// mutex still busy) without disturbing whichever thread the scheduler
// currently has active.
func (m *Manager) BlockThread(id ids.ThreadID, s State, r BlockReason) {
	t := m.Get(id)
	t.State = s
	t.BlockedOn = &r
}

// Unblock transitions a blocked thread back to Enabled, clearing its
// block reason. Per spec.md §4.G, callers invoke any WakeFunc first so
// a condvar's re-acquisition attempt can instead redirect the thread
// into BlockedOnMutex.
func (m *Manager) Unblock(id ids.ThreadID) {
	t := m.Get(id)
	if t.BlockedOn != nil && t.BlockedOn.WakeFunc != nil {
		reason := t.BlockedOn
		reason.WakeFunc(t)
		if t.BlockedOn != reason {
			// WakeFunc re-blocked the thread via BlockThread.
			return
		}
	}
	t.State = Enabled
	t.BlockedOn = nil
}

// RegisterTimeout places an entry keyed by thread; at most one timeout
// per thread may exist (spec.md §4.F).
func (m *Manager) RegisterTimeout(thread ids.ThreadID, fireAt uint64, fire func()) {
	m.timeouts[thread] = &timeoutEntry{owner: thread, fireAt: fireAt, fire: fire}
}

// UnregisterTimeout is a no-op if thread has no pending timeout.
func (m *Manager) UnregisterTimeout(thread ids.ThreadID) {
	delete(m.timeouts, thread)
}

// Tick advances the monotone clock stand-in by one (spec.md §4.I step
// 5, "advance the monotone clock by a small tick"), called by the step
// driver alongside each borrow-stack GC pass.
func (m *Manager) Tick() {
	m.clockTick++
}

// ClockTick returns the current value of the monotone clock stand-in.
func (m *Manager) ClockTick() uint64 {
	return m.clockTick
}

func (m *Manager) earliestTimeout() *timeoutEntry {
	var best *timeoutEntry
	for _, e := range m.timeouts {
		if best == nil || e.fireAt < best.fireAt {
			best = e
		}
	}
	return best
}

// Join implements spec.md §4.F join: KindInvalidThreadOp if target is
// detached, already joined, or is the joiner itself; if target has
// already terminated, establishes happens-before immediately (the
// caller performs the actual clock join using the returned bool);
// otherwise blocks the joiner.
func (m *Manager) Join(joiner, target ids.ThreadID) (immediate bool, ev *diag.Event) {
	if joiner == target {
		return false, diag.New(diag.KindInvalidThreadOp, "thread %s attempted to join itself", joiner).With("thread", joiner)
	}
	tt := m.Get(target)
	if tt.JoinStatus == Detached || tt.JoinStatus == Joined {
		return false, diag.New(diag.KindInvalidThreadOp, "invalid join of thread %s: already %v", target, tt.JoinStatus).With("thread", target)
	}
	if tt.State == Terminated {
		tt.JoinStatus = Joined
		return true, nil
	}
	tt.joiners = append(tt.joiners, joiner)
	m.Block(BlockedOnJoin, BlockReason{Target: target})
	return false, nil
}

// Detach implements spec.md §4.F detach.
func (m *Manager) Detach(target ids.ThreadID) *diag.Event {
	tt := m.Get(target)
	if tt.JoinStatus != Joinable {
		return diag.New(diag.KindInvalidThreadOp, "invalid detach of thread %s: not joinable", target).With("thread", target)
	}
	tt.JoinStatus = Detached
	return nil
}

// Terminate marks the current thread Terminated and unblocks every
// thread joined on it (spec.md §4.F "when a thread terminates...").
func (m *Manager) Terminate(id ids.ThreadID) []ids.ThreadID {
	t := m.Get(id)
	t.State = Terminated
	joiners := t.joiners
	t.joiners = nil
	for _, j := range joiners {
		if t.JoinStatus != Detached {
			t.JoinStatus = Joined
		}
		m.Unblock(j)
	}
	return joiners
}

func (m *Manager) anyEnabled() bool {
	for _, t := range m.threads {
		if t.State == Enabled {
			return true
		}
	}
	return false
}

// Schedule implements the scheduler contract of spec.md §4.F: run the
// current thread until it cannot proceed or yields, then round-robin
// to the next enabled thread starting after the current one. A
// non-nil *diag.Event is only ever returned alongside Stop, and only
// to report *Deadlock* (no enabled thread, no pending timeout, main
// not yet terminated) as distinct from a clean *Stop*.
func (m *Manager) Schedule() (Action, ids.ThreadID, *diag.Event) {
	cur := m.Current()

	if cur.State == Enabled && cur.StackEmpty() {
		return ExecuteDestructors, m.current, nil
	}

	if cur.State == Enabled && !m.preempted() {
		m.stepsSinceYield++
		return ExecuteStep, m.current, nil
	}

	if next, ok := m.nextEnabledAfter(m.current); ok {
		m.current = next
		m.stepsSinceYield = 1
		return ExecuteStep, m.current, nil
	}

	if e := m.earliestTimeout(); e != nil {
		delete(m.timeouts, e.owner)
		prev := m.current
		m.current = e.owner
		e.fire()
		m.current = prev
		return ExecuteTimeoutCallback, e.owner, nil
	}

	if m.threads[0].State == Terminated && m.allTerminatedOrDetached() {
		return Stop, m.current, nil
	}

	return Stop, m.current, diag.New(diag.KindDeadlock, "no thread is enabled and no timeout is pending; %d thread(s) remain blocked", m.liveCount())
}

func (m *Manager) liveCount() int {
	n := 0
	for _, t := range m.threads {
		if t.State != Terminated {
			n++
		}
	}
	return n
}

func (m *Manager) preempted() bool {
	if m.PreemptionRate <= 0 {
		return false
	}
	return m.stepsSinceYield >= m.PreemptionRate
}

func (m *Manager) nextEnabledAfter(from ids.ThreadID) (ids.ThreadID, bool) {
	n := ids.ThreadID(len(m.threads))
	for i := ids.ThreadID(1); i <= n; i++ {
		cand := (from + i) % n
		if m.threads[cand].State == Enabled {
			return cand, true
		}
	}
	return 0, false
}

func (m *Manager) allTerminatedOrDetached() bool {
	for _, t := range m.threads {
		if t.ID == 0 {
			continue
		}
		if t.State != Terminated && t.JoinStatus != Detached {
			return false
		}
	}
	return true
}

// MainExitCheck implements spec.md §4.E/§4.F's
// "main exits with live non-detached threads" rule, to be called once
// the main thread (id 0) terminates.
func (m *Manager) MainExitCheck() *diag.Event {
	for _, t := range m.threads[1:] {
		if t.State != Terminated && t.JoinStatus != Detached {
			return diag.New(diag.KindMainExitWithLiveThreads, "main thread exited while thread %s (%q) is still %s", t.ID, t.Name, t.State).
				With("thread", t.ID)
		}
	}
	return nil
}
