// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package syncprim implements component G: mutex, rwlock, condvar,
// init-once and futex state, each addressed by the synchronization-
// primitive id derived from its in-memory address, mirroring the way
// the teacher's hchan embeds a single `mutex` field addressed by the
// channel's own allocation (chan.go's `lock mutex`).
package syncprim

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/race"
	"github.com/mirvm/interp/internal/sched"
)

// Registry owns every synchronization primitive's state for one run,
// keyed by ids.SyncID (spec.md §6.4.2 derives these from addresses;
// callers own that derivation).
type Registry struct {
	race  *race.Engine
	sched *sched.Manager

	mutexes  map[ids.SyncID]*mutexState
	rwlocks  map[ids.SyncID]*rwlockState
	condvars map[ids.SyncID]*condvarState
	onces    map[ids.SyncID]*onceState
	futexes  map[ids.SyncID]*futexState

	// relClock holds one synthetic release clock per SyncID, standing
	// in for the "internal synchronisation location" spec.md
	// §4.G attaches to every primitive.
	relClock map[ids.SyncID]race.Clock
}

func New(r *race.Engine, s *sched.Manager) *Registry {
	return &Registry{
		race: r, sched: s,
		mutexes:  map[ids.SyncID]*mutexState{},
		rwlocks:  map[ids.SyncID]*rwlockState{},
		condvars: map[ids.SyncID]*condvarState{},
		onces:    map[ids.SyncID]*onceState{},
		futexes:  map[ids.SyncID]*futexState{},
		relClock: map[ids.SyncID]race.Clock{},
	}
}

// release performs a release operation on id's internal synchronisation
// location (spec.md §4.G "Ordering contract").
func (r *Registry) release(id ids.SyncID, clock race.Clock) {
	c := r.relClock[id]
	if c == nil {
		c = race.Clock{}
	}
	c = race.Joined(c, clock)
	r.relClock[id] = c
}

// acquire joins id's internal synchronisation location into clock,
// returning the result, realising the other half of the release/
// acquire pair.
func (r *Registry) acquire(id ids.SyncID, clock race.Clock) race.Clock {
	out := clock.Clone()
	out.Join(r.relClock[id])
	return out
}

// ---- Mutex ----

type mutexState struct {
	owner     ids.ThreadID
	hasOwner  bool
	recursion int
	waiters   []ids.ThreadID
}

func (r *Registry) mutex(id ids.SyncID) *mutexState {
	m, ok := r.mutexes[id]
	if !ok {
		m = &mutexState{}
		r.mutexes[id] = m
	}
	return m
}

// Lock attempts to acquire id for thread t. If busy, queues and blocks
// t and returns false; a later Unlock hands ownership to t directly and
// its wake joins the release clock, so Lock is not called again.
func (r *Registry) Lock(id ids.SyncID, t ids.ThreadID, clock race.Clock) (race.Clock, bool) {
	m := r.mutex(id)
	if !m.hasOwner {
		m.hasOwner = true
		m.owner = t
		m.recursion = 1
		return r.acquire(id, clock), true
	}
	if m.owner == t {
		m.recursion++
		return r.acquire(id, clock), true
	}
	m.waiters = append(m.waiters, t)
	r.sched.BlockThread(t, sched.BlockedOnMutex, sched.BlockReason{
		SyncID: id,
		WakeFunc: func(th *sched.Thread) {
			th.Clock = r.acquire(id, th.Clock)
		},
	})
	return clock, false
}

// Unlock releases id, waking the next waiter if any (spec.md §4.G).
func (r *Registry) Unlock(id ids.SyncID, t ids.ThreadID, clock race.Clock) *diag.Event {
	m := r.mutex(id)
	if !m.hasOwner || m.owner != t {
		return diag.New(diag.KindUnsupportedFeature, "unlock of mutex %d by non-owning thread %s", id, t).With("sync_id", id)
	}
	r.release(id, clock)
	m.recursion--
	if m.recursion > 0 {
		return nil
	}
	m.hasOwner = false
	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.hasOwner = true
		m.owner = next
		m.recursion = 1
		r.sched.Unblock(next)
	}
	return nil
}

// ---- RwLock ----

type rwlockState struct {
	readers        map[ids.ThreadID]int
	writer         ids.ThreadID
	hasWriter      bool
	pendingReaders []ids.ThreadID
	pendingWriters []ids.ThreadID
	// WriterPreference, when true, blocks new readers while a writer
	// waits (spec.md §4.G "writer-preference is configurable").
	WriterPreference bool
}

func (r *Registry) rwlock(id ids.SyncID) *rwlockState {
	rl, ok := r.rwlocks[id]
	if !ok {
		rl = &rwlockState{readers: map[ids.ThreadID]int{}}
		r.rwlocks[id] = rl
	}
	return rl
}

func (r *Registry) ReadLock(id ids.SyncID, t ids.ThreadID, clock race.Clock) (race.Clock, bool) {
	rl := r.rwlock(id)
	if rl.hasWriter || (rl.WriterPreference && len(rl.pendingWriters) > 0) {
		rl.pendingReaders = append(rl.pendingReaders, t)
		r.sched.BlockThread(t, sched.BlockedOnRwLock, sched.BlockReason{
			SyncID: id,
			WakeFunc: func(th *sched.Thread) {
				th.Clock = r.acquire(id, th.Clock)
			},
		})
		return clock, false
	}
	rl.readers[t]++
	return r.acquire(id, clock), true
}

func (r *Registry) WriteLock(id ids.SyncID, t ids.ThreadID, clock race.Clock) (race.Clock, bool) {
	rl := r.rwlock(id)
	if rl.hasWriter || len(rl.readers) > 0 {
		rl.pendingWriters = append(rl.pendingWriters, t)
		r.sched.BlockThread(t, sched.BlockedOnRwLock, sched.BlockReason{
			SyncID: id,
			WakeFunc: func(th *sched.Thread) {
				th.Clock = r.acquire(id, th.Clock)
			},
		})
		return clock, false
	}
	rl.hasWriter = true
	rl.writer = t
	return r.acquire(id, clock), true
}

func (r *Registry) ReadUnlock(id ids.SyncID, t ids.ThreadID, clock race.Clock) {
	rl := r.rwlock(id)
	r.release(id, clock)
	rl.readers[t]--
	if rl.readers[t] <= 0 {
		delete(rl.readers, t)
	}
	r.wakeRwWaiters(id, rl)
}

func (r *Registry) WriteUnlock(id ids.SyncID, t ids.ThreadID, clock race.Clock) {
	rl := r.rwlock(id)
	r.release(id, clock)
	rl.hasWriter = false
	r.wakeRwWaiters(id, rl)
}

func (r *Registry) wakeRwWaiters(id ids.SyncID, rl *rwlockState) {
	if rl.hasWriter || len(rl.readers) > 0 {
		return
	}
	if len(rl.pendingWriters) > 0 {
		next := rl.pendingWriters[0]
		rl.pendingWriters = rl.pendingWriters[1:]
		rl.hasWriter = true
		rl.writer = next
		r.sched.Unblock(next)
		return
	}
	if len(rl.pendingReaders) > 0 {
		for _, t := range rl.pendingReaders {
			rl.readers[t]++
			r.sched.Unblock(t)
		}
		rl.pendingReaders = nil
	}
}

// ---- Condvar ----

type condvarState struct {
	waiters []ids.ThreadID
}

func (r *Registry) condvar(id ids.SyncID) *condvarState {
	c, ok := r.condvars[id]
	if !ok {
		c = &condvarState{}
		r.condvars[id] = c
	}
	return c
}

// Wait implements spec.md §4.G condvar wait: unlocks mutexID, parks t,
// and arranges that on unblock the waiter re-acquires mutexID before
// becoming runnable again (re-acquisition-before-timeout-report is
// load-bearing, per SPEC_FULL.md §7).
func (r *Registry) Wait(condID, mutexID ids.SyncID, t ids.ThreadID, clock race.Clock) {
	c := r.condvar(condID)
	c.waiters = append(c.waiters, t)
	r.Unlock(mutexID, t, clock)
	r.sched.BlockThread(t, sched.BlockedOnCondvar, sched.BlockReason{
		SyncID: condID,
		WakeFunc: func(th *sched.Thread) {
			th.Clock = r.acquire(condID, th.Clock)
			if clock, ok := r.Lock(mutexID, th.ID, th.Clock); ok {
				th.Clock = clock
			}
		},
	})
}

// Signal wakes one waiter (spec.md §4.G "signal ... perform release
// operations observed by the woken waiters").
func (r *Registry) Signal(id ids.SyncID, clock race.Clock) {
	c := r.condvar(id)
	if len(c.waiters) == 0 {
		return
	}
	r.release(id, clock)
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	r.sched.Unblock(next)
}

// Broadcast wakes every waiter.
func (r *Registry) Broadcast(id ids.SyncID, clock race.Clock) {
	c := r.condvar(id)
	if len(c.waiters) == 0 {
		return
	}
	r.release(id, clock)
	woken := c.waiters
	c.waiters = nil
	for _, t := range woken {
		r.sched.Unblock(t)
	}
}

// ---- Init-once ----

type onceKind int

const (
	onceUninit onceKind = iota
	onceInProgress
	onceComplete
)

type onceState struct {
	kind    onceKind
	by      ids.ThreadID
	waiters []ids.ThreadID
}

func (r *Registry) once(id ids.SyncID) *onceState {
	o, ok := r.onces[id]
	if !ok {
		o = &onceState{}
		r.onces[id] = o
	}
	return o
}

// OnceStatus is the caller-visible result of attempting to begin a
// once-initialisation.
type OnceStatus int

const (
	OnceShouldRun OnceStatus = iota
	OnceBlocked
	OnceAlreadyDone
)

// Begin implements the once-initialisation entry protocol.
func (r *Registry) Begin(id ids.SyncID, t ids.ThreadID) OnceStatus {
	o := r.once(id)
	switch o.kind {
	case onceUninit:
		o.kind = onceInProgress
		o.by = t
		return OnceShouldRun
	case onceInProgress:
		o.waiters = append(o.waiters, t)
		r.sched.BlockThread(t, sched.BlockedOnInitOnce, sched.BlockReason{
			SyncID: id,
			WakeFunc: func(th *sched.Thread) {
				th.Clock = r.acquire(id, th.Clock)
			},
		})
		return OnceBlocked
	default:
		return OnceAlreadyDone
	}
}

// Complete finishes a once-initialisation, releasing to every waiter
// (spec.md §4.G "Init-once completion releases to every waiter").
func (r *Registry) Complete(id ids.SyncID, clock race.Clock) {
	o := r.once(id)
	o.kind = onceComplete
	r.release(id, clock)
	woken := o.waiters
	o.waiters = nil
	for _, t := range woken {
		r.sched.Unblock(t)
	}
}

// ---- Futex ----

type futexState struct {
	waiters []futexWaiter
}

type futexWaiter struct {
	thread ids.ThreadID
	mask   uint32
}

func (r *Registry) futex(id ids.SyncID) *futexState {
	f, ok := r.futexes[id]
	if !ok {
		f = &futexState{}
		r.futexes[id] = f
	}
	return f
}

// FutexWait parks t on the word at id with the given wake bitmask.
func (r *Registry) FutexWait(id ids.SyncID, t ids.ThreadID, mask uint32) {
	f := r.futex(id)
	f.waiters = append(f.waiters, futexWaiter{t, mask})
	r.sched.BlockThread(t, sched.BlockedOnFutex, sched.BlockReason{
		SyncID: id,
		WakeFunc: func(th *sched.Thread) {
			th.Clock = r.acquire(id, th.Clock)
		},
	})
}

// FutexWake wakes up to n waiters whose mask intersects wakeMask,
// releasing to each woken waiter and to subsequent wakes of the same
// address (spec.md §4.G).
func (r *Registry) FutexWake(id ids.SyncID, n int, wakeMask uint32, clock race.Clock) int {
	f := r.futex(id)
	r.release(id, clock)
	woken := 0
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if woken < n && w.mask&wakeMask != 0 {
			r.sched.Unblock(w.thread)
			woken++
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
	return woken
}
