// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched implements component F: the cooperative thread
// manager. Its vocabulary is lifted directly from the teacher's
// goroutine scheduler (chan.go's gopark/goready and the sudog/waitq
// blocking queues): a Thread here plays the role of a `g`, and a
// BlockReason is the park reason the teacher threads through gopark as
// a string, made into a closed enum plus payload instead.
package sched

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/race"
)

// State is a thread's position in the state machine of spec.md §3.4.
type State int

const (
	Enabled State = iota
	BlockedOnJoin
	BlockedOnMutex
	BlockedOnRwLock
	BlockedOnCondvar
	BlockedOnInitOnce
	BlockedOnFutex
	BlockedOnSleep
	Terminated
)

func (s State) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case BlockedOnJoin:
		return "BlockedOnJoin"
	case BlockedOnMutex:
		return "BlockedOnMutex"
	case BlockedOnRwLock:
		return "BlockedOnRwLock"
	case BlockedOnCondvar:
		return "BlockedOnCondvar"
	case BlockedOnInitOnce:
		return "BlockedOnInitOnce"
	case BlockedOnFutex:
		return "BlockedOnFutex"
	case BlockedOnSleep:
		return "BlockedOnSleep"
	default:
		return "Terminated"
	}
}

// JoinStatus is the join-status attribute of spec.md §3.4.
type JoinStatus int

const (
	Joinable JoinStatus = iota
	Detached
	Joined
)

// BlockReason records why a thread is parked and, where relevant, a
// one-shot callback to run on unblock (e.g. condvar re-acquisition).
type BlockReason struct {
	Target   ids.ThreadID // for BlockedOnJoin
	SyncID   ids.SyncID   // for Mutex/RwLock/Condvar/InitOnce/Futex
	WakeFunc func(t *Thread)
}

// Thread is the per-thread record of spec.md §3.4.
type Thread struct {
	ID         ids.ThreadID
	State      State
	Name       string
	Clock      race.Clock
	JoinStatus JoinStatus
	Panic      any
	LastError  *diag.Event

	BlockedOn *BlockReason

	// FrameCount is maintained by component H via PushFrame/PopFrame so
	// the scheduler can detect "stack empty" without importing evalctx.
	FrameCount int

	joiners []ids.ThreadID // threads parked on BlockedOnJoin(this)
}

func newThread(id ids.ThreadID, name string) *Thread {
	return &Thread{ID: id, Name: name, Clock: race.Clock{id: 0}, JoinStatus: Joinable}
}

// PushFrame/PopFrame are called by component H around frame-stack
// mutation; the manager uses FrameCount==0 to drive ExecuteDestructors.
func (t *Thread) PushFrame() { t.FrameCount++ }
func (t *Thread) PopFrame()  { t.FrameCount-- }

func (t *Thread) StackEmpty() bool { return t.FrameCount == 0 }
