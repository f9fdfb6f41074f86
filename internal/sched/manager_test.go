// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsCurrentUntilBlocked(t *testing.T) {
	m := New(0)
	m.Current().PushFrame()
	action, id, ev := m.Schedule()
	require.Nil(t, ev)
	assert.Equal(t, ExecuteStep, action)
	assert.Equal(t, ids.ThreadID(0), id)
}

func TestScheduleDestructorsOnEmptyStack(t *testing.T) {
	m := New(0)
	action, _, ev := m.Schedule()
	require.Nil(t, ev)
	assert.Equal(t, ExecuteDestructors, action)
}

func TestScheduleRoundRobinsToNextEnabled(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	m.Get(worker).PushFrame()
	m.Current().PushFrame()

	m.Block(BlockedOnMutex, BlockReason{})
	action, id, ev := m.Schedule()
	require.Nil(t, ev)
	assert.Equal(t, ExecuteStep, action)
	assert.Equal(t, worker, id)
}

func TestScheduleDeadlockWhenNothingCanProceed(t *testing.T) {
	m := New(0)
	m.Current().PushFrame()
	m.Block(BlockedOnMutex, BlockReason{})
	action, _, ev := m.Schedule()
	assert.Equal(t, Stop, action)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindDeadlock, ev.Kind)
}

func TestJoinOfTerminatedThreadIsImmediate(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	m.Terminate(worker)

	immediate, ev := m.Join(0, worker)
	require.Nil(t, ev)
	assert.True(t, immediate)
}

func TestJoinSelfIsRejected(t *testing.T) {
	m := New(0)
	_, ev := m.Join(0, 0)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindInvalidThreadOp, ev.Kind)
}

func TestTerminateUnblocksJoiners(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	m.Get(worker).PushFrame()

	m.current = 0
	immediate, ev := m.Join(0, worker)
	require.Nil(t, ev)
	require.False(t, immediate)
	assert.Equal(t, BlockedOnJoin, m.Get(0).State)

	m.Terminate(worker)
	assert.Equal(t, Enabled, m.Get(0).State)
	assert.Equal(t, Joined, m.Get(worker).JoinStatus)
}

func TestDetachRejectsNonJoinable(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	require.Nil(t, m.Detach(worker))
	ev := m.Detach(worker)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindInvalidThreadOp, ev.Kind)
}

func TestTickAdvancesClockMonotonically(t *testing.T) {
	m := New(0)
	assert.Equal(t, uint64(0), m.ClockTick())
	m.Tick()
	m.Tick()
	assert.Equal(t, uint64(2), m.ClockTick())
}

func TestMainExitCheckFlagsLiveThreads(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	m.Get(worker).PushFrame()

	ev := m.MainExitCheck()
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindMainExitWithLiveThreads, ev.Kind)
}

func TestMainExitCheckAllowsDetachedThreads(t *testing.T) {
	m := New(0)
	worker := m.Spawn("worker")
	require.Nil(t, m.Detach(worker))
	assert.Nil(t, m.MainExitCheck())
}

func TestScheduleFiresEarliestTimeoutWhenNothingElseCanProceed(t *testing.T) {
	m := New(0)
	m.Current().PushFrame()
	m.Block(BlockedOnSleep, BlockReason{})

	fired := false
	m.RegisterTimeout(0, 100, func() { fired = true })

	action, id, ev := m.Schedule()
	require.Nil(t, ev)
	assert.Equal(t, ExecuteTimeoutCallback, action)
	assert.Equal(t, ids.ThreadID(0), id)
	assert.True(t, fired)
}

func TestUnregisterTimeoutIsNoopIfAbsent(t *testing.T) {
	m := New(0)
	m.UnregisterTimeout(0)
}

func TestAtMostOneTimeoutPerThreadSecondRegistrationWins(t *testing.T) {
	m := New(0)
	m.Current().PushFrame()
	m.Block(BlockedOnSleep, BlockReason{})

	firstFired, secondFired := false, false
	m.RegisterTimeout(0, 100, func() { firstFired = true })
	m.RegisterTimeout(0, 50, func() { secondFired = true })

	_, _, ev := m.Schedule()
	require.Nil(t, ev)
	assert.False(t, firstFired)
	assert.True(t, secondFired)
}

func TestPreemptionRotatesAfterConfiguredSteps(t *testing.T) {
	m := New(2)
	worker := m.Spawn("worker")
	m.Get(worker).PushFrame()
	m.Current().PushFrame()

	a1, id1, _ := m.Schedule()
	a2, id2, _ := m.Schedule()
	a3, id3, _ := m.Schedule()
	assert.Equal(t, ExecuteStep, a1)
	assert.Equal(t, ExecuteStep, a2)
	assert.Equal(t, ExecuteStep, a3)
	assert.Equal(t, ids.ThreadID(0), id1)
	assert.Equal(t, ids.ThreadID(0), id2)
	assert.Equal(t, worker, id3)
}
