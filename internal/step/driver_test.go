// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package step

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/evalctx"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/mirvm/interp/internal/race"
	"github.com/mirvm/interp/internal/sched"
	"github.com/mirvm/interp/internal/syncprim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterp() (*evalctx.Interp, *sched.Manager) {
	addrs := provenance.NewAddressSpace(1)
	store := memstore.NewStore(addrs)
	be := borrow.New(true, 4)
	re := race.New(true, false, 4, rand.New(rand.NewSource(1)))
	sm := sched.New(0)
	sp := syncprim.New(re, sm)
	sink := diag.NewSink(&bytes.Buffer{}, diag.BacktraceOff, nil)
	in := evalctx.New(store, addrs, be, re, sm, sp, nil, sink, nil, provenance.ModeDefault)
	return in, sm
}

// returnConstBody returns the constant 5 immediately.
func returnConstBody() *mir.Body {
	return &mir.Body{
		Locals: []mir.Local{{Ty: mir.Scalar(4, 4)}},
		Blocks: []mir.BasicBlock{
			{
				Statements: []mir.Statement{
					{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: mir.ReturnLocal},
						RVal:  mir.Rvalue{Kind: mir.RvalUse, Use: mir.Operand{Kind: mir.OperandConstant, ConstU64: 5}},
					},
				},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}
}

func TestDriverRunsToHalt(t *testing.T) {
	in, sm := newTestInterp()
	_, ev := in.PushFrame(0, returnConstBody(), nil, nil)
	require.Nil(t, ev)

	d := New(in, sm, 0, 0)
	outcome, ev := d.Run()
	assert.Equal(t, OutcomeHalt, outcome)
	assert.Nil(t, ev)
}

func TestDriverStepLimitReached(t *testing.T) {
	in, sm := newTestInterp()
	_, ev := in.PushFrame(0, returnConstBody(), nil, nil)
	require.Nil(t, ev)

	d := New(in, sm, 1, 0)
	outcome, ev := d.Run()
	assert.Equal(t, OutcomeStepLimit, outcome)
	require.NotNil(t, ev)
	assert.Equal(t, diag.KindStepLimitReached, ev.Kind)
}

func TestDriverRunsGCAndTicksClockOnInterval(t *testing.T) {
	in, sm := newTestInterp()
	_, ev := in.PushFrame(0, returnConstBody(), nil, nil)
	require.Nil(t, ev)

	d := New(in, sm, 0, 1)
	outcome, ev := d.Run()
	assert.Equal(t, OutcomeHalt, outcome)
	assert.Nil(t, ev)
	assert.True(t, sm.ClockTick() > 0)
}

func TestRunThreadBypassesScheduler(t *testing.T) {
	in, sm := newTestInterp()
	_, ev := in.PushFrame(0, returnConstBody(), nil, nil)
	require.Nil(t, ev)

	d := New(in, sm, 0, 0)
	ev = d.RunThread(0)
	assert.Nil(t, ev)
	assert.Empty(t, in.Frames(0))
}
