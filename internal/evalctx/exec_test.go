// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addOneBody computes 1+2 into local0 (the return place) and returns,
// exercising StmtAssign/RvalBinaryOp and TermReturn end to end.
func addOneBody() *mir.Body {
	i32 := mir.Scalar(4, 4)
	return &mir.Body{
		Locals: []mir.Local{{Ty: i32}},
		Blocks: []mir.BasicBlock{
			{
				Statements: []mir.Statement{
					{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: mir.ReturnLocal},
						RVal: mir.Rvalue{
							Kind:  mir.RvalBinaryOp,
							BinOp: mir.BinAdd,
							Lhs:   mir.Operand{Kind: mir.OperandConstant, ConstU64: 1},
							Rhs:   mir.Operand{Kind: mir.OperandConstant, ConstU64: 2},
						},
					},
				},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}
}

func TestStepRunsAssignThenReturn(t *testing.T) {
	in := newTestInterp()
	body := addOneBody()
	f, ev := in.PushFrame(0, body, nil, nil)
	require.Nil(t, ev)
	require.NotNil(t, f)

	// Statement: local0 = 1 + 2.
	ev = in.Step(0)
	require.Nil(t, ev)
	assert.Equal(t, uint64(3), f.Locals[mir.ReturnLocal].Imm.Bits)

	// Terminator: return (no caller, so this just pops the frame).
	ev = in.Step(0)
	require.Nil(t, ev)
	assert.Empty(t, in.Frames(0))
}

func TestStepOnThreadWithNoFrameIsNoop(t *testing.T) {
	in := newTestInterp()
	ev := in.Step(0)
	assert.Nil(t, ev)
}

func TestAssignCurrentWritesIntoTopFrame(t *testing.T) {
	in := newTestInterp()
	body := addOneBody()
	f, ev := in.PushFrame(0, body, nil, nil)
	require.Nil(t, ev)

	ev = in.AssignCurrent(0, mir.Place{Local: mir.ReturnLocal}, memstore.Scalar{Bits: 7, Size: 4})
	require.Nil(t, ev)
	assert.Equal(t, uint64(7), f.Locals[mir.ReturnLocal].Imm.Bits)
}

func TestAssignCurrentWithNoFrameFails(t *testing.T) {
	in := newTestInterp()
	ev := in.AssignCurrent(0, mir.Place{Local: mir.ReturnLocal}, memstore.Scalar{Bits: 7, Size: 4})
	require.NotNil(t, ev)
}

func TestRegisterShimOverwritesPrevious(t *testing.T) {
	in := newTestInterp()
	firstCalls := 0
	in.RegisterShim("noop", func(*Interp, ids.ThreadID, []memstore.Scalar, mir.Place) *diag.Event {
		firstCalls++
		return nil
	})
	calls := 0
	in.RegisterShim("noop", func(*Interp, ids.ThreadID, []memstore.Scalar, mir.Place) *diag.Event {
		calls++
		return nil
	})
	ev := in.ShimTable["noop"](in, 0, nil, mir.Place{})
	require.Nil(t, ev)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, firstCalls)
}
