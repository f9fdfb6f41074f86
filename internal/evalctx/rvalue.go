// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/provenance"
)

func maskBits(size uint64) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func signExtend(v uint64, size uint64) int64 {
	if size >= 8 {
		return int64(v)
	}
	shift := 64 - size*8
	return int64(v<<shift) >> shift
}

// evalRvalue implements spec.md §4.H's "Assignment dispatcher": use,
// binary op, checked-binary op, unary op, aggregate construction,
// array-repeat, length, reference, box, cast, discriminant-read.
func (in *Interp) evalRvalue(t ids.ThreadID, f *Frame, dest mir.Place, rv mir.Rvalue) *diag.Event {
	switch rv.Kind {
	case mir.RvalUse:
		v, ev := in.evalOperand(t, f, rv.Use)
		if ev != nil {
			return ev
		}
		return in.assignPlace(t, f, dest, v)

	case mir.RvalBinaryOp:
		res, _, ev := in.evalBinOp(t, f, rv)
		if ev != nil {
			return ev
		}
		return in.assignPlace(t, f, dest, res)

	case mir.RvalCheckedBinaryOp:
		res, overflow, ev := in.evalBinOp(t, f, rv)
		if ev != nil {
			return ev
		}
		flag := memstore.Scalar{Bits: 0, Size: 1}
		if overflow {
			flag.Bits = 1
		}
		return in.assignAggregate(t, f, dest, []memstore.Scalar{res, flag})

	case mir.RvalUnaryOp:
		v, ev := in.evalOperand(t, f, rv.Operand)
		if ev != nil {
			return ev
		}
		size := v.Size
		if rv.Ty != nil {
			size = rv.Ty.Size
		}
		var out uint64
		switch rv.UnOp {
		case mir.UnNeg:
			out = (^v.Bits + 1) & maskBits(size)
		case mir.UnNot:
			out = (^v.Bits) & maskBits(size)
		}
		return in.assignPlace(t, f, dest, memstore.Scalar{Bits: out, Size: size})

	case mir.RvalAggregate:
		elems := make([]memstore.Scalar, len(rv.Fields))
		for i, op := range rv.Fields {
			v, ev := in.evalOperand(t, f, op)
			if ev != nil {
				return ev
			}
			elems[i] = v
		}
		return in.assignAggregate(t, f, dest, elems)

	case mir.RvalRepeat:
		v, ev := in.evalOperand(t, f, rv.RepeatOp)
		if ev != nil {
			return ev
		}
		elems := make([]memstore.Scalar, rv.RepeatN)
		for i := range elems {
			elems[i] = v
		}
		return in.assignAggregate(t, f, dest, elems)

	case mir.RvalLen:
		rp, ev := in.place(t, f, rv.LenOf)
		if ev != nil {
			return ev
		}
		if rp.Ty.Kind != mir.KindArray {
			return diag.New(diag.KindUnsupportedFeature, "length of a non-array place")
		}
		return in.assignPlace(t, f, dest, memstore.Scalar{Bits: rp.Ty.Count, Size: 8})

	case mir.RvalRef, mir.RvalBox:
		rp, ev := in.place(t, f, rv.RefOf)
		if ev != nil {
			return ev
		}
		a := in.Store.Get(rp.Alloc)
		if a == nil {
			return diag.New(diag.KindDanglingPointerDeref, "taking a reference to a freed allocation")
		}
		ptr := memstore.Scalar{
			IsPtr: true,
			Size:  memstore.PtrSize,
			Ptr: provenance.Ptr{
				Provenance: provenance.Concrete(rp.Alloc, rp.Tag),
				Addr:       a.Base + rp.Off,
			},
		}
		return in.assignPlace(t, f, dest, ptr)

	case mir.RvalCast:
		v, ev := in.evalOperand(t, f, rv.CastOf)
		if ev != nil {
			return ev
		}
		out, ev := in.evalCast(v, rv.Ty)
		if ev != nil {
			return ev
		}
		return in.assignPlace(t, f, dest, out)

	case mir.RvalDiscriminant:
		rp, ev := in.place(t, f, rv.DiscrOf)
		if ev != nil {
			return ev
		}
		if rp.Ty.Kind != mir.KindEnum {
			return diag.New(diag.KindInvalidDiscriminant, "discriminant read of a non-enum place")
		}
		sc, ev := in.readScalarChecked(t, rp.Alloc, rp.Off+rp.Ty.DiscrOffset, rp.Ty.DiscrSize, rp.Tag)
		if ev != nil {
			return ev
		}
		valid := false
		for _, va := range rp.Ty.Variants {
			if va.Discriminant == int64(sc.Bits) {
				valid = true
				break
			}
		}
		if !valid {
			return diag.New(diag.KindInvalidDiscriminant, "discriminant value %d does not name any variant", sc.Bits)
		}
		return in.assignPlace(t, f, dest, memstore.Scalar{Bits: sc.Bits, Size: sc.Size})
	}
	return diag.New(diag.KindUnsupportedFeature, "unhandled rvalue kind %v", rv.Kind)
}

// evalBinOp evaluates a (Checked)BinaryOp rvalue's lhs/rhs, returning
// the result scalar and, for the checked variant's benefit, whether an
// add/sub/mul overflowed the destination width (spec.md §4.H).
func (in *Interp) evalBinOp(t ids.ThreadID, f *Frame, rv mir.Rvalue) (memstore.Scalar, bool, *diag.Event) {
	lhs, ev := in.evalOperand(t, f, rv.Lhs)
	if ev != nil {
		return memstore.Scalar{}, false, ev
	}
	rhs, ev := in.evalOperand(t, f, rv.Rhs)
	if ev != nil {
		return memstore.Scalar{}, false, ev
	}
	size := lhs.Size
	signed := false
	if rv.Ty != nil {
		size = rv.Ty.Size
		signed = rv.Ty.Signed
	}
	mask := maskBits(size)
	a, b := lhs.Bits&mask, rhs.Bits&mask

	boolResult := func(cond bool) memstore.Scalar {
		v := uint64(0)
		if cond {
			v = 1
		}
		return memstore.Scalar{Bits: v, Size: 1}
	}

	switch rv.BinOp {
	case mir.BinEq:
		return boolResult(a == b), false, nil
	case mir.BinNe:
		return boolResult(a != b), false, nil
	case mir.BinLt, mir.BinLe, mir.BinGt, mir.BinGe:
		var cmp int
		if signed {
			sa, sb := signExtend(a, size), signExtend(b, size)
			switch {
			case sa < sb:
				cmp = -1
			case sa > sb:
				cmp = 1
			}
		} else {
			switch {
			case a < b:
				cmp = -1
			case a > b:
				cmp = 1
			}
		}
		var cond bool
		switch rv.BinOp {
		case mir.BinLt:
			cond = cmp < 0
		case mir.BinLe:
			cond = cmp <= 0
		case mir.BinGt:
			cond = cmp > 0
		case mir.BinGe:
			cond = cmp >= 0
		}
		return boolResult(cond), false, nil
	case mir.BinAnd:
		return memstore.Scalar{Bits: a & b, Size: size}, false, nil
	case mir.BinOr:
		return memstore.Scalar{Bits: a | b, Size: size}, false, nil
	case mir.BinXor:
		return memstore.Scalar{Bits: a ^ b, Size: size}, false, nil
	case mir.BinShl:
		return memstore.Scalar{Bits: (a << (b % (size * 8))) & mask, Size: size}, false, nil
	case mir.BinShr:
		if signed {
			return memstore.Scalar{Bits: uint64(signExtend(a, size)>>(b%(size*8))) & mask, Size: size}, false, nil
		}
		return memstore.Scalar{Bits: a >> (b % (size * 8)), Size: size}, false, nil
	case mir.BinAdd:
		sum := (a + b) & mask
		overflow := overflows(a, b, sum, size, signed, mir.BinAdd)
		return memstore.Scalar{Bits: sum, Size: size}, overflow, nil
	case mir.BinSub:
		diff := (a - b) & mask
		overflow := overflows(a, b, diff, size, signed, mir.BinSub)
		return memstore.Scalar{Bits: diff, Size: size}, overflow, nil
	case mir.BinMul:
		prod := (a * b) & mask
		overflow := overflows(a, b, prod, size, signed, mir.BinMul)
		return memstore.Scalar{Bits: prod, Size: size}, overflow, nil
	case mir.BinDiv:
		if b == 0 {
			return memstore.Scalar{}, false, diag.New(diag.KindUnsupportedFeature, "division by zero")
		}
		if signed {
			return memstore.Scalar{Bits: uint64(signExtend(a, size)/signExtend(b, size)) & mask, Size: size}, false, nil
		}
		return memstore.Scalar{Bits: (a / b) & mask, Size: size}, false, nil
	case mir.BinRem:
		if b == 0 {
			return memstore.Scalar{}, false, diag.New(diag.KindUnsupportedFeature, "remainder by zero")
		}
		if signed {
			return memstore.Scalar{Bits: uint64(signExtend(a, size)%signExtend(b, size)) & mask, Size: size}, false, nil
		}
		return memstore.Scalar{Bits: (a % b) & mask, Size: size}, false, nil
	}
	return memstore.Scalar{}, false, diag.New(diag.KindUnsupportedFeature, "unhandled binary operator %v", rv.BinOp)
}

// overflows reports whether a (size*8)-bit add/sub/mul truncated a
// mathematically wider result, using the full-width uint64 evaluation
// the caller already performed as the unsigned reference.
func overflows(a, b, result uint64, size uint64, signed bool, op mir.BinOp) bool {
	if size >= 8 {
		// At full machine width, detect via the wraparound identity
		// rather than promoting to a wider type.
		switch op {
		case mir.BinAdd:
			return result < a
		case mir.BinSub:
			return a < b
		case mir.BinMul:
			return a != 0 && result/a != b
		}
		return false
	}
	mask := maskBits(size)
	if !signed {
		switch op {
		case mir.BinAdd:
			return a+b > mask
		case mir.BinSub:
			return a < b
		case mir.BinMul:
			return a != 0 && (a*b)&^mask != 0
		}
		return false
	}
	sa, sb := signExtend(a, size), signExtend(b, size)
	var full int64
	switch op {
	case mir.BinAdd:
		full = sa + sb
	case mir.BinSub:
		full = sa - sb
	case mir.BinMul:
		full = sa * sb
	}
	return signExtend(uint64(full)&mask, size) != full
}
