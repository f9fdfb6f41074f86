// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/mir"
)

// evalCast implements spec.md §4.H's cast rvalue, including the two
// provenance-sensitive directions of spec.md §3.2/§4.B: int->ptr goes
// through the configured IntToPtr policy (possibly queuing a one-shot
// warning), and ptr->int exposes the source allocation so a later
// wildcard-provenance Resolve can find it again.
func (in *Interp) evalCast(v memstore.Scalar, dst *mir.Ty) (memstore.Scalar, *diag.Event) {
	switch dst.Kind {
	case mir.KindPtr, mir.KindRef, mir.KindBox:
		if v.IsPtr {
			return v, nil
		}
		p, ev := in.Addrs.CastIntToPtr(in.IntToPtr, v.Bits, diag.Span{})
		if ev != nil {
			if ev.Kind.Halting() {
				return memstore.Scalar{}, ev
			}
			in.emit(ev)
		}
		return memstore.Scalar{IsPtr: true, Size: memstore.PtrSize, Ptr: p}, nil
	default:
		if v.IsPtr {
			in.Addrs.Expose(v.Ptr.Provenance.Alloc)
			return memstore.Scalar{Bits: v.Ptr.Addr & maskBits(dst.Size), Size: dst.Size}, nil
		}
		return memstore.Scalar{Bits: v.Bits & maskBits(dst.Size), Size: dst.Size}, nil
	}
}
