// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evalctx

import (
	"bytes"
	"math/rand"

	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/mirvm/interp/internal/race"
	"github.com/mirvm/interp/internal/sched"
	"github.com/mirvm/interp/internal/syncprim"
)

// newTestInterp assembles a minimal Interp the way cmd/mirvm's
// runProgram does, for use by this package's own tests.
func newTestInterp() *Interp {
	addrs := provenance.NewAddressSpace(1)
	store := memstore.NewStore(addrs)
	be := borrow.New(true, 4)
	re := race.New(true, false, 4, rand.New(rand.NewSource(1)))
	sm := sched.New(0)
	sp := syncprim.New(re, sm)
	sink := diag.NewSink(&bytes.Buffer{}, diag.BacktraceOff, nil)
	return New(store, addrs, be, re, sm, sp, nil, sink, nil, provenance.ModeDefault)
}
