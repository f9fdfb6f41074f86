// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provenance

import (
	"testing"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
	"github.com/stretchr/testify/assert"
)

func TestJoinEqualConcreteYieldsSame(t *testing.T) {
	p := Concrete(1, 2)
	assert.Equal(t, p, Join(p, p))
}

func TestJoinWildcardYieldsOtherSide(t *testing.T) {
	p := Concrete(1, 2)
	assert.Equal(t, p, Join(p, Wildcard))
	assert.Equal(t, p, Join(Wildcard, p))
}

func TestJoinDifferentConcreteYieldsNone(t *testing.T) {
	a := Concrete(1, 2)
	b := Concrete(3, 4)
	assert.Equal(t, None, Join(a, b))
}

func TestParseIntToPtrMode(t *testing.T) {
	cases := map[string]IntToPtrMode{
		"strict":     ModeStrict,
		"default":    ModeDefault,
		"permissive": ModePermissive,
	}
	for s, want := range cases {
		got, err := ParseIntToPtrMode(s)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIntToPtrMode("bogus")
	assert.Error(t, err)
}

func TestAssignAndResolveRoundTrips(t *testing.T) {
	as := NewAddressSpace(1)
	base, ok := as.Assign(ids.AllocID(1), 16, 8, false)
	assert.True(t, ok)

	// Unexposed: resolution fails even though the address is live.
	lr := as.Resolve(base)
	assert.False(t, lr.Found)

	as.Expose(ids.AllocID(1))
	lr = as.Resolve(base)
	assert.True(t, lr.Found)
	assert.Equal(t, ids.AllocID(1), lr.ID)
	assert.Equal(t, uint64(0), lr.Offset)

	// One-past-the-end resolves too (spec.md §8 boundary behaviour).
	lr = as.Resolve(base + 16)
	assert.True(t, lr.Found)
	assert.Equal(t, uint64(16), lr.Offset)

	// Retiring removes it from the live table.
	as.Retire(ids.AllocID(1))
	lr = as.Resolve(base)
	assert.False(t, lr.Found)
}

func TestGlobalAddressesComeFromHighHalf(t *testing.T) {
	as := NewAddressSpace(1)
	lowBase, ok := as.Assign(ids.AllocID(1), 8, 8, false)
	assert.True(t, ok)
	highBase, ok := as.Assign(ids.AllocID(2), 8, 8, true)
	assert.True(t, ok)
	assert.Less(t, lowBase, globalHalfBase)
	assert.GreaterOrEqual(t, highBase, globalHalfBase)
}

func TestCastIntToPtrStrictFails(t *testing.T) {
	as := NewAddressSpace(1)
	_, ev := as.CastIntToPtr(ModeStrict, 0x1000, diag.Span{File: "x.rs", Line: 1, Col: 1})
	assert.NotNil(t, ev)
}

func TestCastIntToPtrDefaultWarnsOnce(t *testing.T) {
	as := NewAddressSpace(1)
	span := diag.Span{File: "x.rs", Line: 1, Col: 1}
	_, ev := as.CastIntToPtr(ModeDefault, 0x1000, span)
	assert.NotNil(t, ev, "first occurrence at a span should warn")
	_, ev = as.CastIntToPtr(ModeDefault, 0x1000, span)
	assert.Nil(t, ev, "second occurrence at the same span should be silent")
}

func TestCastIntToPtrPermissiveIsSilent(t *testing.T) {
	as := NewAddressSpace(1)
	ptr, ev := as.CastIntToPtr(ModePermissive, 0x1000, diag.Span{File: "x.rs", Line: 1, Col: 1})
	assert.Nil(t, ev)
	assert.Equal(t, Wildcard, ptr.Provenance)
	assert.Equal(t, uint64(0x1000), ptr.Addr)
}
