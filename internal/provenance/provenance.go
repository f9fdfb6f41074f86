// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package provenance implements component B: pointer provenance values,
// the address-space map used to resolve wildcard provenance, and the
// configurable int<->ptr conversion policy (spec.md §3.2, §4.B).
package provenance

import "github.com/mirvm/interp/internal/ids"

// Kind distinguishes the three provenance shapes of spec.md §3.2.
type Kind int

const (
	// KindNone: integer-shaped value reinterpreted as a pointer.
	// Strictly invalid; any dereference through it is UB.
	KindNone Kind = iota
	// KindConcrete: (allocation-id, aliasing-tag).
	KindConcrete
	// KindWildcard: "may alias any exposed allocation".
	KindWildcard
)

// Provenance is the non-address half of a pointer value.
type Provenance struct {
	Kind  Kind
	Alloc ids.AllocID
	Tag   ids.Tag
}

// None is the strictly-invalid provenance.
var None = Provenance{Kind: KindNone}

// Wildcard is produced by int->ptr casts in permissive/default mode.
var Wildcard = Provenance{Kind: KindWildcard}

// Concrete builds a concrete provenance.
func Concrete(id ids.AllocID, tag ids.Tag) Provenance {
	return Provenance{Kind: KindConcrete, Alloc: id, Tag: tag}
}

// Join implements the abstract-interpretation merge rule of spec.md
// §4.B: joining two equal concrete provenances yields that provenance;
// joining anything with wildcard yields the other side; otherwise
// none.
func Join(a, b Provenance) Provenance {
	if a == b {
		return a
	}
	if a.Kind == KindWildcard {
		return b
	}
	if b.Kind == KindWildcard {
		return a
	}
	return None
}

// Ptr is a full pointer value: provenance plus an absolute address.
type Ptr struct {
	Provenance Provenance
	Addr       uint64
}
