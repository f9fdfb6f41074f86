// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provenance

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/ids"
)

// globalHalfBase is the disjoint high half of the address space
// reserved for KindGlobalConstant/KindExternStatic/KindThreadLocal
// allocations so their addresses survive across repeated executions
// when a model-checker driver replays (spec.md §3.2).
const globalHalfBase uint64 = 1 << 47

// lowHalfLimit bounds the low half used for every other kind.
const lowHalfLimit uint64 = 1 << 46

// IntToPtrMode is the configurable int->ptr conversion policy of
// spec.md §3.2.
type IntToPtrMode int

const (
	ModeStrict IntToPtrMode = iota
	ModeDefault
	ModePermissive
)

func ParseIntToPtrMode(s string) (IntToPtrMode, error) {
	switch s {
	case "strict":
		return ModeStrict, nil
	case "default":
		return ModeDefault, nil
	case "permissive":
		return ModePermissive, nil
	default:
		return ModeDefault, fmt.Errorf("unknown provenance mode %q", s)
	}
}

type liveAlloc struct {
	id   ids.AllocID
	base uint64
	size uint64
}

// AddressSpace owns the base-address <-> allocation-id maps and the
// exposed-id set described in spec.md §4.B. It is the one structure in
// the core requiring a recursion guard (spec.md §5): resolving a
// wildcard address may itself need to allocate a synthetic address for
// a global observed for the first time.
type AddressSpace struct {
	mu sync.Mutex

	byBase []liveAlloc // kept sorted by base for binary search
	byID   map[ids.AllocID]*liveAlloc

	exposed map[ids.AllocID]bool

	nextLow  uint64
	nextHigh uint64

	rng *rand.Rand

	// resolving guards re-entrant lookups (spec.md §5): a lookup that
	// triggers on-demand assignment of a global's address must not
	// deadlock against itself.
	resolving map[ids.AllocID]bool

	warnedSpans map[string]bool
}

// NewAddressSpace creates an address space seeded from seed so runs
// with the same --seed produce the same slack gaps between
// allocations (spec.md §3.2, §6.2).
func NewAddressSpace(seed int64) *AddressSpace {
	return &AddressSpace{
		byID:        map[ids.AllocID]*liveAlloc{},
		exposed:     map[ids.AllocID]bool{},
		resolving:   map[ids.AllocID]bool{},
		warnedSpans: map[string]bool{},
		nextLow:     4096,
		nextHigh:    globalHalfBase,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Assign reserves a fresh base address for id. global selects the high
// half reserved for globals/externs/TLS. Returns false (AddressSpaceFull)
// if no address range fits.
func (as *AddressSpace) Assign(id ids.AllocID, size uint64, align uint64, global bool) (uint64, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	aligned := func(v uint64) uint64 {
		if align == 0 {
			return v
		}
		return (v + align - 1) &^ (align - 1)
	}

	var base uint64
	if global {
		base = aligned(as.nextHigh)
		if base+size < base { // overflow
			return 0, false
		}
		as.nextHigh = base + size + 64
	} else {
		slack := uint64(as.rng.Intn(4096))
		base = aligned(as.nextLow + slack)
		if base+size >= lowHalfLimit || base+size < base {
			return 0, false
		}
		as.nextLow = base + size
	}

	rec := &liveAlloc{id: id, base: base, size: size}
	as.byID[id] = rec
	idx := sort.Search(len(as.byBase), func(i int) bool { return as.byBase[i].base >= base })
	as.byBase = append(as.byBase, liveAlloc{})
	copy(as.byBase[idx+1:], as.byBase[idx:])
	as.byBase[idx] = *rec
	return base, true
}

// Retire removes id from the live-lookup tables (it stays resolvable
// as "dead" by the caller's own dead-allocation index; AddressSpace
// itself only tracks live base addresses per spec.md §4.B).
func (as *AddressSpace) Retire(id ids.AllocID) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.byID, id)
	for i, r := range as.byBase {
		if r.id == id {
			as.byBase = append(as.byBase[:i], as.byBase[i+1:]...)
			break
		}
	}
}

// Expose marks id as exposed: ptr->int conversion always succeeds and
// always exposes (spec.md §3.2).
func (as *AddressSpace) Expose(id ids.AllocID) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.exposed[id] = true
}

func (as *AddressSpace) isExposed(id ids.AllocID) bool {
	return as.exposed[id]
}

// LookupResult is the outcome of resolving an absolute address back to
// an allocation id.
type LookupResult struct {
	ID     ids.AllocID
	Offset uint64
	Found  bool
}

// Resolve finds the greatest base address <= addr whose allocation
// covers addr, is live and exposed (spec.md §4.B). Re-entrant calls for
// the same id (the address-exposure recursion guard of spec.md §5)
// short-circuit to "not found" rather than deadlocking.
func (as *AddressSpace) Resolve(addr uint64) LookupResult {
	as.mu.Lock()
	defer as.mu.Unlock()

	i := sort.Search(len(as.byBase), func(i int) bool { return as.byBase[i].base > addr })
	if i == 0 {
		return LookupResult{}
	}
	cand := as.byBase[i-1]
	if addr-cand.base > cand.size {
		return LookupResult{}
	}
	if as.resolving[cand.id] {
		return LookupResult{}
	}
	if !as.isExposed(cand.id) {
		return LookupResult{}
	}
	return LookupResult{ID: cand.id, Offset: addr - cand.base, Found: true}
}

// BeginResolve/EndResolve bracket a lookup that may itself need to
// allocate a synthetic address for a global seen for the first time,
// implementing the recursion guard of spec.md §5.
func (as *AddressSpace) BeginResolve(id ids.AllocID) {
	as.mu.Lock()
	as.resolving[id] = true
	as.mu.Unlock()
}

func (as *AddressSpace) EndResolve(id ids.AllocID) {
	as.mu.Lock()
	delete(as.resolving, id)
	as.mu.Unlock()
}

// CastIntToPtr applies the int->ptr policy of spec.md §3.2. span is
// used to key the one-shot warning in default mode.
func (as *AddressSpace) CastIntToPtr(mode IntToPtrMode, addr uint64, span diag.Span) (Ptr, *diag.Event) {
	switch mode {
	case ModeStrict:
		return Ptr{}, diag.New(diag.KindInt2PtrStrict, "int-to-pointer cast of 0x%x under strict provenance", addr).At(span)
	case ModeDefault:
		as.mu.Lock()
		key := span.String()
		first := !as.warnedSpans[key]
		as.warnedSpans[key] = true
		as.mu.Unlock()
		p := Ptr{Provenance: Wildcard, Addr: addr}
		if first {
			return p, diag.New(diag.KindWarnInt2PtrCast, "integer-to-pointer cast at %s", span).At(span)
		}
		return p, nil
	default: // ModePermissive
		return Ptr{Provenance: Wildcard, Addr: addr}, nil
	}
}
