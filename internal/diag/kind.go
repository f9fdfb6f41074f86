// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag implements the structured error taxonomy of component J:
// machine-halt, undefined-behaviour, unsupported, resource-exhaustion,
// halt-with-failure and non-halting diagnostic groups, plus stderr
// formatting.
package diag

// Group is the top-level classification of an outcome reported by the
// interpreter, per spec.md §4.J.
type Group int

const (
	GroupHalt Group = iota
	GroupUB
	GroupUnsupported
	GroupResourceExhaustion
	GroupHaltFailure
	GroupWarning
)

func (g Group) String() string {
	switch g {
	case GroupHalt:
		return "halt"
	case GroupUB:
		return "undefined-behaviour"
	case GroupUnsupported:
		return "unsupported"
	case GroupResourceExhaustion:
		return "resource-exhaustion"
	case GroupHaltFailure:
		return "halt-with-failure"
	case GroupWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Kind is a specific error or diagnostic kind within a Group. The set
// mirrors spec.md §4.J; new kinds must be added to kindInfo as well.
type Kind int

const (
	KindNone Kind = iota

	// Undefined behaviour.
	KindBorrowStackViolation
	KindDataRace
	KindPointerOutOfBounds
	KindDanglingPointerDeref
	KindReadPointerAsBytes
	KindReadUninit
	KindWrongDeallocator
	KindDoubleFree
	KindMisalignedAccess
	KindInvalidBool
	KindInvalidChar
	KindInvalidDiscriminant
	KindInvalidFunctionPointer
	KindUnalignedAtomic
	KindMainExitWithLiveThreads
	KindDeadlock
	KindLeak
	KindInt2PtrStrict
	KindReachedUnreachable
	KindInvalidThreadOp

	// Unsupported.
	KindUnsupportedFeature

	// Resource exhaustion.
	KindAddressSpaceFull
	KindStackFrameLimitReached
	KindStepLimitReached

	// Halt-with-failure.
	KindUnwindPastMain
	KindExplicitAbort

	// Non-halting diagnostics.
	KindWarnInt2PtrCast
	KindNoticeAllocCreated
	KindNoticeAllocFreed
	KindNoticeSizeClassRounded
)

type kindMeta struct {
	group Group
	name  string
}

var kindInfo = map[Kind]kindMeta{
	KindNone:                    {GroupHalt, "Halt"},
	KindBorrowStackViolation:    {GroupUB, "BorrowStackViolation"},
	KindDataRace:                {GroupUB, "DataRace"},
	KindPointerOutOfBounds:      {GroupUB, "PointerOutOfBounds"},
	KindDanglingPointerDeref:    {GroupUB, "DanglingPointerDeref"},
	KindReadPointerAsBytes:      {GroupUB, "ReadPointerAsBytes"},
	KindReadUninit:              {GroupUB, "ReadUninit"},
	KindWrongDeallocator:        {GroupUB, "WrongDeallocator"},
	KindDoubleFree:              {GroupUB, "DoubleFree"},
	KindMisalignedAccess:        {GroupUB, "MisalignedAccess"},
	KindInvalidBool:             {GroupUB, "InvalidBool"},
	KindInvalidChar:             {GroupUB, "InvalidChar"},
	KindInvalidDiscriminant:     {GroupUB, "InvalidDiscriminant"},
	KindInvalidFunctionPointer:  {GroupUB, "InvalidFunctionPointer"},
	KindUnalignedAtomic:         {GroupUB, "UnalignedAtomic"},
	KindMainExitWithLiveThreads: {GroupUB, "MainExitWithLiveThreads"},
	KindDeadlock:                {GroupUB, "Deadlock"},
	KindLeak:                    {GroupUB, "Leak"},
	KindInt2PtrStrict:           {GroupUB, "Int2PtrWithStrictProvenance"},
	KindReachedUnreachable:      {GroupUB, "ReachedUnreachable"},
	KindInvalidThreadOp:         {GroupUB, "InvalidThreadOp"},

	KindUnsupportedFeature: {GroupUnsupported, "UnsupportedFeature"},

	KindAddressSpaceFull:       {GroupResourceExhaustion, "AddressSpaceFull"},
	KindStackFrameLimitReached: {GroupResourceExhaustion, "StackFrameLimitReached"},
	KindStepLimitReached:       {GroupResourceExhaustion, "StepLimitReached"},

	KindUnwindPastMain: {GroupHaltFailure, "UnwindPastMain"},
	KindExplicitAbort:  {GroupHaltFailure, "ExplicitAbort"},

	KindWarnInt2PtrCast:        {GroupWarning, "Int2PtrCast"},
	KindNoticeAllocCreated:     {GroupWarning, "AllocCreated"},
	KindNoticeAllocFreed:       {GroupWarning, "AllocFreed"},
	KindNoticeSizeClassRounded: {GroupWarning, "SizeClassRounded"},
}

// Group returns the classification group for k.
func (k Kind) Group() Group {
	if m, ok := kindInfo[k]; ok {
		return m.group
	}
	return GroupUB
}

func (k Kind) String() string {
	if m, ok := kindInfo[k]; ok {
		return m.name
	}
	return "Unknown"
}

// Halting reports whether an error of this kind must stop the
// interpreter loop (everything except GroupWarning).
func (k Kind) Halting() bool {
	return k.Group() != GroupWarning
}
