// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindGroups(t *testing.T) {
	assert.Equal(t, GroupUB, KindDataRace.Group())
	assert.Equal(t, GroupWarning, KindWarnInt2PtrCast.Group())
	assert.True(t, KindDataRace.Halting())
	assert.False(t, KindWarnInt2PtrCast.Halting())
}

func TestSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, BacktraceOff, boolPtr(false))
	ev := New(KindDataRace, "conflicting access at offset %d", 0).
		With("thread_a", 0).
		With("thread_b", 1).
		At(Span{File: "x.rs", Line: 3, Col: 5})
	sink.Emit(ev)
	out := buf.String()
	assert.Contains(t, out, "error: DataRace: conflicting access at offset 0")
	assert.Contains(t, out, "--> x.rs:3:5")
}

func TestSinkQueuesWarnings(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, BacktraceOff, boolPtr(false))
	sink.Emit(New(KindWarnInt2PtrCast, "first int2ptr cast"))
	sink.Emit(New(KindDataRace, "boom"))
	assert.Len(t, sink.Queued(), 1)
}

func boolPtr(b bool) *bool { return &b }
