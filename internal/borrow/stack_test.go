// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package borrow

import (
	"testing"

	"github.com/mirvm/interp/internal/ids"
	"github.com/stretchr/testify/assert"
)

func TestWriteCompatBoundarySkipsContiguousSharedReadWriteRun(t *testing.T) {
	s := Stack{items: []Item{
		{Perm: Unique, Tag: 1},
		{Perm: SharedReadWrite, Tag: 2},
		{Perm: SharedReadWrite, Tag: 3},
		{Perm: SharedReadOnly, Tag: 4},
	}}
	assert.Equal(t, 3, s.writeCompatBoundary(0))
}

func TestWriteCompatBoundaryIsImmediatelyAboveWhenNextIsNotSharedReadWrite(t *testing.T) {
	s := Stack{items: []Item{
		{Perm: Unique, Tag: 1},
		{Perm: SharedReadOnly, Tag: 2},
	}}
	assert.Equal(t, 1, s.writeCompatBoundary(0))
}

func TestWriteCompatBoundaryAtTopOfStack(t *testing.T) {
	s := Stack{items: []Item{
		{Perm: Unique, Tag: 1},
		{Perm: SharedReadWrite, Tag: 2},
	}}
	assert.Equal(t, 2, s.writeCompatBoundary(0))
}

func TestPopForWriteUsesWriteCompatBoundary(t *testing.T) {
	s := Stack{items: []Item{
		{Perm: SharedReadWrite, Tag: ids.UntaggedTag},
		{Perm: SharedReadWrite, Tag: 1},
		{Perm: SharedReadWrite, Tag: 2},
		{Perm: SharedReadOnly, Tag: 3},
	}}
	s.popForWrite(0)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, ids.Tag(2), s.Top().Tag)
}
