// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringForms(t *testing.T) {
	assert.Equal(t, "alloc42", AllocID(42).String())
	assert.Equal(t, "tag7", Tag(7).String())
	assert.Equal(t, "thread3", ThreadID(3).String())
}

func TestAllocKindString(t *testing.T) {
	assert.Equal(t, "stack-local", KindStackLocal.String())
	assert.Equal(t, "heap-managed", KindHeapManaged.String())
	assert.Equal(t, "unknown", AllocKind(999).String())
}

func TestExemptFromLeakCheck(t *testing.T) {
	assert.True(t, KindGlobalConstant.ExemptFromLeakCheck())
	assert.True(t, KindExternStatic.ExemptFromLeakCheck())
	assert.True(t, KindThreadLocal.ExemptFromLeakCheck())
	assert.True(t, KindMachineInternal.ExemptFromLeakCheck())
	assert.False(t, KindHeapManaged.ExemptFromLeakCheck())
	assert.False(t, KindStackLocal.ExemptFromLeakCheck())
}

func TestDeallocationForbidden(t *testing.T) {
	assert.True(t, KindStackLocal.DeallocationForbidden())
	assert.True(t, KindGlobalConstant.DeallocationForbidden())
	assert.False(t, KindHeapManaged.DeallocationForbidden())
	assert.False(t, KindHeapForeign.DeallocationForbidden())
}

func TestUntaggedTagIsZero(t *testing.T) {
	assert.Equal(t, Tag(0), UntaggedTag)
}
