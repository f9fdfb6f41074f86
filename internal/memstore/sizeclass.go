// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore

import "sort"

// classToSize is the size-class table computed by the teacher's
// msize.go InitSizes (ported as a static table rather than recomputed,
// since the core has no page allocator to size classes against). It is
// used purely for the informational "would have been rounded to N
// bytes" diagnostic of SPEC_FULL.md §1: the abstract machine itself
// always tracks the exact requested size, never the rounded one.
var classToSize = [...]uint64{
	0, 8, 16, 32, 48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224,
	240, 256, 288, 320, 352, 384, 416, 448, 480, 512, 576, 640, 704, 768,
	896, 1024, 1152, 1280, 1408, 1536, 1664, 2048, 2304, 2560, 2816,
	3072, 3328, 4096, 4608, 5376, 6144, 6400, 6656, 6912, 8192, 8448,
	8704, 9472, 10496, 12288, 13568, 14080, 16384, 16640, 17664, 20480,
	21248, 24576, 24832, 28416, 32768,
}

// maxSmallSize is the largest request this table rounds; larger
// requests are reported unrounded (the teacher's own large-object path
// bypasses size classes entirely past this point).
const maxSmallSize = 32768

// RoundedSize implements the teacher's sizeToClass/class_to_size
// lookup (msize.go), generalized from "which size class does the
// allocator serve this from" to "which size would this allocation
// request have been padded to", reported as a non-halting diagnostic
// by callers that care (stack-local and heap-managed allocations), per
// SPEC_FULL.md §1.
func RoundedSize(size uint64) uint64 {
	if size == 0 || size > maxSmallSize {
		return size
	}
	i := sort.Search(len(classToSize), func(i int) bool { return classToSize[i] >= size })
	return classToSize[i]
}
