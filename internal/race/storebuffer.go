// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package race

import "github.com/mirvm/interp/internal/ids"

// BufferedStore is one entry of an atomic location's weak-memory store
// buffer (spec.md §3.4, §4.E).
type BufferedStore struct {
	Value   uint64
	Release Clock
	Writer  ids.ThreadID
	Seq     uint64 // monotone sequence number, used for coherence bookkeeping
}

// storeBuffer is a bounded FIFO of past atomic stores for one location.
type storeBuffer struct {
	entries   []BufferedStore
	cap       int
	nextSeq   uint64
	coherence map[ids.ThreadID]uint64 // last-observed Seq per thread
}

func newStoreBuffer(capacity int) *storeBuffer {
	if capacity <= 0 {
		capacity = 8
	}
	return &storeBuffer{cap: capacity, coherence: map[ids.ThreadID]uint64{}}
}

// push enqueues a new store, evicting the oldest entry once the buffer
// is full. A non-atomic write should call reset instead.
func (b *storeBuffer) push(value uint64, rel Clock, writer ids.ThreadID) BufferedStore {
	e := BufferedStore{Value: value, Release: rel, Writer: writer, Seq: b.nextSeq}
	b.nextSeq++
	b.entries = append(b.entries, e)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
	return e
}

// reset clears the buffer and establishes a fresh baseline, as
// required when a non-atomic write touches a location previously used
// atomically (spec.md §4.E).
func (b *storeBuffer) reset() {
	b.entries = nil
	b.coherence = map[ids.ThreadID]uint64{}
}

// candidates returns the buffered stores thread t may legally observe:
// not older than the newest entry t has already observed (coherence).
func (b *storeBuffer) candidates(t ids.ThreadID) []BufferedStore {
	minSeq, seen := b.coherence[t]
	if !seen && len(b.entries) > 0 {
		minSeq = b.entries[0].Seq
	}
	out := make([]BufferedStore, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Seq >= minSeq {
			out = append(out, e)
		}
	}
	return out
}

// observe records that t has now observed entry e, enforcing
// coherence on subsequent loads.
func (b *storeBuffer) observe(t ids.ThreadID, e BufferedStore) {
	if cur, ok := b.coherence[t]; !ok || e.Seq > cur {
		b.coherence[t] = e.Seq
	}
}

// latest returns the most recently pushed store, used by ReleaseStore
// to collapse per-thread coherence when weak memory is off and by
// AcquireLoad when a thread has no candidate store left.
func (b *storeBuffer) latest() (BufferedStore, bool) {
	if len(b.entries) == 0 {
		return BufferedStore{}, false
	}
	return b.entries[len(b.entries)-1], true
}
