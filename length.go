// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"encoding/binary"
	"sync"

	"github.com/gr0v3r/druntime/gc"
)

// sharedLengthMu is the single process-wide lock serializing Used-Length
// CAS attempts on blocks backing the shared element type. A finer-grained
// (per-block or sharded) lock would cut contention further, but array
// metadata updates are rare relative to element access, so the coarse
// lock is kept for simplicity.
var sharedLengthMu sync.Mutex

// usedLengthField locates the Used-Length field within a block, returning
// its byte offset from base and its width in bytes.
func usedLengthField(base uintptr, size int) (off int, width int) {
	switch classify(size) {
	case classSmall:
		return size - 1, 1
	case classMed:
		return size - 2, 2
	default:
		return 0, 8
	}
}

func decodeUsed(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(b[0])
	case 2:
		return int64(binary.BigEndian.Uint16(b))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func encodeUsed(b []byte, v int64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	default:
		binary.BigEndian.PutUint64(b, uint64(v))
	}
}

// readUsed returns the Used-Length currently stored in the block at base.
func readUsed(h gc.Heap, base uintptr, size int) int64 {
	off, width := usedLengthField(base, size)
	return decodeUsed(h.Bytes(base+uintptr(off), width))
}

// trySetUsed attempts to store newLen as the block's Used-Length.
//
// If expectedOld is non-nil, the write only takes effect when the field
// currently holds *expectedOld (a compare-and-set); otherwise it writes
// unconditionally, which is only safe at block-creation time when no
// other slice can be contending for the field.
//
// isShared serializes the whole read-compare-write sequence through the
// single global shared-metadata lock; non-shared callers rely on the
// invariant that no other goroutine may legitimately be touching this
// slice's tail concurrently.
func trySetUsed(h gc.Heap, base uintptr, size int, newLen int64, isShared bool, expectedOld *int64) bool {
	pad := padOf(size)
	if newLen+int64(pad) > int64(size) {
		return false
	}
	if newLen > maxFieldValue(size) {
		panic("druntime: Used-Length overflow for block size class")
	}

	if isShared {
		sharedLengthMu.Lock()
		defer sharedLengthMu.Unlock()
	}

	off, width := usedLengthField(base, size)
	field := h.Bytes(base+uintptr(off), width)
	if expectedOld != nil {
		if decodeUsed(field) != *expectedOld {
			return false
		}
	}
	encodeUsed(field, newLen)
	return true
}

// writeSentinel stores a documented but non-contractual trailing zero byte
// on a large block, which can help code elsewhere in a host runtime treat
// array content as null-terminated "for free".
func writeSentinel(h gc.Heap, base uintptr, size int) {
	if classify(size) != classLarge {
		return
	}
	h.Bytes(base+uintptr(size-1), 1)[0] = 0
}

// checkSentinel reports whether a large block's trailing sentinel byte is
// still zero. Used only by tests: no operation in this package depends on
// the sentinel being present.
func checkSentinel(h gc.Heap, base uintptr, size int) bool {
	if classify(size) != classLarge {
		return true
	}
	return h.Bytes(base+uintptr(size-1), 1)[0] == 0
}
