// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc is the external collaborator the druntime array core sits on
// top of: a conservative, attribute-tagged block allocator standing in for
// a real mark-sweep collector.
//
// The core (package druntime) never reaches into a block's bytes except
// through a Heap, the same way lldb.Allocator never reaches past a Filer.
// Heap's attribute bits, block descriptors and IsCollecting query stand in
// for a real collector's surface; this package gives that surface one
// concrete, in-process body so the rest of the module is runnable without
// a real collector underneath it.
package gc

import "fmt"

// Attr is a block attribute bitset.
type Attr uint32

const (
	// FINALIZE marks a block whose content requires finalizer invocation.
	FINALIZE Attr = 1 << iota
	// NO_SCAN marks a block the collector need not scan for pointers.
	NO_SCAN
	// NO_MOVE marks a pinned block.
	NO_MOVE
	// APPENDABLE marks a block carrying in-band array length metadata.
	APPENDABLE

	// ALL_BITS masks every attribute bit defined above.
	ALL_BITS = FINALIZE | NO_SCAN | NO_MOVE | APPENDABLE
)

func (a Attr) String() string {
	if a&^ALL_BITS != 0 {
		return fmt.Sprintf("Attr(%#x)", uint32(a))
	}
	var s string
	for _, b := range []struct {
		bit  Attr
		name string
	}{
		{FINALIZE, "FINALIZE"},
		{NO_SCAN, "NO_SCAN"},
		{NO_MOVE, "NO_MOVE"},
		{APPENDABLE, "APPENDABLE"},
	} {
		if a&b.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

// BlockDescriptor is the value triple (base, size, attrs) describing a live
// block.
type BlockDescriptor struct {
	Base  uintptr
	Size  int
	Attrs Attr
}

// Zero reports whether d is the null descriptor.
func (d BlockDescriptor) Zero() bool { return d.Base == 0 }

// Heap is the interface the druntime core consumes: allocate, extend,
// free, query and tag blocks, kept behind an interface exactly the way
// lldb.Allocator is written against Filer rather than a concrete file type.
type Heap interface {
	// Malloc allocates size bytes with the given attributes and returns
	// the block's base address.
	Malloc(size int, attrs Attr) (uintptr, error)

	// Qalloc allocates and returns the full descriptor in one call. The
	// returned Size may exceed size due to size-class rounding.
	Qalloc(size int, attrs Attr) (BlockDescriptor, error)

	// Extend attempts to grow the block at base in place by at least
	// minExtra and at most maxExtra bytes. It returns the block's new
	// total size and whether the block could be grown in place
	// (ok==false means the caller must reallocate).
	Extend(base uintptr, minExtra, maxExtra int) (newSize int, ok bool)

	// Free releases the block at base. Using base afterwards is undefined.
	Free(base uintptr) error

	// Query returns the descriptor of the live block containing ptr
	// (ptr need not equal the block's base), and whether one was found.
	Query(ptr uintptr) (BlockDescriptor, bool)

	// GetAttr, SetAttr and ClrAttr manipulate a live block's attribute bits.
	GetAttr(base uintptr) Attr
	SetAttr(base uintptr, a Attr)
	ClrAttr(base uintptr, a Attr)

	// IsCollecting reports whether the block at base is about to be
	// reclaimed by the current (simulated) sweep pass. Used by the
	// block-info cache's sweep hook.
	IsCollecting(base uintptr) bool

	// Bytes returns the live byte range [ptr, ptr+n) as a slice backed
	// directly by the block's storage. n must not cross the block's end.
	Bytes(ptr uintptr, n int) []byte

	// SizeOf returns the total byte capacity of the block at base.
	SizeOf(base uintptr) int
}

// OnOutOfMemoryError is invoked, and does not return control to the caller
// in any useful way, whenever allocation fails or an overflow is detected.
// It is a package variable so callers embedding druntime in a larger
// runtime can plug in their own reporting sink.
var OnOutOfMemoryError = func(reason string) {
	panic("gc: out of memory: " + reason)
}

// OnFinalizeError is invoked when a destructor raises during finalization.
// If it returns, finalization continues with the rest of the chain. The
// default panics, which ends that finalization early: the remaining
// destructors and the monitor hook do not run, though the vtable slot is
// still cleared.
var OnFinalizeError = func(classInfo string, cause interface{}) {
	panic(fmt.Sprintf("gc: finalize error in %s: %v", classInfo, cause))
}
