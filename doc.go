// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package druntime implements the managed-array runtime core: growable,
sliceable, garbage-collected arrays with amortized O(1) append, built on
top of a conservative mark-sweep collector exposed through package gc.

The hard part is not allocation itself but letting independent Slice
values share the tail of one GC block safely. Every APPENDABLE block
keeps a Used-Length field (see block.go, length.go) recording how far any
slice has ever grown it; only the slice whose own end coincides with that
field may grow the block in place, and it may only do so by winning a
compare-and-set against the field's current value. Every other slice, on
append, transparently reallocates — the caller never sees the difference
except that its slice now points at fresh storage.

A Runtime bundles the three pieces that must stay coherent: the gc.Heap
collaborator, a registry of per-goroutine block-info Caches (cache.go),
and the global collect handler used during class finalization (class.go).
Callers that never append concurrently from more than one goroutine can
ignore the Cache entirely by passing nil; it exists purely to avoid a
gc.Heap.Query round trip on the hot append path.

*/
package druntime
