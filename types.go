// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

// TypeInfo is the element type descriptor contract array operations are
// given. It never needs to be implemented by this module's own callers for
// anything beyond a handful of primitive cases; it exists so the core never
// special-cases element shape itself.
type TypeInfo interface {
	// ElemSize returns the size in bytes of one element. Zero makes
	// NewArray, NewArrayInit, ConcatN and ArrayLiteralAlloc return the null
	// slice, and makes the growing operations and SetCapacity return
	// ErrInvalid.
	ElemSize() int

	// Flags returns the type's flag bits. Bit 0 set means the element
	// contains pointers, which disables NO_SCAN on backing blocks.
	Flags() TypeFlags

	// Init returns the initializer template: empty for zero-init types,
	// otherwise a byte pattern repeated across every element.
	Init() []byte

	// Shared reports whether this is the designated shared element type,
	// forcing Used-Length CAS through the single global lock and
	// bypassing the per-goroutine block-info cache.
	Shared() bool
}

// TypeFlags is the flags word of a TypeInfo.
type TypeFlags uint32

const (
	// HasPointers marks a type whose elements may reference other
	// GC-managed blocks, disabling NO_SCAN.
	HasPointers TypeFlags = 1 << iota
)

// BasicType is the TypeInfo a caller uses to describe an ordinary,
// non-shared element type: a size, a flag word and an optional initializer
// pattern (most often nil, i.e. zero-init).
type BasicType struct {
	Size     int
	FlagBits TypeFlags
	Pat      []byte // nil means zero-fill
}

func (t *BasicType) ElemSize() int    { return t.Size }
func (t *BasicType) Flags() TypeFlags { return t.FlagBits }
func (t *BasicType) Init() []byte     { return t.Pat }
func (t *BasicType) Shared() bool     { return false }

// SharedType wraps a TypeInfo to mark it shared: a single, designated
// element type whose blocks serialize Used-Length updates through the
// global lock instead of the per-goroutine cache.
type SharedType struct {
	TypeInfo
}

func (t SharedType) Shared() bool { return true }
