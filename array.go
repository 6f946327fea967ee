// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cznic/mathutil"

	"github.com/gr0v3r/druntime/gc"
)

// Slice is the user-visible handle to a managed array: a length and an
// interior pointer into some GC block. Its wire layout is two machine
// words, length first then data pointer.
type Slice struct {
	Length int64
	Data   uintptr
}

// Null reports whether s is the null slice.
func (s Slice) Null() bool { return s.Data == 0 }

// byteType and wcharType are the implicit element types AppendChar and
// AppendWChar operate on; byteType is the shared byte type.
var byteType = SharedType{&BasicType{Size: 1}}
var wcharType = &BasicType{Size: 2}

// resolveBlock finds the block backing an interior pointer, probing the
// cache first unless ti is the shared type.
func (rt *Runtime) resolveBlock(ptr uintptr, ti TypeInfo, c *Cache) (gc.BlockDescriptor, int) {
	if ptr == 0 {
		return gc.BlockDescriptor{}, -1
	}
	if c != nil && !ti.Shared() {
		if d, hit := c.findCached(ptr); hit >= 0 {
			return d, hit
		}
	}
	d, ok := rt.Heap.Query(ptr)
	if !ok {
		return gc.BlockDescriptor{}, -1
	}
	return d, -1
}

func (rt *Runtime) touchCache(ti TypeInfo, c *Cache, d gc.BlockDescriptor, hit int) {
	if c != nil && !ti.Shared() {
		c.insert(d, hit)
	}
}

// allocBlock allocates a fresh APPENDABLE block sized to hold payloadBytes
// of array content, sets its Used-Length unconditionally (no competing
// slice can exist yet) to initialUsed, and returns the descriptor and the
// array-start address.
func (rt *Runtime) allocBlock(ti TypeInfo, payloadBytes, initialUsed int64) (gc.BlockDescriptor, uintptr) {
	pad := padFor(int(payloadBytes))
	total := payloadBytes + int64(pad)

	attrs := gc.APPENDABLE
	if ti.Flags()&HasPointers == 0 {
		attrs |= gc.NO_SCAN
	}

	d, err := rt.Heap.Qalloc(int(total), attrs)
	if err != nil {
		oom(err.Error())
	}
	start := arrayStart(d.Base, d.Size)
	trySetUsed(rt.Heap, d.Base, d.Size, initialUsed, false, nil)
	writeSentinel(rt.Heap, d.Base, d.Size)
	return d, start
}

// fillPattern writes ti's initializer template repeated across b, with the
// 1- and 4-byte pattern widths special-cased for the common char/int fill.
func fillPattern(b []byte, pat []byte) {
	if len(pat) == 0 {
		for i := range b {
			b[i] = 0
		}
		return
	}
	switch len(pat) {
	case 1:
		v := pat[0]
		for i := range b {
			b[i] = v
		}
		return
	case 4:
		for i := 0; i+4 <= len(b); i += 4 {
			copy(b[i:i+4], pat)
		}
		return
	default:
		n := copy(b, pat)
		for n < len(b) {
			n += copy(b[n:], b[:n])
		}
	}
}

// NewArray allocates a fresh, zero-initialized array of n elements.
func (rt *Runtime) NewArray(ti TypeInfo, n int64, c *Cache) (Slice, error) {
	if n == 0 || ti.ElemSize() == 0 {
		return Slice{}, nil
	}
	bytes := checkMul(n, int64(ti.ElemSize()))
	d, start := rt.allocBlock(ti, bytes, bytes)
	rt.touchCache(ti, c, d, -1)
	return Slice{Length: n, Data: start}, nil
}

// NewArrayInit is like NewArray but fills payload with ti's initializer
// pattern instead of zeros.
func (rt *Runtime) NewArrayInit(ti TypeInfo, n int64, c *Cache) (Slice, error) {
	if n == 0 || ti.ElemSize() == 0 {
		return Slice{}, nil
	}
	pat := ti.Init()
	if len(pat) == 0 {
		return rt.NewArray(ti, n, c)
	}
	bytes := checkMul(n, int64(ti.ElemSize()))
	d, start := rt.allocBlock(ti, bytes, bytes)
	fillPattern(rt.Heap.Bytes(start, int(bytes)), pat)
	rt.touchCache(ti, c, d, -1)
	return Slice{Length: n, Data: start}, nil
}

const sliceHeaderSize = 16 // length (8) + data (8), the wire layout of Slice

var sliceHeaderType = &BasicType{Size: sliceHeaderSize, FlagBits: HasPointers}

func encodeSliceHeader(b []byte, s Slice) {
	putU64(b[0:8], uint64(s.Length))
	putU64(b[8:16], uint64(s.Data))
}

func decodeSliceHeader(b []byte) Slice {
	return Slice{Length: int64(getU64(b[0:8])), Data: uintptr(getU64(b[8:16]))}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// NewArrayMulti builds a nested array of the given shape. Leaf level uses
// NewArray or NewArrayInit (pattern-init types); inner levels allocate
// slice-header arrays and recurse. An empty dims returns the null slice.
func (rt *Runtime) NewArrayMulti(ti TypeInfo, dims []int64, c *Cache) (Slice, error) {
	if len(dims) == 0 {
		return Slice{}, nil
	}
	return rt.newArrayMultiRec(ti, dims, c)
}

func (rt *Runtime) newArrayMultiRec(ti TypeInfo, dims []int64, c *Cache) (Slice, error) {
	if len(dims) == 1 {
		if len(ti.Init()) != 0 {
			return rt.NewArrayInit(ti, dims[0], c)
		}
		return rt.NewArray(ti, dims[0], c)
	}

	n := dims[0]
	if n == 0 {
		return Slice{}, nil
	}
	hdr, err := rt.NewArray(sliceHeaderType, n, c)
	if err != nil {
		return Slice{}, err
	}
	raw := rt.Heap.Bytes(hdr.Data, int(n)*sliceHeaderSize)
	for i := int64(0); i < n; i++ {
		child, err := rt.newArrayMultiRec(ti, dims[1:], c)
		if err != nil {
			return Slice{}, err
		}
		encodeSliceHeader(raw[i*sliceHeaderSize:(i+1)*sliceHeaderSize], child)
	}
	return hdr, nil
}

// MultiElem decodes the i'th slice header out of a non-leaf level returned
// by NewArrayMulti.
func (rt *Runtime) MultiElem(hdr Slice, i int64) Slice {
	b := rt.Heap.Bytes(hdr.Data+uintptr(i*sliceHeaderSize), sliceHeaderSize)
	return decodeSliceHeader(b)
}

// growTo is the four-step skeleton shared by every growing operation:
// resolve the backing block, try to grow the Used-Length field in place
// if this slice owns the tail, fall back to extending the heap block for
// large blocks, and finally reallocate and copy.
//
// wantElems is the slice's new element count. If overshoot is set, a
// fresh allocation sizes itself per the capacity policy (amortized
// growth); otherwise it sizes exactly to wantElems (explicit reservation).
func (rt *Runtime) growTo(ti TypeInfo, s *Slice, wantElems int64, overshoot bool, c *Cache) error {
	elemSize := int64(ti.ElemSize())
	if elemSize == 0 {
		return &ErrInvalid{Op: "growTo", Arg: "zero element size"}
	}
	wantBytes := checkMul(wantElems, elemSize)

	if s.Null() {
		bytes := wantBytes
		if overshoot {
			bytes = newCapacity(wantElems, elemSize)
		}
		d, start := rt.allocBlock(ti, bytes, wantBytes)
		rt.touchCache(ti, c, d, -1)
		s.Data, s.Length = start, wantElems
		return nil
	}

	d, hit := rt.resolveBlock(s.Data, ti, c)
	if d.Base != 0 && d.Attrs&gc.APPENDABLE != 0 {
		start := arrayStart(d.Base, d.Size)
		offset := int64(s.Data - start)
		used := readUsed(rt.Heap, d.Base, d.Size)
		ownsTail := offset+s.Length*elemSize == used
		newTail := offset + wantBytes

		if ownsTail {
			if trySetUsed(rt.Heap, d.Base, d.Size, newTail, ti.Shared(), &used) {
				rt.touchCache(ti, c, d, hit)
				s.Length = wantElems
				return nil
			}
			// In-place write failed only because the block itself is too
			// small; for large blocks try growing the block before
			// giving up and reallocating.
			if classify(d.Size) == classLarge {
				needed := int(newTail+int64(padOf(d.Size))) - d.Size
				if needed > 0 {
					if newSize, ok := rt.Heap.Extend(d.Base, needed, needed*2); ok {
						d.Size = newSize
						writeSentinel(rt.Heap, d.Base, d.Size)
						if trySetUsed(rt.Heap, d.Base, d.Size, newTail, ti.Shared(), &used) {
							rt.touchCache(ti, c, d, hit)
							s.Length = wantElems
							return nil
						}
					}
				}
			}
		}
	}

	// Fallback: reallocate and copy.
	bytes := wantBytes
	if overshoot {
		bytes = newCapacity(wantElems, elemSize)
	}
	newD, newStart := rt.allocBlock(ti, bytes, wantBytes)
	if s.Length > 0 {
		copy(rt.Heap.Bytes(newStart, int(s.Length*elemSize)), rt.Heap.Bytes(s.Data, int(s.Length*elemSize)))
	}
	rt.touchCache(ti, c, newD, -1)
	s.Data, s.Length = newStart, wantElems
	return nil
}

// SetLength grows or shrinks s to newLen elements in place. Shrinking only
// touches the slice header; growing zero- or pattern-fills the new tail.
func (rt *Runtime) SetLength(ti TypeInfo, newLen int64, s *Slice, c *Cache) error {
	if newLen <= s.Length {
		s.Length = newLen
		return nil
	}
	oldLen := s.Length
	if err := rt.growTo(ti, s, newLen, false, c); err != nil {
		return err
	}
	elemSize := int64(ti.ElemSize())
	tail := rt.Heap.Bytes(s.Data+uintptr(oldLen*elemSize), int((newLen-oldLen)*elemSize))
	fillPattern(tail, ti.Init())
	return nil
}

// SetCapacity ensures the backing block has room for at least newCap
// elements past s's start, without changing s.Length or the block's
// Used-Length. Passing newCap == 0 only queries the current capacity.
// Idempotent: calling it again with the same newCap performs no further
// allocation.
func (rt *Runtime) SetCapacity(ti TypeInfo, newCap int64, s *Slice, c *Cache) (int64, error) {
	elemSize := int64(ti.ElemSize())
	if elemSize == 0 {
		return 0, &ErrInvalid{Op: "SetCapacity", Arg: "zero element size"}
	}

	capOf := func(d gc.BlockDescriptor, offset int64) int64 {
		room := mathutil.MaxInt64(int64(d.Size-padOf(d.Size))-offset, 0)
		return room / elemSize
	}

	if s.Null() {
		if newCap == 0 {
			return 0, nil
		}
		d, start := rt.allocBlock(ti, newCap*elemSize, 0)
		rt.touchCache(ti, c, d, -1)
		s.Data = start
		return capOf(d, 0), nil
	}

	d, hit := rt.resolveBlock(s.Data, ti, c)
	if d.Base == 0 {
		return 0, &ErrInvalid{Op: "SetCapacity", Arg: "unresolvable slice"}
	}
	start := arrayStart(d.Base, d.Size)
	offset := int64(s.Data - start)
	cur := capOf(d, offset)
	if newCap == 0 || cur >= newCap {
		rt.touchCache(ti, c, d, hit)
		return cur, nil
	}

	wantBytes := (offset + newCap*elemSize)
	if classify(d.Size) == classLarge {
		needed := int(wantBytes+int64(padOf(d.Size))) - d.Size
		if newSize, ok := rt.Heap.Extend(d.Base, needed, needed*2); ok {
			d.Size = newSize
			writeSentinel(rt.Heap, d.Base, d.Size)
			rt.touchCache(ti, c, d, hit)
			return capOf(d, offset), nil
		}
	}

	newD, newStart := rt.allocBlock(ti, newCap*elemSize, s.Length*elemSize)
	if s.Length > 0 {
		copy(rt.Heap.Bytes(newStart, int(s.Length*elemSize)), rt.Heap.Bytes(s.Data, int(s.Length*elemSize)))
	}
	rt.touchCache(ti, c, newD, -1)
	s.Data = newStart
	return capOf(newD, 0), nil
}

// ShrinkFit sets the backing block's Used-Length to exactly s's own tail,
// with an unconditional write rather than a CAS: the caller asserts no
// other slice is contending for this block's tail right now.
func (rt *Runtime) ShrinkFit(ti TypeInfo, s Slice) error {
	if s.Null() {
		return nil
	}
	d, ok := rt.Heap.Query(s.Data)
	if !ok || d.Attrs&gc.APPENDABLE == 0 {
		return &ErrInvalid{Op: "ShrinkFit", Arg: "block is not APPENDABLE"}
	}
	start := arrayStart(d.Base, d.Size)
	offset := int64(s.Data - start)
	newUsed := offset + s.Length*int64(ti.ElemSize())
	if !trySetUsed(rt.Heap, d.Base, d.Size, newUsed, ti.Shared(), nil) {
		return &ErrInvalid{Op: "ShrinkFit", Arg: "length does not fit the block"}
	}
	return nil
}

// AppendX grows s by nElems uninitialized elements and returns the raw
// byte range of the new tail for the caller to fill.
func (rt *Runtime) AppendX(ti TypeInfo, s *Slice, nElems int64, c *Cache) ([]byte, error) {
	if nElems == 0 {
		return nil, nil
	}
	oldLen := s.Length
	if err := rt.growTo(ti, s, oldLen+nElems, true, c); err != nil {
		return nil, err
	}
	elemSize := int64(ti.ElemSize())
	return rt.Heap.Bytes(s.Data+uintptr(oldLen*elemSize), int(nElems*elemSize)), nil
}

// Append grows s by rhs's length and copies rhs's content into the tail.
func (rt *Runtime) Append(ti TypeInfo, s *Slice, rhs Slice, c *Cache) error {
	tail, err := rt.AppendX(ti, s, rhs.Length, c)
	if err != nil {
		return err
	}
	elemSize := int64(ti.ElemSize())
	copy(tail, rt.Heap.Bytes(rhs.Data, int(rhs.Length*elemSize)))
	return nil
}

// AppendChar encodes dchar as 1-4 UTF-8 bytes and appends them to s,
// treated as a shared byte array.
func (rt *Runtime) AppendChar(s *Slice, dchar rune, c *Cache) error {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], dchar)
	tail, err := rt.AppendX(byteType, s, int64(n), c)
	if err != nil {
		return err
	}
	copy(tail, buf[:n])
	return nil
}

// AppendWChar encodes dchar as 1-2 UTF-16 code units (a surrogate pair for
// code points above 0xFFFF) and appends them to s.
func (rt *Runtime) AppendWChar(s *Slice, dchar rune, c *Cache) error {
	units := utf16.Encode([]rune{dchar})
	tail, err := rt.AppendX(wcharType, s, int64(len(units)), c)
	if err != nil {
		return err
	}
	for i, u := range units {
		putU16(tail[i*2:i*2+2], u)
	}
	return nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// Concat returns a fresh array holding x followed by y.
func (rt *Runtime) Concat(ti TypeInfo, x, y Slice) (Slice, error) {
	return rt.ConcatN(ti, []Slice{x, y})
}

// ConcatN returns a fresh array holding every slice's content in order.
func (rt *Runtime) ConcatN(ti TypeInfo, slices []Slice) (Slice, error) {
	elemSize := int64(ti.ElemSize())
	var total int64
	for _, s := range slices {
		total += s.Length
	}
	if total == 0 || elemSize == 0 {
		return Slice{}, nil
	}
	bytes := checkMul(total, elemSize)
	d, start := rt.allocBlock(ti, bytes, bytes)
	off := int64(0)
	for _, s := range slices {
		if s.Length == 0 {
			continue
		}
		n := s.Length * elemSize
		copy(rt.Heap.Bytes(start+uintptr(off), int(n)), rt.Heap.Bytes(s.Data, int(n)))
		off += n
	}
	_ = d
	return Slice{Length: total, Data: start}, nil
}

// Dup returns an independent copy of s.
func (rt *Runtime) Dup(ti TypeInfo, s Slice) (Slice, error) {
	if s.Null() {
		return Slice{}, nil
	}
	elemSize := int64(ti.ElemSize())
	bytes := checkMul(s.Length, elemSize)
	d, start := rt.allocBlock(ti, bytes, bytes)
	copy(rt.Heap.Bytes(start, int(bytes)), rt.Heap.Bytes(s.Data, int(bytes)))
	_ = d
	return Slice{Length: s.Length, Data: start}, nil
}

// ArrayLiteralAlloc returns a fresh, uninitialized array of n elements
// with Used-Length set to full; the caller fills the content.
func (rt *Runtime) ArrayLiteralAlloc(ti TypeInfo, n int64) (Slice, error) {
	if n == 0 || ti.ElemSize() == 0 {
		return Slice{}, nil
	}
	bytes := checkMul(n, int64(ti.ElemSize()))
	_, start := rt.allocBlock(ti, bytes, bytes)
	return Slice{Length: n, Data: start}, nil
}
