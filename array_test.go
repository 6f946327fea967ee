// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"bytes"
	"testing"

	"github.com/gr0v3r/druntime/gc"
)

func newTestRuntime() *Runtime {
	return NewRuntime(gc.New())
}

var byteElem = &BasicType{Size: 1}

func TestNewArrayIsZeroed(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Length != 16 {
		t.Fatalf("NewArray: got length %d, want 16", s.Length)
	}
	got := rt.Heap.Bytes(s.Data, 16)
	if !bytes.Equal(got, make([]byte, 16)) {
		t.Fatalf("NewArray: payload not zeroed: %v", got)
	}
}

func TestNewArrayZeroLengthIsNull(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Null() {
		t.Fatal("NewArray(0): got a non-null slice")
	}
}

func TestNewArrayInitFillsPattern(t *testing.T) {
	rt := newTestRuntime()
	ti := &BasicType{Size: 1, Pat: []byte{0xAB}}
	s, err := rt.NewArrayInit(ti, 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := rt.Heap.Bytes(s.Data, 8)
	want := bytes.Repeat([]byte{0xAB}, 8)
	if !bytes.Equal(got, want) {
		t.Fatalf("NewArrayInit: got %v, want %v", got, want)
	}
}

// TestAliasedSliceAppendIsStolenSafe covers the "owning slice vs. aliased
// slice" append scenario: a=[1,2,3], b=a[0:2], appending to b must not
// disturb a, since b does not own the block's tail.
func TestAliasedSliceAppendIsStolenSafe(t *testing.T) {
	rt := newTestRuntime()
	a, err := rt.NewArray(byteElem, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	copy(rt.Heap.Bytes(a.Data, 3), []byte{1, 2, 3})

	b := Slice{Length: 2, Data: a.Data} // a[0:2], does not own the tail

	if err := rt.AppendChar(&b, rune(4), nil); err != nil {
		t.Fatal(err)
	}

	if a.Data == b.Data {
		t.Fatal("append to a non-owning alias must not reuse the original block")
	}
	aContent := rt.Heap.Bytes(a.Data, 3)
	if !bytes.Equal(aContent, []byte{1, 2, 3}) {
		t.Fatalf("append to b mutated a's content: got %v", aContent)
	}
	bContent := rt.Heap.Bytes(b.Data, int(b.Length))
	if !bytes.Equal(bContent, []byte{1, 2, 4}) {
		t.Fatalf("b after append: got %v, want [1 2 4]", bContent)
	}
}

// TestOwningSliceAppendGrowsInPlace covers the companion scenario: the
// slice whose end coincides with Used-Length grows its own block in place
// (same Data pointer) rather than reallocating.
func TestOwningSliceAppendGrowsInPlace(t *testing.T) {
	rt := newTestRuntime()
	a, err := rt.NewArray(byteElem, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	copy(rt.Heap.Bytes(a.Data, 3), []byte{1, 2, 3})

	before := a.Data
	if err := rt.AppendChar(&a, rune(4), nil); err != nil {
		t.Fatal(err)
	}
	if a.Data != before {
		t.Fatal("owning slice append should grow its block in place")
	}
	got := rt.Heap.Bytes(a.Data, int(a.Length))
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("a after append: got %v, want [1 2 3 4]", got)
	}
}

// TestLargeBlockExtendPreservesAddress covers the large-block growth path:
// appending one byte to an already-page-sized array grows it in place
// within the block's spare room rather than moving it.
func TestLargeBlockExtendPreservesAddress(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, PageSize*2, nil)
	if err != nil {
		t.Fatal(err)
	}
	before := s.Data

	if err := rt.AppendChar(&s, rune('x'), nil); err != nil {
		t.Fatal(err)
	}
	if s.Data != before {
		t.Fatal("appending one byte to a large array should extend in place, not move")
	}
	if s.Length != PageSize*2+1 {
		t.Fatalf("got length %d, want %d", s.Length, PageSize*2+1)
	}
}

// TestLargeBlockExtendActuallyExtends drives a large block to the edge of
// its physical capacity so appending one more byte must go through
// gc.Heap.Extend rather than succeeding on room already in hand.
func TestLargeBlockExtendActuallyExtends(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, PageSize*2, nil)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := rt.Heap.Query(s.Data)
	if !ok {
		t.Fatal("block vanished")
	}
	pad := padOf(d.Size)
	room := int64(d.Size-pad) - int64(s.Data-arrayStart(d.Base, d.Size))

	if err := rt.SetLength(byteElem, room, &s, nil); err != nil {
		t.Fatal(err)
	}

	before := s.Data
	if err := rt.AppendChar(&s, 'z', nil); err != nil {
		t.Fatal(err)
	}
	if s.Data != before {
		t.Fatal("appending past physical capacity should extend in place via gc.Heap.Extend, not move")
	}
	if s.Length != room+1 {
		t.Fatalf("got length %d, want %d", s.Length, room+1)
	}
}

func TestSetLengthGrowZeroesTail(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	copy(rt.Heap.Bytes(s.Data, 2), []byte{9, 9})

	if err := rt.SetLength(byteElem, 5, &s, nil); err != nil {
		t.Fatal(err)
	}
	got := rt.Heap.Bytes(s.Data, 5)
	if !bytes.Equal(got, []byte{9, 9, 0, 0, 0}) {
		t.Fatalf("SetLength grow: got %v, want [9 9 0 0 0]", got)
	}
}

func TestSetLengthShrinkOnlyTouchesHeader(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.SetLength(byteElem, 2, &s, nil); err != nil {
		t.Fatal(err)
	}
	if s.Length != 2 {
		t.Fatalf("SetLength shrink: got length %d, want 2", s.Length)
	}
}

func TestSetCapacityIsIdempotent(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	cap1, err := rt.SetCapacity(byteElem, 10, &s, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataAfterFirst := s.Data

	cap2, err := rt.SetCapacity(byteElem, 10, &s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cap2 != cap1 {
		t.Fatalf("SetCapacity: second call returned %d, want %d (idempotent)", cap2, cap1)
	}
	if s.Data != dataAfterFirst {
		t.Fatal("SetCapacity: repeat call with the same request reallocated")
	}
}

func TestSetCapacityDoesNotChangeLength(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.NewArray(byteElem, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.SetCapacity(byteElem, 100, &s, nil); err != nil {
		t.Fatal(err)
	}
	if s.Length != 4 {
		t.Fatalf("SetCapacity: length changed to %d, want unchanged 4", s.Length)
	}
}

func TestConcatProducesFreshArray(t *testing.T) {
	rt := newTestRuntime()
	x, _ := rt.NewArray(byteElem, 2, nil)
	copy(rt.Heap.Bytes(x.Data, 2), []byte{1, 2})
	y, _ := rt.NewArray(byteElem, 3, nil)
	copy(rt.Heap.Bytes(y.Data, 3), []byte{3, 4, 5})

	z, err := rt.Concat(byteElem, x, y)
	if err != nil {
		t.Fatal(err)
	}
	if z.Length != 5 {
		t.Fatalf("Concat: got length %d, want 5", z.Length)
	}
	got := rt.Heap.Bytes(z.Data, 5)
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Concat: got %v, want [1 2 3 4 5]", got)
	}
	if z.Data == x.Data || z.Data == y.Data {
		t.Fatal("Concat: result aliases an input's block")
	}
}

func TestDupIsIndependentCopy(t *testing.T) {
	rt := newTestRuntime()
	a, _ := rt.NewArray(byteElem, 3, nil)
	copy(rt.Heap.Bytes(a.Data, 3), []byte{7, 8, 9})

	b, err := rt.Dup(byteElem, a)
	if err != nil {
		t.Fatal(err)
	}
	if b.Data == a.Data {
		t.Fatal("Dup: returned the same block as the source")
	}
	if err := rt.AppendChar(&a, rune(0), nil); err != nil {
		t.Fatal(err)
	}
	bGot := rt.Heap.Bytes(b.Data, 3)
	if !bytes.Equal(bGot, []byte{7, 8, 9}) {
		t.Fatalf("Dup: mutating a affected b's copy: got %v", bGot)
	}
}

func TestAppendCharMultiByteRune(t *testing.T) {
	rt := newTestRuntime()
	s, _ := rt.NewArray(byteElem, 0, nil)
	if err := rt.AppendChar(&s, '€', nil); err != nil {
		t.Fatal(err)
	}
	got := rt.Heap.Bytes(s.Data, int(s.Length))
	want := []byte(string('€'))
	if !bytes.Equal(got, want) {
		t.Fatalf("AppendChar('€'): got %v, want %v", got, want)
	}
}

func TestAppendWCharSurrogatePair(t *testing.T) {
	rt := newTestRuntime()
	s, _ := rt.NewArray(wcharType, 0, nil)
	// U+1F600 requires a UTF-16 surrogate pair (2 code units).
	if err := rt.AppendWChar(&s, 0x1F600, nil); err != nil {
		t.Fatal(err)
	}
	if s.Length != 2 {
		t.Fatalf("AppendWChar(surrogate pair): got length %d, want 2", s.Length)
	}
}

func TestNewArrayMultiTwoDims(t *testing.T) {
	rt := newTestRuntime()
	hdr, err := rt.NewArrayMulti(byteElem, []int64{3, 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Length != 3 {
		t.Fatalf("NewArrayMulti: outer length %d, want 3", hdr.Length)
	}
	for i := int64(0); i < 3; i++ {
		row := rt.MultiElem(hdr, i)
		if row.Length != 4 {
			t.Fatalf("NewArrayMulti: row %d length %d, want 4", i, row.Length)
		}
	}
}

func TestAppendXReturnsUninitializedTail(t *testing.T) {
	rt := newTestRuntime()
	s, _ := rt.NewArray(byteElem, 2, nil)
	tail, err := rt.AppendX(byteElem, &s, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 3 {
		t.Fatalf("AppendX: got tail length %d, want 3", len(tail))
	}
	if s.Length != 5 {
		t.Fatalf("AppendX: got length %d, want 5", s.Length)
	}
}

func TestShrinkFitSetsUsedLength(t *testing.T) {
	rt := newTestRuntime()
	s, _ := rt.NewArray(byteElem, 10, nil)
	s.Length = 4
	if err := rt.ShrinkFit(byteElem, s); err != nil {
		t.Fatal(err)
	}
	d, ok := rt.Heap.Query(s.Data)
	if !ok {
		t.Fatal("ShrinkFit: block vanished")
	}
	if got := readUsed(rt.Heap, d.Base, d.Size); got != 4 {
		t.Fatalf("ShrinkFit: Used-Length = %d, want 4", got)
	}
}

func TestGrowToRejectsZeroElemSize(t *testing.T) {
	rt := newTestRuntime()
	ti := &BasicType{Size: 0}
	s := Slice{}
	if err := rt.growTo(ti, &s, 1, false, nil); err == nil {
		t.Fatal("growTo: expected an error for a zero element size")
	}
}

func TestArrayLiteralAllocFullLength(t *testing.T) {
	rt := newTestRuntime()
	s, err := rt.ArrayLiteralAlloc(byteElem, 6)
	if err != nil {
		t.Fatal(err)
	}
	if s.Length != 6 {
		t.Fatalf("ArrayLiteralAlloc: got length %d, want 6", s.Length)
	}
	if err := rt.AppendChar(&s, 'z', nil); err != nil {
		t.Fatal(err)
	}
	if s.Length != 7 {
		t.Fatalf("ArrayLiteralAlloc: got length %d after append, want 7", s.Length)
	}
	got := rt.Heap.Bytes(s.Data, int(s.Length))[6]
	if got != 'z' {
		t.Fatalf("ArrayLiteralAlloc: appended byte = %q, want 'z'", got)
	}
}
