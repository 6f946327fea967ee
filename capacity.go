// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"math/bits"

	"github.com/cznic/mathutil"
)

// newCapacity computes the target payload byte size (not including pad)
// for an array growing to newLength elements: no over-allocation below a
// page, logarithmically decreasing over-allocation above it.
func newCapacity(newLength, elemSize int64) int64 {
	raw := mathutil.MaxInt64(newLength*elemSize, 0)
	if raw <= PageSize {
		return raw
	}

	// bits.Len64(raw) is the bit-scan-reverse index of raw plus one.
	mult := 100 + 1000/int64(bits.Len64(uint64(raw)))
	return ceilDiv(newLength*mult, 100) * elemSize
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
