// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"fmt"

	"github.com/gr0v3r/druntime/gc"
)

// ErrInvalid reports a caller bug: a zero element size on a growing
// operation, a slice whose block cannot be resolved, or a ShrinkFit on a
// block that is not APPENDABLE or too small. A null data pointer paired
// with a non-zero length and a negative capacity are not detected.
// Patterned on lldb's ErrINVAL (a named-field struct rather than a bare
// string).
type ErrInvalid struct {
	Op  string
	Arg interface{}
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("druntime: %s: invalid argument: %v", e.Op, e.Arg)
}

// oom reports an out-of-memory condition through gc.OnOutOfMemoryError and
// never returns control to the caller. The panic below is a backstop in
// case a host replaces OnOutOfMemoryError with something that returns,
// which would otherwise silently violate the contract.
func oom(reason string) {
	gc.OnOutOfMemoryError(reason)
	panic("druntime: out of memory: " + reason)
}

// checkMul returns n*elemSize, reporting OOM instead of returning on
// overflow.
func checkMul(n, elemSize int64) int64 {
	if n == 0 || elemSize == 0 {
		return 0
	}
	bytes := n * elemSize
	if bytes/n != elemSize || bytes < 0 {
		oom(fmt.Sprintf("byte count overflow: %d * %d", n, elemSize))
	}
	return bytes
}
