// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gr0v3r/druntime/gc"
)

// ClassFlags are the class descriptor's flags word.
type ClassFlags uint32

const (
	// ClassCOM marks a COM-like, reference-counted class: instances are
	// allocated with a plain C-style allocator instead of the GC.
	ClassCOM ClassFlags = 1 << iota
	// ClassHasPointers disables NO_SCAN on GC-allocated instances.
	ClassHasPointers
)

// ClassInfo is a class descriptor: instance size (via the initializer
// template's length), flags, an optional destructor and monitor-delete
// hook, and an optional custom deallocator. The destructor chain is
// modeled as a linked list of ClassInfo/Instance pairs instead of Go
// struct embedding, since embedding can't express a chain whose depth is
// only known at AllocClassInstance time.
type ClassInfo struct {
	Name         string
	InitTemplate []byte // instance size is len(InitTemplate)
	Flags        ClassFlags
	Destructor   func(*Instance) error
	Monitor      func(*Instance)
	Dealloc      func(base uintptr) // custom deallocator; skips gc_free
}

// Instance is a live class instance: its backing storage, the class chain
// from most-derived (this Instance) to base, and the two "slot" flags
// Finalize checks before running.
type Instance struct {
	Base       uintptr
	Class      *ClassInfo
	Parent     *Instance // the "base" pointer one level up the chain
	hasVTable  bool
	hasMonitor bool
	det        bool // set by Delete: finalization was deterministic
}

var comArena = struct {
	mu     sync.Mutex
	blocks map[uintptr][]byte
}{blocks: map[uintptr][]byte{}}

func comAlloc(size int) (uintptr, []byte) {
	buf := make([]byte, size)
	var base uintptr
	if size > 0 {
		base = uintptr(unsafe.Pointer(&buf[0]))
	}
	comArena.mu.Lock()
	comArena.blocks[base] = buf
	comArena.mu.Unlock()
	return base, buf
}

func comBytes(base uintptr) []byte {
	comArena.mu.Lock()
	defer comArena.mu.Unlock()
	return comArena.blocks[base]
}

func comFree(base uintptr) {
	comArena.mu.Lock()
	delete(comArena.blocks, base)
	comArena.mu.Unlock()
}

// AllocClassInstance allocates a class instance: a COM-like class uses the
// C-style allocator (comAlloc) rather than the GC; otherwise it's
// allocated through the heap with FINALIZE set (and NO_SCAN unless the
// class has pointers), then the initializer template is copied in.
func (rt *Runtime) AllocClassInstance(ci *ClassInfo, parent *Instance) (*Instance, error) {
	size := len(ci.InitTemplate)

	var base uintptr
	var bytes []byte
	if ci.Flags&ClassCOM != 0 {
		base, bytes = comAlloc(size)
	} else {
		attrs := gc.FINALIZE
		if ci.Flags&ClassHasPointers == 0 {
			attrs |= gc.NO_SCAN
		}
		var err error
		base, err = rt.Heap.Malloc(size, attrs)
		if err != nil {
			oom(err.Error())
		}
		bytes = rt.Heap.Bytes(base, size)
	}
	copy(bytes, ci.InitTemplate)

	return &Instance{Base: base, Class: ci, Parent: parent, hasVTable: true, hasMonitor: true}, nil
}

// Finalize walks inst's class chain invoking destructors, then the
// monitor-delete hook, then unconditionally clears the vtable slot —
// even if a destructor panics — by overwriting the instance with its
// initializer template.
//
// det marks a deterministic (explicit Delete) finalization; a collect
// handler installed via SetCollectHandler may veto non-deterministic
// finalization of any class in the chain, but never a deterministic one.
func (rt *Runtime) Finalize(inst *Instance) (err error) {
	if inst == nil || !inst.hasVTable {
		return nil
	}

	defer func() {
		inst.hasVTable = false
		if len(inst.Class.InitTemplate) > 0 {
			copy(rt.instanceBytes(inst), inst.Class.InitTemplate)
		}
	}()

	handler := rt.GetCollectHandler()
	for cur := inst; cur != nil; cur = cur.Parent {
		run := true
		if handler != nil && !inst.det {
			run = handler(cur.Class.Name, inst.det)
		}
		if run && cur.Class.Destructor != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						gc.OnFinalizeError(cur.Class.Name, r)
					}
				}()
				if derr := cur.Class.Destructor(cur); derr != nil {
					gc.OnFinalizeError(cur.Class.Name, derr)
				}
			}()
		}
	}

	if inst.hasMonitor && inst.Class.Monitor != nil {
		inst.Class.Monitor(inst)
	}
	return nil
}

// instanceBytes returns the live byte range backing inst, regardless of
// whether it was allocated via the GC or the COM-like arena.
func (rt *Runtime) instanceBytes(inst *Instance) []byte {
	if inst.Class.Flags&ClassCOM != 0 {
		return comBytes(inst.Base)
	}
	return rt.Heap.Bytes(inst.Base, len(inst.Class.InitTemplate))
}

// Delete explicitly finalizes inst and then releases its storage: via
// the class's custom deallocator if it has one (skipping gc_free), or
// via gc_free otherwise. COM-like instances without a custom deallocator
// are released from the C-style arena (comFree).
func (rt *Runtime) Delete(inst *Instance) error {
	inst.det = true
	if err := rt.Finalize(inst); err != nil {
		return err
	}
	switch {
	case inst.Class.Dealloc != nil:
		inst.Class.Dealloc(inst.Base)
	case inst.Class.Flags&ClassCOM != 0:
		comFree(inst.Base)
	default:
		if err := rt.Heap.Free(inst.Base); err != nil {
			return fmt.Errorf("druntime: Delete: %w", err)
		}
	}
	return nil
}
