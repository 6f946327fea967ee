// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"runtime"
	"sync"

	"github.com/gr0v3r/druntime/gc"
)

// nCacheBlocks is the cache width.
const nCacheBlocks = 8

// Cache is the per-goroutine block-info cache. A design built around
// implicit thread-local storage has no clean Go equivalent, so instead
// each cache explicitly registers itself with a Runtime and is explicitly
// torn down with Close — the same shape Go's
// own per-P mcache uses: it registers itself with the scheduler instead of
// living at a fixed TLS offset, and the GC walks the registry rather than
// reaching into per-thread storage.
//
// A Cache is owned by exactly one goroutine: call NewCache once per
// goroutine that will be appending to arrays, keep the returned *Cache for
// that goroutine's lifetime, and pass it into the array operations that
// accept one. It is not safe for concurrent use by multiple goroutines —
// only the owning goroutine and the sweep hook touch it, and the sweep
// hook takes c.mu to stand in for the stop-the-world serialization point
// a real collector would provide for free.
type Cache struct {
	mu      sync.Mutex
	entries [nCacheBlocks]gc.BlockDescriptor
	head    int
}

// NewCache allocates a cache and registers it with rt so future sweep
// passes (Runtime.ProcessGCMarks) can invalidate its entries. It also
// sets a finalizer that unregisters the cache, but rt's registry holds a
// reference to the cache, so the cache is not garbage collected and the
// finalizer does not run while it is registered: the cache stays
// registered until Close is called.
func NewCache(rt *Runtime) *Cache {
	c := &Cache{}
	rt.registerCache(c)
	runtime.SetFinalizer(c, func(c *Cache) { rt.unregisterCache(c) })
	return c
}

// Close unregisters the cache from its Runtime immediately.
func (c *Cache) Close(rt *Runtime) {
	rt.unregisterCache(c)
	runtime.SetFinalizer(c, nil)
}

// findCached scans for a live entry containing interior, biasing toward
// recently-inserted entries: from the head cursor down to zero, then from
// the top down to just above the head.
func (c *Cache) findCached(interior uintptr) (gc.BlockDescriptor, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := c.head; i >= 0; i-- {
		if d := c.entries[i]; d.Base != 0 && interior >= d.Base && interior < d.Base+uintptr(d.Size) {
			return d, i
		}
	}
	for i := nCacheBlocks - 1; i > c.head; i-- {
		if d := c.entries[i]; d.Base != 0 && interior >= d.Base && interior < d.Base+uintptr(d.Size) {
			return d, i
		}
	}
	return gc.BlockDescriptor{}, -1
}

// insert records bi in the cache. hit is the index findCached returned
// for a prior lookup of the same block (-1 if there was none): a hit
// moves that entry to the head, a miss advances the head by one and
// overwrites the slot it lands on (the oldest entry).
func (c *Cache) insert(bi gc.BlockDescriptor, hit int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit >= 0 {
		if hit != c.head {
			c.entries[hit] = c.entries[c.head]
			c.head = (c.head + 1) % nCacheBlocks
			c.entries[c.head] = bi
		} else {
			c.entries[c.head] = bi
		}
		return
	}

	c.head = (c.head + 1) % nCacheBlocks
	c.entries[c.head] = bi
}

// invalidateSwept zeroes every entry whose block the heap reports as
// about to be collected. Called by Runtime.ProcessGCMarks during the
// simulated mark phase, before the matching Sweep.
func (c *Cache) invalidateSwept(h gc.Heap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		base := c.entries[i].Base
		if base != 0 && h.IsCollecting(base) {
			c.entries[i] = gc.BlockDescriptor{}
		}
	}
}
