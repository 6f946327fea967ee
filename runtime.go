// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package druntime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gr0v3r/druntime/gc"
)

// CollectHandlerFunc is the global collect handler's shape: given a
// classinfo identity and whether this is a deterministic (explicit)
// delete, it reports whether the destructor chain should run. Finalize
// does not consult it for a deterministic delete, so det is false on
// every call Finalize makes.
type CollectHandlerFunc func(classInfo string, det bool) bool

// Runtime ties together the GC collaborator, the cache registry and the
// collect handler: the process-wide state behind Finalize,
// SetCollectHandler, GetCollectHandler and ProcessGCMarks.
type Runtime struct {
	Heap gc.Heap

	cachesMu sync.Mutex
	caches   map[*Cache]struct{}

	handler atomic.Value // holds CollectHandlerFunc
}

// NewRuntime returns a Runtime backed by h.
func NewRuntime(h gc.Heap) *Runtime {
	return &Runtime{Heap: h, caches: map[*Cache]struct{}{}}
}

func (rt *Runtime) registerCache(c *Cache) {
	rt.cachesMu.Lock()
	defer rt.cachesMu.Unlock()
	rt.caches[c] = struct{}{}
}

func (rt *Runtime) unregisterCache(c *Cache) {
	rt.cachesMu.Lock()
	defer rt.cachesMu.Unlock()
	delete(rt.caches, c)
}

// ProcessGCMarks is the sweep hook: called after the collector's mark
// phase, before sweep, it invalidates every registered cache's entries
// whose block the heap reports as about to be collected. A design keying
// caches off thread-local storage would have the collector reach into
// each thread's TLS block directly; here it walks the explicit cache
// registry instead.
func (rt *Runtime) ProcessGCMarks() {
	rt.cachesMu.Lock()
	caches := make([]*Cache, 0, len(rt.caches))
	for c := range rt.caches {
		caches = append(caches, c)
	}
	rt.cachesMu.Unlock()

	for _, c := range caches {
		c.invalidateSwept(rt.Heap)
	}
}

// SetCollectHandler installs f as the global collect handler. Last writer
// wins; nil clears it.
func (rt *Runtime) SetCollectHandler(f CollectHandlerFunc) {
	rt.handler.Store(collectHandlerBox{f})
}

// GetCollectHandler returns the currently installed collect handler, or
// nil if none has been set.
func (rt *Runtime) GetCollectHandler() CollectHandlerFunc {
	v := rt.handler.Load()
	if v == nil {
		return nil
	}
	return v.(collectHandlerBox).f
}

// collectHandlerBox lets a nil CollectHandlerFunc still satisfy
// atomic.Value's "consistent concrete type" requirement.
type collectHandlerBox struct {
	f CollectHandlerFunc
}

// Stats records aggregate figures about a Runtime's registered caches,
// optionally filled by Verify. It plays the same role for the cache
// registry that lldb.AllocStats plays for an Allocator's atom accounting.
type Stats struct {
	Caches      int64 // number of registered caches
	LiveEntries int64 // non-empty entries summed across all caches
	EmptySlots  int64 // unused entry slots summed across all caches
}

// Verify walks rt's cache registry, reporting any entry whose cached block
// descriptor no longer matches what the heap itself reports (a bug in the
// CAS or cache-invalidation protocol, not a user error), and fills stats
// with aggregate figures if stats is non-nil. It never mutates state; it
// exists for tests and for cmd/druntimeinspect, the way lldb.Allocator.Verify
// exists beside the allocator it checks rather than inside its hot path.
func (rt *Runtime) Verify(stats *Stats) error {
	rt.cachesMu.Lock()
	caches := make([]*Cache, 0, len(rt.caches))
	for c := range rt.caches {
		caches = append(caches, c)
	}
	rt.cachesMu.Unlock()

	var s Stats
	s.Caches = int64(len(caches))
	for _, c := range caches {
		c.mu.Lock()
		for _, d := range c.entries {
			if d.Base == 0 {
				s.EmptySlots++
				continue
			}
			s.LiveEntries++
			if got, ok := rt.Heap.Query(d.Base); !ok || got.Base != d.Base {
				c.mu.Unlock()
				return fmt.Errorf("druntime: Verify: cached block %#x no longer known to the heap", d.Base)
			}
		}
		c.mu.Unlock()
	}
	if stats != nil {
		*stats = s
	}
	return nil
}
