// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command druntimeinspect drives a small, scripted workload against a
// druntime.Runtime and prints the resulting cache and heap figures. It
// exists to poke at the library from outside its test suite, the way
// lldb/lab/1 and dbm/crash exercise their packages with a standalone
// driver rather than only from _test.go files.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/gr0v3r/druntime"
	"github.com/gr0v3r/druntime/gc"
)

var (
	n       = flag.Int64("n", 1000, "number of elements to append")
	caches  = flag.Int("caches", 4, "number of goroutine caches to register")
	verbose = flag.Bool("v", false, "log each append step")
)

func main() {
	flag.Parse()

	h := gc.New()
	rt := druntime.NewRuntime(h)

	cs := make([]*druntime.Cache, *caches)
	for i := range cs {
		cs[i] = druntime.NewCache(rt)
	}

	ti := &druntime.BasicType{Size: 1}
	s, err := rt.NewArray(ti, 0, cs[0])
	if err != nil {
		log.Fatal(err)
	}

	for i := int64(0); i < *n; i++ {
		c := cs[i%int64(len(cs))]
		if err := rt.AppendChar(&s, rune('a'+i%26), c); err != nil {
			log.Fatal(err)
		}
		if *verbose {
			log.Printf("append %d: length=%d data=%#x", i, s.Length, s.Data)
		}
	}

	var stats druntime.Stats
	if err := rt.Verify(&stats); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("array length:  %d\n", s.Length)
	fmt.Printf("live blocks:   %d\n", h.Len())
	fmt.Printf("caches:        %d\n", stats.Caches)
	fmt.Printf("cache entries: %d live, %d empty\n", stats.LiveEntries, stats.EmptySlots)

	for _, c := range cs {
		c.Close(rt)
	}
}
