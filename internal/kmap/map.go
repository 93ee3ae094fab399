// Package kmap wraps the kernel VM's map storage (spec §5 "Shared
// resources": usdt_prids, usdt_names, probes, state, cpuinfo). The core
// talks to maps through the small Map interface below so the control
// plane can run against a real cilium/ebpf map or an in-memory fake
// (internal/kmap.MemMap) identically.
package kmap

// Map is the subset of github.com/cilium/ebpf.Map's behaviour the
// control plane needs: fixed-size key/value put, lookup, delete, and
// iteration. Real maps are backed by *ebpf.Map (see EBPFMap);
// tests and discovery-loop unit tests use MemMap.
type Map interface {
	Put(key, value interface{}) error
	Lookup(key, valueOut interface{}) error
	Delete(key interface{}) error
	Iterate() Iterator
}

// Iterator walks a Map's entries. Order is unspecified, matching
// *ebpf.MapIterator's own contract; callers that delete while iterating
// must queue deletions and apply them after iteration completes (spec
// §4.F step 1: "Iteration and deletion are separated so key iteration is
// not disturbed").
type Iterator interface {
	Next(keyOut, valueOut interface{}) bool
	Err() error
}
