package kmap

import "github.com/cilium/ebpf"

// EBPFMap adapts a real *ebpf.Map to the Map interface. cilium/ebpf
// already exposes Put/Lookup/Delete/Iterate with this exact shape; this
// wrapper exists only so the control plane depends on the small Map
// interface instead of the concrete cilium type everywhere.
type EBPFMap struct {
	m *ebpf.Map
}

func NewEBPFMap(m *ebpf.Map) *EBPFMap {
	return &EBPFMap{m: m}
}

func (e *EBPFMap) Put(key, value interface{}) error {
	return e.m.Put(key, value)
}

func (e *EBPFMap) Lookup(key, valueOut interface{}) error {
	return e.m.Lookup(key, valueOut)
}

func (e *EBPFMap) Delete(key interface{}) error {
	return e.m.Delete(key)
}

func (e *EBPFMap) Iterate() Iterator {
	return e.m.Iterate()
}

// Close releases the underlying map's file descriptor.
func (e *EBPFMap) Close() error {
	return e.m.Close()
}
