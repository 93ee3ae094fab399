package kmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// ErrKeyNotFound mirrors ebpf.ErrKeyNotExist for ErrNoSuchProbe-style
// control-flow in callers that branch on ENOENT.
var ErrKeyNotFound = errors.New("kmap: key not found")

// MemMap is an in-memory Map used where no real kernel VM is available:
// unit tests of the discovery loop and trampoline wiring, and as the
// session's map backend outside a Linux host. Keys and values are
// marshalled with encoding/binary the same way cilium/ebpf marshals
// fixed-size structs, so code written against Map behaves identically
// against either backend.
type MemMap struct {
	entries map[string][]byte
}

func NewMemMap() *MemMap {
	return &MemMap{entries: make(map[string][]byte)}
}

func encodeValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *MemMap) Put(key, value interface{}) error {
	k, err := encodeValue(key)
	if err != nil {
		return err
	}
	v, err := encodeValue(value)
	if err != nil {
		return err
	}
	m.entries[string(k)] = v
	return nil
}

func (m *MemMap) Lookup(key, valueOut interface{}) error {
	k, err := encodeValue(key)
	if err != nil {
		return err
	}
	v, ok := m.entries[string(k)]
	if !ok {
		return ErrKeyNotFound
	}
	return binary.Read(bytes.NewReader(v), binary.LittleEndian, valueOut)
}

func (m *MemMap) Delete(key interface{}) error {
	k, err := encodeValue(key)
	if err != nil {
		return err
	}
	if _, ok := m.entries[string(k)]; !ok {
		return ErrKeyNotFound
	}
	delete(m.entries, string(k))
	return nil
}

func (m *MemMap) Iterate() Iterator {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memMapIterator{m: m, keys: keys}
}

type memMapIterator struct {
	m    *MemMap
	keys []string
	pos  int
}

func (it *memMapIterator) Next(keyOut, valueOut interface{}) bool {
	if it.pos >= len(it.keys) {
		return false
	}
	k := it.keys[it.pos]
	it.pos++

	if err := binary.Read(bytes.NewReader([]byte(k)), binary.LittleEndian, keyOut); err != nil {
		return false
	}
	v := it.m.entries[k]
	if err := binary.Read(bytes.NewReader(v), binary.LittleEndian, valueOut); err != nil {
		return false
	}
	return true
}

func (it *memMapIterator) Err() error {
	return nil
}
