package kmap

// USDTKey is the key into the usdt_prids map: a (pid, underlying-PRID)
// pair (spec §3 "USDT per-process key/value").
type USDTKey struct {
	PID            uint32
	UnderlyingPRID uint32
}

// USDTValue is the value stored for a USDTKey: the overlying probe to
// dispatch to, and the 64-bit clause-selector bitmask (spec §3).
type USDTValue struct {
	OverlyingPRID uint32
	_             uint32 // padding to keep Mask 8-byte aligned, matching a C struct layout
	Mask          uint64
}

// USDTTable is a typed view over the usdt_prids map, used by the
// discovery loop (spec §4.F) and session wiring so callers don't marshal
// USDTKey/USDTValue by hand at every call site.
type USDTTable struct {
	m Map
}

func NewUSDTTable(m Map) *USDTTable {
	return &USDTTable{m: m}
}

func (t *USDTTable) Put(pid uint32, underlyingPRID uint32, overlyingPRID uint32, mask uint64) error {
	return t.m.Put(USDTKey{PID: pid, UnderlyingPRID: underlyingPRID}, USDTValue{OverlyingPRID: overlyingPRID, Mask: mask})
}

func (t *USDTTable) Lookup(pid uint32, underlyingPRID uint32) (USDTValue, error) {
	var v USDTValue
	err := t.m.Lookup(USDTKey{PID: pid, UnderlyingPRID: underlyingPRID}, &v)
	return v, err
}

func (t *USDTTable) Delete(pid uint32, underlyingPRID uint32) error {
	return t.m.Delete(USDTKey{PID: pid, UnderlyingPRID: underlyingPRID})
}

// Keys returns every (pid, underlying-PRID) key currently in the table,
// snapshotted up front so callers can safely queue deletions without
// disturbing iteration (spec §4.F step 1).
func (t *USDTTable) Keys() []USDTKey {
	var keys []USDTKey
	it := t.m.Iterate()
	var k USDTKey
	var v USDTValue
	for it.Next(&k, &v) {
		keys = append(keys, k)
	}
	return keys
}
