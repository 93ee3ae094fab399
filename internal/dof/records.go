// Package dof decodes the length-prefixed record stream produced by the
// out-of-process DOF (probe-description object format) parser. The core
// never parses DOF itself; it consumes this already-decoded stream and
// turns it into provider/probe/tracepoint descriptions (spec §6).
package dof

import "fmt"

// RecordType tags one record in the stream, mirroring dof_parsed_info_t.
type RecordType uint32

const (
	TypeProvider RecordType = iota
	TypeProbe
	TypeTracepoint
	TypeErr
	TypeArgsNative
	TypeArgsXlat
	TypeArgsMap
)

func (t RecordType) String() string {
	switch t {
	case TypeProvider:
		return "PROVIDER"
	case TypeProbe:
		return "PROBE"
	case TypeTracepoint:
		return "TRACEPOINT"
	case TypeErr:
		return "ERR"
	case TypeArgsNative:
		return "ARGS_NATIVE"
	case TypeArgsXlat:
		return "ARGS_XLAT"
	case TypeArgsMap:
		return "ARGS_MAP"
	default:
		return fmt.Sprintf("RecordType(%d)", uint32(t))
	}
}

// ProviderInfo is the payload of a PROVIDER record: a USDT provider name
// and the number of PROBE records that follow it in the stream.
type ProviderInfo struct {
	NProbes uint64
	Name    string
}

// ProbeInfo is the payload of a PROBE record: module/function/name plus
// the probe's tracepoint count and its native and translated argument
// counts.
type ProbeInfo struct {
	NTracepoints uint64
	NNativeArgs  uint64
	NXlatArgs    uint64
	Module       string
	Function     string
	Name         string
}

// TracepointInfo is the payload of a TRACEPOINT record: one probe site
// address within the target process, and whether it is an is-enabled
// probe rather than a firing one.
type TracepointInfo struct {
	Addr      uint64
	IsEnabled bool
}

// ArgsNative and ArgsXlat carry \0-separated argv blobs, already split.
type ArgsNative struct{ Args []string }
type ArgsXlat struct{ Args []string }

// ArgsMap maps translated argument slot i to native argument index
// ArgMap[i] (spec §3 argument descriptor `mapping-index`).
type ArgsMap struct{ ArgMap []int8 }

// ErrInfo terminates a stream on parse failure.
type ErrInfo struct {
	Errno   int32
	Message string
}

func (e *ErrInfo) Error() string {
	return fmt.Sprintf("dof parse error %d: %s", e.Errno, e.Message)
}

// Record is one decoded stream element; exactly one of the typed payload
// fields is populated, selected by Type.
type Record struct {
	Type RecordType

	Provider   *ProviderInfo
	Probe      *ProbeInfo
	Tracepoint *TracepointInfo
	ArgsNative *ArgsNative
	ArgsXlat   *ArgsXlat
	ArgsMap    *ArgsMap
	Err        *ErrInfo
}

// ProbeRecord is a fully assembled probe within a provider: the PROBE
// record plus its following optional argument records and one-or-more
// TRACEPOINT records, grouped the way the stream grammar guarantees
// (spec §6 stream grammar).
type ProbeRecord struct {
	Info        ProbeInfo
	NativeArgs  []string
	XlatArgs    []string
	ArgMap      []int8
	Tracepoints []TracepointInfo
}

// ProviderRecord is one fully assembled PROVIDER block: its own info plus
// every probe nested under it.
type ProviderRecord struct {
	Info   ProviderInfo
	Probes []ProbeRecord
}
