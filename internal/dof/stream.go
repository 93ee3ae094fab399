package dof

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// recordHeader is the fixed {size, type} prefix every record begins
// with (spec §6: "Records are self-describing length-prefixed blobs").
// size is the length of the payload that follows the header, not
// including the header itself.
type recordHeader struct {
	Size uint32
	Type uint32
}

const headerLen = 8

// Decode reads a DOF-parsed record stream until EOF or an ERR record,
// returning every record read (including a trailing ERR, if any).
//
// The live parser pipe has no leading version word; on-disk streams do.
// Decode never interprets the version itself — callers reading from a
// file should strip the leading 8-byte word before calling Decode.
func Decode(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var records []Record
	var pendingProbe *ProbeInfo

	for {
		var hdr recordHeader
		if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, fmt.Errorf("dof: reading record header: %w", err)
		}

		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return records, fmt.Errorf("dof: reading record payload (type %d, size %d): %w", hdr.Type, hdr.Size, err)
		}

		rec, err := decodePayload(RecordType(hdr.Type), payload, pendingProbe)
		if err != nil {
			return records, err
		}
		records = append(records, rec)

		if rec.Type == TypeProbe {
			pendingProbe = rec.Probe
		}
		if rec.Type == TypeErr {
			return records, nil
		}
	}
}

func decodePayload(t RecordType, payload []byte, probe *ProbeInfo) (Record, error) {
	switch t {
	case TypeProvider:
		if len(payload) < 8 {
			return Record{}, fmt.Errorf("dof: PROVIDER record too short")
		}
		nprobes := binary.LittleEndian.Uint64(payload[:8])
		name := cstring(payload[8:])
		return Record{Type: t, Provider: &ProviderInfo{NProbes: nprobes, Name: name}}, nil

	case TypeProbe:
		if len(payload) < 24 {
			return Record{}, fmt.Errorf("dof: PROBE record too short")
		}
		ntp := binary.LittleEndian.Uint64(payload[0:8])
		nargc := binary.LittleEndian.Uint64(payload[8:16])
		xargc := binary.LittleEndian.Uint64(payload[16:24])
		fields := bytes.SplitN(trimTrailingNUL(payload[24:]), []byte{0}, 3)
		info := &ProbeInfo{NTracepoints: ntp, NNativeArgs: nargc, NXlatArgs: xargc}
		if len(fields) > 0 {
			info.Module = string(fields[0])
		}
		if len(fields) > 1 {
			info.Function = string(fields[1])
		}
		if len(fields) > 2 {
			info.Name = string(fields[2])
		}
		return Record{Type: t, Probe: info}, nil

	case TypeTracepoint:
		if len(payload) < 12 {
			return Record{}, fmt.Errorf("dof: TRACEPOINT record too short")
		}
		addr := binary.LittleEndian.Uint64(payload[0:8])
		isEnabled := binary.LittleEndian.Uint32(payload[8:12]) != 0
		return Record{Type: t, Tracepoint: &TracepointInfo{Addr: addr, IsEnabled: isEnabled}}, nil

	case TypeArgsNative:
		n := uint64(0)
		if probe != nil {
			n = probe.NNativeArgs
		}
		return Record{Type: t, ArgsNative: &ArgsNative{Args: splitArgv(payload, n)}}, nil

	case TypeArgsXlat:
		n := uint64(0)
		if probe != nil {
			n = probe.NXlatArgs
		}
		return Record{Type: t, ArgsXlat: &ArgsXlat{Args: splitArgv(payload, n)}}, nil

	case TypeArgsMap:
		argMap := make([]int8, len(payload))
		for i, b := range payload {
			argMap[i] = int8(b)
		}
		return Record{Type: t, ArgsMap: &ArgsMap{ArgMap: argMap}}, nil

	case TypeErr:
		if len(payload) < 4 {
			return Record{}, fmt.Errorf("dof: ERR record too short")
		}
		errno := int32(binary.LittleEndian.Uint32(payload[0:4]))
		msg := cstring(payload[4:])
		return Record{Type: t, Err: &ErrInfo{Errno: errno, Message: msg}}, nil

	default:
		return Record{}, fmt.Errorf("dof: unknown record type %d", t)
	}
}

// Assemble groups a flat record stream into the nested
// provider/probe/tracepoint shape the stream grammar guarantees
// (spec §6). A malformed stream (records out of grammar order) yields
// a truncated result rather than an error — the parser process is
// trusted to emit well-formed streams; this is merely assembly.
func Assemble(records []Record) ([]ProviderRecord, *ErrInfo) {
	var providers []ProviderRecord
	var curProvider *ProviderRecord
	var curProbe *ProbeRecord

	flushProbe := func() {
		if curProvider != nil && curProbe != nil {
			curProvider.Probes = append(curProvider.Probes, *curProbe)
			curProbe = nil
		}
	}
	flushProvider := func() {
		flushProbe()
		if curProvider != nil {
			providers = append(providers, *curProvider)
			curProvider = nil
		}
	}

	for _, rec := range records {
		switch rec.Type {
		case TypeProvider:
			flushProvider()
			curProvider = &ProviderRecord{Info: *rec.Provider}
		case TypeProbe:
			flushProbe()
			curProbe = &ProbeRecord{Info: *rec.Probe}
		case TypeArgsNative:
			if curProbe != nil {
				curProbe.NativeArgs = rec.ArgsNative.Args
			}
		case TypeArgsXlat:
			if curProbe != nil {
				curProbe.XlatArgs = rec.ArgsXlat.Args
			}
		case TypeArgsMap:
			if curProbe != nil {
				curProbe.ArgMap = rec.ArgsMap.ArgMap
			}
		case TypeTracepoint:
			if curProbe != nil {
				curProbe.Tracepoints = append(curProbe.Tracepoints, *rec.Tracepoint)
			}
		case TypeErr:
			flushProvider()
			return providers, rec.Err
		}
	}
	flushProvider()
	return providers, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func trimTrailingNUL(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}

// splitArgv splits a \0-separated argv blob into at most n arguments.
// n of 0 returns every \0-separated field the blob happens to contain.
func splitArgv(b []byte, n uint64) []string {
	b = trimTrailingNUL(b)
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{0})
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		args = append(args, string(p))
	}
	if n > 0 && uint64(len(args)) > n {
		args = args[:n]
	}
	return args
}
