// Package bvar implements the in-VM built-in variable runtime (spec
// §4.E): a single dispatch function resolving a built-in variable id to
// a 64-bit value inside the sandboxed VM on every probe firing.
//
// The real thing runs inside the kernel's sandboxed VM and is compiled
// from C (original dt_get_bvar); this package models the same dispatch
// table and fault semantics as ordinary, host-testable Go so the
// trampoline generator (internal/trampoline) and the session layer can
// exercise and verify it without a kernel underneath. KernelHelpers is
// the seam where a real attached program would instead emit VM
// instructions calling the kernel's own helpers.
package bvar

import "fmt"

// VarID identifies a built-in variable (spec §4.E table).
type VarID uint32

const (
	CURTHREAD VarID = iota
	TIMESTAMP
	EPID
	ID
	ARG0
	ARG1
	ARG2
	ARG3
	ARG4
	ARG5
	ARG6
	ARG7
	ARG8
	ARG9
	CALLER
	PROBEPROV
	PROBEMOD
	PROBEFUNC
	PROBENAME
	PID
	TID
	PPID
	UID
	GID
	CURCPU
)

// FaultKind is a data-plane fault kind (spec §7).
type FaultKind string

const (
	FaultBadAddress FaultKind = "bad-address"
	FaultIllegalOp  FaultKind = "illegal-op"
)

// Undefined is the sentinel value returned when a built-in has no value,
// matching the original's `return -1` (all bits set, spec §4.E PPID /
// default case). It usually comes with a fault; PPID also returns it
// without one when no task offsets are available.
const Undefined uint64 = ^uint64(0)

// MachineState is the per-firing dispatch-context payload (spec §4.D):
// PRID/EPID, the 10 argument slots and a memoised timestamp. It has no
// fault slot; Get returns any fault to its caller.
type MachineState struct {
	PRID      uint32
	EPID      uint32
	Args      [10]uint64
	Timestamp uint64
}

// ProbeStrings is the PROBEPROV/MOD/FUNC/NAME offset record a PRID maps
// to, looked up from the session's per-PRID info map (spec §4.E).
type ProbeStrings struct {
	ProviderOffset uint64
	ModuleOffset   uint64
	FunctionOffset uint64
	NameOffset     uint64
}

// Helpers is everything get_bvar needs from the surrounding kernel/session
// that isn't already in MachineState: current task/pid/uid resolution,
// stack unwinding for CALLER, memory reads for pointer-chasing PPID
// lookups, the PRID->strings table, and the per-CPU info record.
type Helpers interface {
	CurrentTask() uint64
	CurrentPidTgid() uint64 // upper 32 bits pid, lower 32 bits tid
	CurrentUidGid() uint64  // upper 32 bits gid, lower 32 bits uid
	KtimeNS() uint64
	CallerPC() (uint64, bool)

	// ReadUint64/ReadUint32 read process/kernel memory at addr, for the
	// PPID pointer chase (real_parent then tgid). ok is false on a fault.
	ReadUint64(addr uint64) (val uint64, ok bool)
	ReadUint32(addr uint64) (val uint32, ok bool)

	// TaskOffsets returns the real_parent and tgid field offsets within
	// struct task_struct, as discovered and cached in the session's
	// "state" map.
	TaskOffsets() (parentOff, tgidOff uint32, ok bool)

	ProbeStrings(prid uint32) (ProbeStrings, bool)
	StringTable() []byte

	CurCPUInfo() (ptr uint64, ok bool)
}

// Fault records a single get_bvar failure, mirroring probe_error's
// (epid, fault-kind, illegal-value) tuple (spec §7).
type Fault struct {
	EPID     uint32
	Kind     FaultKind
	IllValue uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("probe firing fault: epid=%d kind=%s illval=%#x", f.EPID, f.Kind, f.IllValue)
}

// Get resolves one built-in variable (spec §4.E `get_bvar`). On a
// data-plane fault it returns (Undefined, *Fault) rather than a generic
// error — callers must route this into the per-CPU fault ring
// (internal/session), never surface it as a control-plane Go error.
func Get(mst *MachineState, h Helpers, id VarID) (uint64, *Fault) {
	switch id {
	case CURTHREAD:
		return h.CurrentTask(), nil

	case TIMESTAMP:
		if mst.Timestamp == 0 {
			mst.Timestamp = h.KtimeNS()
		}
		return mst.Timestamp, nil

	case EPID:
		return uint64(mst.EPID), nil

	case ID:
		return uint64(mst.PRID), nil

	case ARG0, ARG1, ARG2, ARG3, ARG4, ARG5, ARG6, ARG7, ARG8, ARG9:
		return mst.Args[id-ARG0], nil

	case CALLER:
		pc, ok := h.CallerPC()
		if !ok {
			return 0, nil
		}
		return pc, nil

	case PROBEPROV, PROBEMOD, PROBEFUNC, PROBENAME:
		table := h.StringTable()
		strs, ok := h.ProbeStrings(mst.PRID)
		if !ok {
			return 0, nil
		}
		var off uint64
		switch id {
		case PROBEPROV:
			off = strs.ProviderOffset
		case PROBEMOD:
			off = strs.ModuleOffset
		case PROBEFUNC:
			off = strs.FunctionOffset
		case PROBENAME:
			off = strs.NameOffset
		}
		if off > uint64(len(table)) {
			off = 0
		}
		return off, nil

	case PID:
		return h.CurrentPidTgid() >> 32, nil

	case TID:
		return h.CurrentPidTgid() & 0xffffffff, nil

	case PPID:
		parentOff, tgidOff, ok := h.TaskOffsets()
		if !ok {
			return Undefined, nil
		}
		task := h.CurrentTask()
		if task == 0 {
			return Undefined, &Fault{EPID: mst.EPID, Kind: FaultBadAddress, IllValue: task}
		}
		parentAddr, ok := h.ReadUint64(task + uint64(parentOff))
		if !ok {
			return Undefined, &Fault{EPID: mst.EPID, Kind: FaultBadAddress, IllValue: task + uint64(parentOff)}
		}
		tgid, ok := h.ReadUint32(parentAddr + uint64(tgidOff))
		if !ok {
			return Undefined, &Fault{EPID: mst.EPID, Kind: FaultBadAddress, IllValue: parentAddr + uint64(tgidOff)}
		}
		return uint64(tgid), nil

	case UID:
		return h.CurrentUidGid() & 0xffffffff, nil

	case GID:
		return h.CurrentUidGid() >> 32, nil

	case CURCPU:
		ptr, ok := h.CurCPUInfo()
		if !ok {
			return 0, nil
		}
		return ptr, nil

	default:
		return Undefined, &Fault{EPID: mst.EPID, Kind: FaultIllegalOp, IllValue: uint64(id)}
	}
}
